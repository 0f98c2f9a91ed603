package domain

// LayerKind names one transparent overlay published by the feed for each second.
type LayerKind int

const (
	// LayerRealtime is the observed realtime shaking map.
	LayerRealtime LayerKind = iota
	// LayerPredictedIntensity is the estimated intensity of the active warning.
	LayerPredictedIntensity
	// LayerWavefront draws the estimated P and S wave circles.
	LayerWavefront
)

func (k LayerKind) String() string {
	switch k {
	case LayerRealtime:
		return "realtime"
	case LayerPredictedIntensity:
		return "predicted_intensity"
	case LayerWavefront:
		return "wavefront"
	default:
		return "unknown"
	}
}
