package domain

import "math"

const (
	// nearFieldKm always counts as emergency, whatever the magnitude.
	nearFieldKm = 100

	// unknownMagnitudeReachKm is used when the magnitude is unknown. It is
	// deliberately wide so an unknown magnitude still flags nearby events.
	unknownMagnitudeReachKm = 300

	referenceMagnitude = 4.7
	referenceReachKm   = 100
)

// MagnitudeDistanceEstimate estimates how far (km) shaking of intensity 1 or
// more reaches for a magnitude: (m/4.7)^4 * 100. This is an empirical rule of
// thumb tuned by hand, not a physical attenuation model.
func MagnitudeDistanceEstimate(magnitude *float64) float64 {
	if magnitude == nil {
		return unknownMagnitudeReachKm
	}
	return math.Pow(*magnitude/referenceMagnitude, 4) * referenceReachKm
}

// IsEmergency reports whether the home location is likely to feel the event:
// the epicenter is within 100 km, or within the magnitude's estimated reach.
// An unknown distance is never an emergency.
func IsEmergency(r WarningReport) bool {
	if r.DistanceKm == nil {
		return false
	}
	d := *r.DistanceKm
	return d <= nearFieldKm || d <= MagnitudeDistanceEstimate(r.Magnitude)
}
