package domain

// IntensityUnknown is the ordinal for intensity strings outside the JMA scale.
const IntensityUnknown = -1

// intensityScale maps the feed's JMA intensity labels onto a 0..9 ordinal.
var intensityScale = map[string]int{
	"0":  0,
	"1":  1,
	"2":  2,
	"3":  3,
	"4":  4,
	"5弱": 5,
	"5強": 6,
	"6弱": 7,
	"6強": 8,
	"7":  9,
}

// IntensityScale returns the ordinal for a raw intensity label, or
// IntensityUnknown when the label is not on the scale.
func IntensityScale(raw string) int {
	if v, ok := intensityScale[raw]; ok {
		return v
	}
	return IntensityUnknown
}
