package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrStructural is returned when a payload is not a JSON object at all.
var ErrStructural = errors.New("payload is not a JSON object")

const (
	reportTimeLayout  = "2006/01/02 15:04:05"
	compactTimeLayout = "20060102150405"

	// sWaveSpeedKmPerSec is the fixed propagation speed used for arrival estimates.
	sWaveSpeedKmPerSec = 4
)

// ParseReport decodes one feed document. Individual fields degrade to unknown
// when missing or malformed; only a non-object payload is an error. Derived
// fields are left empty, see DeriveReport.
func ParseReport(payload []byte) (WarningReport, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("null payload")
		}
		return WarningReport{}, fmt.Errorf("parse report: %w: %v", ErrStructural, err)
	}

	magRaw := stringField(fields, "magunitude")
	depthRaw := stringField(fields, "depth")
	intensityRaw := stringField(fields, "calcintensity")
	numRaw := stringField(fields, "report_num")

	return WarningReport{
		ReportID:        stringField(fields, "report_id"),
		ReportNumberRaw: numRaw,
		ReportNumber:    parseIntOrNil(numRaw),
		IsCancel:        boolField(fields, "is_cancel"),
		IsFinal:         boolField(fields, "is_final"),
		IsTraining:      boolField(fields, "is_training"),

		OriginTime:  parseTimeOrNil(compactTimeLayout, stringField(fields, "origin_time")),
		ReportTime:  parseTimeOrNil(reportTimeLayout, stringField(fields, "report_time")),
		RequestTime: parseTimeOrNil(compactTimeLayout, stringField(fields, "request_time")),

		RegionName: stringField(fields, "region_name"),
		Epicenter:  parseCoordinate(stringField(fields, "latitude"), stringField(fields, "longitude")),

		MagnitudeRaw: magRaw,
		Magnitude:    parseFloatOrNil(magRaw),

		DepthRaw: depthRaw,
		DepthKm:  parseDepthKm(depthRaw),

		MaxIntensityRaw:   intensityRaw,
		MaxIntensityScale: IntensityScale(intensityRaw),

		AlertState: parseAlertState(stringField(fields, "alertflg")),

		Raw: append(json.RawMessage(nil), payload...),
	}, nil
}

// DeriveReport computes distance, arrival time and arrival span from the
// report's own fields and the home location. A nil home leaves every derived
// field unknown.
func DeriveReport(r WarningReport, home *Coordinate) WarningReport {
	r.DistanceKm = nil
	r.ArrivalTime = nil
	r.ArrivalSpanSeconds = nil

	if home != nil && r.Epicenter != nil {
		d := DistanceKm(*home, *r.Epicenter)
		r.DistanceKm = &d
	}

	if r.OriginTime != nil && r.DistanceKm != nil {
		delay := time.Duration(int(*r.DistanceKm/sWaveSpeedKmPerSec)) * time.Second
		arrival := r.OriginTime.Add(delay)
		r.ArrivalTime = &arrival
	}

	if r.ReportTime != nil && r.ArrivalTime != nil {
		span := int(r.ArrivalTime.Sub(*r.ReportTime) / time.Second)
		if span < 0 {
			span = 0
		}
		r.ArrivalSpanSeconds = &span
	}
	return r
}

// stringField returns a JSON string or number field as text. Null, absent and
// other JSON kinds yield "".
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}

// boolField accepts JSON booleans and "true"/"false" strings; anything else is false.
func boolField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	v, err := strconv.ParseBool(stringField(fields, key))
	return err == nil && v
}

func parseIntOrNil(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}

func parseFloatOrNil(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseTimeOrNil(layout, s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(layout, s, FeedLocation)
	if err != nil {
		return nil
	}
	return &t
}

// parseCoordinate requires both halves; one missing or out-of-range coordinate
// makes the whole epicenter unknown.
func parseCoordinate(lat, lon string) *Coordinate {
	la := parseFloatOrNil(lat)
	lo := parseFloatOrNil(lon)
	if la == nil || lo == nil {
		return nil
	}
	if math.Abs(*la) > 90 || math.Abs(*lo) > 180 {
		return nil
	}
	return &Coordinate{Lat: *la, Lon: *lo}
}

// parseDepthKm converts "10km" to 10. Only a plain non-negative integer
// before the unit is accepted.
func parseDepthKm(raw string) *int {
	s := strings.TrimSpace(strings.TrimSuffix(raw, "km"))
	if s == "" {
		return nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil
		}
	}
	return parseIntOrNil(s)
}

func parseAlertState(flag string) AlertState {
	switch flag {
	case "":
		return AlertNone
	case "警報":
		return AlertWarning
	default:
		return AlertForecast
	}
}
