package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// FeedLocation is the zone of every timestamp published by the feed.
var FeedLocation = time.FixedZone("JST", 9*60*60)

// AlertState describes whether a warning is active at the polled instant.
type AlertState int

const (
	// AlertNone means no report is currently active.
	AlertNone AlertState = iota
	// AlertForecast is a preliminary estimate (予報).
	AlertForecast
	// AlertWarning is a confirmed warning (警報).
	AlertWarning
)

func (s AlertState) String() string {
	switch s {
	case AlertForecast:
		return "forecast"
	case AlertWarning:
		return "warning"
	default:
		return "none"
	}
}

// Label returns the state as the feed spells it, used in message text.
func (s AlertState) Label() string {
	switch s {
	case AlertForecast:
		return "予報"
	case AlertWarning:
		return "警報"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler so the state reads well in logs.
func (s AlertState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the names MarshalText
// produces.
func (s *AlertState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "forecast":
		*s = AlertForecast
	case "warning":
		*s = AlertWarning
	case "none", "":
		*s = AlertNone
	default:
		return fmt.Errorf("unknown alert state %q", text)
	}
	return nil
}

// Coordinate is a WGS-84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ReportIdentity is the deduplication key of a report.
type ReportIdentity struct {
	Number    int
	HasNumber bool
	// NumberRaw keeps report numbers the feed sent in a non-integer form apart.
	NumberRaw string
	ID        string
	Cancel    bool
}

// WarningReport is the normalized form of one feed document. It is a value
// type; nothing mutates a report after DeriveReport returns it. Nil pointer
// fields mean "unknown".
type WarningReport struct {
	ReportID        string `json:"report_id"`
	ReportNumberRaw string `json:"report_number_raw"`
	ReportNumber    *int   `json:"report_number"`
	IsCancel        bool   `json:"is_cancel"`
	IsFinal         bool   `json:"is_final"`
	IsTraining      bool   `json:"is_training"`

	OriginTime  *time.Time `json:"origin_time"`
	ReportTime  *time.Time `json:"report_time"`
	RequestTime *time.Time `json:"request_time"`

	RegionName string      `json:"region_name"`
	Epicenter  *Coordinate `json:"epicenter"`

	MagnitudeRaw string   `json:"magnitude_raw"`
	Magnitude    *float64 `json:"magnitude"`

	DepthRaw string `json:"depth_raw"`
	DepthKm  *int   `json:"depth_km"`

	MaxIntensityRaw   string `json:"max_intensity_raw"`
	MaxIntensityScale int    `json:"max_intensity_scale"`

	AlertState AlertState `json:"alert_state"`

	// Derived fields.
	DistanceKm         *float64   `json:"distance_km"`
	ArrivalTime        *time.Time `json:"arrival_time"`
	ArrivalSpanSeconds *int       `json:"arrival_span_seconds"`

	Raw json.RawMessage `json:"-"`
}

// Identity returns the deduplication key (report number, report id, cancel flag).
func (r WarningReport) Identity() ReportIdentity {
	id := ReportIdentity{ID: r.ReportID, Cancel: r.IsCancel}
	if r.ReportNumber != nil {
		id.Number = *r.ReportNumber
		id.HasNumber = true
		return id
	}
	id.NumberRaw = r.ReportNumberRaw
	return id
}

// Active reports whether the feed carried an alert flag.
func (r WarningReport) Active() bool {
	return r.AlertState != AlertNone
}
