// Package domain models earthquake early-warning (EEW) reports published by the
// NIED Kyoshin Monitor (kmoni) feed.
//
// # Data Source
//
// The kmoni service publishes one JSON document per second at
// /webservice/hypo/eew/<YYYYMMDDHHMMSS>.json. While no warning is active the
// document still exists but carries no alert flag. The poller requests the
// document for each second of feed time and hands the raw bytes to [ParseReport].
//
// # Feed Conventions
//
// Time formats (all Japan Standard Time, UTC+9, no zone in the payload):
//
//	report_time               "2021/06/15 15:19:07"
//	origin_time, request_time "20210615151833"
//
// Numeric fields arrive as strings: "latitude":"33.6", "magunitude":"3.7"
// (sic, the feed misspells magnitude), "report_num":"1". Depth carries a unit
// suffix: "10km".
//
// Alert flag ("alertflg"):
//
//	"予報"  forecast, a preliminary estimate
//	"警報"  warning, confirmed
//	absent  no report currently active
//
// Intensity ("calcintensity") uses the JMA seismic intensity scale, which has
// ten levels: 0, 1, 2, 3, 4, 5弱 (5 lower), 5強 (5 upper), 6弱, 6強, 7. It is
// normalized to the ordinal 0..9 by [IntensityScale]; anything else maps to -1.
//
// # Unknown Values
//
// No single field can make a report unusable. Missing or malformed fields are
// represented as nil pointers (or -1 for the intensity ordinal) and every field
// derived from them is nil as well. Only a payload that is not a JSON object is
// rejected, with [ErrStructural].
//
// # Derived Fields
//
// [DeriveReport] adds the distance from the configured home location to the
// epicenter, an S-wave arrival estimate (origin time plus distance/4 seconds,
// i.e. a fixed 4 km/s propagation speed) and the remaining seconds until
// arrival as seen from the report time. Derived fields never depend on a
// previous report.
//
// # Identity
//
// Two reports describe the same update iff (report number, report id,
// cancel flag) match. See [ReportIdentity] and [EpisodeLog].
package domain
