// Command validate checks the integrity of a report log written by the
// notifier: every line decodes, timestamps never go backwards, only active
// reports were logged, and the parsed and derived fields agree with each other.
//
// Usage:
//
//	go run ./cmd/validate -log log.txt
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/adapter/applog"
	"github.com/couchcryptid/eew-notifier/internal/domain"
)

// sWaveKmPerSec matches the propagation speed used for arrival estimates.
const sWaveKmPerSec = 4

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	logPath := flag.String("log", "log.txt", "path to the report log")
	flag.Parse()

	if code := run(*logPath, os.Stdout); code != 0 {
		os.Exit(code)
	}
}

func run(logPath string, out io.Writer) int {
	fmt.Fprintln(out, "=== Report Log Validation ===")
	fmt.Fprintln(out)

	f, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: open report log: %v\n", err)
		return 1
	}
	defer f.Close()

	entries, err := applog.ReadEntries(f)
	if err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}

	phases := validate(entries)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-30s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Entries: %d, report ids: %d\n", len(entries), countReportIDs(entries))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i >= 20 {
				fmt.Fprintf(out, "  ... and %d more\n", len(p.errors)-20)
				break
			}
			fmt.Fprintf(out, "  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	fmt.Fprintln(out, "\nAll checks passed.")
	return 0
}

func validate(entries []applog.Entry) []*phase {
	return []*phase{
		validateChronology(entries),
		validateAlertState(entries),
		validateParsedFields(entries),
		validateDerivedFields(entries),
	}
}

func countReportIDs(entries []applog.Entry) int {
	ids := make(map[string]struct{})
	for _, e := range entries {
		ids[e.Report.ReportID] = struct{}{}
	}
	return len(ids)
}

func validateChronology(entries []applog.Entry) *phase {
	p := &phase{name: "Chronology"}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.At.Before(prev.At) {
			p.errorf("line %d: %s is before line %d (%s)",
				cur.Line, cur.At.Format(time.DateTime), prev.Line, prev.At.Format(time.DateTime))
		}
	}
	return p
}

func validateAlertState(entries []applog.Entry) *phase {
	p := &phase{name: "Alert state"}
	for _, e := range entries {
		if !e.Report.Active() {
			p.errorf("line %d: inactive report logged", e.Line)
		}
		if e.Report.ReportID == "" {
			p.errorf("line %d: missing report_id", e.Line)
		}
	}
	return p
}

func validateParsedFields(entries []applog.Entry) *phase {
	p := &phase{name: "Parsed fields"}
	for _, e := range entries {
		r := e.Report
		if got := domain.IntensityScale(r.MaxIntensityRaw); got != r.MaxIntensityScale {
			p.errorf("line %d: intensity %q has scale %d, want %d", e.Line, r.MaxIntensityRaw, r.MaxIntensityScale, got)
		}
		if r.Magnitude != nil {
			if v, err := strconv.ParseFloat(r.MagnitudeRaw, 64); err != nil || !floatEq(v, *r.Magnitude) {
				p.errorf("line %d: magnitude %g does not match raw %q", e.Line, *r.Magnitude, r.MagnitudeRaw)
			}
		}
		if r.Epicenter != nil {
			if math.Abs(r.Epicenter.Lat) > 90 || math.Abs(r.Epicenter.Lon) > 180 {
				p.errorf("line %d: epicenter out of range: %v", e.Line, *r.Epicenter)
			}
		}
	}
	return p
}

func validateDerivedFields(entries []applog.Entry) *phase {
	p := &phase{name: "Derived fields"}
	for _, e := range entries {
		r := e.Report
		if r.DistanceKm != nil && r.Epicenter == nil {
			p.errorf("line %d: distance without epicenter", e.Line)
		}
		if r.ArrivalTime != nil {
			if r.OriginTime == nil || r.DistanceKm == nil {
				p.errorf("line %d: arrival time without origin time and distance", e.Line)
			} else {
				want := r.OriginTime.Add(time.Duration(int(*r.DistanceKm/sWaveKmPerSec)) * time.Second)
				if !want.Equal(*r.ArrivalTime) {
					p.errorf("line %d: arrival %s, want %s", e.Line, r.ArrivalTime.Format(time.TimeOnly), want.Format(time.TimeOnly))
				}
			}
		}
		if r.ArrivalSpanSeconds != nil {
			if *r.ArrivalSpanSeconds < 0 {
				p.errorf("line %d: negative arrival span %d", e.Line, *r.ArrivalSpanSeconds)
			}
			if r.ArrivalTime == nil || r.ReportTime == nil {
				p.errorf("line %d: arrival span without arrival and report time", e.Line)
			}
		}
	}
	return p
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
