package applog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
)

// Entry is one decoded line of the report log.
type Entry struct {
	Line   int
	At     time.Time
	Report domain.WarningReport
}

// maxLineBytes bounds a single log line; a report is well under 4 KiB.
const maxLineBytes = 1 << 20

// ReadEntries decodes every non-empty line written by Writer. The first
// malformed line stops the scan with an error naming its line number.
func ReadEntries(r io.Reader) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var entries []Entry
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return entries, fmt.Errorf("report log line %d: %w", n, err)
		}
		e.Line = n
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("scan report log: %w", err)
	}
	return entries, nil
}

func parseLine(line []byte) (Entry, error) {
	stamp, body, ok := bytes.Cut(line, []byte{':'})
	if !ok {
		return Entry{}, errors.New("missing timestamp separator")
	}
	at, err := time.ParseInLocation(stampLayout, string(stamp), domain.FeedLocation)
	if err != nil {
		return Entry{}, fmt.Errorf("parse timestamp %q: %w", stamp, err)
	}
	var r domain.WarningReport
	if err := json.Unmarshal(body, &r); err != nil {
		return Entry{}, fmt.Errorf("decode report: %w", err)
	}
	return Entry{At: at, Report: r}, nil
}
