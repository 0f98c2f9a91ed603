package applog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
)

const stampLayout = "20060102150405"

// Writer appends one line per novel report to a local text file:
//
//	\n<YYYYMMDDHHMMSS>:<report JSON>
//
// The timestamp is rendered in feed time.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewWriter opens (creating if needed) the log file at path for appending.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open report log: %w", err)
	}
	return &Writer{path: path, file: f}, nil
}

// Append writes the line for r stamped with at.
func (w *Writer) Append(at time.Time, r domain.WarningReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("serialize report: %w", err)
	}
	line := make([]byte, 0, len(data)+len(stampLayout)+2)
	line = append(line, '\n')
	line = at.In(domain.FeedLocation).AppendFormat(line, stampLayout)
	line = append(line, ':')
	line = append(line, data...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("append report log %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
