package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("report detected", "report_id", "20240101161010")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "report detected", line["msg"])
	assert.Equal(t, "20240101161010", line["report_id"])
	assert.Equal(t, "eew-notifier", line["service"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "text")

	logger.Debug("tick", "instant", "20240101161010")
	assert.Contains(t, buf.String(), "msg=tick")
	assert.Contains(t, buf.String(), "instant=20240101161010")
}

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	require.NoError(t, func() (err error) {
		for _, c := range m.collectors() {
			if err = reg.Register(c); err != nil {
				return err
			}
		}
		return nil
	}())

	m.Ticks.WithLabelValues("novel").Inc()
	m.Ticks.WithLabelValues("failed").Add(2)
	m.DriftSkippedSeconds.Add(7)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Ticks.WithLabelValues("novel")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("failed")), 1e-9)
	assert.InDelta(t, 7.0, testutil.ToFloat64(m.DriftSkippedSeconds), 1e-9)

	count, err := testutil.GatherAndCount(reg, "eew_ticks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
