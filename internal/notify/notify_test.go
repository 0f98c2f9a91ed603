package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	name string
	err  error
	got  []Alert
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, alert Alert) error {
	c.got = append(c.got, alert)
	return c.err
}

func testDispatcher(targets ...Target) (*Dispatcher, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), m, targets...), m
}

func TestDispatcher_AudienceRouting(t *testing.T) {
	general := &recordingChannel{name: "discord"}
	emergency := &recordingChannel{name: "discord"}
	d, m := testDispatcher(
		Target{Channel: general, Audience: AudienceGeneral},
		Target{Channel: emergency, Audience: AudienceEmergency},
	)

	require.NoError(t, d.Dispatch(context.Background(), Alert{Text: "routine"}))
	require.NoError(t, d.Dispatch(context.Background(), Alert{Text: "urgent", Emergency: true}))

	require.Len(t, general.got, 2)
	require.Len(t, emergency.got, 1)
	assert.Equal(t, "urgent", emergency.got[0].Text)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.ChannelSends.WithLabelValues("discord/general", "success")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ChannelSends.WithLabelValues("discord/emergency", "success")), 1e-9)
}

func TestDispatcher_FailuresAreIsolated(t *testing.T) {
	errLine := errors.New("line down")
	errKafka := errors.New("kafka down")
	line := &recordingChannel{name: "line", err: errLine}
	discord := &recordingChannel{name: "discord"}
	kafka := &recordingChannel{name: "kafka", err: errKafka}
	d, m := testDispatcher(
		Target{Channel: line},
		Target{Channel: discord},
		Target{Channel: kafka},
	)

	err := d.Dispatch(context.Background(), Alert{Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errLine)
	assert.ErrorIs(t, err, errKafka)
	assert.Contains(t, err.Error(), "line/general")
	assert.Len(t, discord.got, 1, "later channels still run after a failure")
	assert.Len(t, kafka.got, 1)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ChannelSends.WithLabelValues("line/general", "error")), 1e-9)
}

func TestDispatcher_NoTargets(t *testing.T) {
	d, _ := testDispatcher(Target{Channel: nil})
	assert.Equal(t, 0, d.Targets())
	assert.NoError(t, d.Dispatch(context.Background(), Alert{Text: "x"}))
}

func sampleReport() domain.WarningReport {
	at := func(h, m, s int) *time.Time {
		t := time.Date(2021, 6, 15, h, m, s, 0, domain.FeedLocation)
		return &t
	}
	num, span, depth := 3, 12, 10
	mag, dist := 5.2, 87.9
	return domain.WarningReport{
		ReportID:           "20210615151852",
		ReportNumber:       &num,
		IsFinal:            true,
		OriginTime:         at(15, 18, 33),
		ReportTime:         at(15, 19, 7),
		RegionName:         "千葉県北西部",
		Epicenter:          &domain.Coordinate{Lat: 35.6, Lon: 140.1},
		MagnitudeRaw:       "5.2",
		Magnitude:          &mag,
		DepthRaw:           "10km",
		DepthKm:            &depth,
		MaxIntensityRaw:    "5弱",
		MaxIntensityScale:  5,
		AlertState:         domain.AlertWarning,
		DistanceKm:         &dist,
		ArrivalTime:        at(15, 19, 19),
		ArrivalSpanSeconds: &span,
	}
}

func TestTemplate_RenderDefault(t *testing.T) {
	tpl, err := NewTemplate("")
	require.NoError(t, err)

	text, err := tpl.Render(NewTemplateData(sampleReport(), true, "http://www.kmoni.bosai.go.jp"))
	require.NoError(t, err)

	want := `>>>揺れる可能性あり<<<
概要:M-5.2 Max-5弱 time-12 dis-87
緊急地震速報(警報) 第3報 (最終報)
更新時刻: 15時19分07秒

発生時刻: 15時18分33秒
震源: 千葉県北西部
最大震度: 5弱
マグニチュード: 5.2
深さ: 10km

震源からの距離: 87 km
>>>到達まで: 12 秒後<<<

震源座標: 35.6, 140.1
到達予想時刻: 15時19分19秒
URL: http://www.kmoni.bosai.go.jp`
	assert.Equal(t, want, text)
}

func TestTemplate_UnknownFields(t *testing.T) {
	tpl, err := NewTemplate("")
	require.NoError(t, err)

	text, err := tpl.Render(NewTemplateData(domain.WarningReport{AlertState: domain.AlertForecast}, false, ""))
	require.NoError(t, err)

	assert.False(t, strings.HasPrefix(text, ">>>"), "no emergency banner")
	assert.Contains(t, text, "概要:M-不明 Max-不明 time-不明 dis-不明")
	assert.Contains(t, text, "緊急地震速報(予報) 第不明報")
	assert.Contains(t, text, "震源座標: 不明")
	assert.Contains(t, text, "到達予想時刻: 不明")
	assert.NotContains(t, text, "URL:")
	assert.NotContains(t, text, "最終報")
}

func TestTemplate_CancelAndTrainingMarkers(t *testing.T) {
	tpl, err := NewTemplate("")
	require.NoError(t, err)

	r := sampleReport()
	r.IsFinal = false
	r.IsCancel = true
	r.IsTraining = true
	text, err := tpl.Render(NewTemplateData(r, false, ""))
	require.NoError(t, err)
	assert.Contains(t, text, "第3報 (取消)(訓練)")
}

func TestTemplate_Custom(t *testing.T) {
	tpl, err := NewTemplate("{{.Region}} M{{.Magnitude}}")
	require.NoError(t, err)
	text, err := tpl.Render(NewTemplateData(sampleReport(), false, ""))
	require.NoError(t, err)
	assert.Equal(t, "千葉県北西部 M5.2", text)

	_, err = NewTemplate("{{.Region")
	require.Error(t, err)

	var nilTpl *Template
	_, err = nilTpl.Render(TemplateData{})
	require.Error(t, err)
}

func TestChunks(t *testing.T) {
	assert.Nil(t, Chunks("", 10))
	assert.Equal(t, []string{"abc"}, Chunks("abc", 10))
	assert.Equal(t, []string{"ab", "cd", "e"}, Chunks("abcde", 2))
	assert.Equal(t, []string{"緊急", "地震", "速報"}, Chunks("緊急地震速報", 2), "splits on runes, not bytes")

	long := strings.Repeat("あ", 2500)
	parts := Chunks(long, 1000)
	require.Len(t, parts, 3)
	assert.Equal(t, 1000, len([]rune(parts[0])))
	assert.Equal(t, 500, len([]rune(parts[2])))
}
