package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
)

const (
	activePayload = `{"result":{"status":"success","message":"","is_auth":true},` +
		`"report_time":"2021/06/15 15:19:07","region_code":"","request_time":"20210615151907",` +
		`"region_name":"東海道南方沖","longitude":"138.5","is_cancel":false,"depth":"10km",` +
		`"calcintensity":"1","is_final":false,"is_training":false,"latitude":"33.6",` +
		`"origin_time":"20210615151833","magunitude":"3.7","report_num":"1",` +
		`"request_hypo_type":"eew","report_id":"20210615151852","alertflg":"予報"}`

	idlePayload = `{"result":{"status":"success","message":"","is_auth":true},` +
		`"report_time":"","region_code":"","request_time":"20210615152000","region_name":"",` +
		`"longitude":"","is_cancel":"","depth":"","calcintensity":"","is_final":"",` +
		`"is_training":"","latitude":"","origin_time":"","magunitude":"","report_num":"",` +
		`"request_hypo_type":"eew","report_id":""}`
)

var feedStart = time.Date(2021, 6, 15, 15, 19, 7, 0, domain.FeedLocation)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feedStamp(t time.Time) string {
	return t.In(domain.FeedLocation).Format("20060102150405")
}

// fakeFeed serves scripted report documents keyed by feed instant. Instants
// without a script return idlePayload.
type fakeFeed struct {
	mu       sync.Mutex
	latest   time.Time
	latestEr error
	reports  map[string]string
	failures map[string]error
	calls    []time.Time
}

func newFakeFeed(latest time.Time) *fakeFeed {
	return &fakeFeed{
		latest:   latest,
		reports:  make(map[string]string),
		failures: make(map[string]error),
	}
}

func (f *fakeFeed) LatestTime(_ context.Context) (time.Time, error) {
	return f.latest, f.latestEr
}

func (f *fakeFeed) Report(_ context.Context, t time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, t)
	if err, ok := f.failures[feedStamp(t)]; ok {
		return nil, err
	}
	if p, ok := f.reports[feedStamp(t)]; ok {
		return []byte(p), nil
	}
	return []byte(idlePayload), nil
}

func (f *fakeFeed) script(t time.Time, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[feedStamp(t)] = payload
}

func (f *fakeFeed) fail(t time.Time, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[feedStamp(t)] = err
}

func (f *fakeFeed) requested() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

type logEntry struct {
	at     time.Time
	report domain.WarningReport
}

type fakeReportLog struct {
	mu      sync.Mutex
	err     error
	entries []logEntry
}

func (l *fakeReportLog) Append(at time.Time, r domain.WarningReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{at: at, report: r})
	return l.err
}

func (l *fakeReportLog) appended() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}

type notifyCall struct {
	report  domain.WarningReport
	instant time.Time
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(_ context.Context, r domain.WarningReport, instant time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{report: r, instant: instant})
}

func (n *fakeNotifier) notified() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

// withReport rewrites the scripted active payload's report number and flags.
func withReport(num int, final, cancel bool) string {
	return fmt.Sprintf(`{"report_time":"2021/06/15 15:19:07","request_time":"20210615151907",`+
		`"region_name":"東海道南方沖","longitude":"138.5","is_cancel":%t,"depth":"10km",`+
		`"calcintensity":"1","is_final":%t,"is_training":false,"latitude":"33.6",`+
		`"origin_time":"20210615151833","magunitude":"3.7","report_num":"%d",`+
		`"report_id":"20210615151852","alertflg":"予報"}`, cancel, final, num)
}
