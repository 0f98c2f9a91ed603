package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	tickInterval    = time.Second
	driftThreshold  = 5 * time.Second
	waitSlice       = 100 * time.Millisecond
	readinessWindow = 30 * time.Second
)

// Outcome classifies one tick of the poll loop.
type Outcome string

const (
	OutcomeDrift     Outcome = "drift"
	OutcomeFailed    Outcome = "failed"
	OutcomeIdle      Outcome = "idle"
	OutcomeNovel     Outcome = "novel"
	OutcomeDuplicate Outcome = "duplicate"
)

// FeedSource reads the feed clock and the per-second report documents.
type FeedSource interface {
	LatestTime(ctx context.Context) (time.Time, error)
	Report(ctx context.Context, t time.Time) ([]byte, error)
}

// Transformer converts a raw report document into a derived report.
type Transformer interface {
	Transform(payload []byte) (domain.WarningReport, error)
}

// ReportLog persists one line per novel report.
type ReportLog interface {
	Append(at time.Time, r domain.WarningReport) error
}

// Notifier runs the alert task for a novel report.
type Notifier interface {
	Notify(ctx context.Context, r domain.WarningReport, instant time.Time)
}

// Scheduler polls the feed once per second on the feed's own clock, tracks
// the current warning episode, and spawns a notification task per novel report.
type Scheduler struct {
	feed        FeedSource
	transformer Transformer
	reportLog   ReportLog
	notifier    Notifier
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics

	// Owned by the goroutine running Run.
	nextScheduled time.Time
	nextWall      time.Time
	episode       domain.EpisodeLog

	killed      atomic.Bool
	synced      atomic.Bool
	lastSuccess atomic.Int64 // unix nanos on the scheduler clock
	statusNext  atomic.Int64 // unix seconds of nextScheduled
	episodeSize atomic.Int64

	// mu guards draining so no task is added once Drain has begun waiting.
	mu       sync.Mutex
	draining bool
	tasks    sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock used for pacing.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewScheduler creates a Scheduler. Call Sync before Run.
func NewScheduler(feed FeedSource, transformer Transformer, reportLog ReportLog, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Scheduler {
	s := &Scheduler{
		feed:        feed,
		transformer: transformer,
		reportLog:   reportLog,
		notifier:    notifier,
		clock:       clockwork.NewRealClock(),
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync aligns the schedule with the feed's latest published instant and
// anchors the wall clock at now.
func (s *Scheduler) Sync(ctx context.Context) error {
	latest, err := s.feed.LatestTime(ctx)
	if err != nil {
		return fmt.Errorf("sync feed clock: %w", err)
	}
	s.nextScheduled = latest
	s.nextWall = s.clock.Now()
	s.synced.Store(true)
	s.publishStatus()
	s.logger.Info("feed clock synced", "latest", latest.Format(time.DateTime))
	return nil
}

// Run executes the poll loop until Stop is called or ctx is cancelled. Ticks
// never overlap; a tick that has started always completes.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.synced.Load() {
		return errors.New("scheduler not synced")
	}
	s.logger.Info("scheduler started", "next", s.nextScheduled.Format(time.DateTime))
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	for {
		if !s.waitUntil(ctx, s.nextWall) {
			s.logger.Info("scheduler stopping", "next", s.nextScheduled.Format(time.DateTime))
			return nil
		}
		s.tick(ctx)
	}
}

// Stop asks the loop to exit at the next tick boundary.
func (s *Scheduler) Stop() {
	s.killed.Store(true)
}

// Drain waits for in-flight notification tasks or for ctx to end. Reports
// found after Drain is called are still logged but no longer notified.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notification tasks: %w", ctx.Err())
	}
}

// CheckReadiness returns nil once the clock is synced and a report was
// fetched successfully within the last 30 seconds.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.synced.Load() {
		return errors.New("feed clock not synced")
	}
	last := s.lastSuccess.Load()
	if last == 0 {
		return errors.New("no successful poll yet")
	}
	if age := s.clock.Since(time.Unix(0, last)); age > readinessWindow {
		return fmt.Errorf("last successful poll %s ago", age.Truncate(time.Second))
	}
	return nil
}

// Status is a point-in-time view of the scheduler for the status endpoint.
type Status struct {
	Synced         bool       `json:"synced"`
	Stopped        bool       `json:"stopped"`
	NextScheduled  string     `json:"next_scheduled,omitempty"`
	EpisodeReports int        `json:"episode_reports"`
	LastSuccess    *time.Time `json:"last_success,omitempty"`
}

// Status returns a snapshot safe to call from any goroutine.
func (s *Scheduler) Status() Status {
	st := Status{
		Synced:         s.synced.Load(),
		Stopped:        s.killed.Load(),
		EpisodeReports: int(s.episodeSize.Load()),
	}
	if st.Synced {
		st.NextScheduled = time.Unix(s.statusNext.Load(), 0).In(domain.FeedLocation).Format("20060102150405")
	}
	if last := s.lastSuccess.Load(); last != 0 {
		t := time.Unix(0, last)
		st.LastSuccess = &t
	}
	return st
}

// tick performs one iteration: drift realignment, or fetch-and-detect followed
// by a one second advance of both clocks.
func (s *Scheduler) tick(ctx context.Context) Outcome {
	delay := s.clock.Now().Sub(s.nextWall)
	if delay >= driftThreshold {
		skip := delay.Truncate(time.Second)
		s.nextWall = s.nextWall.Add(skip)
		s.nextScheduled = s.nextScheduled.Add(skip)
		s.publishStatus()
		s.metrics.DriftEvents.Inc()
		s.metrics.DriftSkippedSeconds.Add(skip.Seconds())
		s.logger.Warn("poll loop fell behind, skipping ahead",
			"delay", delay.String(),
			"skipped_seconds", int(skip.Seconds()),
			"next", s.nextScheduled.Format(time.DateTime),
		)
		return s.record(OutcomeDrift)
	}

	outcome := s.poll(ctx, s.nextScheduled)

	s.nextWall = s.nextWall.Add(tickInterval)
	s.nextScheduled = s.nextScheduled.Add(tickInterval)
	s.publishStatus()
	return s.record(outcome)
}

func (s *Scheduler) poll(ctx context.Context, instant time.Time) Outcome {
	payload, err := s.feed.Report(context.WithoutCancel(ctx), instant)
	if err != nil {
		s.logger.Warn("report fetch failed", "instant", instant.Format(time.DateTime), "error", err)
		return OutcomeFailed
	}
	report, err := s.transformer.Transform(payload)
	if err != nil {
		s.logger.Warn("report parse failed", "instant", instant.Format(time.DateTime), "error", err)
		return OutcomeFailed
	}
	s.lastSuccess.Store(s.clock.Now().UnixNano())

	if !report.Active() {
		if s.episode.Len() > 0 {
			s.logger.Info("warning episode ended", "reports", s.episode.Len())
		}
		s.episode.Clear()
		return OutcomeIdle
	}

	if !domain.IsNew(report, &s.episode) {
		s.logger.Debug("report already seen", "report_id", report.ReportID, "instant", instant.Format(time.DateTime))
		return OutcomeDuplicate
	}
	s.episode.Append(report.Identity())

	attrs := []any{
		"report_id", report.ReportID,
		"alert_state", report.AlertState,
		"region", report.RegionName,
		"magnitude", report.MagnitudeRaw,
		"max_intensity", report.MaxIntensityRaw,
		"final", report.IsFinal,
		"cancel", report.IsCancel,
	}
	if report.ReportNumber != nil {
		attrs = append(attrs, "report_number", *report.ReportNumber)
	}
	if report.DistanceKm != nil {
		attrs = append(attrs, "distance_km", int(*report.DistanceKm))
	}
	s.logger.Info("new warning report", attrs...)

	logAt := instant
	if report.ReportTime != nil {
		logAt = *report.ReportTime
	}
	if err := s.reportLog.Append(logAt, report); err != nil {
		s.metrics.ReportLogErrors.Inc()
		s.logger.Error("report log append failed", "report_id", report.ReportID, "error", err)
	}

	s.spawn(ctx, report, instant)
	return OutcomeNovel
}

// spawn starts the detached notification task for r.
func (s *Scheduler) spawn(ctx context.Context, r domain.WarningReport, instant time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		s.logger.Warn("notification skipped while draining", "report_id", r.ReportID)
		return
	}

	taskCtx := context.WithoutCancel(ctx)
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.notifier.Notify(taskCtx, r, instant)
	}()
}

// waitUntil sleeps until deadline in slices of at most waitSlice, returning
// false as soon as the scheduler is stopped or ctx is done.
func (s *Scheduler) waitUntil(ctx context.Context, deadline time.Time) bool {
	for {
		if s.killed.Load() || ctx.Err() != nil {
			return false
		}
		d := deadline.Sub(s.clock.Now())
		if d <= 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.clock.After(min(d, waitSlice)):
		}
	}
}

func (s *Scheduler) record(o Outcome) Outcome {
	s.metrics.Ticks.WithLabelValues(string(o)).Inc()
	s.metrics.EpisodeSize.Set(float64(s.episode.Len()))
	s.episodeSize.Store(int64(s.episode.Len()))
	return o
}

func (s *Scheduler) publishStatus() {
	s.statusNext.Store(s.nextScheduled.Unix())
}
