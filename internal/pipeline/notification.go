package pipeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/notify"
	"github.com/couchcryptid/eew-notifier/internal/observability"
	"github.com/couchcryptid/eew-notifier/internal/render"
)

// Renderer composes the situational map image.
type Renderer interface {
	Enabled() bool
	Compose(ctx context.Context, t time.Time, includePrediction bool) (image.Image, error)
}

// AlertDispatcher delivers a finished alert to the configured channels.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert notify.Alert) error
}

// AlertNotifier builds and sends the alert for one novel report. Each call
// works on its own copy of the report and never touches scheduler state.
type AlertNotifier struct {
	renderer   Renderer
	dispatcher AlertDispatcher
	template   *notify.Template
	siteURL    string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewAlertNotifier creates the notification task body. renderer may be nil for
// text-only alerts.
func NewAlertNotifier(renderer Renderer, dispatcher AlertDispatcher, template *notify.Template, siteURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *AlertNotifier {
	return &AlertNotifier{
		renderer:   renderer,
		dispatcher: dispatcher,
		template:   template,
		siteURL:    siteURL,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
}

// Notify renders the text, attaches a map image when one can be composed, and
// dispatches the alert. Failures are logged and counted, never returned.
func (n *AlertNotifier) Notify(ctx context.Context, r domain.WarningReport, instant time.Time) {
	n.metrics.NotificationsInFlight.Inc()
	defer n.metrics.NotificationsInFlight.Dec()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	emergency := domain.IsEmergency(r)
	text, err := n.template.Render(notify.NewTemplateData(r, emergency, n.siteURL))
	if err != nil {
		n.logger.Error("render alert text failed", "report_id", r.ReportID, "error", err)
		n.metrics.Notifications.WithLabelValues("failed").Inc()
		return
	}

	alert := notify.Alert{
		Text:      text,
		Image:     n.image(ctx, r, instant),
		Emergency: emergency,
		Report:    r,
	}
	if err := n.dispatcher.Dispatch(ctx, alert); err != nil {
		n.logger.Error("alert dispatch failed", "report_id", r.ReportID, "error", err)
		n.metrics.Notifications.WithLabelValues("failed").Inc()
		return
	}
	n.metrics.Notifications.WithLabelValues("sent").Inc()
	n.logger.Info("alert dispatched",
		"report_id", r.ReportID,
		"emergency", emergency,
		"with_image", alert.Image != nil,
	)
}

// image returns the PNG for the report's request time (or the tick instant
// when the report carries none), or nil if composition is off or fails.
func (n *AlertNotifier) image(ctx context.Context, r domain.WarningReport, instant time.Time) []byte {
	if n.renderer == nil || !n.renderer.Enabled() {
		return nil
	}
	at := instant
	if r.RequestTime != nil {
		at = *r.RequestTime
	}

	img, err := n.renderer.Compose(ctx, at, r.Active())
	if err != nil {
		if !errors.Is(err, render.ErrRenderingDisabled) {
			n.logger.Warn("map composition failed, sending text only", "report_id", r.ReportID, "error", err)
		}
		return nil
	}
	data, err := render.EncodePNG(img)
	if err != nil {
		n.logger.Warn("map encoding failed, sending text only", "report_id", r.ReportID, "error", err)
		return nil
	}
	return data
}
