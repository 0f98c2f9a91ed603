package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/observability"
)

// Alert is one notification for a novel report.
type Alert struct {
	Text      string
	Image     []byte // PNG, nil when no image could be composed
	Emergency bool
	Report    domain.WarningReport
}

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Audience selects which alerts a target receives.
type Audience int

const (
	// AudienceGeneral receives every alert.
	AudienceGeneral Audience = iota
	// AudienceEmergency receives only alerts classified as emergencies.
	AudienceEmergency
)

func (a Audience) String() string {
	if a == AudienceEmergency {
		return "emergency"
	}
	return "general"
}

// Target binds a channel to an audience.
type Target struct {
	Channel  Channel
	Audience Audience
}

// Dispatcher fans an alert out to every matching target.
type Dispatcher struct {
	targets []Target
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDispatcher creates a dispatcher over targets. Nil channels are ignored.
func NewDispatcher(logger *slog.Logger, metrics *observability.Metrics, targets ...Target) *Dispatcher {
	d := &Dispatcher{logger: logger, metrics: metrics}
	for _, t := range targets {
		if t.Channel != nil {
			d.targets = append(d.targets, t)
		}
	}
	return d
}

// Targets returns the number of configured targets.
func (d *Dispatcher) Targets() int {
	return len(d.targets)
}

// Dispatch sends alert to each target in order. A failing channel does not
// stop the remaining ones; all failures are joined into the returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) error {
	var errs []error
	for _, t := range d.targets {
		if t.Audience == AudienceEmergency && !alert.Emergency {
			continue
		}
		name := t.Channel.Name() + "/" + t.Audience.String()
		if err := t.Channel.Send(ctx, alert); err != nil {
			d.metrics.ChannelSends.WithLabelValues(name, "error").Inc()
			d.logger.Warn("channel send failed", "channel", name, "report_id", alert.Report.ReportID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		d.metrics.ChannelSends.WithLabelValues(name, "success").Inc()
		d.logger.Debug("channel send succeeded", "channel", name, "report_id", alert.Report.ReportID)
	}
	return errors.Join(errs...)
}
