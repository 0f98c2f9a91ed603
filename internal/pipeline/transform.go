package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/eew-notifier/internal/domain"
)

// ReportTransformer turns a raw feed document into a derived WarningReport.
type ReportTransformer struct {
	home   *domain.Coordinate
	logger *slog.Logger
}

// NewTransformer creates a ReportTransformer. Pass a nil home to leave the
// distance and arrival fields unknown.
func NewTransformer(home *domain.Coordinate, logger *slog.Logger) *ReportTransformer {
	return &ReportTransformer{
		home:   home,
		logger: logger,
	}
}

func (t *ReportTransformer) Transform(payload []byte) (domain.WarningReport, error) {
	report, err := domain.ParseReport(payload)
	if err != nil {
		return domain.WarningReport{}, err
	}

	if report.Active() && report.Epicenter == nil {
		t.logger.Debug("active report without epicenter", "report_id", report.ReportID)
	}
	return domain.DeriveReport(report, t.home), nil
}
