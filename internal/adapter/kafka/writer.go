package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/eew-notifier/internal/config"
	"github.com/couchcryptid/eew-notifier/internal/domain"
	"github.com/couchcryptid/eew-notifier/internal/notify"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes alerts to a Kafka topic.
// It implements notify.Channel.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured alert topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name implements notify.Channel.
func (w *Writer) Name() string { return "kafka" }

// Send publishes the alert's report as a single JSON message keyed by report id.
func (w *Writer) Send(ctx context.Context, alert notify.Alert) error {
	msg, err := serializeToMessage(alert, time.Now())
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	w.logger.Debug("alert published", "topic", w.writer.Topic, "report_id", alert.Report.ReportID)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// AlertEvent is the message body published per alert.
type AlertEvent struct {
	Report      domain.WarningReport `json:"report"`
	Emergency   bool                 `json:"emergency"`
	Text        string               `json:"text"`
	HasImage    bool                 `json:"has_image"`
	PublishedAt time.Time            `json:"published_at"`
}

// serializeToMessage marshals an alert into a Kafka message.
func serializeToMessage(alert notify.Alert, now time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(AlertEvent{
		Report:      alert.Report,
		Emergency:   alert.Emergency,
		Text:        alert.Text,
		HasImage:    len(alert.Image) > 0,
		PublishedAt: now.UTC(),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(alert.Report.ReportID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "alert_state", Value: []byte(alert.Report.AlertState.String())},
			{Key: "emergency", Value: []byte(strconv.FormatBool(alert.Emergency))},
			{Key: "report_id", Value: []byte(alert.Report.ReportID)},
		},
	}, nil
}
