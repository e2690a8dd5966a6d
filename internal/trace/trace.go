// Package trace records the audit trail of a request: classification,
// policy decisions, tool calls, approvals, and final responses.
package trace

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/adpilot-ai/adpilot/internal/store"
)

// Event kinds written to the audit trail.
const (
	KindClassification = "classification"
	KindPolicy         = "policy"
	KindTool           = "tool"
	KindApproval       = "approval"
	KindResponse       = "response"
	KindError          = "error"
)

// Recorder receives audit events. Recording must never block or fail the
// request path.
type Recorder interface {
	Record(ctx context.Context, e store.TraceEvent)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, e store.TraceEvent) {}

// StoreRecorder persists events to the local database.
type StoreRecorder struct {
	store  *store.Store
	logger *slog.Logger
}

func NewStoreRecorder(s *store.Store, logger *slog.Logger) *StoreRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreRecorder{store: s, logger: logger}
}

func (r *StoreRecorder) Record(ctx context.Context, e store.TraceEvent) {
	if err := r.store.AppendTraceEvent(&e); err != nil {
		r.logger.Warn("trace event not persisted", "trace_id", e.TraceID, "kind", e.Kind, "error", err)
	}
}

// KafkaRecorder publishes events to a Kafka topic for external audit
// consumers. Writes are async fire-and-forget.
type KafkaRecorder struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaRecorder(brokers []string, topic string, logger *slog.Logger) *KafkaRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("trace publish failed", "error", err, "count", len(messages))
			}
		},
	}
	return &KafkaRecorder{writer: w, logger: logger}
}

// NewKafkaRecorderFromCSV accepts a comma-separated broker list.
func NewKafkaRecorderFromCSV(brokers, topic string, logger *slog.Logger) *KafkaRecorder {
	return NewKafkaRecorder(strings.Split(brokers, ","), topic, logger)
}

func (r *KafkaRecorder) Record(ctx context.Context, e store.TraceEvent) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	value, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("trace event not encodable", "trace_id", e.TraceID, "error", err)
		return
	}
	msg := kafka.Message{
		// Key by trace so all events of one request land on one partition.
		Key:   []byte(e.TraceID),
		Value: value,
		Time:  e.CreatedAt,
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.logger.Warn("trace publish failed", "trace_id", e.TraceID, "error", err)
	}
}

func (r *KafkaRecorder) Close() error {
	return r.writer.Close()
}

// Multi fans one event out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e store.TraceEvent) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}
