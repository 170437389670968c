package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
	"github.com/turtacn/citeresolve/pkg/types/common"
)

// Publisher writes one message. *Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// EventPublisher emits citation.resolved and batch.completed events. It is a
// batch.ResultSink.
type EventPublisher struct {
	pub    Publisher
	topics Topics
	source string
	logger logging.Logger
	now    func() time.Time
}

var _ batch.ResultSink = (*EventPublisher)(nil)

// NewEventPublisher builds an EventPublisher. source names the emitting
// service in every envelope.
func NewEventPublisher(pub Publisher, topics Topics, source string, logger logging.Logger) *EventPublisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EventPublisher{pub: pub, topics: topics, source: source, logger: logger, now: time.Now}
}

// Store publishes a citation.resolved event for a completed item. Items
// restored from a checkpoint were announced by the run that resolved them.
func (p *EventPublisher) Store(ctx context.Context, item batch.ItemReport) error {
	if item.State != batch.ItemCompleted || item.Resumed {
		return nil
	}
	payload := CitationResolvedPayload{
		ItemKey:    item.Key,
		Status:     item.Status,
		Input:      item.Input,
		Resolved:   item.Resolved,
		Attempts:   item.Attempts,
		Error:      item.Error,
		ResolvedAt: p.now().UTC(),
	}
	if item.Result != nil {
		payload.Confidence = item.Result.Confidence
		payload.Source = item.Result.Source
	}
	return p.PublishResolved(ctx, logging.RunIDFromContext(ctx), payload)
}

// PublishResolved emits one citation.resolved event keyed by item key.
func (p *EventPublisher) PublishResolved(ctx context.Context, runID string, payload CitationResolvedPayload) error {
	return p.publish(ctx, p.topics.CitationResolved, EventCitationResolved, runID, payload.ItemKey, payload)
}

// PublishBatchCompleted emits a batch.completed event for report.
func (p *EventPublisher) PublishBatchCompleted(ctx context.Context, report *batch.BatchReport, location string) error {
	if report == nil {
		return errors.NewValidationError("report", "report required")
	}
	counts := make(map[citation.Status]int, len(report.Counts))
	for k, v := range report.Counts {
		counts[k] = v
	}
	payload := BatchCompletedPayload{
		RunID:          report.RunID,
		Total:          report.Total(),
		Counts:         counts,
		Cancelled:      report.Cancelled,
		Error:          report.Err,
		ReportLocation: location,
		DurationMs:     report.Duration().Milliseconds(),
		FinishedAt:     report.FinishedAt,
	}
	return p.publish(ctx, p.topics.BatchCompleted, EventBatchCompleted, report.RunID, report.RunID, payload)
}

func (p *EventPublisher) publish(ctx context.Context, topic, eventType, runID, key string, payload interface{}) error {
	env, err := NewEventEnvelope(eventType, p.source, payload)
	if err != nil {
		return err
	}
	env.RunID = runID
	env.Timestamp = p.now().UTC()
	msg, err := env.ToMessage(topic, []byte(key))
	if err != nil {
		return err
	}
	if err := p.pub.Publish(ctx, msg); err != nil {
		return err
	}
	p.logger.Debug("event published",
		logging.String("topic", topic),
		logging.String("event_id", env.EventID),
		logging.String("key", key))
	return nil
}

// DecodeExtraction reads a raw-citation message. The value is either a bare
// CitationExtraction or an EventEnvelope carrying one.
func DecodeExtraction(msg *common.Message) (citation.CitationExtraction, error) {
	var ext citation.CitationExtraction
	if len(msg.Value) == 0 {
		return ext, errors.NewValidationError("value", "empty message value")
	}
	var probe struct {
		EventType string          `json:"event_type"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &probe); err != nil {
		return ext, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode raw citation").
			WithDetail("offset=" + strconv.FormatInt(msg.Offset, 10))
	}
	body := msg.Value
	if probe.EventType != "" && len(probe.Payload) > 0 {
		body = probe.Payload
	}
	if err := json.Unmarshal(body, &ext); err != nil {
		return ext, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode raw citation")
	}
	return ext, nil
}
