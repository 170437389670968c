package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
	"github.com/turtacn/citeresolve/pkg/types/common"
)

// Topic suffixes; Topics joins them to the configured prefix.
const (
	TopicCitationRaw      = "citation.raw"
	TopicCitationResolved = "citation.resolved"
	TopicBatchCompleted   = "batch.completed"
	TopicDeadLetter       = "dead_letter.citation"
)

// Event types carried in EventEnvelope.EventType.
const (
	EventCitationResolved = "citation.resolved"
	EventBatchCompleted   = "batch.completed"
)

// Message headers.
const (
	HeaderEventType     = "event_type"
	HeaderSource        = "source_service"
	HeaderSchemaVersion = "schema_version"
	HeaderRunID         = "run_id"
	HeaderOriginalTopic = "original_topic"
	HeaderError         = "error_message"
)

// Topics is the set of fully qualified topic names for one deployment.
type Topics struct {
	CitationRaw      string
	CitationResolved string
	BatchCompleted   string
	DeadLetter       string
}

// NewTopics qualifies the topic suffixes with prefix, e.g.
// "citeresolve.citation.raw". An empty prefix leaves them bare.
func NewTopics(prefix string) Topics {
	q := func(name string) string {
		if p := strings.TrimSuffix(prefix, "."); p != "" {
			return p + "." + name
		}
		return name
	}
	return Topics{
		CitationRaw:      q(TopicCitationRaw),
		CitationResolved: q(TopicCitationResolved),
		BatchCompleted:   q(TopicBatchCompleted),
		DeadLetter:       q(TopicDeadLetter),
	}
}

// Configs returns the provisioning settings for every topic.
func (t Topics) Configs() []common.TopicConfig {
	const day = int64(24 * 3600 * 1000)
	return []common.TopicConfig{
		{Name: t.CitationRaw, NumPartitions: 12, ReplicationFactor: 3, RetentionMs: 7 * day},
		{Name: t.CitationResolved, NumPartitions: 12, ReplicationFactor: 3, RetentionMs: 7 * day},
		{Name: t.BatchCompleted, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 30 * day},
		{Name: t.DeadLetter, NumPartitions: 3, ReplicationFactor: 3, RetentionMs: 30 * day},
	}
}

// EventEnvelope wraps every published event.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	RunID         string            `json:"run_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CitationResolvedPayload is the payload of a citation.resolved event.
type CitationResolvedPayload struct {
	ItemKey    string             `json:"item_key"`
	Status     citation.Status    `json:"status"`
	Confidence float64            `json:"confidence"`
	Source     string             `json:"source,omitempty"`
	Input      citation.Citation  `json:"input"`
	Resolved   *citation.Citation `json:"resolved,omitempty"`
	Attempts   int                `json:"attempts"`
	Error      string             `json:"error,omitempty"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// BatchCompletedPayload is the payload of a batch.completed event.
type BatchCompletedPayload struct {
	RunID          string                  `json:"run_id"`
	Total          int                     `json:"total"`
	Counts         map[citation.Status]int `json:"counts"`
	Cancelled      bool                    `json:"cancelled"`
	Error          string                  `json:"error,omitempty"`
	ReportLocation string                  `json:"report_location,omitempty"`
	DurationMs     int64                   `json:"duration_ms"`
	FinishedAt     time.Time               `json:"finished_at"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target. An empty payload leaves
// target untouched.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode payload").WithDetail("event_type=" + e.EventType)
	}
	return nil
}

// ToMessage renders the envelope as a message keyed by key.
func (e *EventEnvelope) ToMessage(topic string, key []byte) (*common.ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		HeaderEventType:     e.EventType,
		HeaderSource:        e.Source,
		HeaderSchemaVersion: e.SchemaVersion,
	}
	if e.RunID != "" {
		headers[HeaderRunID] = e.RunID
	}
	return &common.ProducerMessage{
		Topic:     topic,
		Key:       key,
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}, nil
}

// MessageToEventEnvelope decodes a consumed message.
func MessageToEventEnvelope(msg *common.Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.NewValidationError("value", "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager provisions topics at startup.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.NewValidationError("brokers", "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to dial kafka").WithDetail("broker=" + brokers[0])
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TopicManager{conn: conn, logger: logger}, nil
}

// CreateTopic creates cfg.Name; an existing topic is not an error.
func (m *TopicManager) CreateTopic(ctx context.Context, cfg common.TopicConfig) error {
	switch {
	case cfg.Name == "":
		return errors.NewValidationError("name", "topic name required")
	case cfg.NumPartitions <= 0:
		return errors.NewValidationError("num_partitions", "must be > 0")
	case cfg.ReplicationFactor <= 0:
		return errors.NewValidationError("replication_factor", "must be > 0")
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(cfg.RetentionMs, 10)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}
	if cfg.MaxMessageBytes > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "max.message.bytes", ConfigValue: strconv.Itoa(cfg.MaxMessageBytes)})
	}
	for k, v := range cfg.Configs {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if exists, _ := m.TopicExists(ctx, cfg.Name); exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to create topic").WithDetail("topic=" + cfg.Name)
	}
	m.logger.Info("topic created", logging.String("topic", cfg.Name))
	return nil
}

func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// EnsureTopics creates every topic in t.
func (m *TopicManager) EnsureTopics(ctx context.Context, t Topics) error {
	for _, cfg := range t.Configs() {
		if err := m.CreateTopic(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}
