// Package worker turns raw citation messages from Kafka into resolution
// records. Each message is resolved on its own; results go to the same
// sinks a batch run uses.
package worker

import (
	"context"
	"time"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/pkg/errors"
	"github.com/turtacn/citeresolve/pkg/types/common"
)

// Handler resolves one raw citation per message.
type Handler struct {
	resolver batch.Resolver
	enricher batch.Enricher
	sinks    []batch.ResultSink
	logger   logging.Logger
	now      func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithEnricher fills missing metadata of every resolved record.
func WithEnricher(e batch.Enricher) Option {
	return func(h *Handler) { h.enricher = e }
}

// WithSink adds a destination for completed items.
func WithSink(s batch.ResultSink) Option {
	return func(h *Handler) {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(resolver batch.Resolver, opts ...Option) (*Handler, error) {
	if resolver == nil {
		return nil, errors.NewValidationError("resolver", "resolver is required")
	}
	h := &Handler{resolver: resolver, logger: logging.NewNopLogger(), now: time.Now}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.Named("worker")
	return h, nil
}

// Handle implements common.MessageHandler. Returning an error makes the
// consumer retry the message and dead-letter it once retries run out, so
// undecodable payloads and resolver or sink failures all end up there. A
// FAILED resolution is a result, not an error: it is stored like any other
// and a later message for the same citation may replace it.
func (h *Handler) Handle(ctx context.Context, msg *common.Message) error {
	start := h.now()
	if runID := msg.Headers[kafka.HeaderRunID]; runID != "" {
		ctx = logging.ContextWithRunID(ctx, runID)
	}
	log := h.logger.WithContext(ctx).With(
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset))

	ext, err := kafka.DecodeExtraction(msg)
	if err != nil {
		log.Warn("undecodable raw citation", logging.Err(err))
		return err
	}
	in := ext.ToCitation()

	res, err := h.resolver.Resolve(ctx, in)
	if err != nil {
		log.Warn("resolution failed", logging.Err(err))
		return err
	}

	item := batch.ItemReport{
		Key:      in.ItemKey(),
		Input:    in,
		State:    batch.ItemCompleted,
		Status:   res.Status,
		Result:   res,
		Attempts: 1,
	}
	if m, ok := res.Resolved(in); ok {
		if h.enricher != nil {
			enriched, report := h.enricher.Enrich(ctx, m)
			m = enriched
			item.Enrichment = &report
		}
		item.Resolved = &m
	}
	if res.Status == citation.StatusFailed {
		item.Error = "all sources failed"
	}
	item.Duration = h.now().Sub(start)

	for _, s := range h.sinks {
		if err := s.Store(ctx, item); err != nil {
			log.Error("failed to store resolution", logging.String("item_key", item.Key), logging.Err(err))
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to store resolution")
		}
	}
	log.Debug("citation resolved",
		logging.String("item_key", item.Key),
		logging.String("status", string(item.Status)),
		logging.Float64("confidence", res.Confidence),
		logging.Duration("duration", item.Duration))
	return nil
}
