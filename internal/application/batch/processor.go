package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/citeresolve/pkg/errors"
)

// RunLocker grants exclusive ownership of a run ID across processes.
type RunLocker interface {
	// LockRun returns an unlock func, or an error with code
	// ErrCodeRunLocked when another process holds the run.
	LockRun(ctx context.Context, runID string) (func(context.Context) error, error)
}

// Processor resolves batches of citations.
type Processor struct {
	resolver Resolver
	store    CheckpointStore
	cfg      BatchConfig
	enricher Enricher
	sinks    []ResultSink
	locker   RunLocker
	logger   logging.Logger
	metrics  Metrics
	now      func() time.Time
	seed     int64
}

// Option configures a Processor.
type Option func(*Processor)

// WithEnricher sets the enricher used when BatchConfig.Enrich is true.
func WithEnricher(e Enricher) Option {
	return func(p *Processor) { p.enricher = e }
}

// WithResultSink adds a sink. Sinks are called in the order added.
func WithResultSink(s ResultSink) Option {
	return func(p *Processor) {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// WithRunLocker guards each run with l.
func WithRunLocker(l RunLocker) Option {
	return func(p *Processor) { p.locker = l }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Processor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithClock overrides time.Now for report and checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithJitterSeed fixes the backoff jitter sequence.
func WithJitterSeed(seed int64) Option {
	return func(p *Processor) { p.seed = seed }
}

// NewProcessor builds a Processor. A nil store keeps checkpoints in memory.
func NewProcessor(resolver Resolver, store CheckpointStore, cfg BatchConfig, opts ...Option) (*Processor, error) {
	if resolver == nil {
		return nil, apperrors.NewValidationError("resolver", "must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryCheckpointStore()
	}
	p := &Processor{
		resolver: resolver,
		store:    store,
		cfg:      cfg,
		logger:   logging.NewNopLogger(),
		metrics:  nopMetrics{},
		now:      time.Now,
		seed:     time.Now().UnixNano(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.Named("batch")
	return p, nil
}

// Config returns the processor configuration.
func (p *Processor) Config() BatchConfig { return p.cfg }

// run is the mutable state of one ProcessBatch call.
type run struct {
	p      *Processor
	id     string
	report *BatchReport
	stats  *Stats
	retry  *backoff
	log    logging.Logger
	cancel context.CancelFunc

	mu        sync.Mutex
	committed map[string]ItemOutcome
	since     int

	// ckMu serializes checkpoint writes so CompletedCount never decreases.
	ckMu      sync.Mutex
	lastSaved int
	ckErr     error
}

// ProcessBatch resolves citations with at most MaxConcurrency in flight.
//
// Each distinct item key is resolved once. Items recorded in the run's
// checkpoint are not resolved again and are reported with Resumed set.
// Cancelling ctx stops dispatch; items in flight finish and are committed,
// items waiting for a retry are abandoned, and the report is returned with
// Cancelled set and an ErrCodeBatchCancelled error. A checkpoint failure
// stops the run the same way and returns the partial report with an
// ErrCodeCheckpointFailed error.
func (p *Processor) ProcessBatch(ctx context.Context, citations []citation.Citation) (*BatchReport, error) {
	runID := p.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.ContextWithRunID(ctx, runID)
	log := p.logger.WithContext(ctx)

	if p.locker != nil {
		unlock, err := p.locker.LockRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release run lock", logging.Err(err))
			}
		}()
	}

	prev, err := p.store.LoadCheckpoint(ctx, runID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCheckpointFailed, "load checkpoint").WithDetail("run_id=" + runID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		p:  p,
		id: runID,
		report: &BatchReport{
			RunID:     runID,
			Items:     make(map[string]*ItemReport, len(citations)),
			Counts:    make(map[citation.Status]int),
			StartedAt: p.now(),
		},
		stats:     NewStats(DefaultReservoirSize),
		retry:     newBackoff(p.cfg, p.seed),
		log:       log,
		cancel:    cancel,
		committed: make(map[string]ItemOutcome),
		lastSaved: -1,
	}
	if prev != nil {
		for k, v := range prev.Completed {
			r.committed[k] = v
		}
		r.lastSaved = prev.CompletedCount
	}

	pending := r.plan(citations)
	log.Info("batch started",
		logging.Int("items", len(r.report.Items)),
		logging.Int("pending", len(pending)),
		logging.Int("duplicates", r.report.Duplicates),
		logging.Bool("resumed", prev != nil))

	sem := make(chan struct{}, p.cfg.MaxConcurrency)
	var wg sync.WaitGroup
dispatch:
	for _, item := range pending {
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			break dispatch
		}
		if runCtx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)
		go func(item *ItemReport) {
			defer wg.Done()
			defer func() { <-sem }()
			r.process(runCtx, item)
		}(item)
	}
	wg.Wait()

	ckErr := r.checkpoint(ctx)
	report := r.report
	report.Stats = r.stats.Snapshot()
	report.FinishedAt = p.now()
	report.Cancelled = ctx.Err() != nil

	fields := []logging.Field{
		logging.Int("resolved", report.ResolvedCount()),
		logging.Int("ambiguous", report.AmbiguousCount()),
		logging.Int("unresolved", report.UnresolvedCount()),
		logging.Int("failed", report.FailedCount()),
		logging.Int("retries", report.Stats.Retries),
		logging.Duration(logging.FieldLatency, report.Duration()),
	}
	switch {
	case ckErr != nil:
		report.Err = ckErr.Error()
		log.Error("batch aborted", append(fields, logging.Err(ckErr))...)
		return report, ckErr
	case report.Cancelled:
		err := apperrors.Wrap(ctx.Err(), apperrors.ErrCodeBatchCancelled, "batch run cancelled").WithDetail("run_id=" + runID)
		report.Err = err.Error()
		log.Warn("batch cancelled", append(fields, logging.Int("completed", report.CompletedCount()))...)
		return report, err
	}
	log.Info("batch finished", fields...)
	return report, nil
}

// plan registers every distinct item in the report, restores checkpointed
// ones and returns the rest in input order.
func (r *run) plan(citations []citation.Citation) []*ItemReport {
	var pending []*ItemReport
	for i, c := range citations {
		key := c.ItemKey()
		if _, dup := r.report.Items[key]; dup {
			r.report.Duplicates++
			continue
		}
		item := &ItemReport{Key: key, Index: i, Input: c, State: ItemPending}
		r.report.Items[key] = item
		if o, ok := r.committed[key]; ok {
			item.restore(o)
			r.report.Counts[o.Status]++
			r.stats.RecordResumed(o.Status)
			continue
		}
		pending = append(pending, item)
	}
	return pending
}

// process drives one item to completion, or abandons it when the run stops
// while a retry is scheduled.
func (r *run) process(runCtx context.Context, item *ItemReport) {
	p := r.p
	p.metrics.AddInFlight(1)
	defer p.metrics.AddInFlight(-1)

	log := r.log.With(logging.String(logging.FieldItemKey, item.Key))
	start := time.Now()

	var (
		res     *citation.ResolutionResult
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		item.State = ItemInFlight
		item.Attempts = attempt + 1
		res, lastErr = r.attempt(runCtx, item.Input)
		if lastErr == nil || attempt >= p.cfg.MaxRetries {
			break
		}
		if runCtx.Err() != nil {
			log.Debug("item abandoned", logging.Err(lastErr))
			return
		}

		item.State = ItemRetryScheduled
		delay := r.retry.delay(attempt)
		r.stats.RecordRetry()
		p.metrics.ObserveBatchRetry()
		log.Warn("item failed, retrying",
			logging.Int("attempt", attempt+1),
			logging.Duration("backoff", delay),
			logging.Err(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-runCtx.Done():
			timer.Stop()
			log.Debug("item abandoned during backoff")
			return
		case <-timer.C:
		}
	}

	detached := context.WithoutCancel(runCtx)
	if lastErr != nil {
		item.Status = citation.StatusFailed
		item.Error = lastErr.Error()
		log.Error("item failed", logging.Int("attempts", item.Attempts), logging.Err(lastErr))
	} else {
		item.Result = res
		item.Status = res.Status
		if resolved, ok := res.Resolved(item.Input); ok {
			if p.cfg.Enrich && p.enricher != nil {
				enriched, rep := p.enricher.Enrich(detached, resolved)
				resolved = enriched
				item.Enrichment = &rep
			}
			item.Resolved = &resolved
		}
	}
	item.Duration = time.Since(start)
	item.State = ItemCompleted

	for _, s := range p.sinks {
		if err := s.Store(detached, *item); err != nil {
			log.Warn("result sink failed", logging.Err(err))
		}
	}
	r.commit(runCtx, item)
}

// attempt runs one resolution. It ignores run cancellation so that a
// started attempt is never torn, and converts a panic into an error.
func (r *run) attempt(runCtx context.Context, c citation.Citation) (res *citation.ResolutionResult, err error) {
	ctx := context.WithoutCancel(runCtx)
	if r.p.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.p.cfg.ItemTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, apperrors.Newf(apperrors.ErrCodeInternal, "resolver panic: %v", rec)
		}
	}()
	res, err = r.p.resolver.Resolve(ctx, c)
	if err == nil && res == nil {
		err = apperrors.New(apperrors.ErrCodeInternal, "resolver returned no result")
	}
	return res, err
}

func (r *run) commit(ctx context.Context, item *ItemReport) {
	r.mu.Lock()
	r.committed[item.Key] = item.Outcome()
	r.report.Counts[item.Status]++
	r.since++
	due := r.since >= r.p.cfg.CheckpointInterval
	if due {
		r.since = 0
	}
	r.mu.Unlock()

	r.stats.Record(item)
	r.p.metrics.ObserveBatchItem(string(item.Status))
	if due {
		_ = r.checkpoint(ctx)
	}
}

// checkpoint writes the committed items when there are new ones. After the
// first failure it only returns that failure.
func (r *run) checkpoint(ctx context.Context) error {
	r.ckMu.Lock()
	defer r.ckMu.Unlock()
	if r.ckErr != nil {
		return r.ckErr
	}

	r.mu.Lock()
	cp := &Checkpoint{
		RunID:          r.id,
		Completed:      make(map[string]ItemOutcome, len(r.committed)),
		CompletedCount: len(r.committed),
		UpdatedAt:      r.p.now(),
	}
	for k, v := range r.committed {
		cp.Completed[k] = v
	}
	r.mu.Unlock()

	if cp.CompletedCount <= r.lastSaved {
		return nil
	}
	if err := r.p.store.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
		r.p.metrics.ObserveCheckpointWrite(false)
		r.ckErr = apperrors.Wrap(err, apperrors.ErrCodeCheckpointFailed, "save checkpoint").WithDetail("run_id=" + r.id)
		r.log.Error("checkpoint write failed, stopping run", logging.Int("completed", cp.CompletedCount), logging.Err(err))
		r.cancel()
		return r.ckErr
	}
	r.p.metrics.ObserveCheckpointWrite(true)
	r.lastSaved = cp.CompletedCount
	r.log.Debug("checkpoint written", logging.Int("completed", cp.CompletedCount))
	return nil
}
