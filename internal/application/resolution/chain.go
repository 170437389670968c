package resolution

import (
	"context"
	"time"

	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/citeresolve/pkg/errors"
)

const (
	DefaultConfidentThreshold = 0.85
	DefaultPlausibleThreshold = 0.50
	DefaultChainTimeout       = 30 * time.Second
)

// Scorer rates a source candidate against the input citation.
type Scorer interface {
	ScoreCandidate(input citation.Citation, cand citation.MatchCandidate) (float64, citation.Explanation)
}

// MatcherScorer scores candidates with the fuzzy matcher. An identifier
// shared with the input decides the match outright.
type MatcherScorer struct {
	Matcher *citation.Matcher
}

func (s MatcherScorer) ScoreCandidate(input citation.Citation, cand citation.MatchCandidate) (float64, citation.Explanation) {
	return s.Matcher.Score(input, cand.ToCitation())
}

// ChainConfig is the chain's slice of configuration.
type ChainConfig struct {
	ConfidentThreshold float64
	PlausibleThreshold float64
	Weights            citation.Weights
	// ChainTimeout bounds one uncached resolution across all adapters.
	// Zero disables the bound.
	ChainTimeout time.Duration
	// Scorer overrides the fuzzy matcher built from Weights.
	Scorer Scorer
}

// DefaultChainConfig returns the default thresholds and weights.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		ConfidentThreshold: DefaultConfidentThreshold,
		PlausibleThreshold: DefaultPlausibleThreshold,
		Weights:            citation.DefaultWeights(),
		ChainTimeout:       DefaultChainTimeout,
	}
}

// Validate requires 0 < plausible < confident <= 1 and usable weights.
func (c ChainConfig) Validate() error {
	if c.ConfidentThreshold <= 0 || c.ConfidentThreshold > 1 ||
		c.PlausibleThreshold <= 0 || c.PlausibleThreshold > 1 {
		return apperrors.Newf(apperrors.ErrCodeInvalidThresholds,
			"thresholds must be in (0,1]: confident=%v plausible=%v", c.ConfidentThreshold, c.PlausibleThreshold)
	}
	if c.ConfidentThreshold <= c.PlausibleThreshold {
		return apperrors.Newf(apperrors.ErrCodeInvalidThresholds,
			"confident threshold %v must exceed plausible threshold %v", c.ConfidentThreshold, c.PlausibleThreshold)
	}
	if c.Scorer == nil {
		if err := c.Weights.Validate(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid match weights")
		}
	}
	if c.ChainTimeout < 0 {
		return apperrors.NewValidationError("chain_timeout", "must not be negative")
	}
	return nil
}

// Chain resolves citations against an ordered list of adapters.
type Chain struct {
	adapters []Adapter
	cache    DedupCache
	cfg      ChainConfig
	scorer   Scorer
	logger   logging.Logger
	metrics  Metrics
	now      func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithClock overrides time.Now for metadata timestamps.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChain builds a Chain. Adapters are tried in slice order. A nil cache
// disables dedup; nil logger and metrics are no-ops.
func NewChain(adapters []Adapter, cache DedupCache, cfg ChainConfig, logger logging.Logger, metrics Metrics, opts ...ChainOption) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cache == nil {
		cache = noCache{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	scorer := cfg.Scorer
	if scorer == nil {
		// Conflicting identifiers stay below the plausible threshold.
		m := citation.NewMatcher(cfg.Weights).WithConflictCap(cfg.PlausibleThreshold / 2)
		scorer = MatcherScorer{Matcher: m}
	}
	c := &Chain{
		adapters: append([]Adapter(nil), adapters...),
		cache:    cache,
		cfg:      cfg,
		scorer:   scorer,
		logger:   logger.Named("chain"),
		metrics:  metricsOrNop(metrics),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the chain configuration.
func (ch *Chain) Config() ChainConfig { return ch.cfg }

// AdapterNames lists the adapters in priority order.
func (ch *Chain) AdapterNames() []string {
	names := make([]string, len(ch.adapters))
	for i, a := range ch.adapters {
		names[i] = a.Name()
	}
	return names
}

// CacheKey returns the dedup key for c: its DedupKey, or its primary
// identifier when it has no title.
func CacheKey(c citation.Citation) string {
	if citation.NormalizeText(c.Title) == "" {
		if id := c.PrimaryID(); id != "" {
			return "id:" + id
		}
	}
	return c.DedupKey()
}

// Resolve produces one ResolutionResult for c.
//
// A citation without title or identifier is UNRESOLVED at once. Otherwise
// the result is served from the dedup cache or computed by trying adapters
// in order, stopping at the first candidate at or above the confident
// threshold. An error is returned only for unexpected adapter failures and
// cancellation of ctx; nothing is cached in that case.
func (ch *Chain) Resolve(ctx context.Context, c citation.Citation) (*citation.ResolutionResult, error) {
	if !c.HasMatchableFields() {
		now := ch.now()
		res := &citation.ResolutionResult{
			Status:          citation.StatusUnresolved,
			ConfidenceLevel: citation.ConfidenceNone,
			Metadata:        citation.ResolutionMetadata{StartedAt: now, FinishedAt: now, DedupKey: c.DedupKey()},
		}
		ch.logger.Debug("citation has no matchable fields", logging.String("raw_text", c.RawText))
		ch.metrics.ObserveResolution(string(res.Status))
		return res, nil
	}

	key := CacheKey(c)
	res, hit, err := ch.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*citation.ResolutionResult, error) {
		return ch.compute(ctx, c, key)
	})
	if err != nil {
		return nil, err
	}
	ch.metrics.ObserveCacheLookup(hit)
	ch.metrics.ObserveResolution(string(res.Status))
	return res, nil
}

func (ch *Chain) compute(parent context.Context, c citation.Citation, key string) (*citation.ResolutionResult, error) {
	ctx := parent
	if ch.cfg.ChainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, ch.cfg.ChainTimeout)
		defer cancel()
	}
	log := ch.logger.WithContext(parent).With(logging.String(logging.FieldDedupKey, key))

	md := citation.ResolutionMetadata{StartedAt: ch.now(), DedupKey: key}
	var (
		best      *citation.MatchCandidate
		bestScore float64
		bestExp   citation.Explanation
		failed    int
	)
	fail := func(name, msg string) {
		failed++
		md.SourcesFailed = append(md.SourcesFailed, name)
		if md.SourceErrors == nil {
			md.SourceErrors = make(map[string]string)
		}
		md.SourceErrors[name] = msg
	}

	for i, a := range ch.adapters {
		name := a.Name()
		if err := parent.Err(); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			fail(name, "chain timeout exceeded before attempt")
			continue
		}

		md.Attempts++
		md.SourcesTried = append(md.SourcesTried, name)
		start := time.Now()
		cands, err := a.Resolve(ctx, c)
		latency := time.Since(start)

		if err != nil {
			if perr := parent.Err(); perr != nil {
				return nil, perr
			}
			if IsSourceUnavailable(err) || ctx.Err() != nil {
				ch.metrics.ObserveAdapterCall(name, OutcomeUnavailable, latency)
				log.Warn("source unavailable", logging.String(logging.FieldSource, name), logging.Err(err))
				fail(name, err.Error())
				continue
			}
			ch.metrics.ObserveAdapterCall(name, OutcomeError, latency)
			log.Error("adapter failed unexpectedly", logging.String(logging.FieldSource, name), logging.Err(err))
			return nil, apperrors.Wrapf(err, apperrors.CodeUnknown, "adapter %s", name)
		}

		outcome := OutcomeEmpty
		if len(cands) > 0 {
			outcome = OutcomeMatch
		}
		ch.metrics.ObserveAdapterCall(name, outcome, latency)
		md.CandidateCount += len(cands)

		for j := range cands {
			cand := cands[j].Clone()
			if cand.Source == "" {
				cand.Source = name
			}
			score, exp := ch.scorer.ScoreCandidate(c, cand)
			if best == nil || score > bestScore {
				best, bestScore, bestExp = &cand, score, exp
			}
		}

		if best != nil && bestScore >= ch.cfg.ConfidentThreshold {
			md.ShortCircuited = i < len(ch.adapters)-1
			break
		}
	}

	res := &citation.ResolutionResult{Metadata: md}
	switch {
	case best != nil && bestScore >= ch.cfg.ConfidentThreshold:
		res.Status = citation.StatusResolved
	case best != nil && bestScore >= ch.cfg.PlausibleThreshold:
		res.Status = citation.StatusAmbiguous
	case len(ch.adapters) > 0 && failed == len(ch.adapters):
		res.Status = citation.StatusFailed
	default:
		res.Status = citation.StatusUnresolved
	}

	switch res.Status {
	case citation.StatusResolved, citation.StatusAmbiguous:
		res.Match = best
		res.Confidence = bestScore
		res.Source = best.Source
		exp := bestExp
		res.Explanation = &exp
	case citation.StatusUnresolved:
		res.Confidence = bestScore
		if best != nil {
			exp := bestExp
			res.Explanation = &exp
		}
	}
	res.ConfidenceLevel = citation.LevelFor(res.Confidence, ch.cfg.ConfidentThreshold, ch.cfg.PlausibleThreshold)
	res.Metadata.FinishedAt = ch.now()

	log.Debug("citation resolved",
		logging.String(logging.FieldStatus, string(res.Status)),
		logging.Float64("confidence", res.Confidence),
		logging.String(logging.FieldSource, res.Source),
		logging.Int("attempts", md.Attempts))
	return res, nil
}
