package resolution_test

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/domain/citation"
)

// stubAdapter returns scripted responses and counts calls.
type stubAdapter struct {
	name     string
	resolve  func(ctx context.Context, c citation.Citation) ([]citation.MatchCandidate, error)
	enrich   func(ctx context.Context, id citation.Identifier) (*citation.MatchCandidate, error)
	resolves atomic.Int32
	enriches atomic.Int32
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Resolve(ctx context.Context, c citation.Citation) ([]citation.MatchCandidate, error) {
	s.resolves.Add(1)
	if s.resolve == nil {
		return nil, nil
	}
	return s.resolve(ctx, c)
}

func (s *stubAdapter) Enrich(ctx context.Context, id citation.Identifier) (*citation.MatchCandidate, error) {
	s.enriches.Add(1)
	if s.enrich == nil {
		return nil, nil
	}
	return s.enrich(ctx, id)
}

func returning(cands ...citation.MatchCandidate) func(context.Context, citation.Citation) ([]citation.MatchCandidate, error) {
	return func(context.Context, citation.Citation) ([]citation.MatchCandidate, error) {
		out := make([]citation.MatchCandidate, len(cands))
		copy(out, cands)
		return out, nil
	}
}

func unavailable(source string) func(context.Context, citation.Citation) ([]citation.MatchCandidate, error) {
	return func(context.Context, citation.Citation) ([]citation.MatchCandidate, error) {
		return nil, resolution.SourceUnavailable(source, errors.New("connection refused"))
	}
}

// mockAdapter is a testify mock of resolution.Adapter.
type mockAdapter struct {
	mock.Mock
	name string
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Resolve(ctx context.Context, c citation.Citation) ([]citation.MatchCandidate, error) {
	args := m.Called(ctx, c)
	cands, _ := args.Get(0).([]citation.MatchCandidate)
	return cands, args.Error(1)
}

func (m *mockAdapter) Enrich(ctx context.Context, id citation.Identifier) (*citation.MatchCandidate, error) {
	args := m.Called(ctx, id)
	cand, _ := args.Get(0).(*citation.MatchCandidate)
	return cand, args.Error(1)
}

// sourceScoreScorer trusts the candidate's SourceScore as the confidence.
type sourceScoreScorer struct{}

func (sourceScoreScorer) ScoreCandidate(_ citation.Citation, c citation.MatchCandidate) (float64, citation.Explanation) {
	return c.SourceScore, citation.Explanation{Score: c.SourceScore}
}

func vaswani() citation.Citation {
	return citation.Citation{Title: "Attention Is All You Need", Authors: []string{"Vaswani"}, Year: 2017}
}

func attentionCandidate(source string, score float64) citation.MatchCandidate {
	return citation.MatchCandidate{
		Source:      source,
		SourceID:    "10.5555/attn",
		Title:       "Attention Is All You Need",
		Authors:     []string{"Ashish Vaswani", "Noam Shazeer"},
		Year:        2017,
		DOI:         "10.5555/attn",
		SourceScore: score,
	}
}

func adapters(as ...resolution.Adapter) []resolution.Adapter { return as }
