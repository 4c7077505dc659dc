// Package search runs profile queries against the profile store.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/nakama/internal/matcher"
	"github.com/hyperjump/nakama/internal/metrics"
	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/storage"
)

// ErrStoreUnavailable is returned when profiles cannot be fetched from the store.
var ErrStoreUnavailable = errors.New("profile store unavailable")

// Engine fetches candidate profiles per request and filters them with a Matcher.
type Engine struct {
	storage   storage.Storage
	matcher   *matcher.Matcher
	prefilter bool
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStorePrefilter narrows candidates with store-level array-contains queries before
// matching. It only takes effect with exact matching, where element equality in the store
// finds every profile the matcher would accept.
func WithStorePrefilter(enabled bool) Option {
	return func(e *Engine) { e.prefilter = enabled }
}

// NewEngine creates a search engine over store. A nil matcher uses matcher.New().
func NewEngine(store storage.Storage, m *matcher.Matcher, opts ...Option) *Engine {
	if m == nil {
		m = matcher.New()
	}
	e := &Engine{
		storage: store,
		matcher: m,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prefilter && m.Mode() != matcher.ModeExact {
		e.logger.Warn("store prefilter requires exact matching; scanning all profiles",
			zap.String("mode", string(m.Mode())))
		e.prefilter = false
	}
	return e
}

// Matcher returns the matcher used by the engine.
func (e *Engine) Matcher() *matcher.Matcher { return e.matcher }

// Search validates q, fetches candidates and returns the matching profiles.
// q is normalized in place. Validation fails with models.ErrEmptyQuery before the store
// is touched; store failures wrap ErrStoreUnavailable and never yield partial results.
func (e *Engine) Search(ctx context.Context, q *models.Query) (*models.SearchResponse, error) {
	start := time.Now()
	if err := ProcessQuery(q); err != nil {
		metrics.ObserveSearch(metrics.OutcomeInvalid, "", 0)
		return nil, err
	}

	candidates, err := e.candidates(ctx, *q)
	if err != nil {
		metrics.ObserveSearch(metrics.OutcomeError, string(q.MatchType()), 0)
		e.logger.Error("failed to fetch profiles", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	users := e.matcher.Match(candidates, *q)
	metrics.ObserveSearch(metrics.OutcomeSuccess, string(q.MatchType()), len(users))
	e.logger.Debug("search",
		zap.String("hobby", q.Hobby),
		zap.String("birthplace", q.Birthplace),
		zap.Int("candidates", len(candidates)),
		zap.Int("matched", len(users)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &models.SearchResponse{
		Success: true,
		Users:   users,
		Count:   len(users),
	}, nil
}

func (e *Engine) candidates(ctx context.Context, q models.Query) ([]*models.Profile, error) {
	if !e.prefilter {
		return e.storage.ListProfiles(ctx)
	}
	return e.prefiltered(ctx, q)
}

// prefiltered asks the store once for profiles holding a query term in either the keyword
// field or the raw field. The hobby term narrows on its own; otherwise every expanded
// birthplace term is looked up. A single query keeps the store's own result order.
func (e *Engine) prefiltered(ctx context.Context, q models.Query) ([]*models.Profile, error) {
	var fields, values []string
	if q.Hobby != "" {
		fields = []string{models.FieldHobbyKeywords, models.FieldHobby}
		values = []string{q.Hobby}
	} else {
		fields = []string{models.FieldBirthplaceKeywords, models.FieldBirthplace}
		values = e.matcher.ExpandBirthplace(q.Birthplace)
	}

	profiles, err := e.storage.ListProfilesContaining(ctx, fields, values)
	if err != nil {
		return nil, fmt.Errorf("query %v for %q: %w", fields, values, err)
	}
	return profiles, nil
}
