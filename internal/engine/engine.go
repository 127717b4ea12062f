// Package engine answers cross-system "what happened around X" queries by
// joining stored envelopes that share a correlation key and running inference
// rules over the resulting timeline.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/blackroadhq/eventmesh/internal/cache"
	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/store"
)

// Rule is a pure inference over a correlated timeline. Rules are keyType-gated
// and side-effect-free: a rule invoked for a key type it does not serve must
// return nothing, never fail.
type Rule interface {
	Name() string
	Applies(keyType models.KeyType) bool
	Notes(events []models.Envelope, key string, keyType models.KeyType) []string
}

// Options configures optional engine behaviour.
type Options struct {
	// Cache memoizes correlate results when CacheTTL > 0. Entries are
	// invalidated on ingest for every key the new envelope carries.
	Cache    cache.Provider
	CacheTTL time.Duration
}

// Engine orchestrates store lookups and join rules.
type Engine struct {
	logger   *slog.Logger
	store    store.Store
	rules    []Rule
	cache    cache.Provider
	cacheTTL time.Duration
}

// New constructs an Engine over the given store. Rules run in registration
// order on every correlate call.
func New(logger *slog.Logger, st store.Store, rules []Rule, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	provider := opts.Cache
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &Engine{
		logger:   logger,
		store:    st,
		rules:    rules,
		cache:    provider,
		cacheTTL: opts.CacheTTL,
	}
}

// DefaultRules returns the reference join rules in their canonical order.
func DefaultRules() []Rule {
	return []Rule{
		&ReleaseIncidentRule{},
		&CaptionLatencyRule{},
		&SimulationEvidenceRule{},
	}
}

// Ingest appends the envelope to the store and invalidates any cached
// timelines for the keys it carries. Store failures propagate to the caller.
func (e *Engine) Ingest(ctx context.Context, env models.Envelope) error {
	if err := e.store.Append(env); err != nil {
		return err
	}
	if e.cacheTTL > 0 {
		for _, kt := range models.KeyTypes() {
			if key := env.CorrelationKey(kt); key != "" {
				if err := e.cache.Del(ctx, cacheKey(key, kt)); err != nil {
					e.logger.Debug("correlate cache invalidation failed", slog.Any("error", err))
				}
			}
		}
	}
	return nil
}

// Correlate fetches every envelope carrying the key, sorts the timeline
// ascending by ts (stable: ties keep insertion order), and runs all registered
// rules against it, concatenating their notes in registration order.
func (e *Engine) Correlate(ctx context.Context, key string, keyType models.KeyType) (models.CorrelatedTimeline, error) {
	if key == "" {
		return models.CorrelatedTimeline{}, &models.ValidationError{Field: "key", Reason: "must not be empty"}
	}
	if _, err := models.ParseKeyType(string(keyType)); err != nil {
		return models.CorrelatedTimeline{}, err
	}

	if cached, ok := e.fromCache(ctx, key, keyType); ok {
		return cached, nil
	}

	events, err := e.store.FindByKey(key, keyType)
	if err != nil {
		return models.CorrelatedTimeline{}, fmt.Errorf("correlate %s/%s: %w", keyType, key, err)
	}

	if events == nil {
		events = []models.Envelope{}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TS.Before(events[j].TS)
	})

	notes := make([]string, 0)
	for _, rule := range e.rules {
		if !rule.Applies(keyType) {
			continue
		}
		notes = append(notes, e.runRule(rule, events, key, keyType)...)
	}

	result := models.CorrelatedTimeline{
		Key:      key,
		KeyType:  keyType,
		Timeline: events,
		Notes:    notes,
	}
	e.toCache(ctx, result)
	return result, nil
}

// runRule isolates a single rule evaluation: a panicking rule is a programming
// bug, but one broken rule must not take down the whole query.
func (e *Engine) runRule(rule Rule, events []models.Envelope, key string, keyType models.KeyType) (notes []string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("join rule panicked",
				slog.String("rule", rule.Name()),
				slog.String("keyType", string(keyType)),
				slog.Any("panic", r),
			)
			notes = nil
		}
	}()
	return rule.Notes(events, key, keyType)
}

func (e *Engine) fromCache(ctx context.Context, key string, keyType models.KeyType) (models.CorrelatedTimeline, bool) {
	if e.cacheTTL <= 0 {
		return models.CorrelatedTimeline{}, false
	}
	data, err := e.cache.Get(ctx, cacheKey(key, keyType))
	if err != nil {
		return models.CorrelatedTimeline{}, false
	}
	var result models.CorrelatedTimeline
	if err := json.Unmarshal(data, &result); err != nil {
		e.logger.Warn("corrupt correlate cache entry", slog.Any("error", err))
		return models.CorrelatedTimeline{}, false
	}
	return result, true
}

func (e *Engine) toCache(ctx context.Context, result models.CorrelatedTimeline) {
	if e.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKey(result.Key, result.KeyType), data, e.cacheTTL); err != nil {
		e.logger.Debug("correlate cache write failed", slog.Any("error", err))
	}
}

func cacheKey(key string, keyType models.KeyType) string {
	return fmt.Sprintf("correlate:%s:%s", keyType, key)
}
