package pricing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/platform"
)

// Mode decides what happens when no official rate exists.
type Mode int

const (
	// ModeStrict returns NoOfficialRate instead of estimating.
	ModeStrict Mode = iota
	// ModePermissive falls through to the estimate tier.
	ModePermissive
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "permissive"
}

// Resolver runs the price cascade. It is safe for concurrent use as long
// as its store and live sources are.
type Resolver struct {
	cache     Cache
	store     PriceStore
	reference *ReferenceDataset
	live      []LiveSource
	estimator Estimator
	metrics   *platform.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithStore(s PriceStore) Option            { return func(r *Resolver) { r.store = s } }
func WithReference(d *ReferenceDataset) Option { return func(r *Resolver) { r.reference = d } }
func WithLiveSources(s ...LiveSource) Option {
	return func(r *Resolver) { r.live = append(r.live, s...) }
}
func WithEstimator(e Estimator) Option       { return func(r *Resolver) { r.estimator = e } }
func WithMetrics(m *platform.Metrics) Option { return func(r *Resolver) { r.metrics = m } }
func WithLogger(l *slog.Logger) Option       { return func(r *Resolver) { r.logger = l } }
func WithClock(now func() time.Time) Option  { return func(r *Resolver) { r.now = now } }

// NewResolver creates a resolver around cache (a MemoryCache with the
// default TTL if nil).
func NewResolver(cache Cache, opts ...Option) *Resolver {
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheTTL)
	}
	r := &Resolver{
		cache:  cache,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve prices q. In strict mode only official tiers are consulted; in
// permissive mode a cached estimate is a cache hit and a NoOfficialRate
// miss falls through to the estimator.
func (r *Resolver) Resolve(ctx context.Context, q Query, mode Mode) (api.PriceQuote, error) {
	quote, err := r.official(ctx, q, mode == ModePermissive)
	if err == nil || mode == ModeStrict {
		return quote, err
	}
	var nor *perrors.NoOfficialRateError
	if !errors.As(err, &nor) {
		return quote, err
	}

	est, eerr := r.Estimate(ctx, q)
	if eerr != nil {
		return api.PriceQuote{}, errors.Join(err, eerr)
	}
	est.Attempted = withTier(nor.Attempted, TierEstimate)
	return est, nil
}

// withTier returns a copy of attempted with tier appended.
func withTier(attempted []string, tier string) []string {
	out := make([]string, len(attempted), len(attempted)+1)
	copy(out, attempted)
	return append(out, tier)
}

// ResolveOfficial walks tiers 1-4 and returns the first official rate, or
// a NoOfficialRateError naming every tier attempted. Cached estimates are
// misses.
func (r *Resolver) ResolveOfficial(ctx context.Context, q Query) (api.PriceQuote, error) {
	return r.official(ctx, q, false)
}

func (r *Resolver) official(ctx context.Context, q Query, cachedEstimates bool) (api.PriceQuote, error) {
	attempted := make([]string, 0, 4)
	key := NewCacheKey(q.Name, q.Unit)

	// Tier 1
	attempted = append(attempted, TierCache)
	if quote, ok := r.cache.Lookup(key); ok && (quote.Official || cachedEstimates) {
		r.metrics.CacheLookup(true)
		r.metrics.TierHit(TierCache)
		quote.Tier = TierCache
		quote.Attempted = attempted
		return quote, nil
	}
	r.metrics.CacheLookup(false)

	// Tier 2
	if r.store != nil {
		attempted = append(attempted, TierStore)
		rec, err := r.store.FindExact(ctx, q.Name, q.Unit)
		switch {
		case err != nil:
			r.logger.Warn("price store lookup failed", "item", q.Name, "unit", q.Unit, "error", err)
		case rec != nil && rec.Official && rec.UnitPrice.IsPositive():
			quote := r.checked(storeQuote(*rec))
			return r.accept(ctx, q, key, quote, attempted, false), nil
		}
	}

	// Tier 3
	if r.reference.Len() > 0 {
		attempted = append(attempted, TierReference)
		if m, ok := r.reference.Match(q.Name, q.Unit); ok {
			quote := r.checked(m.Quote())
			r.logger.Debug("reference match", "item", q.Name, "matched", m.Record.ItemName, "kind", m.Kind, "score", m.Score)
			return r.accept(ctx, q, key, quote, attempted, true), nil
		}
	}

	// Tier 4
	if len(r.live) > 0 {
		attempted = append(attempted, TierLive)
		for _, src := range r.live {
			if err := ctx.Err(); err != nil {
				return api.PriceQuote{}, err
			}
			cands, err := src.Search(ctx, q.Name)
			if err != nil {
				r.logger.Warn("live price source failed", "source", src.Name(), "item", q.Name, "error", err)
				continue
			}
			c, score, ok := BestCandidate(q, cands)
			if !ok {
				continue
			}
			r.logger.Debug("live match", "source", src.Name(), "item", q.Name, "listing", c.Name, "overlap", score)
			quote := r.checked(liveQuote(src.Name(), q, c))
			return r.accept(ctx, q, key, quote, attempted, true), nil
		}
	}

	return api.PriceQuote{}, &perrors.NoOfficialRateError{Item: q.Name, Unit: string(q.Unit), Attempted: attempted}
}

// Estimate runs tier 5. Estimates are cached but never persisted; strict
// lookups skip them in the cache.
func (r *Resolver) Estimate(ctx context.Context, q Query) (api.PriceQuote, error) {
	if r.estimator == nil {
		return api.PriceQuote{}, perrors.NewEstimationError(q.Name, errors.New("no estimator configured"))
	}
	quote, err := r.estimator.Estimate(ctx, q)
	if err != nil {
		if !errors.Is(err, perrors.ErrEstimationFailed) {
			err = perrors.NewEstimationError(q.Name, err)
		}
		return api.PriceQuote{}, err
	}
	quote.Official = false
	quote = r.checked(quote)
	r.metrics.TierHit(TierEstimate)
	r.cache.Set(NewCacheKey(q.Name, q.Unit), quote)
	return quote, nil
}

func (r *Resolver) checked(q api.PriceQuote) api.PriceQuote {
	median, ok := r.reference.Median(q.RateUnit)
	q = ApplySanity(q, median, ok)
	if q.Sanity.Checked && !q.Sanity.IsValid {
		r.metrics.SanityCap()
		r.logger.Warn("price capped to median", "item", q.MatchedName, "reason", q.Sanity.Reason)
	}
	return q
}

// accept caches an official quote and, when persist is set, upserts it
// into the price store.
func (r *Resolver) accept(ctx context.Context, q Query, key CacheKey, quote api.PriceQuote, attempted []string, persist bool) api.PriceQuote {
	quote.Attempted = attempted
	r.metrics.TierHit(quote.Tier)
	r.cache.Set(key, quote)

	if persist && r.store != nil {
		rec := PriceRecordFromQuote(q.Name, quote)
		if !quote.Sanity.IsValid {
			// Persist what the source said, not the capped value.
			rec.UnitPrice = quote.Sanity.OriginalPrice
		}
		rec.UpdatedAt = r.now()
		if err := r.store.Upsert(ctx, rec); err != nil {
			r.logger.Warn("price store upsert failed", "item", q.Name, "source", rec.Source, "error", err)
		}
	}
	return quote
}

func storeQuote(rec api.PriceRecord) api.PriceQuote {
	level := rec.Confidence
	if level == "" {
		level = confidence.LevelHigh
	}
	return api.PriceQuote{
		UnitPrice:     rec.UnitPrice,
		RateUnit:      rec.Unit,
		MatchedName:   rec.ItemName,
		Source:        rec.Source,
		Tier:          TierStore,
		Confidence:    level,
		Official:      true,
		ItemCode:      rec.ItemCode,
		ReferenceURL:  rec.ReferenceURL,
		Specification: rec.Specification,
	}
}

func liveQuote(source string, q Query, c Candidate) api.PriceQuote {
	return api.PriceQuote{
		UnitPrice:     c.UnitPrice,
		RateUnit:      q.Unit,
		MatchedName:   c.Name,
		Source:        source,
		Tier:          TierLive,
		Confidence:    confidence.LevelMedium,
		Official:      true,
		ItemCode:      c.ItemCode,
		ReferenceURL:  c.URL,
		Specification: c.Specification,
	}
}
