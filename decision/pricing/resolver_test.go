package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/platform"
	"roadsafety-cost/pkg/units"
)

func newTestResolver(opts ...Option) *Resolver {
	opts = append([]Option{WithLogger(platform.DiscardLogger())}, opts...)
	return NewResolver(NewMemoryCache(0), opts...)
}

func TestResolveReferenceThenCache(t *testing.T) {
	store := &mockStore{}
	store.On("FindExact", "Cold mix asphalt", units.UnitCum).Return((*api.PriceRecord)(nil), nil).Once()
	store.On("Upsert", mock.MatchedBy(func(r api.PriceRecord) bool {
		return r.ItemName == "Cold mix asphalt" && r.Source == "state-sor-2023" && r.Unit == units.UnitCum
	})).Return(nil).Once()

	metrics := platform.NewMetrics()
	r := newTestResolver(WithStore(store), WithReference(fixtureDataset()), WithMetrics(metrics))
	q := Query{Name: "Cold mix asphalt", Unit: units.UnitCum, Category: api.CategoryPothole}

	first, err := r.ResolveOfficial(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, TierReference, first.Tier)
	assert.Equal(t, []string{TierCache, TierStore, TierReference}, first.Attempted)
	assert.True(t, first.Official)
	assert.True(t, first.UnitPrice.Equal(decimal.NewFromInt(9000)))

	second, err := r.ResolveOfficial(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, TierCache, second.Tier)
	assert.Equal(t, "state-sor-2023", second.Source)

	store.AssertExpectations(t)
}

func TestResolveStoreHitIsNotPersistedAgain(t *testing.T) {
	store := &mockStore{}
	store.On("FindExact", "Glass beads", units.UnitKg).Return(&api.PriceRecord{
		ItemName: "Glass beads", Unit: units.UnitKg, UnitPrice: decimal.NewFromInt(115),
		Source: "cpwd-dsr", Official: true, Confidence: confidence.LevelHigh,
	}, nil)

	r := newTestResolver(WithStore(store), WithReference(fixtureDataset()))
	got, err := r.ResolveOfficial(context.Background(), Query{Name: "Glass beads", Unit: units.UnitKg})

	require.NoError(t, err)
	assert.Equal(t, TierStore, got.Tier)
	assert.Equal(t, "cpwd-dsr", got.Source)
	store.AssertNotCalled(t, "Upsert", mock.Anything)
}

func TestResolveStoreErrorIsAMiss(t *testing.T) {
	store := &mockStore{}
	store.On("FindExact", mock.Anything, mock.Anything).Return((*api.PriceRecord)(nil), errBoom)
	store.On("Upsert", mock.Anything).Return(errBoom)

	r := newTestResolver(WithStore(store), WithReference(fixtureDataset()))
	got, err := r.ResolveOfficial(context.Background(), Query{Name: "Thermoplastic primer", Unit: units.UnitLitre})

	require.NoError(t, err, "store failures never abort resolution")
	assert.Equal(t, TierReference, got.Tier)
}

func TestResolveLiveSources(t *testing.T) {
	failing := &fakeSource{name: "gem", err: &perrors.TransientError{Source: "gem", Err: errBoom}}
	working := &fakeSource{name: "cpwd", cands: []Candidate{
		{Name: "Solar road stud", Unit: "each", UnitPrice: decimal.NewFromInt(900)},
		{Name: "Aluminium road stud with reflector", Unit: "kg", UnitPrice: decimal.NewFromInt(10)},
		{Name: "Aluminium road stud with reflector", Unit: "Nos", UnitPrice: decimal.NewFromInt(410), URL: "https://cpwd.example/rs"},
	}}

	r := newTestResolver(WithLiveSources(failing, working))
	got, err := r.ResolveOfficial(context.Background(), Query{Name: "Aluminium road stud", Unit: units.UnitNos})

	require.NoError(t, err)
	assert.Equal(t, TierLive, got.Tier)
	assert.Equal(t, "cpwd", got.Source)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(410)))
	assert.Equal(t, "https://cpwd.example/rs", got.ReferenceURL)
	assert.Equal(t, confidence.LevelMedium, got.Confidence)
	assert.Equal(t, 1, failing.calls)
}

func TestResolveStrictNoOfficialRate(t *testing.T) {
	store := &mockStore{}
	store.On("FindExact", mock.Anything, mock.Anything).Return((*api.PriceRecord)(nil), nil)

	r := newTestResolver(
		WithStore(store),
		WithReference(fixtureDataset()),
		WithLiveSources(&fakeSource{name: "gem"}),
		WithEstimator(RuleEstimator{}),
	)
	q := Query{Name: "Anti-glare screen", Unit: units.UnitMetre, Category: api.CategoryGuardrail}

	_, err := r.Resolve(context.Background(), q, ModeStrict)

	var nor *perrors.NoOfficialRateError
	require.ErrorAs(t, err, &nor)
	assert.Equal(t, "Anti-glare screen", nor.Item)
	assert.Equal(t, "m", nor.Unit)
	assert.Equal(t, []string{TierCache, TierStore, TierReference, TierLive}, nor.Attempted)
}

func TestResolvePermissiveEstimatesAndKeepsStrictOfficial(t *testing.T) {
	r := newTestResolver(WithReference(fixtureDataset()), WithEstimator(RuleEstimator{}))
	q := Query{Name: "Anti-glare screen", Unit: units.UnitMetre, Category: api.CategoryGuardrail}

	got, err := r.Resolve(context.Background(), q, ModePermissive)
	require.NoError(t, err)
	assert.False(t, got.Official)
	assert.Equal(t, confidence.LevelVeryLow, got.Confidence)
	assert.Equal(t, TierEstimate, got.Tier)
	assert.Equal(t, []string{TierCache, TierReference, TierEstimate}, got.Attempted)

	_, err = r.Resolve(context.Background(), q, ModeStrict)
	assert.ErrorIs(t, err, &perrors.NoOfficialRateError{}, "cached estimates are not official rates")
}

type countingEstimator struct {
	calls int
}

func (e *countingEstimator) Estimate(context.Context, Query) (api.PriceQuote, error) {
	e.calls++
	return api.PriceQuote{
		UnitPrice:  decimal.NewFromInt(75),
		RateUnit:   units.UnitNos,
		Source:     "rule-based",
		Tier:       TierEstimate,
		Confidence: confidence.LevelVeryLow,
	}, nil
}

func TestResolvePermissiveCachesEstimates(t *testing.T) {
	est := &countingEstimator{}
	r := newTestResolver(WithEstimator(est))
	q := Query{Name: "Unknown widget", Unit: units.UnitNos}

	first, err := r.Resolve(context.Background(), q, ModePermissive)
	require.NoError(t, err)
	assert.Equal(t, TierEstimate, first.Tier)
	assert.Equal(t, []string{TierCache, TierEstimate}, first.Attempted)

	second, err := r.Resolve(context.Background(), q, ModePermissive)
	require.NoError(t, err)
	assert.Equal(t, 1, est.calls)
	assert.Equal(t, TierCache, second.Tier)
	assert.Equal(t, []string{TierCache}, second.Attempted)
	assert.False(t, second.Official)
	assert.True(t, second.UnitPrice.Equal(decimal.NewFromInt(75)))

	_, err = r.ResolveOfficial(context.Background(), q)
	assert.ErrorIs(t, err, &perrors.NoOfficialRateError{})
}

func TestWithTierCopies(t *testing.T) {
	attempted := make([]string, 2, 4)
	attempted[0], attempted[1] = TierCache, TierReference

	got := withTier(attempted, TierEstimate)
	got[0] = "changed"

	assert.Equal(t, []string{"changed", TierReference, TierEstimate}, got)
	assert.Equal(t, []string{TierCache, TierReference}, attempted)
	assert.Equal(t, TierReference, attempted[:3][1])
	assert.Empty(t, attempted[:3][2], "spare capacity is left untouched")
}

func TestResolvePermissiveEstimationFailure(t *testing.T) {
	r := newTestResolver(WithEstimator(NewAIEstimator(fakeGenerator{err: errBoom}, platform.DiscardLogger())))

	_, err := r.Resolve(context.Background(), Query{Name: "Widget", Unit: units.UnitNos}, ModePermissive)

	assert.ErrorIs(t, err, perrors.ErrEstimationFailed)
	assert.ErrorIs(t, err, &perrors.NoOfficialRateError{})
}

func TestResolveCapsOutlierAgainstMedian(t *testing.T) {
	ref := NewReferenceDataset([]api.PriceRecord{
		rec("Sheeting grade A", units.UnitSqm, 800),
		rec("Sheeting grade B", units.UnitSqm, 1000),
		rec("Sheeting grade C", units.UnitSqm, 1200),
	})
	store := &mockStore{}
	store.On("FindExact", "Prismatic sheeting", units.UnitSqm).Return(&api.PriceRecord{
		ItemName: "Prismatic sheeting", Unit: units.UnitSqm, UnitPrice: decimal.NewFromInt(50000),
		Source: "vendor", Official: true,
	}, nil)
	metrics := platform.NewMetrics()

	r := newTestResolver(WithStore(store), WithReference(ref), WithMetrics(metrics))
	got, err := r.ResolveOfficial(context.Background(), Query{Name: "Prismatic sheeting", Unit: units.UnitSqm})

	require.NoError(t, err)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(1000)))
	assert.False(t, got.Sanity.IsValid)
	assert.True(t, got.Sanity.OriginalPrice.Equal(decimal.NewFromInt(50000)))
}

func TestResolveHonoursCancelledContextBeforeLiveCalls(t *testing.T) {
	src := &fakeSource{name: "gem"}
	r := newTestResolver(WithLiveSources(src))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, Query{Name: "Anything", Unit: units.UnitNos}, ModePermissive)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, src.calls)
}

func TestBestCandidate(t *testing.T) {
	q := Query{Name: "thermoplastic paint white", Unit: units.UnitKg}
	cands := []Candidate{
		{Name: "White thermoplastic paint", Unit: "KG", UnitPrice: decimal.NewFromInt(150)},
		{Name: "Thermoplastic paint white 25kg bag", Unit: "kgs", UnitPrice: decimal.NewFromInt(140)},
		{Name: "Road paint", Unit: "kg", UnitPrice: decimal.NewFromInt(90)},
	}

	c, score, ok := BestCandidate(q, cands)
	require.True(t, ok)
	assert.Equal(t, "White thermoplastic paint", c.Name, "ties go to the first listing")
	assert.Equal(t, 1.0, score)

	_, _, ok = BestCandidate(Query{Name: "glass beads", Unit: units.UnitKg}, cands)
	assert.False(t, ok)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "strict", ModeStrict.String())
	assert.Equal(t, "permissive", ModePermissive.String())
}
