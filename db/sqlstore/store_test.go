package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	"roadsafety-cost/pkg/units"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(name, source string, price string) api.PriceRecord {
	return api.PriceRecord{
		ItemName:   name,
		ItemCode:   "SOR-16.71",
		Keywords:   []string{"thermoplastic", "paint"},
		Unit:       units.UnitKg,
		UnitPrice:  decimal.RequireFromString(price),
		Source:     source,
		Confidence: confidence.LevelHigh,
		Official:   true,
		UpdatedAt:  time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}
}

func TestUpsertAndFindExact(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Upsert(ctx, record("Thermoplastic Road Marking Paint", "state-sor-2023", "185")))

	got, err := s.FindExact(ctx, "thermoplastic  road marking paint", units.UnitKg)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Thermoplastic Road Marking Paint", got.ItemName)
	assert.True(t, decimal.NewFromInt(185).Equal(got.UnitPrice))
	assert.Equal(t, []string{"thermoplastic", "paint"}, got.Keywords)
	assert.Equal(t, confidence.LevelHigh, got.Confidence)
	assert.True(t, got.Official)
	assert.True(t, got.UpdatedAt.Equal(time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)))

	missing, err := s.FindExact(ctx, "thermoplastic road marking paint", units.UnitLitre)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := record("Glass beads", "state-sor-2023", "140")
	require.NoError(t, s.Upsert(ctx, rec))
	require.NoError(t, s.Upsert(ctx, rec))

	rec.UnitPrice = decimal.NewFromInt(150)
	require.NoError(t, s.Upsert(ctx, rec))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.FindExact(ctx, "Glass beads", units.UnitKg)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(got.UnitPrice))

	// Another source for the same item is a separate row.
	require.NoError(t, s.Upsert(ctx, record("Glass beads", "gem", "120")))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFindExactPrefersOfficialThenFreshest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	old := record("Road stud", "state-sor-2022", "280")
	old.Unit = units.UnitNos
	fresh := record("Road stud", "state-sor-2023", "300")
	fresh.Unit = units.UnitNos
	fresh.UpdatedAt = old.UpdatedAt.Add(24 * time.Hour)
	unofficial := record("Road stud", "ai-estimate", "900")
	unofficial.Unit = units.UnitNos
	unofficial.Official = false
	unofficial.UpdatedAt = fresh.UpdatedAt.Add(time.Hour)

	require.NoError(t, s.BulkUpsert(ctx, []api.PriceRecord{old, fresh, unofficial}))

	got, err := s.FindExact(ctx, "Road stud", units.UnitNos)
	require.NoError(t, err)
	assert.Equal(t, "state-sor-2023", got.Source)
}

func TestUpsertRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	bad := record("Glass beads", "state-sor-2023", "0")
	assert.Error(t, s.Upsert(ctx, bad))
	assert.Error(t, s.Upsert(ctx, record(" ", "x", "1")))
	assert.Error(t, s.Upsert(ctx, record("Glass beads", "", "1")))

	err := s.BulkUpsert(ctx, []api.PriceRecord{record("Primer", "sor", "250"), bad})
	assert.Error(t, err)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed batch must roll back")
}

func TestListAndMigrateTwice(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	applied, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	require.NoError(t, s.BulkUpsert(ctx, []api.PriceRecord{
		record("Thermoplastic primer", "sor", "250"),
		record("Glass beads", "sor", "140"),
	}))
	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Glass beads", recs[0].ItemName)
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres)
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := New(nil, DialectSQLite)
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
