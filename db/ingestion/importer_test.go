package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafety-cost/db/sqlstore"
	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/platform"
	"roadsafety-cost/pkg/units"
)

type recordingStore struct {
	batches [][]api.PriceRecord
	failAt  int
}

func (s *recordingStore) BulkUpsert(_ context.Context, recs []api.PriceRecord) error {
	if s.failAt > 0 && len(s.batches)+1 == s.failAt {
		return errors.New("disk full")
	}
	s.batches = append(s.batches, recs)
	return nil
}

func records(n int) []api.PriceRecord {
	out := make([]api.PriceRecord, n)
	for i := range out {
		out[i] = api.PriceRecord{
			ItemName:  fmt.Sprintf("Item %d", i),
			Unit:      units.UnitNos,
			UnitPrice: decimal.NewFromInt(int64(i + 1)),
			Source:    "sor",
		}
	}
	return out
}

func TestImportBatches(t *testing.T) {
	store := &recordingStore{}
	res, err := NewImporter(store, 2, platform.DiscardLogger()).Import(context.Background(), records(5))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 5, res.Records)
	assert.Equal(t, 3, res.Batches)
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[2], 1)
}

func TestImportStopsAtFailedBatch(t *testing.T) {
	store := &recordingStore{failAt: 2}
	res, err := NewImporter(store, 2, platform.DiscardLogger()).Import(context.Background(), records(5))
	require.Error(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Batches)
	assert.Contains(t, res.ErrorMessage, "disk full")
}

func TestImportEmpty(t *testing.T) {
	res, err := NewImporter(&recordingStore{}, 0, platform.DiscardLogger()).Import(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.False(t, res.Success)
}

func TestImportFileIntoSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := sqlstore.OpenSQLite(ctx, filepath.Join(dir, "prices.db"))
	require.NoError(t, err)
	defer store.Close()

	csvPath := filepath.Join(dir, "sor.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"item_name,unit,unit_price\nGlass beads,kg,140\nRoad stud,nos,300\nBad,nos,-\n"), 0o644))

	importer := NewImporter(store, 0, platform.DiscardLogger())
	res, err := importer.ImportFile(ctx, newTestLoader(nil), csvPath)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Skipped)

	// Re-importing the same file leaves the store unchanged.
	_, err = importer.ImportFile(ctx, newTestLoader(nil), csvPath)
	require.NoError(t, err)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := store.FindExact(ctx, "glass beads", units.UnitKg)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "state-sor-2023", rec.Source)
}
