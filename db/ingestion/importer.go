package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"roadsafety-cost/pkg/api"
)

// DefaultBatchSize is the number of records written per store call.
const DefaultBatchSize = 1000

// BulkStore is any price store that can write records in batches.
type BulkStore interface {
	BulkUpsert(ctx context.Context, recs []api.PriceRecord) error
}

// Importer writes loaded reference prices into a store.
type Importer struct {
	store     BulkStore
	batchSize int
	logger    *slog.Logger
}

// NewImporter creates an importer. A batchSize below 1 uses DefaultBatchSize.
func NewImporter(store BulkStore, batchSize int, logger *slog.Logger) *Importer {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, batchSize: batchSize, logger: logger}
}

// IngestionResult tracks the result of a reference price import
type IngestionResult struct {
	Location     string
	Records      int
	Batches      int
	Skipped      int
	Duration     time.Duration
	Success      bool
	ErrorMessage string
}

// ImportFile loads location and imports its records.
func (i *Importer) ImportFile(ctx context.Context, loader *Loader, location string) (*IngestionResult, error) {
	res, err := loader.Load(ctx, location)
	if err != nil {
		return &IngestionResult{Location: location, ErrorMessage: err.Error()}, err
	}
	out, err := i.Import(ctx, res.Records)
	out.Location = location
	out.Skipped = res.Skipped
	return out, err
}

// Import writes recs in batches. Batches already written stay written when
// a later one fails; the store upsert makes a rerun safe.
func (i *Importer) Import(ctx context.Context, recs []api.PriceRecord) (*IngestionResult, error) {
	startTime := time.Now()
	result := &IngestionResult{}

	if len(recs) == 0 {
		result.ErrorMessage = ErrNoRecords.Error()
		return result, ErrNoRecords
	}

	for start := 0; start < len(recs); start += i.batchSize {
		if err := ctx.Err(); err != nil {
			result.ErrorMessage = err.Error()
			result.Duration = time.Since(startTime)
			return result, err
		}
		end := min(start+i.batchSize, len(recs))

		if err := i.store.BulkUpsert(ctx, recs[start:end]); err != nil {
			result.ErrorMessage = fmt.Sprintf("failed to write batch %d: %v", result.Batches, err)
			result.Duration = time.Since(startTime)
			return result, fmt.Errorf("failed to write batch %d: %w", result.Batches, err)
		}
		result.Batches++
		result.Records += end - start
	}

	result.Success = true
	result.Duration = time.Since(startTime)
	i.logger.Info("reference prices imported",
		"records", result.Records, "batches", result.Batches, "duration", result.Duration)
	return result, nil
}
