package db

import (
	"context"
	"errors"

	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

var (
	// ErrNotFound is returned by point lookups for an absent height or key.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt marks persisted series that cannot be trusted to resume from.
	ErrCorrupt = errors.New("corrupt persisted series")
)

// Series names a persisted time series.
type Series string

const (
	SeriesPricing      Series = indexer.PricingRecordsTable
	SeriesTransactions Series = indexer.TransactionsTable
	SeriesBlockRewards Series = indexer.BlockRewardsTable
	SeriesReserveStats Series = indexer.ReserveStatsTable
	SeriesMismatches   Series = indexer.ReserveMismatchTable
)

// AllSeries lists every series a backend manages.
var AllSeries = []Series{SeriesPricing, SeriesTransactions, SeriesBlockRewards, SeriesReserveStats, SeriesMismatches}

// Progress keys record the last height a stage fully committed.
const (
	ProgressPricing = "height_prs"
	ProgressTxs     = "height_txs"
	ProgressReserve = "height_reserve"
)

// PricingLookup resolves one pricing record by height, returning ErrNotFound when absent.
type PricingLookup interface {
	PricingRecord(ctx context.Context, height uint64) (*indexer.PricingRecord, error)
}

// Store is the durable state of the scanner. Every series is append-only and keyed by block
// height; range queries are inclusive and ordered by height (then by insertion for txs).
type Store interface {
	PricingLookup

	AppendPricingRecords(ctx context.Context, recs []*indexer.PricingRecord) error
	AppendTransactions(ctx context.Context, txs []*indexer.Transaction) error
	AppendBlockRewards(ctx context.Context, rewards []*indexer.BlockReward) error
	AppendReserveStats(ctx context.Context, recs []*indexer.ReserveStatsRecord) error
	SaveMismatch(ctx context.Context, m *indexer.ReserveMismatch) error

	PricingRecords(ctx context.Context, from, to uint64) ([]*indexer.PricingRecord, error)
	Transactions(ctx context.Context, from, to uint64) ([]*indexer.Transaction, error)
	BlockRewards(ctx context.Context, from, to uint64) ([]*indexer.BlockReward, error)
	ReserveStats(ctx context.Context, from, to uint64) ([]*indexer.ReserveStatsRecord, error)
	LastReserveStats(ctx context.Context) (*indexer.ReserveStatsRecord, error)
	Mismatches(ctx context.Context, from, to uint64) ([]*indexer.ReserveMismatch, error)

	// Progress returns the last committed height for key, false when the stage never ran.
	Progress(ctx context.Context, key string) (uint64, bool, error)
	SetProgress(ctx context.Context, key string, height uint64) error

	// Rewind drops rows of series above keepThrough, undoing a partially committed chunk.
	Rewind(ctx context.Context, series Series, keepThrough uint64) error
	// Reset empties series and clears the progress key tied to it.
	Reset(ctx context.Context, series Series) error

	Close() error
}

// ProgressKeyFor returns the progress key owned by series, or "" when it has none.
func ProgressKeyFor(series Series) string {
	switch series {
	case SeriesPricing:
		return ProgressPricing
	case SeriesTransactions, SeriesBlockRewards:
		return ProgressTxs
	case SeriesReserveStats:
		return ProgressReserve
	}
	return ""
}

// MaxHeight is the open upper bound for range queries.
const MaxHeight = ^uint64(0)
