package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"go.uber.org/zap"
)

// mirrorTable describes one ReplacingMergeTree table; rows re-sent after a rewind collapse
// onto the same sorting key.
type mirrorTable struct {
	name    string
	cols    []indexer.ColumnDef
	orderBy []string
}

var (
	pricingMirror  = mirrorTable{indexer.PricingRecordsTable, indexer.PricingRecordColumns, []string{"block"}}
	txMirror       = mirrorTable{indexer.TransactionsTable, indexer.TransactionColumns, []string{"block", "hash"}}
	rewardMirror   = mirrorTable{indexer.BlockRewardsTable, indexer.BlockRewardColumns, []string{"block"}}
	statsMirror    = mirrorTable{indexer.ReserveStatsTable, indexer.ReserveStatsColumns, []string{"block"}}
	mismatchMirror = mirrorTable{indexer.ReserveMismatchTable, indexer.ReserveMismatchColumns, []string{"block", "checked_at"}}

	mirrorTables = []mirrorTable{pricingMirror, txMirror, rewardMirror, statsMirror, mismatchMirror}
)

func (t mirrorTable) createSQL(database string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
		%s
	) ENGINE = %s
	ORDER BY (%s)`,
		database, t.name, indexer.ColumnsToSchemaSQL(t.cols), ReplacingMergeTree, strings.Join(t.orderBy, ", "))
}

func (t mirrorTable) insertSQL(database string) string {
	return fmt.Sprintf("INSERT INTO %s.%s (%s)", database, t.name, strings.Join(indexer.ColumnNames(t.cols), ", "))
}

// Sink mirrors committed series into ClickHouse for analytics.
type Sink struct {
	client Client
}

var _ db.Sink = (*Sink)(nil)

// NewSink creates the mirror database and tables when missing.
func NewSink(ctx context.Context, client Client) (*Sink, error) {
	if err := client.CreateDbIfNotExists(ctx, client.Database); err != nil {
		return nil, fmt.Errorf("create database %s: %w", client.Database, err)
	}
	for _, t := range mirrorTables {
		if err := client.Exec(ctx, t.createSQL(client.Database)); err != nil {
			return nil, fmt.Errorf("create table %s: %w", t.name, err)
		}
	}
	client.Logger.Info("ClickHouse mirror ready", zap.String("database", client.Database))
	return &Sink{client: client}, nil
}

func (s *Sink) insert(ctx context.Context, t mirrorTable, n int, row func(i int) []any) error {
	batch, err := s.client.PrepareBatch(ctx, t.insertSQL(s.client.Database))
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", t.name, err)
	}
	for i := 0; i < n; i++ {
		if err := batch.Append(row(i)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append %s row: %w", t.name, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send %s batch: %w", t.name, err)
	}
	return nil
}

func pricingValues(p *indexer.PricingRecord) []any {
	return []any{p.Block, p.Timestamp, p.Spot, p.MovingAverage, p.Reserve, p.ReserveMA, p.Stable, p.StableMA}
}

func txValues(t *indexer.Transaction) []any {
	return []any{
		t.Timestamp, t.Block, t.Hash, string(t.ConversionType), t.ConversionRate,
		string(t.FromAsset), t.FromAmount, string(t.ToAsset), t.ToAmount,
		string(t.ConversionFeeAsset), t.ConversionFeeAmount, string(t.TxFeeAsset), t.TxFeeAmount,
	}
}

func rewardValues(b *indexer.BlockReward) []any {
	return []any{b.Block, b.MinerReward, b.GovernanceReward, b.ReserveReward}
}

func statsValues(r *indexer.ReserveStatsRecord) []any {
	return []any{
		r.Block, r.Spot, r.MovingAverage, r.Reserve, r.ZephUSDCirc, r.ZephRSVCirc,
		r.Assets, r.AssetsMA, r.Liabilities, r.Equity, r.EquityMA,
		r.ReserveRatio, r.ReserveRatioMA, r.ReserveRatioPct, r.ReserveRatioMAPct,
	}
}

func mismatchValues(m *indexer.ReserveMismatch) []any {
	return []any{
		m.Block, m.NodeHeight,
		m.LedgerReserve, m.NodeReserve, m.ReserveDiff,
		m.LedgerStable, m.NodeStable, m.StableDiff,
		m.LedgerShares, m.NodeShares, m.SharesDiff,
		m.LedgerRatio, m.NodeRatio, m.RatioDiff,
		m.MissingLedgerData, m.Mismatch, m.CheckedAt,
	}
}

func (s *Sink) MirrorPricingRecords(ctx context.Context, recs []*indexer.PricingRecord) error {
	return s.insert(ctx, pricingMirror, len(recs), func(i int) []any { return pricingValues(recs[i]) })
}

func (s *Sink) MirrorTransactions(ctx context.Context, txs []*indexer.Transaction) error {
	return s.insert(ctx, txMirror, len(txs), func(i int) []any { return txValues(txs[i]) })
}

func (s *Sink) MirrorBlockRewards(ctx context.Context, rewards []*indexer.BlockReward) error {
	return s.insert(ctx, rewardMirror, len(rewards), func(i int) []any { return rewardValues(rewards[i]) })
}

func (s *Sink) MirrorReserveStats(ctx context.Context, recs []*indexer.ReserveStatsRecord) error {
	return s.insert(ctx, statsMirror, len(recs), func(i int) []any { return statsValues(recs[i]) })
}

func (s *Sink) MirrorMismatch(ctx context.Context, m *indexer.ReserveMismatch) error {
	return s.insert(ctx, mismatchMirror, 1, func(int) []any { return mismatchValues(m) })
}

func (s *Sink) Close() error {
	return s.client.Close()
}
