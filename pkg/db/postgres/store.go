package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"go.uber.org/zap"
)

const progressTable = "scanner_progress"

// table maps one series onto a Postgres table. Every column is selected as text and
// decoded with the shared row codecs, so NUMERIC values keep their exact digits.
type table[T any] struct {
	name       string
	cols       []indexer.ColumnDef
	primaryKey string
	orderBy    string
	encode     func(*T) []string
	decode     func([]string) (*T, error)
}

func (t table[T]) createSQL() string {
	extra := ""
	if t.name == indexer.TransactionsTable {
		extra = "seq BIGSERIAL,\n\t\t"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t\t%s%s,\n\t\tPRIMARY KEY (%s)\n\t)",
		t.name, extra, indexer.ColumnsToPostgresSQL(t.cols), t.primaryKey)
}

func (t table[T]) selectSQL() string {
	exprs := make([]string, len(t.cols))
	for i, c := range t.cols {
		switch c.PGType {
		case "TEXT":
			exprs[i] = c.Name
		case "TIMESTAMPTZ":
			exprs[i] = fmt.Sprintf(`to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')`, c.Name)
		default:
			exprs[i] = c.Name + "::text"
		}
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), t.name)
}

func (t table[T]) insertSQL() string {
	params := make([]string, len(t.cols))
	for i := range t.cols {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.name, strings.Join(indexer.ColumnNames(t.cols), ", "), strings.Join(params, ", "))
}

func (t table[T]) insert(ctx context.Context, ex Executor, rows []*T) error {
	if len(rows) == 0 {
		return nil
	}
	q := t.insertSQL()
	batch := &pgx.Batch{}
	for _, row := range rows {
		fields := t.encode(row)
		args := make([]any, len(fields))
		for i, f := range fields {
			args[i] = f
		}
		batch.Queue(q, args...)
	}
	if err := ex.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert %s: %w", t.name, err)
	}
	return nil
}

func (t table[T]) query(ctx context.Context, ex Executor, where string, args ...any) ([]*T, error) {
	rows, err := ex.Query(ctx, t.selectSQL()+" "+where+" ORDER BY "+t.orderBy, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.name, err)
	}
	defer rows.Close()

	out := make([]*T, 0)
	fields := make([]string, len(t.cols))
	dest := make([]any, len(t.cols))
	for i := range fields {
		dest[i] = &fields[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row, err := t.decode(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", db.ErrCorrupt, t.name, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t table[T]) between(ctx context.Context, ex Executor, from, to uint64) ([]*T, error) {
	return t.query(ctx, ex, "WHERE block >= $1 AND block <= $2", int64(from), clampHeight(to))
}

// clampHeight maps db.MaxHeight onto the BIGINT range.
func clampHeight(h uint64) int64 {
	if h > uint64(1<<63-1) {
		return 1<<63 - 1
	}
	return int64(h)
}

var (
	pricingTable = table[indexer.PricingRecord]{
		name: indexer.PricingRecordsTable, cols: indexer.PricingRecordColumns,
		primaryKey: "block", orderBy: "block",
		encode: indexer.EncodePricingRecord, decode: indexer.DecodePricingRecord,
	}
	txTable = table[indexer.Transaction]{
		name: indexer.TransactionsTable, cols: indexer.TransactionColumns,
		primaryKey: "hash", orderBy: "block, seq",
		encode: indexer.EncodeTransaction, decode: indexer.DecodeTransaction,
	}
	rewardTable = table[indexer.BlockReward]{
		name: indexer.BlockRewardsTable, cols: indexer.BlockRewardColumns,
		primaryKey: "block", orderBy: "block",
		encode: indexer.EncodeBlockReward, decode: indexer.DecodeBlockReward,
	}
	statsTable = table[indexer.ReserveStatsRecord]{
		name: indexer.ReserveStatsTable, cols: indexer.ReserveStatsColumns,
		primaryKey: "block", orderBy: "block",
		encode: indexer.EncodeReserveStats, decode: indexer.DecodeReserveStats,
	}
	mismatchTable = table[indexer.ReserveMismatch]{
		name: indexer.ReserveMismatchTable, cols: indexer.ReserveMismatchColumns,
		primaryKey: "block, checked_at", orderBy: "block, checked_at",
		encode: indexer.EncodeReserveMismatch, decode: indexer.DecodeReserveMismatch,
	}
)

// Store implements db.Store over Postgres tables named after each series.
type Store struct {
	client Client
}

var _ db.Store = (*Store)(nil)

// NewStore creates the series tables when missing.
func NewStore(ctx context.Context, client Client) (*Store, error) {
	ddl := []string{
		pricingTable.createSQL(),
		txTable.createSQL(),
		rewardTable.createSQL(),
		statsTable.createSQL(),
		mismatchTable.createSQL(),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, height BIGINT NOT NULL)", progressTable),
	}
	for _, q := range ddl {
		if _, err := client.Pool.Exec(ctx, q); err != nil {
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	client.Logger.Info("Postgres series tables ready")
	return &Store{client: client}, nil
}

func (s *Store) ex(_ context.Context) Executor {
	return s.client.Pool
}

func (s *Store) AppendPricingRecords(ctx context.Context, recs []*indexer.PricingRecord) error {
	return pricingTable.insert(ctx, s.ex(ctx), recs)
}

func (s *Store) AppendTransactions(ctx context.Context, txs []*indexer.Transaction) error {
	return txTable.insert(ctx, s.ex(ctx), txs)
}

func (s *Store) AppendBlockRewards(ctx context.Context, rewards []*indexer.BlockReward) error {
	return rewardTable.insert(ctx, s.ex(ctx), rewards)
}

func (s *Store) AppendReserveStats(ctx context.Context, recs []*indexer.ReserveStatsRecord) error {
	return statsTable.insert(ctx, s.ex(ctx), recs)
}

func (s *Store) SaveMismatch(ctx context.Context, m *indexer.ReserveMismatch) error {
	return mismatchTable.insert(ctx, s.ex(ctx), []*indexer.ReserveMismatch{m})
}

func (s *Store) PricingRecord(ctx context.Context, height uint64) (*indexer.PricingRecord, error) {
	recs, err := pricingTable.query(ctx, s.ex(ctx), "WHERE block = $1", int64(height))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("pricing record %d: %w", height, db.ErrNotFound)
	}
	return recs[0], nil
}

func (s *Store) PricingRecords(ctx context.Context, from, to uint64) ([]*indexer.PricingRecord, error) {
	return pricingTable.between(ctx, s.ex(ctx), from, to)
}

func (s *Store) Transactions(ctx context.Context, from, to uint64) ([]*indexer.Transaction, error) {
	return txTable.between(ctx, s.ex(ctx), from, to)
}

func (s *Store) BlockRewards(ctx context.Context, from, to uint64) ([]*indexer.BlockReward, error) {
	return rewardTable.between(ctx, s.ex(ctx), from, to)
}

func (s *Store) ReserveStats(ctx context.Context, from, to uint64) ([]*indexer.ReserveStatsRecord, error) {
	return statsTable.between(ctx, s.ex(ctx), from, to)
}

func (s *Store) LastReserveStats(ctx context.Context) (*indexer.ReserveStatsRecord, error) {
	recs, err := statsTable.query(ctx, s.ex(ctx), "WHERE block = (SELECT max(block) FROM "+statsTable.name+")")
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("reserve stats: %w", db.ErrNotFound)
	}
	return recs[0], nil
}

func (s *Store) Mismatches(ctx context.Context, from, to uint64) ([]*indexer.ReserveMismatch, error) {
	return mismatchTable.between(ctx, s.ex(ctx), from, to)
}

func (s *Store) Progress(ctx context.Context, key string) (uint64, bool, error) {
	var h int64
	err := s.ex(ctx).QueryRow(ctx, "SELECT height FROM "+progressTable+" WHERE key = $1", key).Scan(&h)
	if IsNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(h), true, nil
}

func (s *Store) SetProgress(ctx context.Context, key string, height uint64) error {
	_, err := s.ex(ctx).Exec(ctx,
		"INSERT INTO "+progressTable+" (key, height) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET height = EXCLUDED.height",
		key, int64(height))
	return err
}

func tableFor(series db.Series) (string, error) {
	for _, s := range db.AllSeries {
		if s == series {
			return string(s), nil
		}
	}
	return "", fmt.Errorf("unknown series %q", series)
}

func (s *Store) Rewind(ctx context.Context, series db.Series, keepThrough uint64) error {
	name, err := tableFor(series)
	if err != nil {
		return err
	}
	tag, err := s.ex(ctx).Exec(ctx, "DELETE FROM "+name+" WHERE block > $1", clampHeight(keepThrough))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		s.client.Logger.Info("Rewinding series",
			zap.String("series", name),
			zap.Uint64("keep_through", keepThrough),
			zap.Int64("rows", tag.RowsAffected()))
	}
	return nil
}

func (s *Store) Reset(ctx context.Context, series db.Series) error {
	name, err := tableFor(series)
	if err != nil {
		return err
	}
	return s.client.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "TRUNCATE "+name); err != nil {
			return err
		}
		if key := db.ProgressKeyFor(series); key != "" {
			if _, err := tx.Exec(ctx, "DELETE FROM "+progressTable+" WHERE key = $1", key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
