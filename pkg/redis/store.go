package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"go.uber.org/zap"
)

const (
	// txsByBlockKey maps a block height to the JSON list of its conversion hashes.
	txsByBlockKey = "txs_by_block"
	// heightsSuffix names the sorted set indexing the heights of a height-keyed hash.
	heightsSuffix = ":heights"

	// ReserveStatsChannel receives the height of every committed reserve stats batch.
	ReserveStatsChannel = "zephscan:reserve_stats"
)

// Store implements db.Store over Redis hashes keyed by block height, JSON-encoded rows.
// Every height-keyed hash has a sorted set of its heights under "<hash>:heights", so range
// reads touch only the rows asked for. Transactions live in the "txs" hash keyed by hash,
// indexed per block by txs_by_block.
// Reconciliation reports are keyed by block, so a re-check of the same block replaces it.
type Store struct {
	c      *Client
	rdb    *redis.Client
	logger *zap.Logger
}

var _ db.Store = (*Store)(nil)

// NewStore serves db.Store from c.
func NewStore(c *Client) *Store {
	return &Store{c: c, rdb: c.GetClient(), logger: c.logger}
}

func field(h uint64) string { return strconv.FormatUint(h, 10) }

func heightsKey(key string) string { return key + heightsSuffix }

func member(h uint64) redis.Z { return redis.Z{Score: float64(h), Member: field(h)} }

// indexHeights queues the ZADD keeping key's height index in step with its hash.
func indexHeights(ctx context.Context, pipe redis.Pipeliner, key string, heights []uint64) {
	if len(heights) == 0 {
		return
	}
	members := make([]redis.Z, len(heights))
	for i, h := range heights {
		members[i] = member(h)
	}
	pipe.ZAdd(ctx, heightsKey(key), members...)
}

func hsetRows[T any](ctx context.Context, pipe redis.Pipeliner, key string, rows []*T, block func(*T) uint64) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]interface{}, 0, 2*len(rows))
	heights := make([]uint64, 0, len(rows))
	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		h := block(row)
		values = append(values, field(h), string(b))
		heights = append(heights, h)
	}
	pipe.HSet(ctx, key, values...)
	indexHeights(ctx, pipe, key, heights)
	return nil
}

// rangeBy selects the scores in [from, to]; MaxHeight is open-ended.
func rangeBy(from, to uint64) *redis.ZRangeBy {
	upper := field(to)
	if to == db.MaxHeight {
		upper = "+inf"
	}
	return &redis.ZRangeBy{Min: field(from), Max: upper}
}

// heightsIn returns the indexed heights of key within [from, to], ascending.
func heightsIn(ctx context.Context, rdb *redis.Client, key string, from, to uint64) ([]string, error) {
	if to < from {
		return nil, nil
	}
	return rdb.ZRangeByScore(ctx, heightsKey(key), rangeBy(from, to)).Result()
}

func (s *Store) AppendPricingRecords(ctx context.Context, recs []*indexer.PricingRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return hsetRows(ctx, pipe, indexer.PricingRecordsTable, recs, func(p *indexer.PricingRecord) uint64 { return p.Block })
	})
	return err
}

// AppendTransactions writes every conversion of a block together; a block's hash index is
// replaced, not merged.
func (s *Store) AppendTransactions(ctx context.Context, txs []*indexer.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	var (
		byHash  = make([]interface{}, 0, 2*len(txs))
		heights []uint64
		byBlock = map[uint64][]string{}
	)
	for _, tx := range txs {
		b, err := json.Marshal(tx)
		if err != nil {
			return err
		}
		byHash = append(byHash, tx.Hash, string(b))
		if _, ok := byBlock[tx.Block]; !ok {
			heights = append(heights, tx.Block)
		}
		byBlock[tx.Block] = append(byBlock[tx.Block], tx.Hash)
	}
	index := make([]interface{}, 0, 2*len(heights))
	for _, h := range heights {
		b, err := json.Marshal(byBlock[h])
		if err != nil {
			return err
		}
		index = append(index, field(h), string(b))
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, indexer.TransactionsTable, byHash...)
		pipe.HSet(ctx, txsByBlockKey, index...)
		indexHeights(ctx, pipe, txsByBlockKey, heights)
		return nil
	})
	return err
}

func (s *Store) AppendBlockRewards(ctx context.Context, rewards []*indexer.BlockReward) error {
	if len(rewards) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return hsetRows(ctx, pipe, indexer.BlockRewardsTable, rewards, func(b *indexer.BlockReward) uint64 { return b.Block })
	})
	return err
}

// AppendReserveStats commits the batch, then announces its last height on ReserveStatsChannel.
func (s *Store) AppendReserveStats(ctx context.Context, recs []*indexer.ReserveStatsRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return hsetRows(ctx, pipe, indexer.ReserveStatsTable, recs, func(r *indexer.ReserveStatsRecord) uint64 { return r.Block })
	})
	if err != nil {
		return err
	}
	s.c.Publish(ctx, ReserveStatsChannel, field(recs[len(recs)-1].Block))
	return nil
}

func (s *Store) SaveMismatch(ctx context.Context, m *indexer.ReserveMismatch) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, indexer.ReserveMismatchTable, field(m.Block), string(b))
		indexHeights(ctx, pipe, indexer.ReserveMismatchTable, []uint64{m.Block})
		return nil
	})
	return err
}

func (s *Store) PricingRecord(ctx context.Context, height uint64) (*indexer.PricingRecord, error) {
	v, err := s.rdb.HGet(ctx, indexer.PricingRecordsTable, field(height)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pricing record %d: %w", height, db.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p indexer.PricingRecord
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return nil, fmt.Errorf("%w: pricing record %d: %v", db.ErrCorrupt, height, err)
	}
	return &p, nil
}

// scanRange returns the decoded rows of a height-keyed hash with from <= h <= to, ascending.
func scanRange[T any](ctx context.Context, rdb *redis.Client, key string, from, to uint64) ([]*T, error) {
	fields, err := heightsIn(ctx, rdb, key, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	vals, err := rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s indexed but missing", db.ErrCorrupt, key, fields[i])
		}
		var row T
		if err := json.Unmarshal([]byte(str), &row); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", db.ErrCorrupt, key, fields[i], err)
		}
		out = append(out, &row)
	}
	return out, nil
}

func (s *Store) PricingRecords(ctx context.Context, from, to uint64) ([]*indexer.PricingRecord, error) {
	return scanRange[indexer.PricingRecord](ctx, s.rdb, indexer.PricingRecordsTable, from, to)
}

func (s *Store) BlockRewards(ctx context.Context, from, to uint64) ([]*indexer.BlockReward, error) {
	return scanRange[indexer.BlockReward](ctx, s.rdb, indexer.BlockRewardsTable, from, to)
}

func (s *Store) ReserveStats(ctx context.Context, from, to uint64) ([]*indexer.ReserveStatsRecord, error) {
	return scanRange[indexer.ReserveStatsRecord](ctx, s.rdb, indexer.ReserveStatsTable, from, to)
}

func (s *Store) Mismatches(ctx context.Context, from, to uint64) ([]*indexer.ReserveMismatch, error) {
	return scanRange[indexer.ReserveMismatch](ctx, s.rdb, indexer.ReserveMismatchTable, from, to)
}

// blockHashes returns the per-block hash lists for heights in [from, to], ordered by height.
func (s *Store) blockHashes(ctx context.Context, from, to uint64) ([]string, [][]string, error) {
	fields, err := heightsIn(ctx, s.rdb, txsByBlockKey, from, to)
	if err != nil || len(fields) == 0 {
		return nil, nil, err
	}
	vals, err := s.rdb.HMGet(ctx, txsByBlockKey, fields...).Result()
	if err != nil {
		return nil, nil, err
	}
	hashes := make([][]string, len(fields))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s %s indexed but missing", db.ErrCorrupt, txsByBlockKey, fields[i])
		}
		if err := json.Unmarshal([]byte(str), &hashes[i]); err != nil {
			return nil, nil, fmt.Errorf("%w: %s %s: %v", db.ErrCorrupt, txsByBlockKey, fields[i], err)
		}
	}
	return fields, hashes, nil
}

func (s *Store) Transactions(ctx context.Context, from, to uint64) ([]*indexer.Transaction, error) {
	_, hashes, err := s.blockHashes(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var ordered []string
	for _, list := range hashes {
		ordered = append(ordered, list...)
	}
	out := make([]*indexer.Transaction, 0, len(ordered))
	if len(ordered) == 0 {
		return out, nil
	}
	vals, err := s.rdb.HMGet(ctx, indexer.TransactionsTable, ordered...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: tx %s indexed but missing", db.ErrCorrupt, ordered[i])
		}
		var tx indexer.Transaction
		if err := json.Unmarshal([]byte(str), &tx); err != nil {
			return nil, fmt.Errorf("%w: tx %s: %v", db.ErrCorrupt, ordered[i], err)
		}
		out = append(out, &tx)
	}
	return out, nil
}

func (s *Store) LastReserveStats(ctx context.Context) (*indexer.ReserveStatsRecord, error) {
	top, err := s.rdb.ZRevRange(ctx, heightsKey(indexer.ReserveStatsTable), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("reserve stats: %w", db.ErrNotFound)
	}
	v, err := s.rdb.HGet(ctx, indexer.ReserveStatsTable, top[0]).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: reserve stats %s indexed but missing", db.ErrCorrupt, top[0])
	}
	if err != nil {
		return nil, err
	}
	var rec indexer.ReserveStatsRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, fmt.Errorf("%w: reserve stats %s: %v", db.ErrCorrupt, top[0], err)
	}
	return &rec, nil
}

func (s *Store) Progress(ctx context.Context, key string) (uint64, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	h, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: progress %s=%q", db.ErrCorrupt, key, v)
	}
	return h, true, nil
}

func (s *Store) SetProgress(ctx context.Context, key string, height uint64) error {
	return s.rdb.Set(ctx, key, field(height), 0).Err()
}

func (s *Store) Rewind(ctx context.Context, series db.Series, keepThrough uint64) error {
	if !slices.Contains(db.AllSeries, series) {
		return fmt.Errorf("unknown series %q", series)
	}
	if series == db.SeriesTransactions {
		return s.rewindTransactions(ctx, keepThrough)
	}
	if keepThrough == db.MaxHeight {
		return nil
	}
	key := string(series)
	drop, err := heightsIn(ctx, s.rdb, key, keepThrough+1, db.MaxHeight)
	if err != nil || len(drop) == 0 {
		return err
	}
	s.logger.Info("Rewinding series", zap.String("series", key), zap.Uint64("keep_through", keepThrough), zap.Int("rows", len(drop)))
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, key, drop...)
		pipe.ZRem(ctx, heightsKey(key), toMembers(drop)...)
		return nil
	})
	return err
}

func toMembers(fields []string) []interface{} {
	out := make([]interface{}, len(fields))
	for i, f := range fields {
		out[i] = f
	}
	return out
}

func (s *Store) rewindTransactions(ctx context.Context, keepThrough uint64) error {
	if keepThrough == db.MaxHeight {
		return nil
	}
	fields, hashes, err := s.blockHashes(ctx, keepThrough+1, db.MaxHeight)
	if err != nil || len(fields) == 0 {
		return err
	}
	var txs []string
	for _, list := range hashes {
		txs = append(txs, list...)
	}
	s.logger.Info("Rewinding series", zap.String("series", indexer.TransactionsTable), zap.Uint64("keep_through", keepThrough), zap.Int("rows", len(txs)))
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(txs) > 0 {
			pipe.HDel(ctx, indexer.TransactionsTable, txs...)
		}
		pipe.HDel(ctx, txsByBlockKey, fields...)
		pipe.ZRem(ctx, heightsKey(txsByBlockKey), toMembers(fields)...)
		return nil
	})
	return err
}

func (s *Store) Reset(ctx context.Context, series db.Series) error {
	if !slices.Contains(db.AllSeries, series) {
		return fmt.Errorf("unknown series %q", series)
	}
	keys := []string{string(series)}
	if series == db.SeriesTransactions {
		keys = append(keys, txsByBlockKey, heightsKey(txsByBlockKey))
	} else {
		keys = append(keys, heightsKey(string(series)))
	}
	if pk := db.ProgressKeyFor(series); pk != "" {
		keys = append(keys, pk)
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) Close() error {
	return s.c.Close()
}
