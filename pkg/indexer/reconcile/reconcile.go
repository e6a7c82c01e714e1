// Package reconcile checks the reconstructed ledger against the node's own reserve accounting.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/oracle"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

// DefaultRatioTolerance is the largest reserve ratio difference not reported as a mismatch.
var DefaultRatioTolerance = decimal.RequireFromString("0.0001")

// ReserveSource is the slice of the node client reconciliation needs.
type ReserveSource interface {
	ReserveInfo(ctx context.Context) (*rpc.ReserveInfo, error)
}

type nodeFigures struct {
	reserve, stable, shares, ratio decimal.Decimal
}

func parseInfo(info *rpc.ReserveInfo) (nodeFigures, error) {
	var (
		f   nodeFigures
		err error
	)
	if f.reserve, err = oracle.ParseAtoms(info.ZephReserve); err != nil {
		return f, fmt.Errorf("zeph_reserve: %w", err)
	}
	if f.stable, err = oracle.ParseAtoms(info.NumStables); err != nil {
		return f, fmt.Errorf("num_stables: %w", err)
	}
	if f.shares, err = oracle.ParseAtoms(info.NumReserves); err != nil {
		return f, fmt.Errorf("num_reserves: %w", err)
	}
	if info.ReserveRatio != "" {
		if f.ratio, err = decimal.NewFromString(info.ReserveRatio); err != nil {
			return f, fmt.Errorf("reserve_ratio: %w", err)
		}
	}
	return f, nil
}

func atomDiff(ledger, node decimal.Decimal) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).Sub(oracle.ToAtoms(ledger), oracle.ToAtoms(node)), 0)
}

// Compare builds the report for a node snapshot. The node reports the state after block
// info.Height-1, so stats should be the ledger record for that block; nil marks it missing.
func Compare(stats *indexer.ReserveStatsRecord, info *rpc.ReserveInfo, tolerance decimal.Decimal, checkedAt time.Time) (*indexer.ReserveMismatch, error) {
	if info == nil || info.Height == 0 {
		return nil, fmt.Errorf("%w: reserve info without height", rpc.ErrMalformed)
	}
	node, err := parseInfo(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rpc.ErrMalformed, err)
	}

	m := &indexer.ReserveMismatch{
		Block:       info.Height - 1,
		NodeHeight:  info.Height,
		NodeReserve: node.reserve,
		NodeStable:  node.stable,
		NodeShares:  node.shares,
		NodeRatio:   node.ratio,
		CheckedAt:   checkedAt.UTC(),
	}
	if stats == nil {
		m.MissingLedgerData = true
		m.Mismatch = true
		return m, nil
	}

	m.LedgerReserve = stats.Reserve
	m.LedgerStable = stats.ZephUSDCirc
	m.LedgerShares = stats.ZephRSVCirc
	m.LedgerRatio = stats.ReserveRatio
	m.ReserveDiff = atomDiff(stats.Reserve, node.reserve)
	m.StableDiff = atomDiff(stats.ZephUSDCirc, node.stable)
	m.SharesDiff = atomDiff(stats.ZephRSVCirc, node.shares)
	m.RatioDiff = stats.ReserveRatio.Sub(node.ratio)

	m.Mismatch = !m.ReserveDiff.IsZero() ||
		!m.StableDiff.IsZero() ||
		!m.SharesDiff.IsZero() ||
		m.RatioDiff.Abs().GreaterThan(tolerance)
	return m, nil
}

// Reconciler compares the latest node snapshot with the persisted ledger and records the result.
type Reconciler struct {
	Store     db.Store
	Node      ReserveSource
	Logger    *zap.Logger
	Tolerance decimal.Decimal
	Now       func() time.Time
}

// Check fetches the node's reserve info, compares it with the ledger record for the same
// block and persists the report.
func (r *Reconciler) Check(ctx context.Context) (*indexer.ReserveMismatch, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	tolerance := r.Tolerance
	if tolerance.IsZero() {
		tolerance = DefaultRatioTolerance
	}

	info, err := r.Node.ReserveInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve info: %w", err)
	}
	if info.Height == 0 {
		return nil, fmt.Errorf("%w: reserve info without height", rpc.ErrMalformed)
	}

	var stats *indexer.ReserveStatsRecord
	recs, err := r.Store.ReserveStats(ctx, info.Height-1, info.Height-1)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if len(recs) > 0 {
		stats = recs[0]
	}

	m, err := Compare(stats, info, tolerance, now())
	if err != nil {
		return nil, err
	}
	if err := r.Store.SaveMismatch(ctx, m); err != nil {
		return nil, fmt.Errorf("save reconciliation: %w", err)
	}

	fields := []zap.Field{
		zap.Uint64("block", m.Block),
		zap.String("reserve_diff", m.ReserveDiff.String()),
		zap.String("stable_diff", m.StableDiff.String()),
		zap.String("shares_diff", m.SharesDiff.String()),
		zap.String("ratio_diff", m.RatioDiff.String()),
		zap.Bool("missing_ledger_data", m.MissingLedgerData),
	}
	if m.Mismatch {
		logger.Warn("ledger does not match node reserve info", fields...)
	} else {
		logger.Info("ledger matches node reserve info", fields...)
	}
	return m, nil
}
