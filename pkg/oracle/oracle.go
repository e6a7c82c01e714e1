// Package oracle turns the fixed-point pricing record carried by a block header
// into decimal prices.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

// AtomicExponent is the power of ten between an atomic unit and one whole coin.
const AtomicExponent = -12

// FromAtoms scales an atomic amount to whole units without rounding.
func FromAtoms(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), AtomicExponent)
}

// ParseAtoms scales a base-10 atomic amount string, as emitted by get_reserve_info.
func ParseAtoms(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid atomic amount %q", s)
	}
	return decimal.NewFromBigInt(n, AtomicExponent), nil
}

// ToAtoms converts whole units back to atomic units, truncating sub-atomic dust.
func ToAtoms(d decimal.Decimal) *big.Int {
	return d.Shift(-AtomicExponent).Truncate(0).BigInt()
}

// FromHeader returns the pricing record for height, or false when the header carries none.
func FromHeader(height uint64, header rpc.BlockHeader) (*indexer.PricingRecord, bool) {
	pr := header.PricingRecord
	if pr == nil {
		return nil, false
	}
	return &indexer.PricingRecord{
		Block:         height,
		Timestamp:     pr.Timestamp,
		Spot:          FromAtoms(pr.Spot),
		MovingAverage: FromAtoms(pr.MovingAverage),
		Reserve:       FromAtoms(pr.Reserve),
		ReserveMA:     FromAtoms(pr.ReserveMA),
		Stable:        FromAtoms(pr.Stable),
		StableMA:      FromAtoms(pr.StableMA),
	}, true
}

// Sentinel is the all-zero record written when the oracle could not be read.
func Sentinel(height uint64) *indexer.PricingRecord {
	return &indexer.PricingRecord{
		Block:         height,
		Spot:          decimal.Zero,
		MovingAverage: decimal.Zero,
		Reserve:       decimal.Zero,
		ReserveMA:     decimal.Zero,
		Stable:        decimal.Zero,
		StableMA:      decimal.Zero,
	}
}

// BlockSource is the slice of the node client the reader needs.
type BlockSource interface {
	Block(ctx context.Context, height uint64) (*rpc.Block, error)
}

// Reader resolves pricing records straight from the node.
type Reader struct {
	Source BlockSource
}

// At returns the record for height. A height whose block cannot be fetched, or whose header
// has no pricing record, yields the sentinel together with the cause.
func (r *Reader) At(ctx context.Context, height uint64) (*indexer.PricingRecord, error) {
	blk, err := r.Source.Block(ctx, height)
	if err != nil {
		return Sentinel(height), err
	}
	rec, ok := FromHeader(height, blk.Header)
	if !ok {
		return Sentinel(height), fmt.Errorf("block %d: %w", height, ErrNoPricingRecord)
	}
	return rec, nil
}

// ErrNoPricingRecord is returned for headers without an oracle snapshot.
var ErrNoPricingRecord = errors.New("no pricing record in header")
