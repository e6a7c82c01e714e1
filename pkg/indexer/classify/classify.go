// Package classify turns decoded transactions into block rewards and protocol conversions.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/oracle"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

// DefaultActivationHeight is the hard fork that introduced the reserve reward.
const DefaultActivationHeight uint64 = 89300

var (
	// ErrAmbiguous marks a conversion whose input/output asset pairing is not one of the four known kinds.
	ErrAmbiguous = errors.New("unrecognised asset pairing")
	// ErrMissingPricing marks a conversion whose referenced pricing record is not persisted.
	ErrMissingPricing = errors.New("pricing record not found")
	// ErrMalformedTx marks a transaction body lacking the fields classification reads.
	ErrMalformedTx = errors.New("malformed transaction body")
)

var (
	feeRate      = decimal.RequireFromString("0.02")
	netOfFeeRate = decimal.RequireFromString("0.98")
	minerShare   = decimal.RequireFromString("0.75")
	reserveShare = decimal.RequireFromString("0.2")
)

// Kind tags the variant held by a ClassifiedTx.
type Kind int

const (
	KindNone Kind = iota
	KindBlockReward
	KindConversion
)

func (k Kind) String() string {
	switch k {
	case KindBlockReward:
		return "block_reward"
	case KindConversion:
		return "conversion"
	}
	return "none"
}

// Reason explains why a transaction classified as KindNone.
type Reason string

const (
	ReasonTransfer       Reason = "transfer"
	ReasonAmbiguous      Reason = "ambiguous_pairing"
	ReasonMalformed      Reason = "malformed_tx"
	ReasonMissingPricing Reason = "missing_pricing_record"
	ReasonLookupFailed   Reason = "pricing_lookup_failed"
)

// ClassifiedTx is the tagged result of classifying one transaction. Exactly one of Reward or
// Conversion is set for the matching Kind; KindNone carries a Reason and, for failures, Err.
type ClassifiedTx struct {
	Kind       Kind
	Hash       string
	Reward     *indexer.BlockReward
	Conversion *indexer.Transaction
	Reason     Reason
	Err        error
}

func none(hash string, reason Reason, err error) ClassifiedTx {
	return ClassifiedTx{Kind: KindNone, Hash: hash, Reason: reason, Err: err}
}

// Classifier resolves conversion rates against persisted pricing records.
type Classifier struct {
	Pricing          db.PricingLookup
	ActivationHeight uint64
}

// New returns a Classifier using the default activation height.
func New(pricing db.PricingLookup) *Classifier {
	return &Classifier{Pricing: pricing, ActivationHeight: DefaultActivationHeight}
}

// Classify never fails: every problem with the transaction degrades to KindNone.
func (c *Classifier) Classify(ctx context.Context, height, timestamp uint64, tx *rpc.DecodedTx) ClassifiedTx {
	if tx == nil {
		return none("", ReasonMalformed, ErrMalformedTx)
	}
	if tx.AmountBurnt == 0 || tx.AmountMinted == 0 {
		return c.reward(height, tx)
	}
	return c.conversion(ctx, height, timestamp, tx)
}

func (c *Classifier) reward(height uint64, tx *rpc.DecodedTx) ClassifiedTx {
	if len(tx.Vout) == 0 || tx.Vout[0].Amount == 0 {
		return none(tx.Hash, ReasonTransfer, nil)
	}
	miner := oracle.FromAtoms(tx.Vout[0].Amount)
	governance := decimal.Zero
	if len(tx.Vout) > 1 {
		governance = oracle.FromAtoms(tx.Vout[1].Amount)
	}
	return ClassifiedTx{
		Kind: KindBlockReward,
		Hash: tx.Hash,
		Reward: &indexer.BlockReward{
			Block:            height,
			MinerReward:      miner,
			GovernanceReward: governance,
			ReserveReward:    c.ReserveReward(height, miner),
		},
	}
}

// ReserveReward is the reserve pool's cut implied by a miner reward: the miner receives 75% of
// the emission and the reserve 20%, starting at the activation height.
func (c *Classifier) ReserveReward(height uint64, miner decimal.Decimal) decimal.Decimal {
	if height < c.ActivationHeight {
		return decimal.Zero
	}
	return miner.Mul(reserveShare).Div(minerShare)
}

// ConversionTypeOf pairs the first input's asset with the set of output assets.
func ConversionTypeOf(tx *rpc.DecodedTx) (indexer.ConversionType, error) {
	if len(tx.Vin) == 0 || tx.Vin[0].Key == nil || tx.Vin[0].Key.AssetType == "" {
		return indexer.ConversionNone, fmt.Errorf("%w: no keyed input", ErrMalformedTx)
	}
	outputs := make(map[indexer.Asset]bool, 2)
	for _, out := range tx.Vout {
		if out.Target.TaggedKey != nil {
			outputs[indexer.Asset(out.Target.TaggedKey.AssetType)] = true
		}
	}
	if len(outputs) == 0 {
		return indexer.ConversionNone, fmt.Errorf("%w: no tagged outputs", ErrMalformedTx)
	}

	in := indexer.Asset(tx.Vin[0].Key.AssetType)
	switch {
	case in == indexer.AssetZeph && outputs[indexer.AssetZephUSD]:
		return indexer.MintStable, nil
	case in == indexer.AssetZephUSD && outputs[indexer.AssetZeph]:
		return indexer.RedeemStable, nil
	case in == indexer.AssetZeph && outputs[indexer.AssetZephRSV]:
		return indexer.MintReserve, nil
	case in == indexer.AssetZephRSV && outputs[indexer.AssetZeph]:
		return indexer.RedeemReserve, nil
	}
	return indexer.ConversionNone, fmt.Errorf("%w: input %s", ErrAmbiguous, in)
}

// ConversionRate picks the price least favourable to the protocol: the higher of spot and
// moving average when minting, the lower when redeeming.
func ConversionRate(ct indexer.ConversionType, pr *indexer.PricingRecord) decimal.Decimal {
	switch ct {
	case indexer.MintStable:
		return decimal.Max(pr.Spot, pr.MovingAverage)
	case indexer.RedeemStable:
		return decimal.Min(pr.Spot, pr.MovingAverage)
	case indexer.MintReserve:
		return decimal.Max(pr.Reserve, pr.ReserveMA)
	case indexer.RedeemReserve:
		return decimal.Min(pr.Reserve, pr.ReserveMA)
	}
	return decimal.Zero
}

// ConversionFee is the 2% fee withheld from the minted amount, in the destination asset.
// Minting reserve shares is free.
func ConversionFee(ct indexer.ConversionType, minted decimal.Decimal) (indexer.Asset, decimal.Decimal) {
	if ct == indexer.MintReserve {
		return indexer.AssetNone, decimal.Zero
	}
	_, to := ct.Pair()
	return to, minted.Mul(feeRate).Div(netOfFeeRate)
}

func (c *Classifier) conversion(ctx context.Context, height, timestamp uint64, tx *rpc.DecodedTx) ClassifiedTx {
	ct, err := ConversionTypeOf(tx)
	if err != nil {
		if errors.Is(err, ErrAmbiguous) {
			return none(tx.Hash, ReasonAmbiguous, err)
		}
		return none(tx.Hash, ReasonMalformed, err)
	}

	pr, err := c.Pricing.PricingRecord(ctx, tx.PricingRecordHeight)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return none(tx.Hash, ReasonMissingPricing, fmt.Errorf("%w at %d", ErrMissingPricing, tx.PricingRecordHeight))
		}
		return none(tx.Hash, ReasonLookupFailed, err)
	}

	from, to := ct.Pair()
	fromAmount := oracle.FromAtoms(tx.AmountBurnt)
	toAmount := oracle.FromAtoms(tx.AmountMinted)
	feeAsset, feeAmount := ConversionFee(ct, toAmount)

	return ClassifiedTx{
		Kind: KindConversion,
		Hash: tx.Hash,
		Conversion: &indexer.Transaction{
			Timestamp:           timestamp,
			Block:               height,
			Hash:                tx.Hash,
			ConversionType:      ct,
			ConversionRate:      ConversionRate(ct, pr),
			FromAsset:           from,
			FromAmount:          fromAmount,
			ToAsset:             to,
			ToAmount:            toAmount,
			ConversionFeeAsset:  feeAsset,
			ConversionFeeAmount: feeAmount,
			TxFeeAsset:          from,
			TxFeeAmount:         oracle.FromAtoms(tx.RctSignatures.TxnFee),
		},
	}
}
