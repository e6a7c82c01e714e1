package ledger

import (
	"errors"
	"fmt"

	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/metrics"
	"go.uber.org/zap"
)

var (
	// ErrMissingReference marks a height whose reward or pricing row is absent.
	ErrMissingReference = errors.New("missing reference data")
	// ErrOutOfOrder is returned when heights are not strictly increasing.
	ErrOutOfOrder = errors.New("height out of order")
)

// SkipPolicy decides what a height that cannot be processed leaves in the output series.
type SkipPolicy string

const (
	// SkipGap emits nothing for the height.
	SkipGap SkipPolicy = "gap"
	// SkipCarryForward emits a record for the skipped height from the unchanged state, priced
	// at that height when its pricing record exists and copied from the previous record otherwise.
	SkipCarryForward SkipPolicy = "carry_forward"
)

// ParseSkipPolicy validates a configured policy; empty selects SkipGap.
func ParseSkipPolicy(s string) (SkipPolicy, error) {
	switch p := SkipPolicy(s); p {
	case "":
		return SkipGap, nil
	case SkipGap, SkipCarryForward:
		return p, nil
	}
	return "", fmt.Errorf("unknown skip policy %q", s)
}

// BlockInput is everything one transition reads for a height.
type BlockInput struct {
	Height      uint64
	Reward      *indexer.BlockReward
	Conversions []*indexer.Transaction
	Pricing     *indexer.PricingRecord
}

// Options configures an Accumulator.
type Options struct {
	Policy SkipPolicy
	// RequireBlockReward treats a height without a reward row as missing reference data.
	// When false the reward is taken as zero.
	RequireBlockReward bool
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
}

// Accumulator owns the State and advances it one height at a time.
type Accumulator struct {
	opts    Options
	state   State
	prev    *indexer.ReserveStatsRecord
	last    uint64
	started bool
}

// New starts from the zero state.
func New(opts Options) *Accumulator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Policy == "" {
		opts.Policy = SkipGap
	}
	return &Accumulator{opts: opts, state: ZeroState()}
}

// Resume continues after a persisted record; the next Step must be above rec.Block.
func Resume(opts Options, rec *indexer.ReserveStatsRecord) *Accumulator {
	a := New(opts)
	a.state = StateFromRecord(rec)
	prev := *rec
	a.prev = &prev
	a.last = rec.Block
	a.started = true
	return a
}

// State returns the current balances.
func (a *Accumulator) State() State {
	return a.state
}

// LastHeight returns the last height stepped over, processed or skipped.
func (a *Accumulator) LastHeight() (uint64, bool) {
	return a.last, a.started
}

// Step applies one height. When reference data is missing the state is left untouched and
// the error wraps ErrMissingReference; under SkipCarryForward a record of the unchanged state
// is returned, otherwise it is nil.
func (a *Accumulator) Step(in BlockInput) (*indexer.ReserveStatsRecord, error) {
	if a.started && in.Height <= a.last {
		return nil, fmt.Errorf("%w: %d after %d", ErrOutOfOrder, in.Height, a.last)
	}
	a.last = in.Height
	a.started = true

	if err := a.check(in); err != nil {
		return a.carry(in), err
	}

	next := a.state.Credit(in.Reward)
	for _, tx := range in.Conversions {
		next = next.Apply(tx)
	}
	rec := Derive(in.Height, next, in.Pricing)

	if next.ReservePool.IsNegative() {
		a.opts.Logger.Warn("reserve pool below zero",
			zap.Uint64("height", in.Height),
			zap.String("reserve", next.ReservePool.String()))
		a.opts.Metrics.NegativeReserveSeen()
	}

	a.state = next
	a.prev = rec
	return rec, nil
}

func (a *Accumulator) check(in BlockInput) error {
	if in.Pricing == nil {
		return fmt.Errorf("height %d: %w: pricing record", in.Height, ErrMissingReference)
	}
	if in.Reward == nil && a.opts.RequireBlockReward {
		return fmt.Errorf("height %d: %w: block reward", in.Height, ErrMissingReference)
	}
	return nil
}

func (a *Accumulator) carry(in BlockInput) *indexer.ReserveStatsRecord {
	if a.opts.Policy != SkipCarryForward {
		return nil
	}
	if in.Pricing != nil {
		a.prev = Derive(in.Height, a.state, in.Pricing)
		return a.prev
	}
	if a.prev == nil {
		return nil
	}
	rec := *a.prev
	rec.Block = in.Height
	a.prev = &rec
	return &rec
}

// Skip records a height the fold could not process.
type Skip struct {
	Height uint64
	Err    error
}

// Fold steps through inputs in order, collecting emitted records and skipped heights.
// Only ErrOutOfOrder aborts the fold.
func (a *Accumulator) Fold(inputs []BlockInput) ([]*indexer.ReserveStatsRecord, []Skip, error) {
	out := make([]*indexer.ReserveStatsRecord, 0, len(inputs))
	var skips []Skip
	for _, in := range inputs {
		rec, err := a.Step(in)
		if err != nil {
			if errors.Is(err, ErrOutOfOrder) {
				return out, skips, err
			}
			skips = append(skips, Skip{Height: in.Height, Err: err})
			a.opts.Logger.Warn("skipping height", zap.Uint64("height", in.Height), zap.Error(err))
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, skips, nil
}

// Assemble groups range query results into one BlockInput per height in [from, to].
// Conversions keep their stored order within a block.
func Assemble(from, to uint64, pricing []*indexer.PricingRecord, rewards []*indexer.BlockReward, txs []*indexer.Transaction) []BlockInput {
	if to < from {
		return nil
	}
	inputs := make([]BlockInput, to-from+1)
	for i := range inputs {
		inputs[i].Height = from + uint64(i)
	}
	for _, pr := range pricing {
		if pr.Block >= from && pr.Block <= to {
			inputs[pr.Block-from].Pricing = pr
		}
	}
	for _, r := range rewards {
		if r.Block >= from && r.Block <= to {
			inputs[r.Block-from].Reward = r
		}
	}
	for _, tx := range txs {
		if tx.Block >= from && tx.Block <= to && tx.ConversionType != indexer.ConversionNone {
			in := &inputs[tx.Block-from]
			in.Conversions = append(in.Conversions, tx)
		}
	}
	return inputs
}
