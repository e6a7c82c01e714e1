// Package types holds the inputs and outputs exchanged between scanner activities and stages.
package types

import (
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

// Stage names, used as log fields and metric labels.
const (
	StagePricing      = "pricing"
	StageTransactions = "transactions"
	StageReserve      = "reserve"
	StageInterpolate  = "interpolate"
	StageReconcile    = "reconcile"
)

// Skip reasons recorded by the fetch activities. Classifier reasons are reported verbatim.
const (
	ReasonBlockUnavailable = "block_unavailable"
	ReasonNoPricingRecord  = "no_pricing_record"
	ReasonTxUnavailable    = "tx_unavailable"
	ReasonExtraReward      = "extra_reward"
	ReasonMissingReference = "missing_reference"
)

type HeightInput struct {
	Height uint64 `json:"height"`
}

// PricingOutput carries the record for one height; Reason is set when it is the sentinel.
type PricingOutput struct {
	Record     *indexer.PricingRecord `json:"record"`
	Reason     string                 `json:"reason,omitempty"`
	DurationMs float64                `json:"durationMs"`
}

// TxSkip is a transaction dropped during classification.
type TxSkip struct {
	Hash   string `json:"hash"`
	Reason string `json:"reason"`
}

// BlockOutput is the classified content of one block. Available is false when the block
// itself could not be fetched, in which case nothing else is set.
type BlockOutput struct {
	Height      uint64                 `json:"height"`
	Timestamp   uint64                 `json:"timestamp"`
	Available   bool                   `json:"available"`
	Reward      *indexer.BlockReward   `json:"reward,omitempty"`
	Conversions []*indexer.Transaction `json:"conversions,omitempty"`
	Skips       []TxSkip               `json:"skips,omitempty"`
	DurationMs  float64                `json:"durationMs"`
}

// StageResult summarises one stage run.
type StageResult struct {
	Stage      string         `json:"stage"`
	RunID      string         `json:"runId"`
	From       uint64         `json:"from"`
	To         uint64         `json:"to"`
	Processed  int            `json:"processed"`
	Skipped    map[string]int `json:"skipped"`
	DurationMs float64        `json:"durationMs"`
}

// Empty reports whether the stage had nothing to do.
func (r StageResult) Empty() bool {
	return r.To < r.From
}

// SkippedTotal sums skips over all reasons.
func (r StageResult) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}
