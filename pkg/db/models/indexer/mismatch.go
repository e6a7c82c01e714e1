package indexer

import (
	"time"

	"github.com/shopspring/decimal"
)

const ReserveMismatchTable = "reserve_mismatches"

// ReserveMismatch compares the reconstructed ledger at Block with the node's own
// reserve accounting reported at NodeHeight (which reflects Block = NodeHeight-1).
type ReserveMismatch struct {
	Block             uint64          `ch:"block" json:"block"`
	NodeHeight        uint64          `ch:"node_height" json:"node_height"`
	LedgerReserve     decimal.Decimal `ch:"ledger_reserve" json:"ledger_reserve"`
	NodeReserve       decimal.Decimal `ch:"node_reserve" json:"node_reserve"`
	ReserveDiff       decimal.Decimal `ch:"reserve_diff" json:"reserve_diff"`
	LedgerStable      decimal.Decimal `ch:"ledger_stable" json:"ledger_stable"`
	NodeStable        decimal.Decimal `ch:"node_stable" json:"node_stable"`
	StableDiff        decimal.Decimal `ch:"stable_diff" json:"stable_diff"`
	LedgerShares      decimal.Decimal `ch:"ledger_shares" json:"ledger_shares"`
	NodeShares        decimal.Decimal `ch:"node_shares" json:"node_shares"`
	SharesDiff        decimal.Decimal `ch:"shares_diff" json:"shares_diff"`
	LedgerRatio       decimal.Decimal `ch:"ledger_ratio" json:"ledger_ratio"`
	NodeRatio         decimal.Decimal `ch:"node_ratio" json:"node_ratio"`
	RatioDiff         decimal.Decimal `ch:"ratio_diff" json:"ratio_diff"`
	MissingLedgerData bool            `ch:"missing_ledger_data" json:"missing_ledger_data"`
	Mismatch          bool            `ch:"mismatch" json:"mismatch"`
	CheckedAt         time.Time       `ch:"checked_at" json:"checked_at"`
}

// ReserveMismatchColumns is the persisted layout of reconciliation reports.
var ReserveMismatchColumns = []ColumnDef{
	heightCol("block"),
	heightCol("node_height"),
	decimalCol("ledger_reserve"),
	decimalCol("node_reserve"),
	decimalCol("reserve_diff"),
	decimalCol("ledger_stable"),
	decimalCol("node_stable"),
	decimalCol("stable_diff"),
	decimalCol("ledger_shares"),
	decimalCol("node_shares"),
	decimalCol("shares_diff"),
	decimalCol("ledger_ratio"),
	decimalCol("node_ratio"),
	decimalCol("ratio_diff"),
	{Name: "missing_ledger_data", Type: "Bool", PGType: "BOOLEAN"},
	{Name: "mismatch", Type: "Bool", PGType: "BOOLEAN"},
	{Name: "checked_at", Type: "DateTime64(3)", Codec: "Delta, ZSTD(1)", PGType: "TIMESTAMPTZ"},
}
