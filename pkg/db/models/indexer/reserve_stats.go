package indexer

import "github.com/shopspring/decimal"

const ReserveStatsTable = "reserve_stats"

// ReserveStatsRecord is the per-block solvency snapshot derived from the ledger.
// Reserve, ZephUSDCirc and ZephRSVCirc carry the ledger balances after the block,
// which is what a resumed run rebuilds its state from.
type ReserveStatsRecord struct {
	Block             uint64          `ch:"block" json:"block"`
	Spot              decimal.Decimal `ch:"spot" json:"spot"`
	MovingAverage     decimal.Decimal `ch:"moving_average" json:"moving_average"`
	Reserve           decimal.Decimal `ch:"reserve" json:"reserve"`
	ZephUSDCirc       decimal.Decimal `ch:"zephusd_circ" json:"zephusd_circ"`
	ZephRSVCirc       decimal.Decimal `ch:"zephrsv_circ" json:"zephrsv_circ"`
	Assets            decimal.Decimal `ch:"assets" json:"assets"`
	AssetsMA          decimal.Decimal `ch:"assets_ma" json:"assets_ma"`
	Liabilities       decimal.Decimal `ch:"liabilities" json:"liabilities"`
	Equity            decimal.Decimal `ch:"equity" json:"equity"`
	EquityMA          decimal.Decimal `ch:"equity_ma" json:"equity_ma"`
	ReserveRatio      decimal.Decimal `ch:"reserve_ratio" json:"reserve_ratio"`
	ReserveRatioMA    decimal.Decimal `ch:"reserve_ratio_ma" json:"reserve_ratio_ma"`
	ReserveRatioPct   decimal.Decimal `ch:"reserve_ratio_pct" json:"reserve_ratio_pct"`
	ReserveRatioMAPct decimal.Decimal `ch:"reserve_ratio_ma_pct" json:"reserve_ratio_ma_pct"`
}

// ReserveStatsColumns is the persisted layout of the reserve stats series.
var ReserveStatsColumns = []ColumnDef{
	heightCol("block"),
	decimalCol("spot"),
	decimalCol("moving_average"),
	decimalCol("reserve"),
	decimalCol("zephusd_circ"),
	decimalCol("zephrsv_circ"),
	decimalCol("assets"),
	decimalCol("assets_ma"),
	decimalCol("liabilities"),
	decimalCol("equity"),
	decimalCol("equity_ma"),
	decimalCol("reserve_ratio"),
	decimalCol("reserve_ratio_ma"),
	decimalCol("reserve_ratio_pct"),
	decimalCol("reserve_ratio_ma_pct"),
}
