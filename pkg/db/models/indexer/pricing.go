package indexer

import "github.com/shopspring/decimal"

const PricingRecordsTable = "pricing_records"

// PricingRecord is the oracle snapshot carried by one block header.
// An all-zero record is the outage sentinel, not a real price.
type PricingRecord struct {
	Block         uint64          `ch:"block" json:"block"`
	Timestamp     uint64          `ch:"timestamp" json:"timestamp"`
	Spot          decimal.Decimal `ch:"spot" json:"spot"`
	MovingAverage decimal.Decimal `ch:"moving_average" json:"moving_average"`
	Reserve       decimal.Decimal `ch:"reserve" json:"reserve"`
	ReserveMA     decimal.Decimal `ch:"reserve_ma" json:"reserve_ma"`
	Stable        decimal.Decimal `ch:"stable" json:"stable"`
	StableMA      decimal.Decimal `ch:"stable_ma" json:"stable_ma"`
}

// PricingRecordColumns is the persisted layout of the pricing series.
var PricingRecordColumns = []ColumnDef{
	heightCol("block"),
	{Name: "timestamp", Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT"},
	decimalCol("spot"),
	decimalCol("moving_average"),
	decimalCol("reserve"),
	decimalCol("reserve_ma"),
	decimalCol("stable"),
	decimalCol("stable_ma"),
}

// IsSentinel reports whether the oracle was unavailable for this block.
func (p *PricingRecord) IsSentinel() bool {
	return p.Spot.IsZero()
}
