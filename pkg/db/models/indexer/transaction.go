package indexer

import "github.com/shopspring/decimal"

const TransactionsTable = "txs"

// Transaction is a classified conversion transaction.
type Transaction struct {
	Timestamp           uint64          `ch:"timestamp" json:"timestamp"`
	Block               uint64          `ch:"block" json:"block"`
	Hash                string          `ch:"hash" json:"hash"`
	ConversionType      ConversionType  `ch:"conversion_type" json:"conversion_type"`
	ConversionRate      decimal.Decimal `ch:"conversion_rate" json:"conversion_rate"`
	FromAsset           Asset           `ch:"from_asset" json:"from_asset"`
	FromAmount          decimal.Decimal `ch:"from_amount" json:"from_amount"`
	ToAsset             Asset           `ch:"to_asset" json:"to_asset"`
	ToAmount            decimal.Decimal `ch:"to_amount" json:"to_amount"`
	ConversionFeeAsset  Asset           `ch:"conversion_fee_asset" json:"conversion_fee_asset"`
	ConversionFeeAmount decimal.Decimal `ch:"conversion_fee_amount" json:"conversion_fee_amount"`
	TxFeeAsset          Asset           `ch:"tx_fee_asset" json:"tx_fee_asset"`
	TxFeeAmount         decimal.Decimal `ch:"tx_fee_amount" json:"tx_fee_amount"`
}

// TransactionColumns is the persisted layout of the transaction series.
var TransactionColumns = []ColumnDef{
	{Name: "timestamp", Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT"},
	heightCol("block"),
	{Name: "hash", Type: "String", Codec: "ZSTD(1)", PGType: "TEXT"},
	stringCol("conversion_type"),
	decimalCol("conversion_rate"),
	stringCol("from_asset"),
	decimalCol("from_amount"),
	stringCol("to_asset"),
	decimalCol("to_amount"),
	stringCol("conversion_fee_asset"),
	decimalCol("conversion_fee_amount"),
	stringCol("tx_fee_asset"),
	decimalCol("tx_fee_amount"),
}
