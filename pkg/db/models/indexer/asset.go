package indexer

import "fmt"

// Asset is the ticker of one of the three protocol assets.
type Asset string

const (
	AssetZeph    Asset = "ZEPH"
	AssetZephUSD Asset = "ZEPHUSD"
	AssetZephRSV Asset = "ZEPHRSV"
	// AssetNone marks a fee that was not charged.
	AssetNone Asset = "N/A"
)

// Assets lists the protocol assets in reporting order.
var Assets = []Asset{AssetZeph, AssetZephUSD, AssetZephRSV}

// ConversionType is the kind of protocol conversion a transaction performs.
type ConversionType string

const (
	ConversionNone ConversionType = "none"
	MintStable     ConversionType = "mint_stable"
	RedeemStable   ConversionType = "redeem_stable"
	MintReserve    ConversionType = "mint_reserve"
	RedeemReserve  ConversionType = "redeem_reserve"
)

// ConversionTypes lists the four conversions in reporting order.
var ConversionTypes = []ConversionType{MintStable, RedeemStable, MintReserve, RedeemReserve}

// ParseConversionType validates a persisted conversion type.
func ParseConversionType(s string) (ConversionType, error) {
	switch ct := ConversionType(s); ct {
	case ConversionNone, MintStable, RedeemStable, MintReserve, RedeemReserve:
		return ct, nil
	}
	return "", fmt.Errorf("unknown conversion type %q", s)
}

// Pair returns the source and destination assets of a conversion.
func (c ConversionType) Pair() (from, to Asset) {
	switch c {
	case MintStable:
		return AssetZeph, AssetZephUSD
	case RedeemStable:
		return AssetZephUSD, AssetZeph
	case MintReserve:
		return AssetZeph, AssetZephRSV
	case RedeemReserve:
		return AssetZephRSV, AssetZeph
	}
	return "", ""
}
