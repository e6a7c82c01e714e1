package rpc

// RawPricingRecord is the oracle snapshot embedded in a block header, in atomic units.
type RawPricingRecord struct {
	Spot          uint64 `json:"spot"`
	MovingAverage uint64 `json:"moving_average"`
	Reserve       uint64 `json:"reserve"`
	ReserveMA     uint64 `json:"reserve_ma"`
	Stable        uint64 `json:"stable"`
	StableMA      uint64 `json:"stable_ma"`
	Timestamp     uint64 `json:"timestamp"`
	Signature     string `json:"signature,omitempty"`
}

// BlockHeader is the subset of get_block's block_header the scanner reads.
type BlockHeader struct {
	Height        uint64            `json:"height"`
	Hash          string            `json:"hash"`
	Timestamp     uint64            `json:"timestamp"`
	PricingRecord *RawPricingRecord `json:"pricing_record"`
}

// Block is a decoded get_block result.
type Block struct {
	Header      BlockHeader `json:"block_header"`
	MinerTxHash string      `json:"miner_tx_hash"`
	TxHashes    []string    `json:"tx_hashes"`
}

// Height returns the block's height as reported in its header.
func (b *Block) Height() uint64 {
	return b.Header.Height
}

// AllTxHashes returns the coinbase hash followed by the block's ordinary transactions.
func (b *Block) AllTxHashes() []string {
	out := make([]string, 0, len(b.TxHashes)+1)
	if b.MinerTxHash != "" {
		out = append(out, b.MinerTxHash)
	}
	return append(out, b.TxHashes...)
}

// TxInputKey is a spend of a tagged asset.
type TxInputKey struct {
	Amount    uint64 `json:"amount"`
	AssetType string `json:"asset_type"`
}

// TxInputGen marks a coinbase input.
type TxInputGen struct {
	Height uint64 `json:"height"`
}

type TxInput struct {
	Key *TxInputKey `json:"key,omitempty"`
	Gen *TxInputGen `json:"gen,omitempty"`
}

type TaggedKey struct {
	Key       string `json:"key"`
	AssetType string `json:"asset_type"`
	ViewTag   string `json:"view_tag,omitempty"`
}

type TxTarget struct {
	TaggedKey *TaggedKey `json:"tagged_key,omitempty"`
}

type TxOutput struct {
	Amount uint64   `json:"amount"`
	Target TxTarget `json:"target"`
}

type RctSignatures struct {
	Type   int    `json:"type"`
	TxnFee uint64 `json:"txnFee"`
}

// DecodedTx is the as_json body of a transaction.
type DecodedTx struct {
	Hash                string        `json:"-"`
	Version             int           `json:"version"`
	UnlockTime          uint64        `json:"unlock_time"`
	Vin                 []TxInput     `json:"vin"`
	Vout                []TxOutput    `json:"vout"`
	AmountBurnt         uint64        `json:"amount_burnt"`
	AmountMinted        uint64        `json:"amount_minted"`
	PricingRecordHeight uint64        `json:"pricing_record_height"`
	RctSignatures       RctSignatures `json:"rct_signatures"`
}

// TxResult pairs a requested hash with its decoded body or the reason it is unavailable.
type TxResult struct {
	Hash string
	Tx   *DecodedTx
	Err  error
}

// ReserveInfo is the node's own reserve accounting. Amounts are atomic-unit strings
// and ratios are plain decimal strings, exactly as the daemon emits them.
type ReserveInfo struct {
	Height         uint64 `json:"height"`
	HFVersion      int    `json:"hf_version"`
	ZephReserve    string `json:"zeph_reserve"`
	NumStables     string `json:"num_stables"`
	NumReserves    string `json:"num_reserves"`
	ReserveRatio   string `json:"reserve_ratio"`
	ReserveRatioMA string `json:"reserve_ratio_ma"`
	Status         string `json:"status"`
}
