package indexer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Row codecs render every series as text fields in column order. CSV files and
// Postgres text selects share them.

// rowReader walks one CSV row field by field, keeping the first error.
type rowReader struct {
	row []string
	col []ColumnDef
	i   int
	err error
}

func (r *rowReader) next() string {
	v := r.row[r.i]
	r.i++
	return v
}

func (r *rowReader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("column %s: %w", r.col[r.i-1].Name, err)
	}
}

func (r *rowReader) uint() uint64 {
	v := r.next()
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		r.fail(err)
	}
	return n
}

func (r *rowReader) dec() decimal.Decimal {
	v := r.next()
	d, err := decimal.NewFromString(v)
	if err != nil {
		r.fail(err)
	}
	return d
}

func (r *rowReader) str() string {
	return r.next()
}

func (r *rowReader) asset() Asset {
	return Asset(r.next())
}

func (r *rowReader) boolean() bool {
	b, err := strconv.ParseBool(r.next())
	if err != nil {
		r.fail(err)
	}
	return b
}

func (r *rowReader) time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.next())
	if err != nil {
		r.fail(err)
	}
	return t
}

func fmtUint(n uint64) string { return strconv.FormatUint(n, 10) }

func EncodePricingRecord(p *PricingRecord) []string {
	return []string{
		fmtUint(p.Block), fmtUint(p.Timestamp),
		p.Spot.String(), p.MovingAverage.String(),
		p.Reserve.String(), p.ReserveMA.String(),
		p.Stable.String(), p.StableMA.String(),
	}
}

func DecodePricingRecord(row []string) (*PricingRecord, error) {
	r := &rowReader{row: row, col: PricingRecordColumns}
	p := &PricingRecord{
		Block:         r.uint(),
		Timestamp:     r.uint(),
		Spot:          r.dec(),
		MovingAverage: r.dec(),
		Reserve:       r.dec(),
		ReserveMA:     r.dec(),
		Stable:        r.dec(),
		StableMA:      r.dec(),
	}
	return p, r.err
}

func EncodeTransaction(t *Transaction) []string {
	return []string{
		fmtUint(t.Timestamp), fmtUint(t.Block), t.Hash, string(t.ConversionType),
		t.ConversionRate.String(),
		string(t.FromAsset), t.FromAmount.String(),
		string(t.ToAsset), t.ToAmount.String(),
		string(t.ConversionFeeAsset), t.ConversionFeeAmount.String(),
		string(t.TxFeeAsset), t.TxFeeAmount.String(),
	}
}

func DecodeTransaction(row []string) (*Transaction, error) {
	r := &rowReader{row: row, col: TransactionColumns}
	t := &Transaction{
		Timestamp: r.uint(),
		Block:     r.uint(),
		Hash:      r.str(),
	}
	ct, err := ParseConversionType(r.str())
	if err != nil {
		r.fail(err)
	}
	t.ConversionType = ct
	t.ConversionRate = r.dec()
	t.FromAsset = r.asset()
	t.FromAmount = r.dec()
	t.ToAsset = r.asset()
	t.ToAmount = r.dec()
	t.ConversionFeeAsset = r.asset()
	t.ConversionFeeAmount = r.dec()
	t.TxFeeAsset = r.asset()
	t.TxFeeAmount = r.dec()
	return t, r.err
}

func EncodeBlockReward(b *BlockReward) []string {
	return []string{fmtUint(b.Block), b.MinerReward.String(), b.GovernanceReward.String(), b.ReserveReward.String()}
}

func DecodeBlockReward(row []string) (*BlockReward, error) {
	r := &rowReader{row: row, col: BlockRewardColumns}
	b := &BlockReward{
		Block:            r.uint(),
		MinerReward:      r.dec(),
		GovernanceReward: r.dec(),
		ReserveReward:    r.dec(),
	}
	return b, r.err
}

func EncodeReserveStats(s *ReserveStatsRecord) []string {
	return []string{
		fmtUint(s.Block),
		s.Spot.String(), s.MovingAverage.String(),
		s.Reserve.String(), s.ZephUSDCirc.String(), s.ZephRSVCirc.String(),
		s.Assets.String(), s.AssetsMA.String(), s.Liabilities.String(),
		s.Equity.String(), s.EquityMA.String(),
		s.ReserveRatio.String(), s.ReserveRatioMA.String(),
		s.ReserveRatioPct.String(), s.ReserveRatioMAPct.String(),
	}
}

func DecodeReserveStats(row []string) (*ReserveStatsRecord, error) {
	r := &rowReader{row: row, col: ReserveStatsColumns}
	s := &ReserveStatsRecord{
		Block:             r.uint(),
		Spot:              r.dec(),
		MovingAverage:     r.dec(),
		Reserve:           r.dec(),
		ZephUSDCirc:       r.dec(),
		ZephRSVCirc:       r.dec(),
		Assets:            r.dec(),
		AssetsMA:          r.dec(),
		Liabilities:       r.dec(),
		Equity:            r.dec(),
		EquityMA:          r.dec(),
		ReserveRatio:      r.dec(),
		ReserveRatioMA:    r.dec(),
		ReserveRatioPct:   r.dec(),
		ReserveRatioMAPct: r.dec(),
	}
	return s, r.err
}

func EncodeReserveMismatch(m *ReserveMismatch) []string {
	return []string{
		fmtUint(m.Block), fmtUint(m.NodeHeight),
		m.LedgerReserve.String(), m.NodeReserve.String(), m.ReserveDiff.String(),
		m.LedgerStable.String(), m.NodeStable.String(), m.StableDiff.String(),
		m.LedgerShares.String(), m.NodeShares.String(), m.SharesDiff.String(),
		m.LedgerRatio.String(), m.NodeRatio.String(), m.RatioDiff.String(),
		strconv.FormatBool(m.MissingLedgerData), strconv.FormatBool(m.Mismatch),
		m.CheckedAt.UTC().Format(time.RFC3339Nano),
	}
}

func DecodeReserveMismatch(row []string) (*ReserveMismatch, error) {
	r := &rowReader{row: row, col: ReserveMismatchColumns}
	m := &ReserveMismatch{
		Block:             r.uint(),
		NodeHeight:        r.uint(),
		LedgerReserve:     r.dec(),
		NodeReserve:       r.dec(),
		ReserveDiff:       r.dec(),
		LedgerStable:      r.dec(),
		NodeStable:        r.dec(),
		StableDiff:        r.dec(),
		LedgerShares:      r.dec(),
		NodeShares:        r.dec(),
		SharesDiff:        r.dec(),
		LedgerRatio:       r.dec(),
		NodeRatio:         r.dec(),
		RatioDiff:         r.dec(),
		MissingLedgerData: r.boolean(),
		Mismatch:          r.boolean(),
		CheckedAt:         r.time(),
	}
	return m, r.err
}
