package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/csv"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/ledger"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/types"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

const atom = uint64(1_000_000_000_000)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeNode serves a tiny chain over the daemon's HTTP interface.
type fakeNode struct {
	mu          sync.Mutex
	height      uint64
	unavailable map[uint64]bool
	blocks      map[uint64]rpc.Block
	txs         map[string]rpc.DecodedTx
	reserveInfo *rpc.ReserveInfo

	// failBlocks answers that many get_block calls with a server error before recovering.
	failBlocks   int
	blockCalls   int
	failedBlocks int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		unavailable: map[uint64]bool{},
		blocks:      map[uint64]rpc.Block{},
		txs:         map[string]rpc.DecodedTx{},
	}
}

// addBlock adds a block with a pricing record and a coinbase paying 3 ZEPH to the miner.
func (n *fakeNode) addBlock(h uint64, extra ...rpc.DecodedTx) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cb := "cb" + strconv.FormatUint(h, 10)
	n.txs[cb] = rpc.DecodedTx{
		Vin:  []rpc.TxInput{{Gen: &rpc.TxInputGen{Height: h}}},
		Vout: []rpc.TxOutput{{Amount: 3 * atom}, {Amount: atom}},
	}
	blk := rpc.Block{
		Header: rpc.BlockHeader{
			Height:    h,
			Hash:      "h" + cb,
			Timestamp: 1_700_000_000 + h*120,
			PricingRecord: &rpc.RawPricingRecord{
				Spot: 1_500_000_000_000, MovingAverage: 1_400_000_000_000,
				Reserve: 700_000_000_000, ReserveMA: 650_000_000_000,
				Stable: 660_000_000_000, StableMA: 670_000_000_000,
				Timestamp: 1_700_000_000 + h*120 - 5,
			},
		},
		MinerTxHash: cb,
	}
	for i, tx := range extra {
		hash := cb + "-" + strconv.Itoa(i)
		n.txs[hash] = tx
		blk.TxHashes = append(blk.TxHashes, hash)
	}
	n.blocks[h] = blk
	if h+1 > n.height {
		n.height = h + 1
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch r.URL.Path {
	case "/get_height":
		_ = json.NewEncoder(w).Encode(map[string]any{"height": n.height, "status": "OK"})
	case "/get_transactions":
		var req struct {
			Hashes []string `json:"txs_hashes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		type entry struct {
			TxHash string `json:"tx_hash"`
			AsJSON string `json:"as_json"`
		}
		resp := struct {
			Txs    []entry  `json:"txs"`
			Missed []string `json:"missed_tx"`
			Status string   `json:"status"`
		}{Status: "OK"}
		for _, h := range req.Hashes {
			tx, ok := n.txs[h]
			if !ok {
				resp.Missed = append(resp.Missed, h)
				continue
			}
			body, _ := json.Marshal(tx)
			resp.Txs = append(resp.Txs, entry{TxHash: h, AsJSON: string(body)})
		}
		_ = json.NewEncoder(w).Encode(resp)
	case "/json_rpc":
		var req struct {
			Method string `json:"method"`
			Params struct {
				Height uint64 `json:"height"`
			} `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "get_block" {
			n.blockCalls++
			if n.failedBlocks < n.failBlocks {
				n.failedBlocks++
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		reply := map[string]any{"id": "0", "jsonrpc": "2.0"}
		switch req.Method {
		case "get_block":
			blk, ok := n.blocks[req.Params.Height]
			if !ok || n.unavailable[req.Params.Height] {
				reply["error"] = map[string]any{"code": -2, "message": "block unavailable"}
			} else {
				reply["result"] = blk
			}
		case "get_reserve_info":
			reply["result"] = n.reserveInfo
		default:
			reply["error"] = map[string]any{"code": -32601, "message": "Method not found"}
		}
		_ = json.NewEncoder(w).Encode(reply)
	default:
		http.NotFound(w, r)
	}
}

func mintStable(burnt, minted, prHeight uint64) rpc.DecodedTx {
	return rpc.DecodedTx{
		Vin: []rpc.TxInput{{Key: &rpc.TxInputKey{AssetType: "ZEPH"}}},
		Vout: []rpc.TxOutput{
			{Target: rpc.TxTarget{TaggedKey: &rpc.TaggedKey{AssetType: "ZEPHUSD"}}},
			{Target: rpc.TxTarget{TaggedKey: &rpc.TaggedKey{AssetType: "ZEPH"}}},
		},
		AmountBurnt:         burnt,
		AmountMinted:        minted,
		PricingRecordHeight: prHeight,
		RctSignatures:       rpc.RctSignatures{TxnFee: 30_000_000},
	}
}

// scenario builds heights 10..15: height 12 cannot be fetched, 13 mints 14.7 ZEPHUSD for
// 10 ZEPH against the pricing record at 11, and 14 references a transaction the node lost.
func scenario() *fakeNode {
	n := newFakeNode()
	for h := uint64(10); h <= 15; h++ {
		switch h {
		case 13:
			n.addBlock(h, mintStable(10*atom, 14_700_000_000_000, 11))
		default:
			n.addBlock(h)
		}
	}
	n.unavailable[12] = true
	blk := n.blocks[14]
	blk.TxHashes = append(blk.TxHashes, "lost")
	n.blocks[14] = blk
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StartHeight = 10
	cfg.ActivationHeight = 0
	cfg.ChunkSize = 2
	cfg.Concurrency = 3
	return cfg
}

type harness struct {
	node     *fakeNode
	server   *httptest.Server
	dir      string
	cooldown time.Duration
}

func newHarness(t *testing.T, node *fakeNode) *harness {
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)
	return &harness{node: node, server: server, dir: t.TempDir()}
}

func (h *harness) workflow(t *testing.T, cfg Config) (*Workflow, db.Store) {
	store, err := csv.Open(h.dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	client := rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints:       []string{h.server.URL},
		RPS:             1000,
		Burst:           1000,
		Timeout:         2 * time.Second,
		BreakerFailures: 3,
		BreakerCooldown: h.cooldown,
	})
	wf, err := New(cfg, store, client, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	t.Cleanup(wf.Close)
	return wf, store
}

func heights[T any](rows []*T, block func(*T) uint64) []uint64 {
	out := make([]uint64, len(rows))
	for i, r := range rows {
		out[i] = block(r)
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenario())
	wf, store := h.workflow(t, testConfig())

	results, err := wf.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, types.StagePricing, results[0].Stage)
	assert.Equal(t, uint64(10), results[0].From)
	assert.Equal(t, uint64(15), results[0].To)
	assert.Equal(t, 6, results[0].Processed)
	assert.Equal(t, map[string]int{types.ReasonBlockUnavailable: 1}, results[0].Skipped)

	assert.Equal(t, map[string]int{
		types.ReasonBlockUnavailable: 1,
		types.ReasonTxUnavailable:    1,
	}, results[1].Skipped)
	assert.Equal(t, map[string]int{types.ReasonMissingReference: 1}, results[2].Skipped)
	assert.NotEmpty(t, results[2].RunID)

	// the pricing series stays gapless with a sentinel for the unreadable block
	prs, err := store.PricingRecords(ctx, 0, db.MaxHeight)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 11, 12, 13, 14, 15}, heights(prs, func(p *indexer.PricingRecord) uint64 { return p.Block }))
	assert.True(t, prs[2].IsSentinel())
	assert.True(t, d("1.5").Equal(prs[0].Spot))

	rewards, err := store.BlockRewards(ctx, 0, db.MaxHeight)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 11, 13, 14, 15}, heights(rewards, func(r *indexer.BlockReward) uint64 { return r.Block }))
	assert.True(t, d("0.8").Equal(rewards[0].ReserveReward))

	txs, err := store.Transactions(ctx, 0, db.MaxHeight)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, indexer.MintStable, txs[0].ConversionType)
	assert.Equal(t, uint64(13), txs[0].Block)
	assert.True(t, d("1.5").Equal(txs[0].ConversionRate))
	assert.True(t, d("0.3").Equal(txs[0].ConversionFeeAmount))

	// the height without a reward leaves a gap in the reserve series and no state change
	stats, err := store.ReserveStats(ctx, 0, db.MaxHeight)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 11, 13, 14, 15}, heights(stats, func(r *indexer.ReserveStatsRecord) uint64 { return r.Block }))
	assert.True(t, d("1.6").Equal(stats[1].Reserve))
	assert.True(t, d("12.4").Equal(stats[2].Reserve))
	last := stats[len(stats)-1]
	assert.True(t, d("14").Equal(last.Reserve), last.Reserve.String())
	assert.True(t, d("14.7").Equal(last.ZephUSDCirc))
	assert.True(t, d("21").Equal(last.Assets))
	assert.True(t, last.ReserveRatio.IsPositive())

	for _, key := range []string{db.ProgressPricing, db.ProgressTxs, db.ProgressReserve} {
		p, ok, err := store.Progress(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
		assert.Equal(t, uint64(15), p, key)
	}
}

func TestRunResumesAfterChainGrows(t *testing.T) {
	ctx := context.Background()
	node := scenario()
	h := newHarness(t, node)

	wf, _ := h.workflow(t, testConfig())
	_, err := wf.Run(ctx)
	require.NoError(t, err)

	node.addBlock(16)
	node.addBlock(17)

	// a fresh process over the same directory continues where the first stopped
	wf, store := h.workflow(t, testConfig())
	results, err := wf.Run(ctx)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, uint64(16), r.From, r.Stage)
		assert.Equal(t, uint64(17), r.To, r.Stage)
	}

	last, err := store.LastReserveStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), last.Block)
	assert.True(t, d("15.6").Equal(last.Reserve), last.Reserve.String())
	assert.True(t, d("14.7").Equal(last.ZephUSDCirc))

	stats, err := store.ReserveStats(ctx, 0, db.MaxHeight)
	require.NoError(t, err)
	assert.Len(t, stats, 7)
}

func TestOpenBreakerDoesNotSkipHeights(t *testing.T) {
	ctx := context.Background()
	node := newFakeNode()
	for h := uint64(10); h <= 19; h++ {
		node.addBlock(h)
	}
	node.failBlocks = 3
	h := newHarness(t, node)
	h.cooldown = 50 * time.Millisecond

	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.EndHeight = 19
	wf, store := h.workflow(t, cfg)

	res, err := wf.ScanPricing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Processed)
	assert.Equal(t, map[string]int{types.ReasonBlockUnavailable: 3}, res.Skipped)

	// only heights whose request actually failed become sentinels
	node.mu.Lock()
	assert.Equal(t, 3, node.failedBlocks)
	assert.Equal(t, 10, node.blockCalls, "every height reaches the node")
	node.mu.Unlock()

	prs, err := store.PricingRecords(ctx, 0, db.MaxHeight)
	require.NoError(t, err)
	require.Len(t, prs, 10)
	sentinels := 0
	for _, pr := range prs {
		if pr.IsSentinel() {
			sentinels++
		}
	}
	assert.Equal(t, 3, sentinels)
}

func TestRunUpToDate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenario())
	wf, _ := h.workflow(t, testConfig())

	_, err := wf.Run(ctx)
	require.NoError(t, err)

	results, err := wf.Run(ctx)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Empty(), r.Stage)
		assert.Zero(t, r.Processed, r.Stage)
	}
}

func TestResumeDropsUncommittedRows(t *testing.T) {
	ctx := context.Background()
	node := scenario()
	h := newHarness(t, node)

	cfg := testConfig()
	cfg.EndHeight = 13
	wf, store := h.workflow(t, cfg)
	_, err := wf.ScanPricing(ctx)
	require.NoError(t, err)

	// a crash after appending but before committing progress leaves an orphan row
	require.NoError(t, store.AppendPricingRecords(ctx, []*indexer.PricingRecord{{Block: 14, Spot: d("99")}}))

	wf, store = h.workflow(t, testConfig())
	res, err := wf.ScanPricing(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), res.From)

	pr, err := store.PricingRecord(ctx, 14)
	require.NoError(t, err)
	assert.True(t, d("1.5").Equal(pr.Spot))
}

func TestTransactionsWaitForPricing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenario())

	cfg := testConfig()
	wf, store := h.workflow(t, cfg)

	res, err := wf.ScanTransactions(ctx)
	require.NoError(t, err)
	assert.True(t, res.Empty())

	cfg.EndHeight = 11
	wf, store = h.workflow(t, cfg)
	_, err = wf.ScanPricing(ctx)
	require.NoError(t, err)

	wf, store = h.workflow(t, testConfig())
	res, err = wf.ScanTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.To)

	res, err = wf.BuildReserveStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), res.To)

	p, ok, err := store.Progress(ctx, db.ProgressTxs)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(11), p)
}

func TestCarryForwardPolicy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenario())

	cfg := testConfig()
	cfg.Policy = ledger.SkipCarryForward
	wf, store := h.workflow(t, cfg)
	_, err := wf.Run(ctx)
	require.NoError(t, err)

	stats, err := store.ReserveStats(ctx, 11, 13)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	carried := stats[1]
	assert.Equal(t, uint64(12), carried.Block)
	assert.True(t, d("1.6").Equal(carried.Reserve))
	// the sentinel pricing at 12 prices the carried record, not the record at 11
	assert.True(t, carried.Spot.IsZero(), carried.Spot.String())
	assert.True(t, carried.MovingAverage.IsZero())
	assert.True(t, carried.Assets.IsZero())
	assert.True(t, carried.ReserveRatio.IsZero())
	assert.True(t, d("1.5").Equal(stats[0].Spot))
	assert.True(t, d("12.4").Equal(stats[2].Reserve))
}

func TestFreshModeStartsOver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenario())

	wf, _ := h.workflow(t, testConfig())
	_, err := wf.Run(ctx)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Mode = ModeFresh
	wf, store := h.workflow(t, cfg)
	results, err := wf.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), results[0].From)
	assert.Equal(t, 6, results[0].Processed)

	prs, err := store.PricingRecords(ctx, 0, db.MaxHeight)
	require.NoError(t, err)
	assert.Len(t, prs, 6)

	// later runs of the same process resume instead of resetting again
	results, err = wf.Run(ctx)
	require.NoError(t, err)
	assert.True(t, results[0].Empty())
}

func TestCorruptStateFailsFast(t *testing.T) {
	ctx := context.Background()

	t.Run("progress without record", func(t *testing.T) {
		h := newHarness(t, scenario())
		wf, store := h.workflow(t, testConfig())
		require.NoError(t, store.SetProgress(ctx, db.ProgressPricing, 30))

		_, err := wf.ScanPricing(ctx)
		require.ErrorIs(t, err, ErrCorruptState)
	})

	t.Run("progress below start height", func(t *testing.T) {
		h := newHarness(t, scenario())
		wf, store := h.workflow(t, testConfig())
		require.NoError(t, store.SetProgress(ctx, db.ProgressTxs, 3))

		_, err := wf.ScanTransactions(ctx)
		require.ErrorIs(t, err, ErrCorruptState)
	})
}

func TestInterpolateLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store, err := csv.Open(t.TempDir(), nil)
	require.NoError(t, err)

	mas := []string{"10", "0", "0", "0", "20"}
	recs := make([]*indexer.PricingRecord, len(mas))
	for i, ma := range mas {
		recs[i] = &indexer.PricingRecord{Block: uint64(i + 1), MovingAverage: d(ma), Spot: d(ma)}
	}
	require.NoError(t, store.AppendPricingRecords(ctx, recs))

	res, err := InterpolateSeries(ctx, store, 1, 5)
	require.NoError(t, err)
	require.Len(t, res.Gaps, 1)
	assert.True(t, res.Gaps[0].Interpolated)
	assert.True(t, d("12.5").Equal(res.Records[1].MovingAverage))
	assert.True(t, d("15").Equal(res.Records[2].MovingAverage))
	assert.True(t, d("17.5").Equal(res.Records[3].MovingAverage))
	assert.True(t, res.Records[2].Spot.IsZero())

	stored, err := store.PricingRecord(ctx, 3)
	require.NoError(t, err)
	assert.True(t, stored.MovingAverage.IsZero())
}

func TestInterpolateBridgesWindowEdges(t *testing.T) {
	ctx := context.Background()
	store, err := csv.Open(t.TempDir(), nil)
	require.NoError(t, err)

	mas := []string{"10", "0", "0", "0", "20", "20"}
	recs := make([]*indexer.PricingRecord, len(mas))
	for i, ma := range mas {
		recs[i] = &indexer.PricingRecord{Block: uint64(i + 1), MovingAverage: d(ma), Spot: d(ma)}
	}
	require.NoError(t, store.AppendPricingRecords(ctx, recs))

	// the outage 2..4 crosses both edges of the window
	res, err := InterpolateSeries(ctx, store, 3, 3)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, uint64(3), res.Records[0].Block)
	assert.True(t, d("15").Equal(res.Records[0].MovingAverage))
	require.Len(t, res.Gaps, 1)
	assert.Equal(t, uint64(3), res.Gaps[0].Start)
	assert.Equal(t, uint64(3), res.Gaps[0].End)
	assert.True(t, res.Gaps[0].Interpolated)

	res, err = InterpolateSeries(ctx, store, 3, 6)
	require.NoError(t, err)
	require.Len(t, res.Records, 4)
	assert.True(t, d("17.5").Equal(res.Records[1].MovingAverage))
	assert.True(t, d("20").Equal(res.Records[3].MovingAverage))

	// a run at the end of the series stays unfilled
	require.NoError(t, store.AppendPricingRecords(ctx, []*indexer.PricingRecord{{Block: 7}, {Block: 8}}))
	res, err = InterpolateSeries(ctx, store, 8, db.MaxHeight)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Len(t, res.Gaps, 1)
	assert.False(t, res.Gaps[0].Interpolated)
}

func TestReconcileStage(t *testing.T) {
	ctx := context.Background()
	node := scenario()
	node.reserveInfo = &rpc.ReserveInfo{
		Height:       16,
		ZephReserve:  "14000000000000",
		NumStables:   "14700000000000",
		NumReserves:  "0",
		ReserveRatio: "1.4285714285714286",
	}
	h := newHarness(t, node)
	wf, store := h.workflow(t, testConfig())
	_, err := wf.Run(ctx)
	require.NoError(t, err)

	m, err := wf.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), m.Block)
	assert.False(t, m.Mismatch, "reserve diff %s stable diff %s ratio diff %s", m.ReserveDiff, m.StableDiff, m.RatioDiff)

	saved, err := store.Mismatches(ctx, 15, 15)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestParseResumeMode(t *testing.T) {
	m, err := ParseResumeMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeResume, m)
	m, err = ParseResumeMode("fresh")
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, m)
	_, err = ParseResumeMode("maybe")
	assert.Error(t, err)
}
