package activity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/indexer/classify"
	"github.com/zephyr-analytics/zephscan/pkg/indexer/types"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

// ClassifyBlock fetches a block with all of its transactions and classifies each one, coinbase
// first. Failures are recorded per transaction in Skips; an unreadable block comes back with
// Available unset. Only cancellation fails.
func (c *Context) ClassifyBlock(ctx context.Context, in types.HeightInput) (types.BlockOutput, error) {
	start := time.Now()
	logger := c.logger()
	out := types.BlockOutput{Height: in.Height}

	blk, err := c.RPC.Block(ctx, in.Height)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.BlockOutput{}, ctxErr
		}
		logger.Warn("block unavailable, skipping height", zap.Uint64("height", in.Height), zap.Error(err))
		out.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
		return out, nil
	}
	out.Available = true
	out.Timestamp = blk.Header.Timestamp

	hashes := blk.AllTxHashes()
	results, err := c.RPC.Transactions(ctx, hashes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.BlockOutput{}, ctxErr
		}
		logger.Warn("transactions unavailable, skipping block contents",
			zap.Uint64("height", in.Height),
			zap.Int("txs", len(hashes)),
			zap.Error(err),
		)
		for _, h := range hashes {
			out.Skips = append(out.Skips, types.TxSkip{Hash: h, Reason: types.ReasonTxUnavailable})
		}
		out.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
		return out, nil
	}

	for _, res := range results {
		if res.Err != nil {
			out.Skips = append(out.Skips, types.TxSkip{Hash: res.Hash, Reason: txFailureReason(res.Err)})
			logger.Warn("skipping transaction",
				zap.Uint64("height", in.Height),
				zap.String("hash", res.Hash),
				zap.Error(res.Err),
			)
			continue
		}

		ct := c.Classifier.Classify(ctx, in.Height, out.Timestamp, res.Tx)
		switch ct.Kind {
		case classify.KindBlockReward:
			if out.Reward != nil {
				out.Skips = append(out.Skips, types.TxSkip{Hash: ct.Hash, Reason: types.ReasonExtraReward})
				continue
			}
			out.Reward = ct.Reward
		case classify.KindConversion:
			out.Conversions = append(out.Conversions, ct.Conversion)
		default:
			if ct.Reason == classify.ReasonTransfer {
				continue
			}
			out.Skips = append(out.Skips, types.TxSkip{Hash: ct.Hash, Reason: string(ct.Reason)})
			logger.Warn("skipping transaction",
				zap.Uint64("height", in.Height),
				zap.String("hash", ct.Hash),
				zap.String("reason", string(ct.Reason)),
				zap.Error(ct.Err),
			)
		}
	}

	out.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
	return out, nil
}

func txFailureReason(err error) string {
	if errors.Is(err, rpc.ErrMalformed) {
		return string(classify.ReasonMalformed)
	}
	return types.ReasonTxUnavailable
}
