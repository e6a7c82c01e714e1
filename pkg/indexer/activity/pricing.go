package activity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/indexer/types"
	"github.com/zephyr-analytics/zephscan/pkg/oracle"
)

// FetchPricing reads the oracle snapshot at a height. An unreadable block or a header without
// a pricing record yields the sentinel so the series stays gapless; only cancellation fails.
func (c *Context) FetchPricing(ctx context.Context, in types.HeightInput) (types.PricingOutput, error) {
	start := time.Now()

	rec, err := c.oracle().At(ctx, in.Height)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.PricingOutput{}, ctxErr
		}
		reason := types.ReasonBlockUnavailable
		if errors.Is(err, oracle.ErrNoPricingRecord) {
			reason = types.ReasonNoPricingRecord
		}
		c.logger().Warn("pricing record unavailable, writing sentinel",
			zap.Uint64("height", in.Height),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return types.PricingOutput{
			Record:     rec,
			Reason:     reason,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		}, nil
	}

	return types.PricingOutput{
		Record:     rec,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}
