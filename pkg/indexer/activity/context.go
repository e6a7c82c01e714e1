// Package activity holds the per-height units of work the scanner stages fan out.
// Each activity is independent of every other height and safe to run concurrently.
package activity

import (
	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/pkg/indexer/classify"
	"github.com/zephyr-analytics/zephscan/pkg/metrics"
	"github.com/zephyr-analytics/zephscan/pkg/oracle"
	"github.com/zephyr-analytics/zephscan/pkg/rpc"
)

type Context struct {
	Logger *zap.Logger
	// Node access; per-height calls are made once and never retried
	RPC rpc.Client
	// Resolves conversion rates against persisted pricing records
	Classifier *classify.Classifier
	Metrics    *metrics.Metrics
}

func (c *Context) oracle() *oracle.Reader {
	return &oracle.Reader{Source: c.RPC}
}

func (c *Context) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
