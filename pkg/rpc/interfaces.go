package rpc

import (
	"context"
	"time"

	"github.com/zephyr-analytics/zephscan/pkg/metrics"
)

// Client is the read-only view of a Zephyr daemon used by the scanner.
type Client interface {
	ChainHeight(ctx context.Context) (uint64, error)
	Block(ctx context.Context, height uint64) (*Block, error)
	Transaction(ctx context.Context, hash string) (*DecodedTx, error)
	Transactions(ctx context.Context, hashes []string) ([]TxResult, error)
	ReserveInfo(ctx context.Context) (*ReserveInfo, error)
}

// Factory builds a Client for a set of endpoints.
type Factory interface {
	NewClient(endpoints []string) Client
}

// FactoryOpts carries the transport tuning applied to every client a factory builds.
type FactoryOpts struct {
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	Metrics         *metrics.Metrics
}

type httpFactory struct {
	opts FactoryOpts
}

// NewHTTPFactory returns a Factory producing rate-limited HTTP clients.
func NewHTTPFactory(opts FactoryOpts) Factory {
	return &httpFactory{opts: opts}
}

func (f *httpFactory) NewClient(endpoints []string) Client {
	return NewHTTPWithOpts(Opts{
		Endpoints:       endpoints,
		Timeout:         f.opts.Timeout,
		RPS:             f.opts.RPS,
		Burst:           f.opts.Burst,
		BreakerFailures: f.opts.BreakerFailures,
		BreakerCooldown: f.opts.BreakerCooldown,
		Metrics:         f.opts.Metrics,
	})
}
