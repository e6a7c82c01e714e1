package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zephyr-analytics/zephscan/pkg/metrics"
	"github.com/zephyr-analytics/zephscan/pkg/utils"
)

// HTTPClient is a wrapper around an http.Client that implements a circuit-breaker and token-bucket.
type HTTPClient struct {
	endpoints []string
	client    *http.Client
	metrics   *metrics.Metrics

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoints       []string
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	Metrics         *metrics.Metrics
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 5 * time.Second
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &HTTPClient{
		endpoints:        utils.Dedup(o.Endpoints),
		client:           client,
		metrics:          o.Metrics,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// refill refills the token-bucket with new tokens if necessary.
func (c *HTTPClient) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if elapsed := now.Sub(last); elapsed >= c.refillEvery {
		add := int64(elapsed / c.refillEvery)
		for i := int64(0); i < add && atomic.LoadInt64(&c.tokens) < c.maxTokens; i++ {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

// acquire takes a token, blocking until one is available or ctx is done.
func (c *HTTPClient) acquire(ctx context.Context) error {
	for {
		c.refill()
		if atomic.AddInt64(&c.tokens, -1) >= 0 {
			return nil
		}
		atomic.AddInt64(&c.tokens, 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

// isOpen returns true while the endpoint's breaker is OPEN.
func (c *HTTPClient) isOpen(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

// noteFailure marks an endpoint as failed and opens the circuit-breaker if the failure count exceeds the threshold.
func (c *HTTPClient) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.opened[ep] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *HTTPClient) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

// reopenIn returns how long until the first open breaker closes, or zero when an endpoint
// is usable now.
func (c *HTTPClient) reopenIn() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var wait time.Duration
	now := time.Now()
	for _, ep := range c.endpoints {
		until, ok := c.opened[ep]
		if !ok || !now.Before(until) {
			return 0
		}
		if d := until.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return wait
}

// waitForEndpoint blocks while every endpoint's breaker is open. An open breaker is not a
// failure of the request at hand, so callers wait it out instead of reporting the height
// unavailable.
func (c *HTTPClient) waitForEndpoint(ctx context.Context) error {
	for {
		wait := c.reopenIn()
		if wait <= 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// doJSON POSTs payload to path on the first healthy endpoint and decodes the reply into out.
// Each endpoint is tried at most once per call; when every breaker is open the call waits for
// the first one to close. Transport failures and non-2xx replies wrap ErrUnavailable; a body
// that does not decode wraps ErrMalformed.
func (c *HTTPClient) doJSON(ctx context.Context, path string, payload any, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints configured", ErrUnavailable)
	}

	body := []byte("{}")
	if payload != nil {
		b, mErr := json.Marshal(payload)
		if mErr != nil {
			return mErr
		}
		body = b
	}

	for {
		if err := c.waitForEndpoint(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		tried, err := c.tryEndpoints(ctx, path, body, out)
		if tried {
			return err
		}
		// every breaker opened between the wait and the attempt
	}
}

// tryEndpoints sends body to each endpoint whose breaker is closed, stopping at the first
// reply. tried is false when no request was sent.
func (c *HTTPClient) tryEndpoints(ctx context.Context, path string, body []byte, out any) (tried bool, err error) {
	var lastErr error
	for _, ep := range c.endpoints {
		if c.isOpen(ep) {
			continue
		}

		if err := c.acquire(ctx); err != nil {
			return true, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		tried = true

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, ep+path, bytes.NewReader(body))
		if reqErr != nil {
			return true, reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.noteFailure(ep)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server %d", resp.StatusCode)
			c.noteFailure(ep)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			_ = utils.DrainAndClose(resp.Body)
			continue
		}

		c.noteSuccess(ep)
		var decodeErr error
		if out != nil {
			decodeErr = json.NewDecoder(resp.Body).Decode(out)
		}
		_ = utils.DrainAndClose(resp.Body)
		if decodeErr != nil {
			return true, fmt.Errorf("%w: %s: %v", ErrMalformed, path, decodeErr)
		}
		return true, nil
	}
	if !tried {
		return false, nil
	}
	return true, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, lastErr)
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// callJSONRPC invokes a daemon JSON-RPC method and decodes its result into out.
// A JSON-RPC error object is reported as ErrUnavailable since the node could not serve the call.
func (c *HTTPClient) callJSONRPC(ctx context.Context, method string, params any, out any) error {
	var resp jsonRPCResponse
	err := c.doJSON(ctx, jsonRPCPath, jsonRPCRequest{JSONRPC: "2.0", ID: "0", Method: method, Params: params}, &resp)
	if err == nil && resp.Error != nil {
		err = fmt.Errorf("%w: %s: %v", ErrUnavailable, method, resp.Error)
	}
	if err == nil && (len(resp.Result) == 0 || string(resp.Result) == "null") {
		err = fmt.Errorf("%w: %s: missing result", ErrMalformed, method)
	}
	if err == nil {
		if uErr := json.Unmarshal(resp.Result, out); uErr != nil {
			err = fmt.Errorf("%w: %s: %v", ErrMalformed, method, uErr)
		}
	}
	c.metrics.RPC(method, err)
	return err
}
