package rpc

import (
	"context"
	"fmt"
)

type heightResponse struct {
	Height uint64 `json:"height"`
	Status string `json:"status"`
}

// ChainHeight returns the daemon's current height (one past the top block).
func (c *HTTPClient) ChainHeight(ctx context.Context) (uint64, error) {
	var resp heightResponse
	err := c.doJSON(ctx, getHeightPath, nil, &resp)
	if err == nil && resp.Height == 0 {
		err = fmt.Errorf("%w: get_height returned no height", ErrMalformed)
	}
	c.metrics.RPC("get_height", err)
	if err != nil {
		return 0, err
	}
	return resp.Height, nil
}

type blockParams struct {
	Height uint64 `json:"height"`
}

// Block fetches the header and transaction hashes of the block at height.
func (c *HTTPClient) Block(ctx context.Context, height uint64) (*Block, error) {
	var blk Block
	if err := c.callJSONRPC(ctx, methodGetBlock, blockParams{Height: height}, &blk); err != nil {
		return nil, fmt.Errorf("block %d: %w", height, err)
	}
	if blk.Header.Timestamp == 0 && blk.Header.Hash == "" {
		return nil, fmt.Errorf("block %d: %w: missing block_header", height, ErrMalformed)
	}
	if blk.Header.Height == 0 {
		blk.Header.Height = height
	}
	return &blk, nil
}
