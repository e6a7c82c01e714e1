package rpc

import (
	"context"
	"fmt"
)

// ReserveInfo returns the node's reserve accounting for its current height.
func (c *HTTPClient) ReserveInfo(ctx context.Context) (*ReserveInfo, error) {
	var info ReserveInfo
	if err := c.callJSONRPC(ctx, methodGetReserveInfo, nil, &info); err != nil {
		return nil, err
	}
	if info.Height == 0 {
		return nil, fmt.Errorf("%w: get_reserve_info returned no height", ErrMalformed)
	}
	return &info, nil
}
