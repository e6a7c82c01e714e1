package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// maxTxsPerRequest bounds one get_transactions call.
const maxTxsPerRequest = 100

type getTransactionsRequest struct {
	TxsHashes    []string `json:"txs_hashes"`
	DecodeAsJSON bool     `json:"decode_as_json"`
}

type txEntry struct {
	TxHash      string `json:"tx_hash"`
	AsJSON      string `json:"as_json"`
	BlockHeight uint64 `json:"block_height"`
	InPool      bool   `json:"in_pool"`
}

type getTransactionsResponse struct {
	Txs      []txEntry `json:"txs"`
	MissedTx []string  `json:"missed_tx"`
	Status   string    `json:"status"`
}

// Transaction fetches and decodes a single transaction.
func (c *HTTPClient) Transaction(ctx context.Context, hash string) (*DecodedTx, error) {
	res, err := c.Transactions(ctx, []string{hash})
	if err != nil {
		return nil, err
	}
	if res[0].Err != nil {
		return nil, res[0].Err
	}
	return res[0].Tx, nil
}

// Transactions fetches hashes in request order. The returned slice is aligned with hashes;
// a body that is missing or does not decode sets Err on its entry only. The call itself
// fails only when the node could not serve a request at all.
func (c *HTTPClient) Transactions(ctx context.Context, hashes []string) ([]TxResult, error) {
	out := make([]TxResult, 0, len(hashes))
	for start := 0; start < len(hashes); start += maxTxsPerRequest {
		end := min(start+maxTxsPerRequest, len(hashes))
		chunk, err := c.transactionsChunk(ctx, hashes[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (c *HTTPClient) transactionsChunk(ctx context.Context, hashes []string) ([]TxResult, error) {
	var resp getTransactionsResponse
	err := c.doJSON(ctx, getTransactionsPath, getTransactionsRequest{TxsHashes: hashes, DecodeAsJSON: true}, &resp)
	c.metrics.RPC("get_transactions", err)
	if err != nil {
		return nil, err
	}

	byHash := make(map[string]txEntry, len(resp.Txs))
	for _, e := range resp.Txs {
		if e.TxHash != "" {
			byHash[e.TxHash] = e
		}
	}
	// older daemons omit tx_hash; fall back to positional matching when nothing was missed
	positional := len(byHash) == 0 && len(resp.Txs) == len(hashes)

	out := make([]TxResult, len(hashes))
	for i, h := range hashes {
		out[i].Hash = h
		entry, ok := byHash[h]
		if !ok && positional {
			entry, ok = resp.Txs[i], true
		}
		if !ok {
			out[i].Err = fmt.Errorf("tx %s: %w: missed by node", h, ErrUnavailable)
			continue
		}
		tx, dErr := DecodeTx(h, entry.AsJSON)
		if dErr != nil {
			out[i].Err = dErr
			continue
		}
		out[i].Tx = tx
	}
	return out, nil
}

// DecodeTx parses the string-encoded as_json body of a transaction.
func DecodeTx(hash, asJSON string) (*DecodedTx, error) {
	if asJSON == "" {
		return nil, fmt.Errorf("tx %s: %w: empty as_json", hash, ErrMalformed)
	}
	var tx DecodedTx
	if err := json.Unmarshal([]byte(asJSON), &tx); err != nil {
		return nil, fmt.Errorf("tx %s: %w: %v", hash, ErrMalformed, err)
	}
	tx.Hash = hash
	return &tx, nil
}
