package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers unreachable nodes, timeouts and non-2xx replies.
	ErrUnavailable = errors.New("node unavailable")
	// ErrMalformed covers undecodable bodies and responses missing required fields.
	ErrMalformed = errors.New("malformed node response")
)

// RPCError is the error object of a JSON-RPC reply.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}
