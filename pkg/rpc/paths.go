package rpc

// Daemon endpoints.
const (
	getHeightPath       = "/get_height"
	jsonRPCPath         = "/json_rpc"
	getTransactionsPath = "/get_transactions"
)

// JSON-RPC methods served under jsonRPCPath.
const (
	methodGetBlock       = "get_block"
	methodGetReserveInfo = "get_reserve_info"
)
