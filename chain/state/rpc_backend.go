package state

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/evmsim/evmsim/chain/state/cache"
	"github.com/evmsim/evmsim/chain/state/rpc"
)

/*
StateBackend defines an interface for fetching chain state at a fixed block height from some remote source, such as
an RPC node. Implementations are stateless across calls: memoization belongs to the cache layered above. The height
is passed on every call rather than held by the backend, which keeps the anchor threading explicit and the backend
trivially testable.
*/
type StateBackend interface {
	GetBalance(addr common.Address, height uint64) (*uint256.Int, error)
	GetNonce(addr common.Address, height uint64) (uint64, error)
	GetCode(addr common.Address, height uint64) ([]byte, error)
	GetStorageAt(addr common.Address, slot common.Hash, height uint64) (common.Hash, error)
	GetBlockMeta(height uint64) (*cache.BlockMeta, error)
}

var _ StateBackend = (*RPCBackend)(nil)
var _ StateBackend = (*EmptyBackend)(nil)

// RPCBackend implements StateBackend over a pool of JSON-RPC clients. Heights are always sent hex-encoded, never as
// a "latest" tag, so every response is pinned.
type RPCBackend struct {
	context    context.Context
	clientPool *rpc.ClientPool
}

// NewRPCBackend dials a client pool of the given size against the provided endpoint. Each RPC request is bounded by
// requestTimeout; expiry surfaces as a TransportError.
func NewRPCBackend(ctx context.Context, url string, poolSize uint, requestTimeout time.Duration) (*RPCBackend, error) {
	clientPool, err := rpc.NewClientPool(url, poolSize, requestTimeout)
	if err != nil {
		return nil, err
	}

	return &RPCBackend{
		context:    ctx,
		clientPool: clientPool,
	}, nil
}

// GetBalance returns the balance the remote chain holds for addr at the given height. The RPC reports zero for
// accounts that do not exist; that zero is a valid value, not an error.
func (q *RPCBackend) GetBalance(addr common.Address, height uint64) (*uint256.Int, error) {
	method := "eth_getBalance"
	var result hexutil.Big
	err := q.clientPool.ExecuteRequestBlocking(q.context, &result, method, addr, hexutil.Uint64(height).String())
	if err != nil {
		return nil, classifyRPCError(method, err)
	}

	balance := &uint256.Int{}
	if overflow := balance.SetFromBig(result.ToInt()); overflow {
		return nil, &ProtocolError{Method: method, Err: errBalanceOverflow}
	}
	return balance, nil
}

// GetNonce returns the transaction count of addr at the given height.
func (q *RPCBackend) GetNonce(addr common.Address, height uint64) (uint64, error) {
	method := "eth_getTransactionCount"
	var result hexutil.Uint64
	err := q.clientPool.ExecuteRequestBlocking(q.context, &result, method, addr, hexutil.Uint64(height).String())
	if err != nil {
		return 0, classifyRPCError(method, err)
	}
	return uint64(result), nil
}

// GetCode returns the bytecode deployed at addr at the given height. The RPC reports empty bytes for addresses with
// no code; the empty result is a valid, cacheable value.
func (q *RPCBackend) GetCode(addr common.Address, height uint64) ([]byte, error) {
	method := "eth_getCode"
	var result hexutil.Bytes
	err := q.clientPool.ExecuteRequestBlocking(q.context, &result, method, addr, hexutil.Uint64(height).String())
	if err != nil {
		return nil, classifyRPCError(method, err)
	}
	return result, nil
}

// GetStorageAt returns the value of the given storage slot at the given height. The RPC reports zero for slots that
// have never been written.
func (q *RPCBackend) GetStorageAt(addr common.Address, slot common.Hash, height uint64) (common.Hash, error) {
	method := "eth_getStorageAt"
	var result hexutil.Bytes
	err := q.clientPool.ExecuteRequestBlocking(q.context, &result, method, addr, slot, hexutil.Uint64(height).String())
	if err != nil {
		return common.Hash{}, classifyRPCError(method, err)
	}
	return common.BytesToHash(result), nil
}

// rpcBlock mirrors the subset of the eth_getBlockByNumber response the execution environment needs.
type rpcBlock struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
	BaseFee   *hexutil.Big   `json:"baseFeePerGas"`
	GasLimit  hexutil.Uint64 `json:"gasLimit"`
}

// GetBlockMeta returns the header metadata of the block at the given height. A null response means no block exists
// at that height and surfaces as a BlockNotFoundError.
func (q *RPCBackend) GetBlockMeta(height uint64) (*cache.BlockMeta, error) {
	method := "eth_getBlockByNumber"
	var result *rpcBlock
	err := q.clientPool.ExecuteRequestBlocking(q.context, &result, method, hexutil.Uint64(height).String(), false)
	if err != nil {
		return nil, classifyRPCError(method, err)
	}
	if result == nil {
		return nil, &BlockNotFoundError{Number: height}
	}

	meta := &cache.BlockMeta{
		Number:    uint64(result.Number),
		Hash:      result.Hash,
		Timestamp: uint64(result.Timestamp),
		GasLimit:  uint64(result.GasLimit),
		BaseFee:   uint256.NewInt(0),
	}
	// Blocks before the london fork carry no base fee.
	if result.BaseFee != nil {
		baseFee := &uint256.Int{}
		if overflow := baseFee.SetFromBig(result.BaseFee.ToInt()); overflow {
			return nil, &ProtocolError{Method: method, Err: errBaseFeeOverflow}
		}
		meta.BaseFee = baseFee
	}
	return meta, nil
}
