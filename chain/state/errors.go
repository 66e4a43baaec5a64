package state

import (
	"context"
	"errors"
	"fmt"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	evmsimrpc "github.com/evmsim/evmsim/chain/state/rpc"
)

// TransportError indicates the remote node could not be reached: the network was unavailable, the connection was
// reset, or the request timed out. The result is never cached; a later read of the same key retries the fetch.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the remote node responded, but the response did not have the expected shape. The result
// is never cached since a retry may succeed against a transient remote issue.
type ProtocolError struct {
	Method string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol failure during %s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// BlockNotFoundError indicates the remote node explicitly reported that no block exists at the anchored height.
// Unlike account-level absence (zero balance, empty code), which is a valid cacheable value, a missing anchor block
// means the fork configuration is wrong.
type BlockNotFoundError struct {
	Number uint64
}

func (e *BlockNotFoundError) Error() string {
	return fmt.Sprintf("block %d does not exist on the remote chain", e.Number)
}

// ErrCodeNotCached is returned by GetCodeByHash when no code has been fetched under the requested hash. Code can
// only be remote-queried by address, so a hash lookup is servable from the cache alone.
var ErrCodeNotCached = errors.New("no code cached for the requested code hash")

var (
	errBalanceOverflow = errors.New("balance does not fit in 256 bits")
	errBaseFeeOverflow = errors.New("base fee does not fit in 256 bits")
)

// classifyRPCError sorts an error bubbled up from the client pool into the transport/protocol taxonomy.
func classifyRPCError(method string, err error) error {
	var decodeErr *evmsimrpc.DecodeError
	if errors.As(err, &decodeErr) {
		return &ProtocolError{Method: method, Err: err}
	}

	// A json-rpc error response means the node was reachable but rejected or mangled the request.
	var jsonErr gethrpc.Error
	if errors.As(err, &jsonErr) {
		return &ProtocolError{Method: method, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Method: method, Err: err}
	}
	return &TransportError{Method: method, Err: err}
}
