package cache

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrCacheMiss is returned by the Get* methods when no entry has been recorded for the requested key.
var ErrCacheMiss = errors.New("cache miss")

// BlockMeta holds the header fields of the anchored block that an execution environment needs to populate its block
// context.
type BlockMeta struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	BaseFee   *uint256.Int
	GasLimit  uint64
}

/*
StateCache defines an interface for a per-anchor store of remotely fetched chain state. Entries are keyed by
(kind, address[, slot]) where kind is one of balance, nonce, code hash, code, storage slot or block metadata.
Get* methods never perform network I/O and return ErrCacheMiss for unrecorded keys. Write* methods are append-only:
rewriting a key with the identical value is a no-op, rewriting it with a different value returns an
InconsistentWriteError, since state pinned to a fixed block height can never legitimately change.
*/
type StateCache interface {
	GetBalance(addr common.Address) (*uint256.Int, error)
	WriteBalance(addr common.Address, balance *uint256.Int) error

	GetNonce(addr common.Address) (uint64, error)
	WriteNonce(addr common.Address, nonce uint64) error

	GetCodeHash(addr common.Address) (common.Hash, error)
	WriteCodeHash(addr common.Address, codeHash common.Hash) error

	GetCode(codeHash common.Hash) ([]byte, error)
	WriteCode(codeHash common.Hash, code []byte) error

	GetSlotData(addr common.Address, slot common.Hash) (common.Hash, error)
	WriteSlotData(addr common.Address, slot common.Hash, data common.Hash) error

	GetBlockMeta(number uint64) (*BlockMeta, error)
	WriteBlockMeta(number uint64, meta *BlockMeta) error
}

// InconsistentWriteError is returned when a Write* call would replace an already-cached value with a different one
// for the same key. This indicates a logic error upstream (e.g. a drifted anchor) and callers must treat it as fatal
// rather than retry.
type InconsistentWriteError struct {
	Key      string
	Existing string
	Incoming string
}

func (e *InconsistentWriteError) Error() string {
	return fmt.Sprintf(
		"inconsistent write to forked state cache: key %s already holds %s, refusing to overwrite with %s",
		e.Key, e.Existing, e.Incoming,
	)
}
