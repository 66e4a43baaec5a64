package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/evmsim/evmsim/chain/state/cache"
	"github.com/evmsim/evmsim/logging"
)

/*
ForkedStateProvider is the sole source of truth for chain state during a simulation run. Every read follows the
same protocol: check the overlay of hypothetical writes, then the local cache, and only then fetch from the remote
backend at the anchored height and record the result. The anchor is fixed at construction and never changes, so two
successful reads of the same key always return the same value for the lifetime of the provider.

Fetch failures are returned to the caller without being cached, so a later read of the same key retries the
network. The provider performs no retries of its own; retry policy belongs to the transport below or the caller
above.
*/
type ForkedStateProvider struct {
	backend StateBackend
	cache   cache.StateCache
	overlay *stateOverlay
	height  uint64
	logger  *logging.Logger
}

// NewForkedStateProvider creates a provider serving reads from the given cache and backend, pinned to the given
// block height.
func NewForkedStateProvider(backend StateBackend, stateCache cache.StateCache, height uint64) *ForkedStateProvider {
	return &ForkedStateProvider{
		backend: backend,
		cache:   stateCache,
		overlay: newStateOverlay(),
		height:  height,
		logger:  logging.GlobalLogger.NewSubLogger("module", "state"),
	}
}

// Height returns the anchored block height all reads are evaluated at.
func (p *ForkedStateProvider) Height() uint64 {
	return p.height
}

// GetBalance returns the balance of addr, preferring a hypothetical overlay write, then the cache, then the remote
// chain at the anchored height.
func (p *ForkedStateProvider) GetBalance(addr common.Address) (*uint256.Int, error) {
	if balance, ok := p.overlay.balance(addr); ok {
		return balance, nil
	}
	if balance, err := p.cache.GetBalance(addr); err == nil {
		return balance, nil
	}

	balance, err := p.backend.GetBalance(addr, p.height)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("fetched remote balance", logging.StructuredLogInfo{"address": addr.Hex(), "height": p.height})
	if err = p.cache.WriteBalance(addr, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// GetNonce returns the nonce of addr, following the same overlay/cache/remote protocol as GetBalance.
func (p *ForkedStateProvider) GetNonce(addr common.Address) (uint64, error) {
	if nonce, ok := p.overlay.nonce(addr); ok {
		return nonce, nil
	}
	if nonce, err := p.cache.GetNonce(addr); err == nil {
		return nonce, nil
	}

	nonce, err := p.backend.GetNonce(addr, p.height)
	if err != nil {
		return 0, err
	}
	p.logger.Debug("fetched remote nonce", logging.StructuredLogInfo{"address": addr.Hex(), "height": p.height})
	if err = p.cache.WriteNonce(addr, nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

/*
GetCode returns the bytecode deployed at addr. Code is cached canonically under its keccak hash with an
address-to-hash index in front, so addresses sharing bytecode share a single cached byte sequence. An address with
no code yields an empty byte sequence, fetched from the remote exactly once.
*/
func (p *ForkedStateProvider) GetCode(addr common.Address) ([]byte, error) {
	if codeHash, err := p.cache.GetCodeHash(addr); err == nil {
		if code, err := p.cache.GetCode(codeHash); err == nil {
			return code, nil
		}
	}

	code, err := p.backend.GetCode(addr, p.height)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("fetched remote code", logging.StructuredLogInfo{"address": addr.Hex(), "height": p.height, "size": len(code)})

	codeHash := crypto.Keccak256Hash(code)
	if err = p.cache.WriteCode(codeHash, code); err != nil {
		return nil, err
	}
	if err = p.cache.WriteCodeHash(addr, codeHash); err != nil {
		return nil, err
	}
	return code, nil
}

// GetCodeHash returns the keccak hash of the code deployed at addr, fetching the code if it has not been seen yet.
func (p *ForkedStateProvider) GetCodeHash(addr common.Address) (common.Hash, error) {
	if codeHash, err := p.cache.GetCodeHash(addr); err == nil {
		return codeHash, nil
	}
	if _, err := p.GetCode(addr); err != nil {
		return common.Hash{}, err
	}
	return p.cache.GetCodeHash(addr)
}

// GetCodeByHash returns the bytecode cached under the given code hash. The Ethereum RPC cannot resolve code by
// hash, so this is servable from the cache alone; a miss returns ErrCodeNotCached.
func (p *ForkedStateProvider) GetCodeByHash(codeHash common.Hash) ([]byte, error) {
	code, err := p.cache.GetCode(codeHash)
	if err != nil {
		return nil, errors.Wrapf(ErrCodeNotCached, "hash %s", codeHash.Hex())
	}
	return code, nil
}

// GetStorageAt returns the value of the given storage slot of addr, following the overlay/cache/remote protocol.
// A confirmed-zero slot is cached so it is only ever fetched once.
func (p *ForkedStateProvider) GetStorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	if data, ok := p.overlay.slot(addr, slot); ok {
		return data, nil
	}
	if data, err := p.cache.GetSlotData(addr, slot); err == nil {
		return data, nil
	}

	data, err := p.backend.GetStorageAt(addr, slot, p.height)
	if err != nil {
		return common.Hash{}, err
	}
	p.logger.Debug("fetched remote storage slot", logging.StructuredLogInfo{"address": addr.Hex(), "slot": slot.Hex(), "height": p.height})
	if err = p.cache.WriteSlotData(addr, slot, data); err != nil {
		return common.Hash{}, err
	}
	return data, nil
}

// BlockMeta returns the header metadata of the anchored block.
func (p *ForkedStateProvider) BlockMeta() (*cache.BlockMeta, error) {
	if meta, err := p.cache.GetBlockMeta(p.height); err == nil {
		return meta, nil
	}

	meta, err := p.backend.GetBlockMeta(p.height)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("fetched remote block metadata", logging.StructuredLogInfo{"height": p.height, "hash": meta.Hash.Hex()})
	if err = p.cache.WriteBlockMeta(p.height, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// SetBalance records a hypothetical balance for addr in the overlay. The remote-backed base value is unaffected.
func (p *ForkedStateProvider) SetBalance(addr common.Address, balance *uint256.Int) {
	p.overlay.setBalance(addr, balance)
}

// SetNonce records a hypothetical nonce for addr in the overlay.
func (p *ForkedStateProvider) SetNonce(addr common.Address, nonce uint64) {
	p.overlay.setNonce(addr, nonce)
}

// SetStorageAt records a hypothetical storage write in the overlay.
func (p *ForkedStateProvider) SetStorageAt(addr common.Address, slot common.Hash, data common.Hash) {
	p.overlay.setSlot(addr, slot, data)
}

// ModifiedAccounts returns the addresses touched by hypothetical writes, in deterministic order.
func (p *ForkedStateProvider) ModifiedAccounts() []common.Address {
	return p.overlay.modifiedAccounts()
}

// DiscardWrites drops every hypothetical write, restoring all reads to the remote-backed base state.
func (p *ForkedStateProvider) DiscardWrites() {
	p.overlay.reset()
}
