package cache

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var _ StateCache = (*nonPersistentStateCache)(nil)

// nonPersistentStateCache provides a thread-safe, in-memory cache for remotely fetched state. Entries are never
// evicted; one cache instance is scoped to one simulation run.
type nonPersistentStateCache struct {
	accountLock sync.RWMutex
	balances    map[common.Address]*uint256.Int
	nonces      map[common.Address]*uint64
	codeHashes  map[common.Address]common.Hash

	codeLock sync.RWMutex
	code     map[common.Hash][]byte

	slotLock sync.RWMutex
	slots    map[common.Address]map[common.Hash]common.Hash

	blockLock sync.RWMutex
	blocks    map[uint64]*BlockMeta
}

// NewNonPersistentCache creates a StateCache that holds all entries in memory only.
func NewNonPersistentCache() StateCache {
	return newNonPersistentStateCache()
}

func newNonPersistentStateCache() *nonPersistentStateCache {
	return &nonPersistentStateCache{
		balances:   make(map[common.Address]*uint256.Int),
		nonces:     make(map[common.Address]*uint64),
		codeHashes: make(map[common.Address]common.Hash),
		code:       make(map[common.Hash][]byte),
		slots:      make(map[common.Address]map[common.Hash]common.Hash),
		blocks:     make(map[uint64]*BlockMeta),
	}
}

// GetBalance checks if a balance is recorded for addr, and if not, returns ErrCacheMiss.
func (s *nonPersistentStateCache) GetBalance(addr common.Address) (*uint256.Int, error) {
	s.accountLock.RLock()
	defer s.accountLock.RUnlock()

	if balance, ok := s.balances[addr]; ok {
		return balance, nil
	}
	return nil, ErrCacheMiss
}

func (s *nonPersistentStateCache) WriteBalance(addr common.Address, balance *uint256.Int) error {
	s.accountLock.Lock()
	defer s.accountLock.Unlock()

	if existing, ok := s.balances[addr]; ok {
		if existing.Eq(balance) {
			return nil
		}
		return &InconsistentWriteError{
			Key:      fmt.Sprintf("balance/%s", addr.Hex()),
			Existing: existing.String(),
			Incoming: balance.String(),
		}
	}
	s.balances[addr] = balance.Clone()
	return nil
}

// GetNonce checks if a nonce is recorded for addr, and if not, returns ErrCacheMiss.
func (s *nonPersistentStateCache) GetNonce(addr common.Address) (uint64, error) {
	s.accountLock.RLock()
	defer s.accountLock.RUnlock()

	if nonce, ok := s.nonces[addr]; ok {
		return *nonce, nil
	}
	return 0, ErrCacheMiss
}

func (s *nonPersistentStateCache) WriteNonce(addr common.Address, nonce uint64) error {
	s.accountLock.Lock()
	defer s.accountLock.Unlock()

	if existing, ok := s.nonces[addr]; ok {
		if *existing == nonce {
			return nil
		}
		return &InconsistentWriteError{
			Key:      fmt.Sprintf("nonce/%s", addr.Hex()),
			Existing: fmt.Sprintf("%d", *existing),
			Incoming: fmt.Sprintf("%d", nonce),
		}
	}
	s.nonces[addr] = &nonce
	return nil
}

// GetCodeHash checks if a code hash is recorded for addr, and if not, returns ErrCacheMiss.
func (s *nonPersistentStateCache) GetCodeHash(addr common.Address) (common.Hash, error) {
	s.accountLock.RLock()
	defer s.accountLock.RUnlock()

	if codeHash, ok := s.codeHashes[addr]; ok {
		return codeHash, nil
	}
	return common.Hash{}, ErrCacheMiss
}

func (s *nonPersistentStateCache) WriteCodeHash(addr common.Address, codeHash common.Hash) error {
	s.accountLock.Lock()
	defer s.accountLock.Unlock()

	if existing, ok := s.codeHashes[addr]; ok {
		if existing == codeHash {
			return nil
		}
		return &InconsistentWriteError{
			Key:      fmt.Sprintf("codehash/%s", addr.Hex()),
			Existing: existing.Hex(),
			Incoming: codeHash.Hex(),
		}
	}
	s.codeHashes[addr] = codeHash
	return nil
}

// GetCode checks if code is recorded for the given code hash, and if not, returns ErrCacheMiss. Code is cached
// canonically by hash so that multiple addresses sharing bytecode share one entry.
func (s *nonPersistentStateCache) GetCode(codeHash common.Hash) ([]byte, error) {
	s.codeLock.RLock()
	defer s.codeLock.RUnlock()

	if code, ok := s.code[codeHash]; ok {
		return code, nil
	}
	return nil, ErrCacheMiss
}

func (s *nonPersistentStateCache) WriteCode(codeHash common.Hash, code []byte) error {
	s.codeLock.Lock()
	defer s.codeLock.Unlock()

	if existing, ok := s.code[codeHash]; ok {
		if bytes.Equal(existing, code) {
			return nil
		}
		return &InconsistentWriteError{
			Key:      fmt.Sprintf("code/%s", codeHash.Hex()),
			Existing: fmt.Sprintf("%d bytes", len(existing)),
			Incoming: fmt.Sprintf("%d bytes", len(code)),
		}
	}
	s.code[codeHash] = code
	return nil
}

// GetSlotData checks if the specified slot value is recorded in the cache, and if not, returns ErrCacheMiss. A
// recorded zero value is a valid entry (confirmed-zero), distinct from a miss.
func (s *nonPersistentStateCache) GetSlotData(addr common.Address, slot common.Hash) (common.Hash, error) {
	s.slotLock.RLock()
	defer s.slotLock.RUnlock()

	if slotLookup, ok := s.slots[addr]; ok {
		if data, ok := slotLookup[slot]; ok {
			return data, nil
		}
	}
	return common.Hash{}, ErrCacheMiss
}

func (s *nonPersistentStateCache) WriteSlotData(addr common.Address, slot common.Hash, data common.Hash) error {
	s.slotLock.Lock()
	defer s.slotLock.Unlock()

	if _, ok := s.slots[addr]; !ok {
		s.slots[addr] = make(map[common.Hash]common.Hash)
	}
	if existing, ok := s.slots[addr][slot]; ok {
		if existing == data {
			return nil
		}
		return &InconsistentWriteError{
			Key:      fmt.Sprintf("storage/%s/%s", addr.Hex(), slot.Hex()),
			Existing: existing.Hex(),
			Incoming: data.Hex(),
		}
	}
	s.slots[addr][slot] = data
	return nil
}

// GetBlockMeta checks if metadata for the given block number is recorded, and if not, returns ErrCacheMiss.
func (s *nonPersistentStateCache) GetBlockMeta(number uint64) (*BlockMeta, error) {
	s.blockLock.RLock()
	defer s.blockLock.RUnlock()

	if meta, ok := s.blocks[number]; ok {
		return meta, nil
	}
	return nil, ErrCacheMiss
}

func (s *nonPersistentStateCache) WriteBlockMeta(number uint64, meta *BlockMeta) error {
	s.blockLock.Lock()
	defer s.blockLock.Unlock()

	if existing, ok := s.blocks[number]; ok {
		if existing.Hash == meta.Hash {
			return nil
		}
		return &InconsistentWriteError{
			Key:      fmt.Sprintf("block/%d", number),
			Existing: existing.Hash.Hex(),
			Incoming: meta.Hash.Hex(),
		}
	}
	s.blocks[number] = meta
	return nil
}
