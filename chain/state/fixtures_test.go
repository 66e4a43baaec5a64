package state

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/evmsim/evmsim/chain/state/cache"
)

/* This file is exclusively for test fixtures. */

var _ StateBackend = (*countingBackend)(nil)

// countingBackend is an offline backend used for testing. It records how many remote calls were issued per method
// and key, and can be primed to fail the next call of a given method.
type countingBackend struct {
	balances map[common.Address]*uint256.Int
	nonces   map[common.Address]uint64
	code     map[common.Address][]byte
	slots    map[common.Address]map[common.Hash]common.Hash
	blocks   map[uint64]*cache.BlockMeta

	callCounts map[string]int
	failNext   map[string]error
}

func newCountingBackend() *countingBackend {
	return &countingBackend{
		balances:   make(map[common.Address]*uint256.Int),
		nonces:     make(map[common.Address]uint64),
		code:       make(map[common.Address][]byte),
		slots:      make(map[common.Address]map[common.Hash]common.Hash),
		blocks:     make(map[uint64]*cache.BlockMeta),
		callCounts: make(map[string]int),
		failNext:   make(map[string]error),
	}
}

// failNextCall primes the backend to fail the next call of the given method with err.
func (b *countingBackend) failNextCall(method string, err error) {
	b.failNext[method] = err
}

// calls returns how many remote calls were recorded under the given key.
func (b *countingBackend) calls(key string) int {
	return b.callCounts[key]
}

// record tallies a call and returns a primed failure for the method, if any.
func (b *countingBackend) record(method string, key string) error {
	b.callCounts[method+"/"+key]++
	if err, ok := b.failNext[method]; ok {
		delete(b.failNext, method)
		return err
	}
	return nil
}

func (b *countingBackend) GetBalance(addr common.Address, height uint64) (*uint256.Int, error) {
	if err := b.record("balance", addr.Hex()); err != nil {
		return nil, err
	}
	if balance, ok := b.balances[addr]; ok {
		return balance, nil
	}
	return uint256.NewInt(0), nil
}

func (b *countingBackend) GetNonce(addr common.Address, height uint64) (uint64, error) {
	if err := b.record("nonce", addr.Hex()); err != nil {
		return 0, err
	}
	return b.nonces[addr], nil
}

func (b *countingBackend) GetCode(addr common.Address, height uint64) ([]byte, error) {
	if err := b.record("code", addr.Hex()); err != nil {
		return nil, err
	}
	if code, ok := b.code[addr]; ok {
		return code, nil
	}
	return []byte{}, nil
}

func (b *countingBackend) GetStorageAt(addr common.Address, slot common.Hash, height uint64) (common.Hash, error) {
	if err := b.record("storage", addr.Hex()+"/"+slot.Hex()); err != nil {
		return common.Hash{}, err
	}
	if slotLookup, ok := b.slots[addr]; ok {
		if data, ok := slotLookup[slot]; ok {
			return data, nil
		}
	}
	return common.Hash{}, nil
}

func (b *countingBackend) GetBlockMeta(height uint64) (*cache.BlockMeta, error) {
	if err := b.record("block", strconv.FormatUint(height, 10)); err != nil {
		return nil, err
	}
	if meta, ok := b.blocks[height]; ok {
		return meta, nil
	}
	return nil, &BlockNotFoundError{Number: height}
}

// backendFixture is a test fixture describing a small forked world: a token contract with code and one populated
// storage slot, an EOA holding ether, and metadata for the anchored block.
type backendFixture struct {
	Backend *countingBackend

	AnchorHeight uint64
	AnchorMeta   *cache.BlockMeta

	ContractAddress common.Address
	ContractBalance *uint256.Int
	ContractCode    []byte

	SlotPopulatedKey  common.Hash
	SlotPopulatedData common.Hash

	SlotEmptyKey common.Hash

	EOAAddress common.Address
	EOABalance *uint256.Int
	EOANonce   uint64
}

func newBackendFixture() *backendFixture {
	backend := newCountingBackend()

	contractAddress := common.BytesToAddress([]byte{5, 5, 5, 5})
	eoaAddress := common.BytesToAddress([]byte{6, 6, 6, 6})

	contractBalance := uint256.NewInt(1000)
	eoaBalance := uint256.NewInt(5000)
	contractCode := []byte{1, 2, 3}

	slotPopulatedKey := common.HexToHash("0xaaaaaaaa")
	slotPopulatedData := common.HexToHash("0xdeadbeef")
	slotEmptyKey := common.HexToHash("0xbbbbbbbb")

	anchorHeight := uint64(1_234_567)
	anchorMeta := &cache.BlockMeta{
		Number:    anchorHeight,
		Hash:      common.HexToHash("0xabcd"),
		Timestamp: 1_700_000_000,
		BaseFee:   uint256.NewInt(7),
		GasLimit:  30_000_000,
	}

	backend.balances[contractAddress] = contractBalance
	backend.balances[eoaAddress] = eoaBalance
	backend.nonces[eoaAddress] = 1
	backend.code[contractAddress] = contractCode
	backend.slots[contractAddress] = map[common.Hash]common.Hash{
		slotPopulatedKey: slotPopulatedData,
	}
	backend.blocks[anchorHeight] = anchorMeta

	return &backendFixture{
		Backend:           backend,
		AnchorHeight:      anchorHeight,
		AnchorMeta:        anchorMeta,
		ContractAddress:   contractAddress,
		ContractBalance:   contractBalance,
		ContractCode:      contractCode,
		SlotPopulatedKey:  slotPopulatedKey,
		SlotPopulatedData: slotPopulatedData,
		SlotEmptyKey:      slotEmptyKey,
		EOAAddress:        eoaAddress,
		EOABalance:        eoaBalance,
		EOANonce:          1,
	}
}

// newProvider builds a provider over the fixture's backend with a fresh in-memory cache.
func (f *backendFixture) newProvider() *ForkedStateProvider {
	return NewForkedStateProvider(f.Backend, cache.NewNonPersistentCache(), f.AnchorHeight)
}
