package cache

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

// TestNonPersistentCacheBalanceRaces tests for race conditions in the balance cache.
func TestNonPersistentCacheBalanceRaces(t *testing.T) {
	stateCache := newNonPersistentStateCache()
	numObjects := 5
	writers := 10
	numWrites := 10_000
	readers := 10
	numReads := 10_000

	var wg sync.WaitGroup
	wg.Add(writers + readers)

	write := func(r *rand.Rand, writesRem int) {
		for writesRem > 0 {
			objId := r.Uint32() % uint32(numObjects)
			addr := common.BytesToAddress([]byte{byte(objId)})
			// writes after the first for an address carry the same value, so no conflict arises
			_ = stateCache.WriteBalance(addr, uint256.NewInt(uint64(objId)))
			writesRem--
		}
		wg.Add(-1)
	}

	read := func(r *rand.Rand, readsRem int) {
		for readsRem > 0 {
			objId := r.Uint32() % uint32(numObjects)
			addr := common.BytesToAddress([]byte{byte(objId)})
			_, _ = stateCache.GetBalance(addr)
			readsRem--
		}
		wg.Add(-1)
	}

	for i := 0; i < readers; i++ {
		go read(rand.New(rand.NewSource(int64(i))), numReads)
	}

	for i := 0; i < writers; i++ {
		go write(rand.New(rand.NewSource(int64(i))), numWrites)
	}
	wg.Wait()
}

// TestNonPersistentCacheSlotRaces tests for race conditions in the storage slot cache.
func TestNonPersistentCacheSlotRaces(t *testing.T) {
	stateCache := newNonPersistentStateCache()
	numContracts := 3
	numSlots := 5
	writers := 10
	numWrites := 10_000
	readers := 10
	numReads := 10_000

	var wg sync.WaitGroup
	wg.Add(writers + readers)

	write := func(r *rand.Rand, writesRem int) {
		for writesRem > 0 {
			addrId := r.Uint32() % uint32(numContracts)
			addr := common.BytesToAddress([]byte{byte(addrId)})

			slotId := r.Uint32() % uint32(numSlots)
			slotKey := common.BytesToHash([]byte{byte(slotId)})

			_ = stateCache.WriteSlotData(addr, slotKey, common.BytesToHash([]byte{byte(slotId)}))
			writesRem--
		}
		wg.Add(-1)
	}

	read := func(r *rand.Rand, readsRem int) {
		for readsRem > 0 {
			addrId := r.Uint32() % uint32(numContracts)
			addr := common.BytesToAddress([]byte{byte(addrId)})

			slotId := r.Uint32() % uint32(numSlots)
			slotKey := common.BytesToHash([]byte{byte(slotId)})
			_, _ = stateCache.GetSlotData(addr, slotKey)
			readsRem--
		}
		wg.Add(-1)
	}

	for i := 0; i < readers; i++ {
		go read(rand.New(rand.NewSource(int64(i))), numReads)
	}

	for i := 0; i < writers; i++ {
		go write(rand.New(rand.NewSource(int64(i))), numWrites)
	}
	wg.Wait()
}

// TestCacheMissVsConfirmedZero asserts that a recorded zero value is distinguishable from an unrecorded key.
func TestCacheMissVsConfirmedZero(t *testing.T) {
	stateCache := NewNonPersistentCache()
	addr := common.BytesToAddress([]byte{1})
	slotKey := common.BytesToHash([]byte{2})

	_, err := stateCache.GetSlotData(addr, slotKey)
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, stateCache.WriteSlotData(addr, slotKey, common.Hash{}))
	data, err := stateCache.GetSlotData(addr, slotKey)
	assert.NoError(t, err)
	assert.Equal(t, common.Hash{}, data)

	_, err = stateCache.GetBalance(addr)
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, stateCache.WriteBalance(addr, uint256.NewInt(0)))
	balance, err := stateCache.GetBalance(addr)
	assert.NoError(t, err)
	assert.True(t, balance.IsZero())
}

// TestCacheInconsistentWrites asserts that rewriting a key with an identical value is a no-op while a conflicting
// value is rejected.
func TestCacheInconsistentWrites(t *testing.T) {
	stateCache := NewNonPersistentCache()
	addr := common.BytesToAddress([]byte{1})
	slotKey := common.BytesToHash([]byte{2})
	codeHash := common.BytesToHash([]byte{3})

	assert.NoError(t, stateCache.WriteBalance(addr, uint256.NewInt(1000)))
	assert.NoError(t, stateCache.WriteBalance(addr, uint256.NewInt(1000)))

	err := stateCache.WriteBalance(addr, uint256.NewInt(999))
	var inconsistentErr *InconsistentWriteError
	assert.ErrorAs(t, err, &inconsistentErr)
	assert.Contains(t, inconsistentErr.Key, addr.Hex())

	// the original value must survive the rejected write
	balance, err := stateCache.GetBalance(addr)
	assert.NoError(t, err)
	assert.True(t, balance.Eq(uint256.NewInt(1000)))

	assert.NoError(t, stateCache.WriteNonce(addr, 5))
	assert.Error(t, stateCache.WriteNonce(addr, 6))

	assert.NoError(t, stateCache.WriteSlotData(addr, slotKey, common.BytesToHash([]byte{9})))
	assert.Error(t, stateCache.WriteSlotData(addr, slotKey, common.BytesToHash([]byte{8})))

	assert.NoError(t, stateCache.WriteCode(codeHash, []byte{1, 2, 3}))
	assert.NoError(t, stateCache.WriteCode(codeHash, []byte{1, 2, 3}))
	assert.Error(t, stateCache.WriteCode(codeHash, []byte{4}))
}

// TestPersistentCacheRoundTrip asserts that entries written through the persistent cache survive a close/reopen
// cycle for the same (endpoint, height) pair.
func TestPersistentCacheRoundTrip(t *testing.T) {
	cacheDir := t.TempDir()
	endpoint := "https://example.invalid/rpc"
	height := uint64(1_234_567)

	addr := common.BytesToAddress([]byte{1})
	slotKey := common.BytesToHash([]byte{2})
	slotData := common.BytesToHash([]byte{3})
	codeHash := common.BytesToHash([]byte{4})
	code := []byte{0x60, 0x01}
	meta := &BlockMeta{
		Number:    height,
		Hash:      common.BytesToHash([]byte{5}),
		Timestamp: 1_700_000_000,
		BaseFee:   uint256.NewInt(7),
		GasLimit:  30_000_000,
	}

	first, err := NewPersistentCache(context.Background(), cacheDir, endpoint, height)
	assert.NoError(t, err)

	assert.NoError(t, first.WriteBalance(addr, uint256.NewInt(1000)))
	assert.NoError(t, first.WriteNonce(addr, 5))
	assert.NoError(t, first.WriteCodeHash(addr, codeHash))
	assert.NoError(t, first.WriteCode(codeHash, code))
	assert.NoError(t, first.WriteSlotData(addr, slotKey, slotData))
	assert.NoError(t, first.WriteBlockMeta(height, meta))
	assert.NoError(t, first.(*persistentStateCache).Close())

	second, err := NewPersistentCache(context.Background(), cacheDir, endpoint, height)
	assert.NoError(t, err)

	balance, err := second.GetBalance(addr)
	assert.NoError(t, err)
	assert.True(t, balance.Eq(uint256.NewInt(1000)))

	nonce, err := second.GetNonce(addr)
	assert.NoError(t, err)
	assert.EqualValues(t, 5, nonce)

	gotCodeHash, err := second.GetCodeHash(addr)
	assert.NoError(t, err)
	assert.Equal(t, codeHash, gotCodeHash)

	gotCode, err := second.GetCode(codeHash)
	assert.NoError(t, err)
	assert.Equal(t, code, gotCode)

	gotSlot, err := second.GetSlotData(addr, slotKey)
	assert.NoError(t, err)
	assert.Equal(t, slotData, gotSlot)

	gotMeta, err := second.GetBlockMeta(height)
	assert.NoError(t, err)
	assert.Equal(t, meta.Hash, gotMeta.Hash)
	assert.Equal(t, meta.Timestamp, gotMeta.Timestamp)
	assert.True(t, gotMeta.BaseFee.Eq(meta.BaseFee))
	assert.Equal(t, meta.GasLimit, gotMeta.GasLimit)

	assert.NoError(t, second.(*persistentStateCache).Close())
}

// TestPersistentCacheScoping asserts that caches for a different endpoint or height never share entries.
func TestPersistentCacheScoping(t *testing.T) {
	cacheDir := t.TempDir()
	addr := common.BytesToAddress([]byte{1})

	first, err := NewPersistentCache(context.Background(), cacheDir, "https://one.invalid", 100)
	assert.NoError(t, err)
	assert.NoError(t, first.WriteBalance(addr, uint256.NewInt(1000)))
	assert.NoError(t, first.(*persistentStateCache).Close())

	otherHeight, err := NewPersistentCache(context.Background(), cacheDir, "https://one.invalid", 200)
	assert.NoError(t, err)
	_, err = otherHeight.GetBalance(addr)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, otherHeight.(*persistentStateCache).Close())

	otherEndpoint, err := NewPersistentCache(context.Background(), cacheDir, "https://two.invalid", 100)
	assert.NoError(t, err)
	_, err = otherEndpoint.GetBalance(addr)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, otherEndpoint.(*persistentStateCache).Close())
}
