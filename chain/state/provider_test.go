package state

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/evmsim/evmsim/chain/state/cache"
)

// TestProviderSingleBlockConsistency asserts that two reads of the same key return identical values, even across
// an intervening hypothetical write to an unrelated key.
func TestProviderSingleBlockConsistency(t *testing.T) {
	fixture := newBackendFixture()
	provider := fixture.newProvider()

	first, err := provider.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, first.Eq(fixture.ContractBalance))

	// a write to an unrelated key must not disturb the cached value
	provider.SetBalance(fixture.EOAAddress, uint256.NewInt(42))

	second, err := provider.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, first.Eq(second))
}

// TestProviderCacheMonotonicity asserts that once a read succeeds, no further remote call is issued for its key.
func TestProviderCacheMonotonicity(t *testing.T) {
	fixture := newBackendFixture()
	provider := fixture.newProvider()

	for i := 0; i < 3; i++ {
		balance, err := provider.GetBalance(fixture.ContractAddress)
		assert.NoError(t, err)
		assert.True(t, balance.Eq(fixture.ContractBalance))
	}
	assert.Equal(t, 1, fixture.Backend.calls("balance/"+fixture.ContractAddress.Hex()))

	for i := 0; i < 3; i++ {
		data, err := provider.GetStorageAt(fixture.ContractAddress, fixture.SlotPopulatedKey)
		assert.NoError(t, err)
		assert.Equal(t, fixture.SlotPopulatedData, data)
	}
	assert.Equal(t, 1, fixture.Backend.calls("storage/"+fixture.ContractAddress.Hex()+"/"+fixture.SlotPopulatedKey.Hex()))

	for i := 0; i < 3; i++ {
		meta, err := provider.BlockMeta()
		assert.NoError(t, err)
		assert.Equal(t, fixture.AnchorMeta.Hash, meta.Hash)
	}
	assert.Equal(t, 1, fixture.Backend.calls("block/1234567"))
}

// TestProviderOverlayPrecedence asserts that a hypothetical write shadows the remote value and suppresses the
// remote fetch entirely.
func TestProviderOverlayPrecedence(t *testing.T) {
	fixture := newBackendFixture()
	provider := fixture.newProvider()

	hypothetical := uint256.NewInt(500)
	provider.SetBalance(fixture.ContractAddress, hypothetical)

	balance, err := provider.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, balance.Eq(hypothetical))
	assert.Equal(t, 0, fixture.Backend.calls("balance/"+fixture.ContractAddress.Hex()))

	// nonce and storage writes behave identically
	provider.SetNonce(fixture.EOAAddress, 77)
	nonce, err := provider.GetNonce(fixture.EOAAddress)
	assert.NoError(t, err)
	assert.EqualValues(t, 77, nonce)
	assert.Equal(t, 0, fixture.Backend.calls("nonce/"+fixture.EOAAddress.Hex()))

	provider.SetStorageAt(fixture.ContractAddress, fixture.SlotEmptyKey, fixture.SlotPopulatedData)
	data, err := provider.GetStorageAt(fixture.ContractAddress, fixture.SlotEmptyKey)
	assert.NoError(t, err)
	assert.Equal(t, fixture.SlotPopulatedData, data)
	assert.Equal(t, 0, fixture.Backend.calls("storage/"+fixture.ContractAddress.Hex()+"/"+fixture.SlotEmptyKey.Hex()))
}

// TestProviderNegativeCaching asserts that an address with no code is fetched from the remote exactly once, and the
// confirmed-empty result is served from the cache afterwards.
func TestProviderNegativeCaching(t *testing.T) {
	fixture := newBackendFixture()
	provider := fixture.newProvider()

	for i := 0; i < 2; i++ {
		code, err := provider.GetCode(fixture.EOAAddress)
		assert.NoError(t, err)
		assert.Empty(t, code)
	}
	assert.Equal(t, 1, fixture.Backend.calls("code/"+fixture.EOAAddress.Hex()))

	// same for a confirmed-zero storage slot
	for i := 0; i < 2; i++ {
		data, err := provider.GetStorageAt(fixture.ContractAddress, fixture.SlotEmptyKey)
		assert.NoError(t, err)
		assert.Equal(t, [32]byte{}, [32]byte(data))
	}
	assert.Equal(t, 1, fixture.Backend.calls("storage/"+fixture.ContractAddress.Hex()+"/"+fixture.SlotEmptyKey.Hex()))
}

// TestProviderFailureNonPoisoning asserts that a failed fetch is not cached: the next read of the same key issues a
// fresh remote call.
func TestProviderFailureNonPoisoning(t *testing.T) {
	fixture := newBackendFixture()
	provider := fixture.newProvider()

	transportFailure := &TransportError{Method: "eth_getBalance", Err: fmt.Errorf("connection reset")}
	fixture.Backend.failNextCall("balance", transportFailure)

	_, err := provider.GetBalance(fixture.ContractAddress)
	assert.ErrorIs(t, err, transportFailure)

	balance, err := provider.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, balance.Eq(fixture.ContractBalance))
	assert.Equal(t, 2, fixture.Backend.calls("balance/"+fixture.ContractAddress.Hex()))
}

// TestProviderCodeByHash asserts that code fetched by address is retrievable by its hash, and that a hash no code
// was fetched under reports ErrCodeNotCached.
func TestProviderCodeByHash(t *testing.T) {
	fixture := newBackendFixture()
	provider := fixture.newProvider()

	code, err := provider.GetCode(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.Equal(t, fixture.ContractCode, code)

	codeHash, err := provider.GetCodeHash(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(fixture.ContractCode), codeHash)

	byHash, err := provider.GetCodeByHash(codeHash)
	assert.NoError(t, err)
	assert.Equal(t, fixture.ContractCode, byHash)

	// the code fetch must have happened exactly once despite three different accessors
	assert.Equal(t, 1, fixture.Backend.calls("code/"+fixture.ContractAddress.Hex()))

	_, err = provider.GetCodeByHash(crypto.Keccak256Hash([]byte("unfetched")))
	assert.True(t, errors.Is(err, ErrCodeNotCached))
}

// TestProviderSharedBaseCache runs the anchored scenario: a hypothetical write is visible through the provider that
// made it, while a fresh provider sharing the same base cache still observes the remote-backed value without a new
// remote call.
func TestProviderSharedBaseCache(t *testing.T) {
	fixture := newBackendFixture()
	factory := NewProviderFactory(fixture.Backend, cache.NewNonPersistentCache(), fixture.AnchorHeight)
	provider := factory.New()

	balance, err := provider.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, balance.Eq(fixture.ContractBalance))

	balance, err = provider.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, balance.Eq(fixture.ContractBalance))
	assert.Equal(t, 1, fixture.Backend.calls("balance/"+fixture.ContractAddress.Hex()))

	// hypothetical write through the first provider
	provider.SetBalance(fixture.ContractAddress, uint256.NewInt(500))
	overlaid, err := provider.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, overlaid.Eq(uint256.NewInt(500)))

	// a fresh provider over the shared cache observes the base value, served without another fetch
	fresh := factory.New()
	base, err := fresh.GetBalance(fixture.ContractAddress)
	assert.NoError(t, err)
	assert.True(t, base.Eq(fixture.ContractBalance))
	assert.Equal(t, 1, fixture.Backend.calls("balance/"+fixture.ContractAddress.Hex()))
}

// TestProviderDiscardWrites asserts that discarding the overlay restores reads to the cached base state.
func TestProviderDiscardWrites(t *testing.T) {
	fixture := newBackendFixture()
	provider := fixture.newProvider()

	base, err := provider.GetBalance(fixture.EOAAddress)
	assert.NoError(t, err)

	provider.SetBalance(fixture.EOAAddress, uint256.NewInt(1))
	provider.SetStorageAt(fixture.ContractAddress, fixture.SlotPopulatedKey, common.HexToHash("0x1234"))
	assert.Equal(t, []common.Address{fixture.ContractAddress, fixture.EOAAddress}, provider.ModifiedAccounts())

	provider.DiscardWrites()
	assert.Empty(t, provider.ModifiedAccounts())

	restored, err := provider.GetBalance(fixture.EOAAddress)
	assert.NoError(t, err)
	assert.True(t, restored.Eq(base))
	assert.Equal(t, 1, fixture.Backend.calls("balance/"+fixture.EOAAddress.Hex()))
}

// TestProviderMissingAnchorBlock asserts that a missing block at the anchored height surfaces as a typed error.
func TestProviderMissingAnchorBlock(t *testing.T) {
	fixture := newBackendFixture()
	provider := NewForkedStateProvider(fixture.Backend, cache.NewNonPersistentCache(), fixture.AnchorHeight+1)

	_, err := provider.BlockMeta()
	var blockErr *BlockNotFoundError
	assert.True(t, errors.As(err, &blockErr))
	assert.Equal(t, fixture.AnchorHeight+1, blockErr.Number)
}
