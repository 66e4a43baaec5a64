package state

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

/*
stateOverlay holds the hypothetical writes made during simulated execution. It is a mapping layered strictly on top
of the remote-backed cache and keyed identically to it; reads check the overlay first and fall through to the cache
on a miss. Keeping the overlay as its own structure, rather than mutating the cache, mechanically enforces the
invariant that remotely fetched base state is read-only.
*/
type stateOverlay struct {
	balances map[common.Address]*uint256.Int
	nonces   map[common.Address]uint64
	slots    map[common.Address]map[common.Hash]common.Hash
}

func newStateOverlay() *stateOverlay {
	return &stateOverlay{
		balances: make(map[common.Address]*uint256.Int),
		nonces:   make(map[common.Address]uint64),
		slots:    make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (o *stateOverlay) balance(addr common.Address) (*uint256.Int, bool) {
	balance, ok := o.balances[addr]
	return balance, ok
}

func (o *stateOverlay) setBalance(addr common.Address, balance *uint256.Int) {
	o.balances[addr] = balance.Clone()
}

func (o *stateOverlay) nonce(addr common.Address) (uint64, bool) {
	nonce, ok := o.nonces[addr]
	return nonce, ok
}

func (o *stateOverlay) setNonce(addr common.Address, nonce uint64) {
	o.nonces[addr] = nonce
}

func (o *stateOverlay) slot(addr common.Address, slot common.Hash) (common.Hash, bool) {
	if slotLookup, ok := o.slots[addr]; ok {
		if data, ok := slotLookup[slot]; ok {
			return data, true
		}
	}
	return common.Hash{}, false
}

func (o *stateOverlay) setSlot(addr common.Address, slot common.Hash, data common.Hash) {
	if _, ok := o.slots[addr]; !ok {
		o.slots[addr] = make(map[common.Hash]common.Hash)
	}
	o.slots[addr][slot] = data
}

// modifiedAccounts returns every address touched by an overlay write, in deterministic (byte-wise) order.
func (o *stateOverlay) modifiedAccounts() []common.Address {
	touched := make(map[common.Address]struct{})
	for addr := range o.balances {
		touched[addr] = struct{}{}
	}
	for addr := range o.nonces {
		touched[addr] = struct{}{}
	}
	for addr := range o.slots {
		touched[addr] = struct{}{}
	}

	accounts := maps.Keys(touched)
	slices.SortFunc(accounts, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return accounts
}

// reset discards every hypothetical write, restoring reads to the remote-backed base state.
func (o *stateOverlay) reset() {
	o.balances = make(map[common.Address]*uint256.Int)
	o.nonces = make(map[common.Address]uint64)
	o.slots = make(map[common.Address]map[common.Hash]common.Hash)
}
