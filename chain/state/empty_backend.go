package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/evmsim/evmsim/chain/state/cache"
)

// EmptyBackend is a StateBackend that reports every account as empty, matching what an RPC node returns for
// never-touched state. Useful for running simulations with no remote fork behind them.
type EmptyBackend struct{}

func (d EmptyBackend) GetBalance(addr common.Address, height uint64) (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}

func (d EmptyBackend) GetNonce(addr common.Address, height uint64) (uint64, error) {
	return 0, nil
}

func (d EmptyBackend) GetCode(addr common.Address, height uint64) ([]byte, error) {
	return []byte{}, nil
}

func (d EmptyBackend) GetStorageAt(addr common.Address, slot common.Hash, height uint64) (common.Hash, error) {
	return common.Hash{}, nil
}

func (d EmptyBackend) GetBlockMeta(height uint64) (*cache.BlockMeta, error) {
	return &cache.BlockMeta{
		Number:  height,
		BaseFee: uint256.NewInt(0),
	}, nil
}
