package simulation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/evmsim/evmsim/logging"
)

var (
	// wethAddress is the canonical mainnet WETH9 contract.
	wethAddress = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	// holderAddress is the account the scenario simulates a deposit for.
	holderAddress = common.HexToAddress("0xa6715EAFe5D215B82cb9e90A9d6c8970A7C90033")
)

// wethBalanceOfSlot is the index of WETH9's balanceOf mapping in contract storage.
const wethBalanceOfSlot = 3

// depositAmountWei is the hypothetical deposit the scenario layers on top of the forked state.
const depositAmountWei = 77_777_777

/*
runScenario is the fixed demonstration: read the anchored block's metadata, the holder's ether and WETH balances
and the WETH contract code through the provider, then simulate a WETH deposit as overlay writes, and finally
discard the hypothetical writes and confirm the remote-backed base state is unchanged. Every step is emitted as a
structured trace event.
*/
func (s *Simulation) runScenario() error {
	meta, err := s.provider.BlockMeta()
	if err != nil {
		return errors.WithMessage(err, "could not read anchored block metadata")
	}
	s.logger.Info("anchored block", logging.StructuredLogInfo{
		"number":    meta.Number,
		"hash":      meta.Hash.Hex(),
		"timestamp": meta.Timestamp,
		"baseFee":   meta.BaseFee.String(),
		"gasLimit":  meta.GasLimit,
	})

	// Account-level reads for the holder.
	etherBalance, err := s.provider.GetBalance(holderAddress)
	if err != nil {
		return errors.WithMessage(err, "could not read holder balance")
	}
	nonce, err := s.provider.GetNonce(holderAddress)
	if err != nil {
		return errors.WithMessage(err, "could not read holder nonce")
	}
	s.logger.Info("holder account", logging.StructuredLogInfo{
		"address": holderAddress.Hex(),
		"wei":     etherBalance.String(),
		"ether":   formatEther(etherBalance),
		"nonce":   nonce,
	})

	// Contract code, cached canonically under its hash.
	code, err := s.provider.GetCode(wethAddress)
	if err != nil {
		return errors.WithMessage(err, "could not read WETH code")
	}
	codeHash, err := s.provider.GetCodeHash(wethAddress)
	if err != nil {
		return errors.WithMessage(err, "could not read WETH code hash")
	}
	s.logger.Info("WETH contract", logging.StructuredLogInfo{
		"address":  wethAddress.Hex(),
		"codeSize": len(code),
		"codeHash": codeHash.Hex(),
	})

	// The holder's WETH balance lives in the balanceOf mapping; its slot is derivable without executing any code.
	slot := mappingSlot(holderAddress, wethBalanceOfSlot)
	wethBalanceData, err := s.provider.GetStorageAt(wethAddress, slot)
	if err != nil {
		return errors.WithMessage(err, "could not read holder WETH balance slot")
	}
	wethBalance := new(uint256.Int).SetBytes(wethBalanceData.Bytes())
	s.logger.Info("holder WETH balance", logging.StructuredLogInfo{
		"slot": slot.Hex(),
		"wei":  wethBalance.String(),
	})

	// Simulate the deposit as hypothetical writes layered over the forked base state.
	amount := uint256.NewInt(depositAmountWei)
	if etherBalance.Lt(amount) {
		s.logger.Warn("holder cannot fund the full deposit, depositing its entire balance instead")
		amount = etherBalance.Clone()
	}

	contractBalance, err := s.provider.GetBalance(wethAddress)
	if err != nil {
		return errors.WithMessage(err, "could not read WETH contract balance")
	}

	s.provider.SetBalance(holderAddress, new(uint256.Int).Sub(etherBalance, amount))
	s.provider.SetBalance(wethAddress, new(uint256.Int).Add(contractBalance, amount))
	s.provider.SetNonce(holderAddress, nonce+1)
	newWethBalance := new(uint256.Int).Add(wethBalance, amount)
	s.provider.SetStorageAt(wethAddress, slot, common.Hash(newWethBalance.Bytes32()))

	// Read everything back through the provider: the overlay must take precedence over the fetched base values.
	simulatedEther, err := s.provider.GetBalance(holderAddress)
	if err != nil {
		return err
	}
	simulatedWethData, err := s.provider.GetStorageAt(wethAddress, slot)
	if err != nil {
		return err
	}
	s.logger.Info("simulated WETH deposit", logging.StructuredLogInfo{
		"depositWei":  amount.String(),
		"holderWei":   simulatedEther.String(),
		"holderEther": formatEther(simulatedEther),
		"wethWei":     new(uint256.Int).SetBytes(simulatedWethData.Bytes()).String(),
	})

	modified := s.provider.ModifiedAccounts()
	touched := make([]string, len(modified))
	for i, addr := range modified {
		touched[i] = addr.Hex()
	}
	s.logger.Info("accounts touched by hypothetical writes", logging.StructuredLogInfo{"accounts": touched})

	// Discard the hypothetical writes; reads must fall back to the unchanged remote-backed base state without
	// issuing any new fetches.
	s.provider.DiscardWrites()
	restoredEther, err := s.provider.GetBalance(holderAddress)
	if err != nil {
		return err
	}
	if !restoredEther.Eq(etherBalance) {
		return errors.Errorf(
			"base state changed under a fixed anchor: holder balance was %s, now %s",
			etherBalance.String(), restoredEther.String(),
		)
	}
	s.logger.Info("hypothetical writes discarded, base state intact", logging.StructuredLogInfo{
		"holderWei": restoredEther.String(),
	})

	return nil
}

// mappingSlot derives the storage slot of key in a solidity mapping occupying the given slot index.
func mappingSlot(key common.Address, slotIndex uint64) common.Hash {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(key.Bytes(), 32),
		common.LeftPadBytes(uint256.NewInt(slotIndex).Bytes(), 32),
	)
}

// formatEther renders a wei amount as a decimal ether string.
func formatEther(wei *uint256.Int) string {
	return decimal.NewFromBigInt(wei.ToBig(), -18).String()
}
