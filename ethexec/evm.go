package ethexec

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/goware/logger"
)

// ErrExecutionReverted marks an outcome whose return data is an ABI-encoded
// revert payload.
var ErrExecutionReverted = vm.ErrExecutionReverted

// EVM is the Engine backed by a full Ethereum Virtual Machine. It is
// stateless across runs; each Run builds a fresh chain-config snapshot,
// block context and state adapter around the given view.
type EVM struct {
	log logger.Logger
}

var _ Engine = (*EVM)(nil)

func NewEVM(log logger.Logger) *EVM {
	return &EVM{log: log}
}

// Run executes the intent against the view inside the pinned block
// environment. The returned error covers setup problems only (bad
// environment, upstream reads failing); execution failures, reverts
// included, travel in Outcome.Err.
func (e *EVM) Run(ctx context.Context, env *BlockEnv, intent *Intent, view StateView) (*Outcome, error) {
	if env.ChainID == nil {
		return nil, fmt.Errorf("ethexec: block env missing chain id")
	}

	statedb := newStateDB(ctx, view)
	msg := e.toMessage(intent, statedb)
	if statedb.Error() != nil {
		return nil, fmt.Errorf("ethexec: resolve sender nonce: %w", statedb.Error())
	}

	evm := vm.NewEVM(e.blockContext(env, msg), statedb, e.chainConfig(env.ChainID), vm.Config{NoBaseFee: true})
	evm.SetTxContext(core.NewEVMTxContext(msg))

	// propagate caller cancellation into the interpreter
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			evm.Cancel()
		case <-done:
		}
	}()

	result, err := core.ApplyMessage(evm, msg, new(core.GasPool).AddGas(msg.GasLimit))
	if evm.Cancelled() {
		return nil, fmt.Errorf("ethexec: execution aborted: %w", ctx.Err())
	}
	if dbErr := statedb.Error(); dbErr != nil {
		return nil, fmt.Errorf("ethexec: state unavailable: %w", dbErr)
	}
	if err != nil {
		// pre-execution rejection: insufficient funds, bad nonce, intrinsic gas
		return &Outcome{Err: err}, nil
	}

	e.log.Debugf("ethexec: executed call from=%s to=%v gasUsed=%d err=%v",
		intent.Caller, intent.To, result.UsedGas, result.Err)

	return &Outcome{
		UsedGas:    result.UsedGas,
		ReturnData: result.ReturnData,
		Err:        result.Err,
	}, nil
}

func (e *EVM) toMessage(intent *Intent, statedb *stateDB) *core.Message {
	msg := &core.Message{
		From:             common.Address(intent.Caller),
		Value:            new(big.Int),
		Data:             intent.Data,
		GasLimit:         intent.GasLimit,
		GasPrice:         new(big.Int),
		GasFeeCap:        new(big.Int),
		GasTipCap:        new(big.Int),
		BlobGasFeeCap:    new(big.Int),
		SkipFromEOACheck: true,
	}
	if intent.To != nil {
		to := common.Address(*intent.To)
		msg.To = &to
	}
	if intent.Value != nil {
		msg.Value.Set(intent.Value)
	}
	if intent.GasPrice != nil {
		msg.GasPrice.Set(intent.GasPrice)
		msg.GasFeeCap.Set(intent.GasPrice)
		msg.GasTipCap.Set(intent.GasPrice)
	}
	if intent.Nonce != nil {
		msg.Nonce = *intent.Nonce
	} else {
		msg.Nonce = statedb.GetNonce(msg.From)
		msg.SkipNonceChecks = true
	}
	return msg
}

func (e *EVM) blockContext(env *BlockEnv, msg *core.Message) vm.BlockContext {
	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		Coinbase:    common.Address(env.Coinbase),
		BlockNumber: new(big.Int).Set(env.Number),
		Time:        env.Time,
		GasLimit:    env.GasLimit,
		Difficulty:  new(big.Int),
		BaseFee:     new(big.Int),
		BlobBaseFee: new(big.Int),
	}
	if env.Difficulty != nil {
		blockCtx.Difficulty.Set(env.Difficulty)
	}
	if env.BaseFee != nil && msg.GasPrice.Sign() > 0 {
		// a zero gas price call runs fee-free, so the base fee is dropped too
		blockCtx.BaseFee.Set(env.BaseFee)
	}
	if env.BlobBaseFee != nil {
		blockCtx.BlobBaseFee.Set(env.BlobBaseFee)
	}

	random := common.Hash{}
	if env.Random != nil {
		random = common.Hash(*env.Random)
	}
	blockCtx.Random = &random

	if env.GetHash != nil {
		getHash := env.GetHash
		blockCtx.GetHash = func(n uint64) common.Hash {
			return common.Hash(getHash(n))
		}
	} else {
		blockCtx.GetHash = func(uint64) common.Hash { return common.Hash{} }
	}
	return blockCtx
}

func (e *EVM) chainConfig(chainID *big.Int) *params.ChainConfig {
	cfg := *params.MainnetChainConfig
	cfg.ChainID = new(big.Int).Set(chainID)
	return &cfg
}
