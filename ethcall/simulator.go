package ethcall

import (
	"context"
	"math/big"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethkit/go-ethereum/core/types"
	"github.com/0xsequence/ethkit/go-ethereum/rpc"
	"github.com/0xsequence/ethsim/ethexec"
	"github.com/0xsequence/ethsim/ethstate"
	"github.com/goware/logger"
)

// Backend is the upstream surface a simulation needs: pinned state reads
// plus block reference resolution.
type Backend interface {
	ethstate.Source
	HeaderByRef(ctx context.Context, ref rpc.BlockNumberOrHash) (*types.Header, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
}

// Simulator runs eth_call and eth_estimateGas against a fresh lazy overlay
// per request. Stateless between requests; safe for concurrent use.
type Simulator struct {
	log     logger.Logger
	backend Backend
	engine  ethexec.Engine
	chainID *big.Int
	warm    *ethstate.WarmCache
}

type SimulatorOption func(*Simulator)

// WithWarmCache serves pre-fetched accounts out of the given cache when a
// simulation is pinned to the block the cache was captured at.
func WithWarmCache(warm *ethstate.WarmCache) SimulatorOption {
	return func(s *Simulator) {
		s.warm = warm
	}
}

func NewSimulator(log logger.Logger, backend Backend, engine ethexec.Engine, chainID *big.Int, options ...SimulatorOption) *Simulator {
	s := &Simulator{
		log:     log,
		backend: backend,
		engine:  engine,
		chainID: new(big.Int).Set(chainID),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Simulator) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Call simulates the call at the referenced block and returns its output.
func (s *Simulator) Call(ctx context.Context, args CallArgs, blockRef rpc.BlockNumberOrHash, overrides ethstate.StateOverride) (hexutil.Bytes, error) {
	outcome, err := s.execute(ctx, args, blockRef, overrides)
	if err != nil {
		return nil, err
	}
	return callResult(outcome)
}

// EstimateGas simulates the call once and reports the gas it consumed.
func (s *Simulator) EstimateGas(ctx context.Context, args CallArgs, blockRef rpc.BlockNumberOrHash, overrides ethstate.StateOverride) (hexutil.Uint64, error) {
	outcome, err := s.execute(ctx, args, blockRef, overrides)
	if err != nil {
		return 0, err
	}
	return estimateResult(outcome)
}

func (s *Simulator) execute(ctx context.Context, args CallArgs, blockRef rpc.BlockNumberOrHash, overrides ethstate.StateOverride) (*ethexec.Outcome, error) {
	intent, err := args.Intent()
	if err != nil {
		return nil, newInvalidParamsError(ErrBadCall, err)
	}

	// resolve the reference once; everything below is pinned to this header
	header, err := s.backend.HeaderByRef(ctx, blockRef)
	if err != nil {
		return nil, newInvalidParamsError(ErrUpstream, err)
	}

	options := []ethstate.OverlayOption{}
	if s.warm != nil {
		options = append(options, ethstate.WithWarmCache(s.warm))
	}
	overlay := ethstate.NewOverlay(s.backend, header.Number, options...)
	if err := overrides.Apply(overlay); err != nil {
		return nil, newInvalidParamsError(ErrBadCall, err)
	}

	outcome, err := s.engine.Run(ctx, s.blockEnv(ctx, header), intent, overlayView{overlay})
	if err != nil {
		return nil, newInvalidParamsError(ErrUpstream, err)
	}
	return outcome, nil
}

func (s *Simulator) blockEnv(ctx context.Context, header *types.Header) *ethexec.BlockEnv {
	random := header.MixDigest
	env := &ethexec.BlockEnv{
		ChainID:    s.chainID,
		Number:     header.Number,
		Time:       header.Time,
		GasLimit:   header.GasLimit,
		Coinbase:   header.Coinbase,
		Difficulty: header.Difficulty,
		BaseFee:    header.BaseFee,
		Random:     &random,
	}

	pinned := header.Number.Uint64()
	pinnedHash := header.Hash()
	env.GetHash = func(n uint64) common.Hash {
		if n == pinned {
			return pinnedHash
		}
		hash, err := s.backend.BlockHash(ctx, n)
		if err != nil {
			s.log.Warnf("ethcall: blockhash lookup for %d failed: %v", n, err)
			return common.Hash{}
		}
		return hash
	}
	return env
}

// overlayView exposes an ethstate overlay through the engine's state
// interface.
type overlayView struct {
	overlay *ethstate.Overlay
}

func (v overlayView) Account(ctx context.Context, addr common.Address) (*ethexec.Account, error) {
	account, err := v.overlay.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &ethexec.Account{
		Balance: account.Balance,
		Nonce:   account.Nonce,
		Code:    account.Code,
	}, nil
}

func (v overlayView) Storage(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	return v.overlay.Storage(ctx, addr, key)
}
