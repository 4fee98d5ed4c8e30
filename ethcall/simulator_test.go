package ethcall_test

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethkit/go-ethereum/core/types"
	"github.com/0xsequence/ethkit/go-ethereum/rpc"
	"github.com/0xsequence/ethsim/ethcall"
	"github.com/0xsequence/ethsim/ethexec"
	"github.com/0xsequence/ethsim/ethstate"
	"github.com/goware/logger"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var log = logger.NewLogger(logger.LogLevel_INFO)

// rpcError is the JSON-RPC error surface served to clients.
type rpcError interface {
	error
	ErrorCode() int
}

type fakeBackend struct {
	head      *types.Header
	headerErr error

	accounts map[common.Address]*ethstate.Account
	storage  map[common.Address]map[common.Hash]common.Hash
	stateErr error

	headerRefs []rpc.BlockNumberOrHash
}

func newFakeBackend(headNum int64) *fakeBackend {
	return &fakeBackend{
		head: &types.Header{
			Number:     big.NewInt(headNum),
			GasLimit:   30_000_000,
			Time:       1_720_000_000,
			Difficulty: big.NewInt(0),
			BaseFee:    big.NewInt(1_000_000_000),
		},
		accounts: map[common.Address]*ethstate.Account{},
		storage:  map[common.Address]map[common.Hash]common.Hash{},
	}
}

func (b *fakeBackend) Account(ctx context.Context, addr common.Address, blockNum *big.Int) (*ethstate.Account, error) {
	if b.stateErr != nil {
		return nil, b.stateErr
	}
	if account, ok := b.accounts[addr]; ok {
		return account.Copy(), nil
	}
	return &ethstate.Account{Balance: uint256.NewInt(0)}, nil
}

func (b *fakeBackend) StorageAt(ctx context.Context, addr common.Address, key common.Hash, blockNum *big.Int) (common.Hash, error) {
	if b.stateErr != nil {
		return common.Hash{}, b.stateErr
	}
	return b.storage[addr][key], nil
}

func (b *fakeBackend) HeaderByRef(ctx context.Context, ref rpc.BlockNumberOrHash) (*types.Header, error) {
	b.headerRefs = append(b.headerRefs, ref)
	if b.headerErr != nil {
		return nil, b.headerErr
	}
	return b.head, nil
}

func (b *fakeBackend) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	return common.Hash{}, fmt.Errorf("not found")
}

// recordingEngine captures what the simulator hands to the engine.
type recordingEngine struct {
	env     *ethexec.BlockEnv
	intent  *ethexec.Intent
	view    ethexec.StateView
	outcome *ethexec.Outcome
	err     error
}

func (e *recordingEngine) Run(ctx context.Context, env *ethexec.BlockEnv, intent *ethexec.Intent, view ethexec.StateView) (*ethexec.Outcome, error) {
	e.env = env
	e.intent = intent
	e.view = view
	if e.err != nil {
		return nil, e.err
	}
	if e.outcome != nil {
		return e.outcome, nil
	}
	return &ethexec.Outcome{}, nil
}

func latest() rpc.BlockNumberOrHash {
	return rpc.BlockNumberOrHashWithNumber(rpc.LatestBlockNumber)
}

func TestSimulatorPinsResolvedHeader(t *testing.T) {
	backend := newFakeBackend(42)
	engine := &recordingEngine{outcome: &ethexec.Outcome{ReturnData: []byte{0x01}}}
	sim := ethcall.NewSimulator(log, backend, engine, big.NewInt(1))

	ret, err := sim.Call(context.Background(), ethcall.CallArgs{}, latest(), nil)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes{0x01}, ret)

	// the reference was resolved exactly once and the env carries the header
	require.Len(t, backend.headerRefs, 1)
	require.NotNil(t, engine.env)
	assert.Equal(t, int64(42), engine.env.Number.Int64())
	assert.Equal(t, uint64(1_720_000_000), engine.env.Time)
	assert.Equal(t, big.NewInt(1), engine.env.ChainID)

	// BLOCKHASH of the pinned block is the header's own hash
	assert.Equal(t, backend.head.Hash(), engine.env.GetHash(42))
	assert.Equal(t, common.Hash{}, engine.env.GetHash(41))
}

func TestSimulatorAppliesOverridesToView(t *testing.T) {
	addr := common.HexToAddress("0x01")
	backend := newFakeBackend(10)
	backend.accounts[addr] = &ethstate.Account{Balance: uint256.NewInt(1), Nonce: 8}

	engine := &recordingEngine{}
	sim := ethcall.NewSimulator(log, backend, engine, big.NewInt(1))

	overrides := ethstate.StateOverride{
		addr: {Balance: (*hexutil.Big)(big.NewInt(5_000))},
	}
	_, err := sim.Call(context.Background(), ethcall.CallArgs{}, latest(), overrides)
	require.NoError(t, err)

	account, err := engine.view.Account(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(5_000), account.Balance)
	assert.Equal(t, uint64(8), account.Nonce)
}

func TestSimulatorUpstreamFailureIsInvalidParams(t *testing.T) {
	backend := newFakeBackend(1)
	backend.headerErr = fmt.Errorf("dial tcp: connection refused")
	sim := ethcall.NewSimulator(log, backend, &recordingEngine{}, big.NewInt(1))

	_, err := sim.Call(context.Background(), ethcall.CallArgs{}, latest(), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ethcall.ErrUpstream)

	rpcErr, ok := err.(rpcError)
	require.True(t, ok)
	assert.Equal(t, -32602, rpcErr.ErrorCode())
}

func TestSimulatorEngineSetupFailureIsInvalidParams(t *testing.T) {
	backend := newFakeBackend(1)
	engine := &recordingEngine{err: fmt.Errorf("state unavailable")}
	sim := ethcall.NewSimulator(log, backend, engine, big.NewInt(1))

	_, err := sim.EstimateGas(context.Background(), ethcall.CallArgs{}, latest(), nil)
	require.Error(t, err)

	rpcErr, ok := err.(rpcError)
	require.True(t, ok)
	assert.Equal(t, -32602, rpcErr.ErrorCode())
}

func TestSimulatorMalformedArgsIsInvalidParams(t *testing.T) {
	backend := newFakeBackend(1)
	sim := ethcall.NewSimulator(log, backend, &recordingEngine{}, big.NewInt(1))

	input := hexutil.Bytes{0x01}
	data := hexutil.Bytes{0x02}
	_, err := sim.Call(context.Background(), ethcall.CallArgs{Input: &input, Data: &data}, latest(), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, ethcall.ErrBadCall)

	rpcErr, ok := err.(rpcError)
	require.True(t, ok)
	assert.Equal(t, -32602, rpcErr.ErrorCode())

	// the upstream is never consulted for a malformed call
	assert.Empty(t, backend.headerRefs)
}

func TestSimulatorRevertCarriesPayload(t *testing.T) {
	// Error("nope")
	payload := []byte{0x08, 0xc3, 0x79, 0xa0}
	payload = append(payload, common.LeftPadBytes([]byte{0x20}, 32)...)
	payload = append(payload, common.LeftPadBytes([]byte{0x04}, 32)...)
	payload = append(payload, common.RightPadBytes([]byte("nope"), 32)...)

	backend := newFakeBackend(1)
	engine := &recordingEngine{outcome: &ethexec.Outcome{
		UsedGas:    30_000,
		ReturnData: payload,
		Err:        ethexec.ErrExecutionReverted,
	}}
	sim := ethcall.NewSimulator(log, backend, engine, big.NewInt(1))

	_, err := sim.Call(context.Background(), ethcall.CallArgs{}, latest(), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "nope")

	rpcErr, ok := err.(rpcError)
	require.True(t, ok)
	assert.Equal(t, 3, rpcErr.ErrorCode())

	dataErr, ok := err.(interface{ ErrorData() any })
	require.True(t, ok)
	assert.Equal(t, hexutil.Encode(payload), dataErr.ErrorData())
}

func TestSimulatorEstimateReportsGasUsed(t *testing.T) {
	backend := newFakeBackend(1)
	engine := &recordingEngine{outcome: &ethexec.Outcome{UsedGas: 53_221}}
	sim := ethcall.NewSimulator(log, backend, engine, big.NewInt(1))

	gas, err := sim.EstimateGas(context.Background(), ethcall.CallArgs{}, latest(), nil)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Uint64(53_221), gas)
}

func TestSimulatorExecutionHaltIsPlainError(t *testing.T) {
	backend := newFakeBackend(1)
	engine := &recordingEngine{outcome: &ethexec.Outcome{Err: fmt.Errorf("out of gas")}}
	sim := ethcall.NewSimulator(log, backend, engine, big.NewInt(1))

	_, err := sim.Call(context.Background(), ethcall.CallArgs{}, latest(), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "out of gas")
	assert.ErrorIs(t, err, ethcall.ErrExecutionFailed)

	_, ok := err.(rpcError)
	assert.False(t, ok, "vm halts keep the server's default error code")
}
