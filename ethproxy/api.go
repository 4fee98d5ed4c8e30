package ethproxy

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/0xsequence/ethkit/ethrpc"
	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethkit/go-ethereum/rpc"
	"github.com/0xsequence/ethsim/ethcall"
	"github.com/0xsequence/ethsim/ethstate"
	"github.com/goware/logger"
)

// EthAPI is the eth_ namespace of the proxy. eth_call and eth_estimateGas
// are simulated locally; everything else on the surface relays to the
// upstream node verbatim.
type EthAPI struct {
	log      logger.Logger
	sim      *ethcall.Simulator
	provider *ethrpc.Provider
	chainID  *big.Int
}

func NewEthAPI(log logger.Logger, sim *ethcall.Simulator, provider *ethrpc.Provider, chainID *big.Int) *EthAPI {
	return &EthAPI{
		log:      log,
		sim:      sim,
		provider: provider,
		chainID:  new(big.Int).Set(chainID),
	}
}

// Call simulates a message call at the referenced block, latest by default.
func (a *EthAPI) Call(ctx context.Context, args ethcall.CallArgs, blockRef *rpc.BlockNumberOrHash, overrides *ethstate.StateOverride) (hexutil.Bytes, error) {
	return a.sim.Call(ctx, args, blockRefOrLatest(blockRef), derefOverrides(overrides))
}

// EstimateGas simulates the call once and returns the gas it consumed.
func (a *EthAPI) EstimateGas(ctx context.Context, args ethcall.CallArgs, blockRef *rpc.BlockNumberOrHash, overrides *ethstate.StateOverride) (hexutil.Uint64, error) {
	return a.sim.EstimateGas(ctx, args, blockRefOrLatest(blockRef), derefOverrides(overrides))
}

// ChainId reports the configured chain id without a round trip upstream.
func (a *EthAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(new(big.Int).Set(a.chainID))
}

func (a *EthAPI) BlockNumber(ctx context.Context) (json.RawMessage, error) {
	return a.relay(ctx, "eth_blockNumber")
}

func (a *EthAPI) GasPrice(ctx context.Context) (json.RawMessage, error) {
	return a.relay(ctx, "eth_gasPrice")
}

func (a *EthAPI) MaxPriorityFeePerGas(ctx context.Context) (json.RawMessage, error) {
	return a.relay(ctx, "eth_maxPriorityFeePerGas")
}

func (a *EthAPI) GetBalance(ctx context.Context, addr common.Address, blockRef *rpc.BlockNumberOrHash) (json.RawMessage, error) {
	return a.relay(ctx, "eth_getBalance", addr, blockRefArg(blockRef))
}

func (a *EthAPI) GetTransactionCount(ctx context.Context, addr common.Address, blockRef *rpc.BlockNumberOrHash) (json.RawMessage, error) {
	return a.relay(ctx, "eth_getTransactionCount", addr, blockRefArg(blockRef))
}

func (a *EthAPI) GetLogs(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	return a.relay(ctx, "eth_getLogs", filter)
}

func (a *EthAPI) GetBlockByNumber(ctx context.Context, blockNum rpc.BlockNumber, fullTx bool) (json.RawMessage, error) {
	var arg any = hexutil.EncodeUint64(uint64(blockNum))
	if blockNum < 0 {
		arg = blockNum.String()
	}
	return a.relay(ctx, "eth_getBlockByNumber", arg, fullTx)
}

func (a *EthAPI) GetTransactionReceipt(ctx context.Context, hash common.Hash) (json.RawMessage, error) {
	return a.relay(ctx, "eth_getTransactionReceipt", hash)
}

// relay forwards a request upstream and hands the raw result back untouched.
func (a *EthAPI) relay(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	_, err := a.provider.Do(ctx, ethrpc.NewCallBuilder[json.RawMessage](method, nil, params...).Into(&raw))
	if err != nil {
		a.log.Warnf("ethproxy: relay %s failed: %v", method, err)
		return nil, ethcall.UpstreamError(err)
	}
	return raw, nil
}

func blockRefOrLatest(ref *rpc.BlockNumberOrHash) rpc.BlockNumberOrHash {
	if ref != nil {
		return *ref
	}
	return rpc.BlockNumberOrHashWithNumber(rpc.LatestBlockNumber)
}

// blockRefArg renders a block reference as the canonical wire param: a hash,
// a tag, or a hex quantity.
func blockRefArg(ref *rpc.BlockNumberOrHash) any {
	r := blockRefOrLatest(ref)
	if hash, ok := r.Hash(); ok {
		return hash
	}
	blockNum, _ := r.Number()
	if blockNum < 0 {
		return blockNum.String()
	}
	return hexutil.EncodeUint64(uint64(blockNum))
}

func derefOverrides(overrides *ethstate.StateOverride) ethstate.StateOverride {
	if overrides != nil {
		return *overrides
	}
	return nil
}
