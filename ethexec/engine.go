package ethexec

import (
	"context"
	"math/big"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DefaultGasLimit is the execution gas cap applied when the caller does not
// supply an explicit gas value.
const DefaultGasLimit = uint64(50_000_000)

// Intent is a fully-resolved simulation request: every optional field of the
// caller's call object has been defaulted, so the engine runs it as-is.
type Intent struct {
	Caller   common.Address
	To       *common.Address // nil means contract creation
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int

	// Nonce is non-nil only when the caller supplied one explicitly, in
	// which case it is checked against the account nonce in state.
	Nonce *uint64
}

// BlockEnv is the execution environment of the pinned block: the header
// fields the engine exposes through block-context opcodes, plus the chain id
// the simulated chain reports.
type BlockEnv struct {
	ChainID     *big.Int
	Number      *big.Int
	Time        uint64
	GasLimit    uint64
	Coinbase    common.Address
	Difficulty  *big.Int
	BaseFee     *big.Int
	Random      *common.Hash
	BlobBaseFee *big.Int

	// GetHash serves BLOCKHASH lookups. May be nil, in which case the
	// opcode observes zero hashes.
	GetHash func(uint64) common.Hash
}

// StateView is the read surface the engine executes against. Implemented by
// ethstate.Overlay; reads are lazy and may fail on upstream trouble, which
// the engine records and reports as a setup failure.
type StateView interface {
	Account(ctx context.Context, addr common.Address) (*Account, error)
	Storage(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error)
}

// Account mirrors ethstate.Account without importing it, keeping the engine
// decoupled from the state layer.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
}

// Outcome is the result of one simulated execution. Err is the execution
// failure (revert, out of gas, insufficient funds), not a transport or setup
// problem; those are returned as Run's error instead.
type Outcome struct {
	UsedGas    uint64
	ReturnData []byte
	Err        error
}

// Engine executes call intents against a state view. The implementation in
// this package drives a full EVM; tests substitute lighter fakes.
type Engine interface {
	Run(ctx context.Context, env *BlockEnv, intent *Intent, view StateView) (*Outcome, error)
}
