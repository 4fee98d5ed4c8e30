package ethcall

import (
	"errors"

	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethsim/ethexec"
	"github.com/goware/superr"
)

// callResult maps an execution outcome to the eth_call wire result. A revert
// becomes a code-3 error carrying the raw revert payload; any other halt
// (out of gas, invalid opcode, rejected message) surfaces as a plain error
// and keeps the server's default error code.
func callResult(outcome *ethexec.Outcome) (hexutil.Bytes, error) {
	if outcome.Err != nil {
		return nil, outcomeError(outcome)
	}
	return outcome.ReturnData, nil
}

// estimateResult maps an outcome to the eth_estimateGas result: the gas the
// single execution actually consumed.
func estimateResult(outcome *ethexec.Outcome) (hexutil.Uint64, error) {
	if outcome.Err != nil {
		return 0, outcomeError(outcome)
	}
	return hexutil.Uint64(outcome.UsedGas), nil
}

func outcomeError(outcome *ethexec.Outcome) error {
	if errors.Is(outcome.Err, ethexec.ErrExecutionReverted) {
		return newRevertError(outcome.ReturnData)
	}
	return superr.Wrap(ErrExecutionFailed, outcome.Err)
}
