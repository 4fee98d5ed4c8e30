package ethcall

import (
	"errors"
	"fmt"

	"github.com/0xsequence/ethkit/go-ethereum/accounts/abi"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethsim/ethexec"
	"github.com/goware/superr"
)

var (
	// ErrUpstream marks a failure to read chain state or headers from the
	// remote node.
	ErrUpstream = errors.New("upstream node unavailable")

	// ErrBadCall marks a malformed or contradictory call object.
	ErrBadCall = errors.New("invalid call arguments")

	// ErrExecutionFailed marks a simulated transaction that did not complete
	// successfully for a reason other than an explicit revert: out of gas,
	// invalid opcode, insufficient funds, bad nonce. Distinguishable from
	// ErrUpstream and ErrBadCall by errors.Is.
	ErrExecutionFailed = errors.New("execution failed")
)

const (
	errCodeInvalidParams = -32602
	errCodeReverted      = 3
)

// invalidParamsError is returned for malformed requests and for simulations
// that could not be set up, upstream trouble included. The upstream case
// folding into invalid-params mirrors how the proxy has always reported
// provider failures to its callers.
type invalidParamsError struct{ err error }

func (e *invalidParamsError) Error() string  { return e.err.Error() }
func (e *invalidParamsError) ErrorCode() int { return errCodeInvalidParams }
func (e *invalidParamsError) Unwrap() error  { return e.err }

func newInvalidParamsError(sentinel, err error) *invalidParamsError {
	return &invalidParamsError{err: superr.Wrap(sentinel, err)}
}

// UpstreamError classifies a remote node failure under the same invalid
// params taxonomy the simulator uses.
func UpstreamError(err error) error {
	return newInvalidParamsError(ErrUpstream, err)
}

// revertError is an API error carrying an EVM revert: JSON error code 3 and
// the raw revert payload as hex data.
type revertError struct {
	error
	reason string // revert data, hex encoded
}

func (e *revertError) ErrorCode() int { return errCodeReverted }

func (e *revertError) ErrorData() any { return e.reason }

func newRevertError(revert []byte) *revertError {
	err := ethexec.ErrExecutionReverted

	reason, errUnpack := abi.UnpackRevert(revert)
	if errUnpack == nil {
		err = fmt.Errorf("%w: %v", ethexec.ErrExecutionReverted, reason)
	}
	return &revertError{
		error:  err,
		reason: hexutil.Encode(revert),
	}
}
