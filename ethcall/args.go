package ethcall

import (
	"bytes"
	"fmt"
	"math"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethsim/ethexec"
)

// CallArgs is the JSON call object of eth_call and eth_estimateGas. All
// fields are optional; Intent() resolves the defaults.
type CallArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Big    `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    *hexutil.Uint64 `json:"nonce"`

	// Data and Input carry the same payload. Input is the newer name and
	// wins when both are set; setting both to different payloads is a
	// malformed request.
	Data  *hexutil.Bytes `json:"data"`
	Input *hexutil.Bytes `json:"input"`
}

func (args *CallArgs) payload() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

// Intent resolves the call object into a runnable execution intent,
// defaulting the caller to the zero address, the gas limit to the engine
// default and the gas price to zero.
func (args *CallArgs) Intent() (*ethexec.Intent, error) {
	if args.Data != nil && args.Input != nil && !bytes.Equal(*args.Data, *args.Input) {
		return nil, fmt.Errorf(`both "data" and "input" are set and not equal. Please use "input" to pass transaction call data`)
	}

	intent := &ethexec.Intent{
		Data:     args.payload(),
		GasLimit: ethexec.DefaultGasLimit,
	}
	if args.From != nil {
		intent.Caller = *args.From
	}
	if args.To != nil {
		to := *args.To
		intent.To = &to
	}
	if args.Value != nil {
		intent.Value = args.Value.ToInt()
	}
	if args.GasPrice != nil {
		if args.GasPrice.ToInt().Sign() < 0 {
			return nil, fmt.Errorf("negative gas price")
		}
		intent.GasPrice = args.GasPrice.ToInt()
	}
	if args.Gas != nil {
		gas := args.Gas.ToInt()
		if gas.Sign() < 0 {
			return nil, fmt.Errorf("negative gas limit")
		}
		if gas.IsUint64() {
			intent.GasLimit = gas.Uint64()
		} else {
			// larger than any block could carry, clamp instead of reject
			intent.GasLimit = math.MaxUint64
		}
	}
	if args.Nonce != nil {
		nonce := uint64(*args.Nonce)
		intent.Nonce = &nonce
	}
	return intent, nil
}
