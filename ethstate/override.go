package ethstate

import (
	"fmt"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// OverrideAccount is the caller-supplied override for one address. A balance
// override replaces only the balance; the account's nonce and code are still
// fetched from the upstream node. StateDiff entries replace individual slots
// and shadow the remote values entirely.
type OverrideAccount struct {
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

// StateOverride is the third, optional parameter of eth_call and
// eth_estimateGas, keyed by address.
type StateOverride map[common.Address]OverrideAccount

// Apply records the overrides on the overlay. Overridden values shadow
// fetched state whether or not the key has already been read, and applying
// the same set again changes nothing.
func (so StateOverride) Apply(o *Overlay) error {
	if len(so) == 0 {
		return nil
	}

	balances := map[common.Address]*Account{}
	for addr, override := range so {
		if override.Balance != nil {
			if override.Balance.ToInt().Sign() < 0 {
				return fmt.Errorf("ethstate: negative balance override for %s", addr)
			}
			balance, overflow := uint256.FromBig(override.Balance.ToInt())
			if overflow {
				return fmt.Errorf("ethstate: balance override for %s overflows u256", addr)
			}
			balances[addr] = &Account{Balance: balance}
		}
		for key, value := range override.StateDiff {
			o.stateDiff[storageKey{addr: addr, key: key}] = value
		}
	}
	o.balanceOverride = balances
	return nil
}
