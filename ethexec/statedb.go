package ethexec

import (
	"context"
	"fmt"
	"maps"

	ekcommon "github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/stateless"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/trie/utils"
	"github.com/holiman/uint256"
)

// simAccount is the in-memory, mutable image of one account during a
// simulation. It starts as a copy of the view's account and absorbs every
// write the EVM makes.
type simAccount struct {
	balance        *uint256.Int
	nonce          uint64
	code           []byte
	exists         bool
	selfDestructed bool
	newContract    bool
}

func (a *simAccount) copy() *simAccount {
	cpy := *a
	cpy.balance = new(uint256.Int).Set(a.balance)
	return &cpy
}

func (a *simAccount) empty() bool {
	return a.nonce == 0 && a.balance.IsZero() && len(a.code) == 0
}

// simState holds all mutable execution state, so snapshots are plain deep
// copies pushed on a stack.
type simState struct {
	accounts  map[common.Address]*simAccount
	storage   map[common.Address]map[common.Hash]common.Hash
	transient map[common.Address]map[common.Hash]common.Hash
	refund    uint64
	logs      []*types.Log

	accessAddrs map[common.Address]struct{}
	accessSlots map[common.Address]map[common.Hash]struct{}
}

func newSimState() *simState {
	return &simState{
		accounts:    map[common.Address]*simAccount{},
		storage:     map[common.Address]map[common.Hash]common.Hash{},
		transient:   map[common.Address]map[common.Hash]common.Hash{},
		accessAddrs: map[common.Address]struct{}{},
		accessSlots: map[common.Address]map[common.Hash]struct{}{},
	}
}

func (s *simState) copy() *simState {
	cpy := &simState{
		accounts:    make(map[common.Address]*simAccount, len(s.accounts)),
		storage:     make(map[common.Address]map[common.Hash]common.Hash, len(s.storage)),
		transient:   make(map[common.Address]map[common.Hash]common.Hash, len(s.transient)),
		refund:      s.refund,
		logs:        make([]*types.Log, len(s.logs)),
		accessAddrs: maps.Clone(s.accessAddrs),
		accessSlots: make(map[common.Address]map[common.Hash]struct{}, len(s.accessSlots)),
	}
	for addr, account := range s.accounts {
		cpy.accounts[addr] = account.copy()
	}
	for addr, slots := range s.storage {
		cpy.storage[addr] = maps.Clone(slots)
	}
	for addr, slots := range s.transient {
		cpy.transient[addr] = maps.Clone(slots)
	}
	for addr, slots := range s.accessSlots {
		cpy.accessSlots[addr] = maps.Clone(slots)
	}
	copy(cpy.logs, s.logs)
	return cpy
}

// stateDB adapts a lazily-fetched StateView to the EVM's StateDB interface.
// Remote read failures are recorded on first occurrence and surfaced through
// Error() after the run; the EVM itself keeps going over zero values, the
// same discipline the node uses for database faults.
type stateDB struct {
	ctx  context.Context
	view StateView

	cur       *simState
	snapshots []*simState

	dbErr error
}

var _ vm.StateDB = (*stateDB)(nil)

func newStateDB(ctx context.Context, view StateView) *stateDB {
	return &stateDB{
		ctx:  ctx,
		view: view,
		cur:  newSimState(),
	}
}

func (s *stateDB) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

// Error returns the first remote read failure encountered, if any.
func (s *stateDB) Error() error {
	return s.dbErr
}

// account returns the mutable image of addr, loading it from the view on
// first touch. Never returns nil: on load failure the error is recorded and
// a zeroed image is used.
func (s *stateDB) account(addr common.Address) *simAccount {
	if account, ok := s.cur.accounts[addr]; ok {
		return account
	}

	account := &simAccount{balance: uint256.NewInt(0)}
	remote, err := s.view.Account(s.ctx, ekcommon.Address(addr))
	if err != nil {
		s.setError(fmt.Errorf("load account %s: %w", addr, err))
	} else {
		account.balance.Set(remote.Balance)
		account.nonce = remote.Nonce
		account.code = remote.Code
		account.exists = !account.empty()
	}

	s.cur.accounts[addr] = account
	return account
}

func (s *stateDB) CreateAccount(addr common.Address) {
	prev := s.account(addr)
	account := &simAccount{balance: new(uint256.Int).Set(prev.balance), exists: true}
	s.cur.accounts[addr] = account
}

func (s *stateDB) CreateContract(addr common.Address) {
	account := s.account(addr)
	account.newContract = true
	account.exists = true
	// shadow any pre-existing storage of the address
	s.cur.storage[addr] = map[common.Hash]common.Hash{}
}

func (s *stateDB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	account := s.account(addr)
	prev := *account.balance
	account.balance.Sub(account.balance, amount)
	return prev
}

func (s *stateDB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	account := s.account(addr)
	prev := *account.balance
	account.balance.Add(account.balance, amount)
	if !amount.IsZero() {
		account.exists = true
	}
	return prev
}

func (s *stateDB) GetBalance(addr common.Address) *uint256.Int {
	return new(uint256.Int).Set(s.account(addr).balance)
}

func (s *stateDB) GetNonce(addr common.Address) uint64 {
	return s.account(addr).nonce
}

func (s *stateDB) SetNonce(addr common.Address, nonce uint64, _ tracing.NonceChangeReason) {
	account := s.account(addr)
	account.nonce = nonce
	account.exists = true
}

func (s *stateDB) GetCodeHash(addr common.Address) common.Hash {
	account := s.account(addr)
	if !account.exists {
		return common.Hash{}
	}
	if len(account.code) == 0 {
		return types.EmptyCodeHash
	}
	return crypto.Keccak256Hash(account.code)
}

func (s *stateDB) GetCode(addr common.Address) []byte {
	return s.account(addr).code
}

func (s *stateDB) SetCode(addr common.Address, code []byte) []byte {
	account := s.account(addr)
	prev := account.code
	account.code = code
	account.exists = true
	return prev
}

func (s *stateDB) GetCodeSize(addr common.Address) int {
	return len(s.account(addr).code)
}

func (s *stateDB) AddRefund(gas uint64) {
	s.cur.refund += gas
}

func (s *stateDB) SubRefund(gas uint64) {
	if gas > s.cur.refund {
		panic(fmt.Sprintf("refund counter below zero (gas: %d > refund: %d)", gas, s.cur.refund))
	}
	s.cur.refund -= gas
}

func (s *stateDB) GetRefund() uint64 {
	return s.cur.refund
}

// GetCommittedState reads the pre-execution value of a slot, straight from
// the view and ignoring any writes made during this run.
func (s *stateDB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	value, err := s.view.Storage(s.ctx, ekcommon.Address(addr), ekcommon.Hash(key))
	if err != nil {
		s.setError(fmt.Errorf("load storage %s[%s]: %w", addr, key, err))
		return common.Hash{}
	}
	return common.Hash(value)
}

func (s *stateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := s.cur.storage[addr]; ok {
		if value, ok := slots[key]; ok {
			return value
		}
		if s.account(addr).newContract {
			// fresh contract storage starts empty
			return common.Hash{}
		}
	}
	return s.GetCommittedState(addr, key)
}

func (s *stateDB) SetState(addr common.Address, key common.Hash, value common.Hash) common.Hash {
	prev := s.GetState(addr, key)
	slots, ok := s.cur.storage[addr]
	if !ok {
		slots = map[common.Hash]common.Hash{}
		s.cur.storage[addr] = slots
	}
	slots[key] = value
	return prev
}

func (s *stateDB) GetStorageRoot(addr common.Address) common.Hash {
	// Roots are not derivable from a lazy remote view. Return the empty root
	// for fresh contracts, which is the only case the EVM acts on.
	account := s.account(addr)
	if !account.exists {
		return common.Hash{}
	}
	return types.EmptyRootHash
}

func (s *stateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := s.cur.transient[addr]; ok {
		return slots[key]
	}
	return common.Hash{}
}

func (s *stateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	slots, ok := s.cur.transient[addr]
	if !ok {
		slots = map[common.Hash]common.Hash{}
		s.cur.transient[addr] = slots
	}
	slots[key] = value
}

func (s *stateDB) SelfDestruct(addr common.Address) uint256.Int {
	account := s.account(addr)
	prev := *account.balance
	account.balance = uint256.NewInt(0)
	account.selfDestructed = true
	return prev
}

func (s *stateDB) SelfDestruct6780(addr common.Address) (uint256.Int, bool) {
	account := s.account(addr)
	if account.newContract {
		return s.SelfDestruct(addr), true
	}
	return *account.balance, false
}

func (s *stateDB) HasSelfDestructed(addr common.Address) bool {
	return s.account(addr).selfDestructed
}

func (s *stateDB) Exist(addr common.Address) bool {
	return s.account(addr).exists
}

func (s *stateDB) Empty(addr common.Address) bool {
	return s.account(addr).empty()
}

func (s *stateDB) AddressInAccessList(addr common.Address) bool {
	_, ok := s.cur.accessAddrs[addr]
	return ok
}

func (s *stateDB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	_, addrOk := s.cur.accessAddrs[addr]
	slots, ok := s.cur.accessSlots[addr]
	if !ok {
		return addrOk, false
	}
	_, slotOk := slots[slot]
	return addrOk, slotOk
}

func (s *stateDB) AddAddressToAccessList(addr common.Address) {
	s.cur.accessAddrs[addr] = struct{}{}
}

func (s *stateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	s.AddAddressToAccessList(addr)
	slots, ok := s.cur.accessSlots[addr]
	if !ok {
		slots = map[common.Hash]struct{}{}
		s.cur.accessSlots[addr] = slots
	}
	slots[slot] = struct{}{}
}

func (s *stateDB) PointCache() *utils.PointCache {
	return nil
}

func (s *stateDB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	if rules.IsBerlin {
		s.cur.accessAddrs = map[common.Address]struct{}{}
		s.cur.accessSlots = map[common.Address]map[common.Hash]struct{}{}

		s.AddAddressToAccessList(sender)
		if dest != nil {
			s.AddAddressToAccessList(*dest)
		}
		for _, addr := range precompiles {
			s.AddAddressToAccessList(addr)
		}
		for _, el := range txAccesses {
			s.AddAddressToAccessList(el.Address)
			for _, key := range el.StorageKeys {
				s.AddSlotToAccessList(el.Address, key)
			}
		}
		if rules.IsShanghai {
			s.AddAddressToAccessList(coinbase)
		}
	}
	s.cur.transient = map[common.Address]map[common.Hash]common.Hash{}
}

func (s *stateDB) Snapshot() int {
	s.snapshots = append(s.snapshots, s.cur.copy())
	return len(s.snapshots) - 1
}

func (s *stateDB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(s.snapshots) {
		panic(fmt.Sprintf("snapshot id %v cannot be reverted", id))
	}
	s.cur = s.snapshots[id]
	s.snapshots = s.snapshots[:id]
}

func (s *stateDB) AddLog(log *types.Log) {
	s.cur.logs = append(s.cur.logs, log)
}

func (s *stateDB) AddPreimage(common.Hash, []byte) {}

func (s *stateDB) Witness() *stateless.Witness {
	return nil
}

func (s *stateDB) AccessEvents() *state.AccessEvents {
	// verkle-only, never consulted under the mainnet rules we run with
	return nil
}

func (s *stateDB) Finalise(deleteEmptyObjects bool) {
	for addr, account := range s.cur.accounts {
		if account.selfDestructed || (deleteEmptyObjects && account.empty()) {
			delete(s.cur.accounts, addr)
			delete(s.cur.storage, addr)
		}
	}
}
