package ethstate

import (
	"context"
	"math/big"
	"sync"

	"github.com/0xsequence/ethkit/go-ethereum/common"
)

type storageKey struct {
	addr common.Address
	key  common.Hash
}

// Overlay is the lazily-populated state view for a single simulation. Every
// account or storage slot is fetched from the Source at most once, pinned to
// the overlay's block number, and cached for the lifetime of the overlay.
// Caller overrides are applied on top of fetched state before the engine
// ever sees it.
//
// An Overlay is safe for concurrent readers, but it is scoped to one
// simulation: it is built, used, and discarded per request.
type Overlay struct {
	source   Source
	blockNum *big.Int

	mu       sync.Mutex
	accounts map[common.Address]*Account
	storage  map[storageKey]common.Hash

	// overrides recorded at construction, consulted before any remote fetch
	balanceOverride map[common.Address]*Account
	stateDiff       map[storageKey]common.Hash

	warm *WarmCache
}

type OverlayOption func(*Overlay)

// WithWarmCache lets the overlay satisfy account reads from a long-lived
// warm cache, provided the cached entry matches the overlay's pinned block.
func WithWarmCache(warm *WarmCache) OverlayOption {
	return func(o *Overlay) {
		o.warm = warm
	}
}

func NewOverlay(source Source, blockNum *big.Int, options ...OverlayOption) *Overlay {
	o := &Overlay{
		source:    source,
		blockNum:  new(big.Int).Set(blockNum),
		accounts:  map[common.Address]*Account{},
		storage:   map[storageKey]common.Hash{},
		stateDiff: map[storageKey]common.Hash{},
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// BlockNum returns the block number all of the overlay's reads are pinned to.
func (o *Overlay) BlockNum() *big.Int {
	return new(big.Int).Set(o.blockNum)
}

// Account returns the overlay's view of addr, fetching from the source on
// first access. The returned value is owned by the overlay; callers must
// copy before mutating.
func (o *Overlay) Account(ctx context.Context, addr common.Address) (*Account, error) {
	o.mu.Lock()
	if account, ok := o.accounts[addr]; ok {
		o.mu.Unlock()
		return o.overridden(addr, account), nil
	}
	o.mu.Unlock()

	account, err := o.loadAccount(ctx, addr)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.accounts[addr]; ok {
		// lost the race, keep the first-cached value
		account = existing
	} else {
		o.accounts[addr] = account
	}
	return o.overridden(addr, account), nil
}

// overridden layers the balance override for addr, if any, over the cached
// account image. Applied on every read, so an override registered after the
// account was already fetched still shadows the remote balance.
func (o *Overlay) overridden(addr common.Address, account *Account) *Account {
	override, ok := o.balanceOverride[addr]
	if !ok {
		return account
	}
	merged := account.Copy()
	merged.Balance.Set(override.Balance)
	return merged
}

func (o *Overlay) loadAccount(ctx context.Context, addr common.Address) (*Account, error) {
	if o.warm != nil {
		if account, ok := o.warm.Account(ctx, addr, o.blockNum); ok {
			return account, nil
		}
	}
	return o.source.Account(ctx, addr, o.blockNum)
}

// Storage returns the overlay's view of a storage slot. Slots written via a
// state-diff override never touch the source.
func (o *Overlay) Storage(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	sk := storageKey{addr: addr, key: key}

	if value, ok := o.stateDiff[sk]; ok {
		return value, nil
	}

	o.mu.Lock()
	if value, ok := o.storage[sk]; ok {
		o.mu.Unlock()
		return value, nil
	}
	o.mu.Unlock()

	value, err := o.source.StorageAt(ctx, addr, key, o.blockNum)
	if err != nil {
		return common.Hash{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.storage[sk]; ok {
		return existing, nil
	}
	o.storage[sk] = value
	return value, nil
}
