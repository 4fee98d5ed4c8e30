package ethstate

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/core/types"
	"github.com/0xsequence/ethkit/go-ethereum/rpc"
	memcache "github.com/goware/cachestore-mem"
	cachestore "github.com/goware/cachestore2"
	"github.com/goware/logger"
)

const (
	defaultWarmCacheSize  = 2048
	defaultRefreshEvery   = 15 * time.Second
	warmAccountKeyPattern = "warm:account:%s"
)

type warmEntry struct {
	Account  *Account `json:"account"`
	BlockNum *big.Int `json:"blockNum"`
}

// HeaderSource is the slice of Source behavior the warm cache needs to chase
// the chain head.
type HeaderSource interface {
	Source
	HeaderByRef(ctx context.Context, ref rpc.BlockNumberOrHash) (*types.Header, error)
}

// WarmCache keeps a set of frequently-used accounts pre-fetched at the
// current chain head, so simulations against "latest" can skip the remote
// account load. Entries are only served when their block number matches the
// simulation's pinned block; anything else falls through to the source.
type WarmCache struct {
	log       logger.Logger
	source    HeaderSource
	store     cachestore.Store[warmEntry]
	addresses []common.Address
	refresh   time.Duration

	running atomic.Bool
	ctx     context.Context
	ctxStop context.CancelFunc
	wg      sync.WaitGroup
}

type WarmCacheOptions struct {
	// Addresses to keep warm. An empty list disables the cache.
	Addresses []common.Address

	// RefreshInterval between head refreshes. Defaults to 15s, roughly one
	// mainnet block.
	RefreshInterval time.Duration

	// CacheBackend overrides the default in-memory LRU backend.
	CacheBackend cachestore.Backend
}

func NewWarmCache(log logger.Logger, source HeaderSource, options WarmCacheOptions) (*WarmCache, error) {
	backend := options.CacheBackend
	if backend == nil {
		var err error
		backend, err = memcache.NewBackend(defaultWarmCacheSize)
		if err != nil {
			return nil, fmt.Errorf("ethstate: warm cache backend: %w", err)
		}
	}

	store := cachestore.OpenStore[warmEntry](backend)

	refresh := options.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshEvery
	}

	return &WarmCache{
		log:       log,
		source:    source,
		store:     store,
		addresses: options.Addresses,
		refresh:   refresh,
	}, nil
}

// Start warms the configured addresses and begins the background refresh
// loop. A failed initial warm-up is logged, not fatal; the cache simply
// starts cold.
func (w *WarmCache) Start(ctx context.Context) error {
	if len(w.addresses) == 0 {
		return nil
	}
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("ethstate: warm cache already started")
	}

	w.ctx, w.ctxStop = context.WithCancel(context.Background())

	if err := w.refreshAll(ctx); err != nil {
		w.log.Warnf("ethstate: initial warm-up failed: %v", err)
	} else {
		w.log.Infof("ethstate: warmed %d accounts", len(w.addresses))
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				if err := w.refreshAll(w.ctx); err != nil {
					w.log.Warnf("ethstate: warm cache refresh failed: %v", err)
				}
			}
		}
	}()
	return nil
}

func (w *WarmCache) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.ctxStop()
	w.wg.Wait()
}

// Account returns the warm entry for addr if it was captured at exactly
// blockNum.
func (w *WarmCache) Account(ctx context.Context, addr common.Address, blockNum *big.Int) (*Account, bool) {
	entry, ok, err := w.store.Get(ctx, warmAccountKey(addr))
	if err != nil || !ok {
		return nil, false
	}
	if entry.BlockNum == nil || entry.BlockNum.Cmp(blockNum) != 0 {
		return nil, false
	}
	return entry.Account, true
}

func (w *WarmCache) refreshAll(ctx context.Context) error {
	header, err := w.source.HeaderByRef(ctx, rpc.BlockNumberOrHashWithNumber(rpc.LatestBlockNumber))
	if err != nil {
		return err
	}

	for _, addr := range w.addresses {
		account, err := w.source.Account(ctx, addr, header.Number)
		if err != nil {
			return err
		}
		entry := warmEntry{Account: account, BlockNum: new(big.Int).Set(header.Number)}
		if err := w.store.Set(ctx, warmAccountKey(addr), entry); err != nil {
			return err
		}
	}
	return nil
}

func warmAccountKey(addr common.Address) string {
	return fmt.Sprintf(warmAccountKeyPattern, addr.Hex())
}
