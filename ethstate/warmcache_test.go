package ethstate_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/core/types"
	"github.com/0xsequence/ethkit/go-ethereum/rpc"
	"github.com/0xsequence/ethsim/ethstate"
	"github.com/goware/logger"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type headerSource struct {
	*countingSource
	head *big.Int
}

func (s *headerSource) HeaderByRef(ctx context.Context, ref rpc.BlockNumberOrHash) (*types.Header, error) {
	return &types.Header{
		Number:     new(big.Int).Set(s.head),
		Difficulty: big.NewInt(0),
	}, nil
}

func TestWarmCacheServesPinnedBlockOnly(t *testing.T) {
	ctx := context.Background()
	addr := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

	source := &headerSource{countingSource: newCountingSource(), head: big.NewInt(900)}
	source.accounts[addr] = &ethstate.Account{Balance: uint256.NewInt(10), Nonce: 1}

	warm, err := ethstate.NewWarmCache(logger.NewLogger(logger.LogLevel_INFO), source, ethstate.WarmCacheOptions{
		Addresses:       []common.Address{addr},
		RefreshInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, warm.Start(ctx))
	defer warm.Stop()

	// warmed at head
	account, ok := warm.Account(ctx, addr, big.NewInt(900))
	require.True(t, ok)
	assert.Equal(t, uint64(1), account.Nonce)

	// a different pin must miss
	_, ok = warm.Account(ctx, addr, big.NewInt(899))
	assert.False(t, ok)

	// a pin ahead of the warmed head must miss too
	_, ok = warm.Account(ctx, addr, big.NewInt(901))
	assert.False(t, ok)
}

func TestOverlayUsesWarmCacheOnMatch(t *testing.T) {
	ctx := context.Background()
	addr := common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

	source := &headerSource{countingSource: newCountingSource(), head: big.NewInt(300)}
	source.accounts[addr] = &ethstate.Account{Balance: uint256.NewInt(55), Nonce: 4}

	warm, err := ethstate.NewWarmCache(logger.NewLogger(logger.LogLevel_INFO), source, ethstate.WarmCacheOptions{
		Addresses:       []common.Address{addr},
		RefreshInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, warm.Start(ctx))
	defer warm.Stop()

	warmed := source.accountCalls

	// pinned at the warmed head: account comes out of the cache
	overlay := ethstate.NewOverlay(source, big.NewInt(300), ethstate.WithWarmCache(warm))
	account, err := overlay.Account(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), account.Nonce)
	assert.Equal(t, warmed, source.accountCalls)

	// pinned elsewhere: straight to the node
	overlay = ethstate.NewOverlay(source, big.NewInt(299), ethstate.WithWarmCache(warm))
	_, err = overlay.Account(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, warmed+1, source.accountCalls)
}
