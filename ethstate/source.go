package ethstate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/0xsequence/ethkit/ethrpc"
	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethkit/go-ethereum/common/hexutil"
	"github.com/0xsequence/ethkit/go-ethereum/core/types"
	"github.com/0xsequence/ethkit/go-ethereum/rpc"
	"github.com/cenkalti/backoff/v4"
	"github.com/goware/logger"
	"github.com/holiman/uint256"
)

// Account is the remote snapshot of a single account at a pinned block. A
// nonexistent account is represented by the zero value, matching the
// upstream node's own defaults for eth_getBalance / eth_getTransactionCount /
// eth_getCode on unknown addresses.
type Account struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
}

func (a *Account) Copy() *Account {
	cpy := &Account{
		Balance: uint256.NewInt(0),
		Nonce:   a.Nonce,
	}
	if a.Balance != nil {
		cpy.Balance.Set(a.Balance)
	}
	if a.Code != nil {
		cpy.Code = make([]byte, len(a.Code))
		copy(cpy.Code, a.Code)
	}
	return cpy
}

// Source supplies account and storage state from the upstream node, pinned
// to an explicit block number. Retry discipline lives here; callers never
// retry a failed read themselves.
type Source interface {
	Account(ctx context.Context, addr common.Address, blockNum *big.Int) (*Account, error)
	StorageAt(ctx context.Context, addr common.Address, key common.Hash, blockNum *big.Int) (common.Hash, error)
}

// NodeSource is the ethrpc-backed Source. Account loads batch the balance,
// nonce and code lookups into a single JSON-RPC round trip, and transient
// upstream failures are retried with exponential backoff before surfacing.
type NodeSource struct {
	log        logger.Logger
	provider   *ethrpc.Provider
	maxRetries uint64
}

const defaultMaxRetries = 3

func NewNodeSource(log logger.Logger, provider *ethrpc.Provider) *NodeSource {
	return &NodeSource{
		log:        log,
		provider:   provider,
		maxRetries: defaultMaxRetries,
	}
}

func (s *NodeSource) Account(ctx context.Context, addr common.Address, blockNum *big.Int) (*Account, error) {
	var (
		balance *big.Int
		nonce   uint64
		code    []byte
	)

	err := s.retry(ctx, func() error {
		_, err := s.provider.Do(ctx,
			ethrpc.BalanceAt(addr, blockNum).Into(&balance),
			ethrpc.NonceAt(addr, blockNum).Into(&nonce),
			ethrpc.CodeAt(addr, blockNum).Into(&code),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ethstate: fetch account %s at block %s: %w", addr, blockNum, err)
	}

	account := &Account{
		Balance: uint256.NewInt(0),
		Nonce:   nonce,
		Code:    code,
	}
	if balance != nil {
		if _, overflow := uint256.FromBig(balance); overflow {
			return nil, fmt.Errorf("ethstate: balance of %s overflows u256", addr)
		}
		account.Balance.SetFromBig(balance)
	}
	return account, nil
}

func (s *NodeSource) StorageAt(ctx context.Context, addr common.Address, key common.Hash, blockNum *big.Int) (common.Hash, error) {
	var value []byte
	err := s.retry(ctx, func() error {
		_, err := s.provider.Do(ctx, ethrpc.StorageAt(addr, key, blockNum).Into(&value))
		return err
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("ethstate: fetch storage %s[%s] at block %s: %w", addr, key, blockNum, err)
	}
	return common.BytesToHash(value), nil
}

// HeaderByRef resolves a caller-supplied block reference (number, tag or
// hash) to a concrete header. Simulations pin every subsequent read to the
// returned header's number, so a "latest" reference is resolved exactly once.
func (s *NodeSource) HeaderByRef(ctx context.Context, ref rpc.BlockNumberOrHash) (*types.Header, error) {
	var (
		header *types.Header
		err    error
	)

	if hash, ok := ref.Hash(); ok {
		err = s.retry(ctx, func() error {
			_, err := s.provider.Do(ctx, ethrpc.NewCallBuilder[*types.Header]("eth_getBlockByHash", nil, hash, false).Into(&header))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("ethstate: fetch header %s: %w", hash, err)
		}
	} else {
		blockNum, _ := ref.Number()
		arg := blockNumArg(blockNum)
		err = s.retry(ctx, func() error {
			_, err := s.provider.Do(ctx, ethrpc.NewCallBuilder[*types.Header]("eth_getBlockByNumber", nil, arg, false).Into(&header))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("ethstate: fetch header %s: %w", arg, err)
		}
	}

	if header == nil {
		return nil, fmt.Errorf("ethstate: block %s not found", ref.String())
	}
	return header, nil
}

// BlockHash returns the hash of the block at the given height, for the
// engine's BLOCKHASH lookups. Reads are not pinned; historical hashes are
// immutable.
func (s *NodeSource) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	header, err := s.HeaderByRef(ctx, rpc.BlockNumberOrHashWithNumber(rpc.BlockNumber(number)))
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}

func (s *NodeSource) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil {
			s.log.Debugf("ethstate: upstream read failed, will retry: %v", err)
		}
		return err
	}, bo)
}

func blockNumArg(blockNum rpc.BlockNumber) string {
	if blockNum < 0 {
		return blockNum.String()
	}
	return hexutil.EncodeUint64(uint64(blockNum))
}
