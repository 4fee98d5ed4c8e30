package ethproxy

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/0xsequence/ethkit/ethrpc"
	"github.com/0xsequence/ethsim/ethcall"
	"github.com/0xsequence/ethsim/ethexec"
	"github.com/0xsequence/ethsim/ethstate"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-chi/traceid"
	"github.com/go-chi/transport"
	"github.com/goware/logger"
)

const VERSION = "v0.1.0"

// Service is the proxy process: one upstream provider, one simulator and an
// HTTP JSON-RPC front end.
type Service struct {
	cfg      Config
	log      logger.Logger
	provider *ethrpc.Provider
	source   *ethstate.NodeSource

	running atomic.Bool
	ctx     context.Context
	ctxStop context.CancelFunc
}

func New(cfg Config, log logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: transport.Chain(http.DefaultTransport,
			transport.SetHeader("User-Agent", "ethsim/"+VERSION),
			traceid.Transport,
		),
	}

	provider, err := ethrpc.NewProvider(cfg.NodeURL, ethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("ethproxy: provider: %w", err)
	}

	return &Service{
		cfg:      cfg,
		log:      log,
		provider: provider,
		source:   ethstate.NewNodeSource(log, provider),
	}, nil
}

// Run starts the proxy and blocks until ctx is cancelled or the listener
// fails.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("ethproxy: already running")
	}
	defer s.running.Store(false)

	s.ctx, s.ctxStop = context.WithCancel(ctx)
	defer s.ctxStop()

	chainID, err := s.resolveChainID(s.ctx)
	if err != nil {
		return err
	}
	s.log.Infof("ethproxy: chain id %s, upstream %s", chainID, s.cfg.NodeURL)

	var simOptions []ethcall.SimulatorOption
	if len(s.cfg.Preload) > 0 {
		warm, err := ethstate.NewWarmCache(s.log, s.source, ethstate.WarmCacheOptions{
			Addresses:       s.cfg.Preload,
			RefreshInterval: s.cfg.WarmRefresh,
		})
		if err != nil {
			return err
		}
		if err := warm.Start(s.ctx); err != nil {
			return err
		}
		defer warm.Stop()
		simOptions = append(simOptions, ethcall.WithWarmCache(warm))
	}

	sim := ethcall.NewSimulator(s.log, s.source, ethexec.NewEVM(s.log), chainID, simOptions...)

	rpcServer := rpc.NewServer()
	defer rpcServer.Stop()
	if err := rpcServer.RegisterName("eth", NewEthAPI(s.log, sim, s.provider, chainID)); err != nil {
		return fmt.Errorf("ethproxy: register api: %w", err)
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           rpcServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("ethproxy: serving on %s", s.cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-s.ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ethproxy: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ethproxy: serve: %w", err)
		}
		return nil
	}
}

func (s *Service) Stop() {
	if !s.running.Load() {
		return
	}
	s.log.Info("ethproxy: stopping")
	s.ctxStop()
}

func (s *Service) IsRunning() bool {
	return s.running.Load()
}

func (s *Service) resolveChainID(ctx context.Context) (*big.Int, error) {
	if s.cfg.ChainID != 0 {
		return new(big.Int).SetUint64(s.cfg.ChainID), nil
	}
	chainID, err := s.provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethproxy: fetch chain id: %w", err)
	}
	return chainID, nil
}
