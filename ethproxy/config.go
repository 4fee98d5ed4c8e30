package ethproxy

import (
	"fmt"
	"time"

	"github.com/0xsequence/ethkit/go-ethereum/common"
)

type Config struct {
	// NodeURL is the JSON-RPC endpoint of the upstream node all state is
	// read from.
	NodeURL string

	// Listen is the host:port the proxy serves on.
	Listen string

	// ChainID the simulated chain reports. Zero means ask the upstream node
	// at startup.
	ChainID uint64

	// Preload lists accounts kept warm at the chain head between requests.
	Preload []common.Address

	// WarmRefresh is the warm cache refresh interval. Zero picks the
	// default block time.
	WarmRefresh time.Duration

	DebugLogging bool
}

func (cfg *Config) Validate() error {
	if cfg.NodeURL == "" {
		return fmt.Errorf("ethproxy: config: node url is required")
	}
	if cfg.Listen == "" {
		return fmt.Errorf("ethproxy: config: listen address is required")
	}
	return nil
}
