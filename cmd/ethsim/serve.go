package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xsequence/ethkit/go-ethereum/common"
	"github.com/0xsequence/ethsim/ethproxy"
	"github.com/goware/logger"
)

func init() {
	serve := &serve{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulating proxy server",
		Args:  cobra.NoArgs,
		RunE:  serve.Run,
	}

	cmd.Flags().StringP("rpc-url", "r", "", "The upstream JSON-RPC endpoint (env: RPC)")
	cmd.Flags().StringP("port", "p", "", "The port to listen on (env: PORT)")
	cmd.Flags().Uint64("chain-id", 0, "Chain id to report, 0 asks the upstream node (env: CHAIN_ID)")
	cmd.Flags().String("preload", "", "Comma-separated addresses to keep warm (env: PRELOAD)")
	cmd.Flags().Duration("warm-refresh", 15*time.Second, "Warm cache refresh interval")
	cmd.Flags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(cmd)
}

type serve struct {
}

func (c *serve) Run(cmd *cobra.Command, args []string) error {
	fRpc, err := cmd.Flags().GetString("rpc-url")
	if err != nil {
		return err
	}
	fPort, err := cmd.Flags().GetString("port")
	if err != nil {
		return err
	}
	fChainID, err := cmd.Flags().GetUint64("chain-id")
	if err != nil {
		return err
	}
	fPreload, err := cmd.Flags().GetString("preload")
	if err != nil {
		return err
	}
	fWarmRefresh, err := cmd.Flags().GetDuration("warm-refresh")
	if err != nil {
		return err
	}
	fDebug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return err
	}

	if fRpc == "" {
		fRpc = os.Getenv("RPC")
	}
	if fPort == "" {
		fPort = os.Getenv("PORT")
	}
	if fPort == "" {
		fPort = "8545"
	}
	if fChainID == 0 {
		if env := os.Getenv("CHAIN_ID"); env != "" {
			fChainID, err = strconv.ParseUint(env, 10, 64)
			if err != nil {
				return fmt.Errorf("error: CHAIN_ID must be a valid uint64")
			}
		}
	}
	if fPreload == "" {
		fPreload = os.Getenv("PRELOAD")
	}

	if _, err := url.ParseRequestURI(fRpc); err != nil {
		return errors.New("error: please provide a valid rpc url (e.g. https://nodes.sequence.app/mainnet)")
	}

	preload, err := parseAddresses(fPreload)
	if err != nil {
		return err
	}

	logLevel := logger.LogLevel_INFO
	if fDebug {
		logLevel = logger.LogLevel_DEBUG
	}
	log := logger.NewLogger(logLevel)

	service, err := ethproxy.New(ethproxy.Config{
		NodeURL:      fRpc,
		Listen:       "0.0.0.0:" + fPort,
		ChainID:      fChainID,
		Preload:      preload,
		WarmRefresh:  fWarmRefresh,
		DebugLogging: fDebug,
	}, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return service.Run(ctx)
}

func parseAddresses(list string) ([]common.Address, error) {
	if list == "" {
		return nil, nil
	}
	var addresses []common.Address
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !common.IsHexAddress(entry) {
			return nil, fmt.Errorf("error: invalid preload address %q", entry)
		}
		addresses = append(addresses, common.HexToAddress(entry))
	}
	return addresses, nil
}
