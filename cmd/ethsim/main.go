package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	VERSION   = "dev"
	GITBRANCH = "branch"
	GITCOMMIT = "last commit"
)

var rootCmd = &cobra.Command{
	Use:   "ethsim",
	Short: "ethsim - simulating JSON-RPC proxy for eth_call and eth_estimateGas",
	Args:  cobra.MinimumNArgs(1),
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ethsim", version())
		},
	}

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func version() string {
	if GITBRANCH == "master" {
		return fmt.Sprintf("%s (commit:%s)", VERSION, GITCOMMIT)
	}
	return fmt.Sprintf("%s (commit:%s %s)", VERSION, GITCOMMIT, GITBRANCH)
}
