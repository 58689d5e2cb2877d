// Package cli implements the meshnode command line client. Every command is
// a thin wrapper over the daemon's local control API.
package cli

import (
	"time"

	"github.com/spf13/cobra"

	"meshnode/pkg/client"
	"meshnode/pkg/config"
)

var (
	apiAddr    string
	apiTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "meshnode",
	Short: "Control a running meshnode daemon",
	Long:  "Command line client for the meshnode daemon's local control API",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", config.DefaultConfig.API.BindAddress,
		"Control API address in format host:port")
	rootCmd.PersistentFlags().DurationVar(&apiTimeout, "timeout", config.DefaultConfig.API.Timeout,
		"Request timeout")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newNetworksCmd())
	rootCmd.AddCommand(newJoinCmd())
	rootCmd.AddCommand(newLeaveCmd())
	rootCmd.AddCommand(newSetCmd())
	rootCmd.AddCommand(newPeersCmd())
}

// newAPIClient builds the API client for the configured daemon address.
func newAPIClient() *client.Client {
	return client.New(apiAddr, apiTimeout)
}
