package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPeersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List known peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			peers, err := newAPIClient().Peers()
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Println("No peers known")
				return nil
			}
			for _, p := range peers {
				endpoint := p.Endpoint
				if endpoint == "" {
					endpoint = "-"
				}
				fmt.Printf("%s %-24s lastSeen=%d\n", p.Address, endpoint, p.LastSeen)
			}
			return nil
		},
	}
}
