package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshnode/internal/meshnode/domain"
)

func newLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <network-id>",
		Short: "Leave a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nwid, err := domain.NewNetworkIDFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid network ID %q", args[0])
			}
			if err := newAPIClient().Leave(nwid); err != nil {
				return err
			}
			fmt.Printf("left %s\n", nwid)
			return nil
		},
	}
}
