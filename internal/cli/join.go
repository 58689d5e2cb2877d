package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/identity"
)

func newJoinCmd() *cobra.Command {
	var controllerFP string

	cmd := &cobra.Command{
		Use:   "join <network-id>",
		Short: "Join a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nwid, err := domain.NewNetworkIDFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid network ID %q", args[0])
			}

			var fp *identity.Fingerprint
			if controllerFP != "" {
				parsed, err := identity.NewFingerprintFromString(controllerFP)
				if err != nil {
					return fmt.Errorf("invalid controller fingerprint: %w", err)
				}
				fp = &parsed
			}

			info, err := newAPIClient().Join(nwid, fp)
			if err != nil {
				return err
			}
			fmt.Printf("joined %s (%s)\n", info.ID, info.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&controllerFP, "controller", "",
		"Pin the network controller's identity fingerprint (address-hashhex)")
	return cmd
}
