package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show node status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := newAPIClient().Status()
	if err != nil {
		return err
	}

	state := "OFFLINE"
	if st.Online {
		state = "ONLINE"
	}
	fmt.Printf("address:  %s\n", st.Address)
	fmt.Printf("state:    %s\n", state)
	fmt.Printf("networks: %d\n", st.Networks)
	fmt.Printf("peers:    %d\n", st.Peers)
	fmt.Printf("traffic:  in %d bytes (%.1f B/s), out %d bytes (%.1f B/s)\n",
		st.BytesIn, st.BytesInPerSec, st.BytesOut, st.BytesOutPerSec)
	return nil
}
