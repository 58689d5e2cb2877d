package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meshnode/internal/meshnode/api"
	"meshnode/internal/meshnode/domain"
)

func newNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks [network-id]",
		Short: "List joined networks or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runNetworks,
	}
}

func runNetworks(cmd *cobra.Command, args []string) error {
	c := newAPIClient()

	if len(args) == 1 {
		nwid, err := domain.NewNetworkIDFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid network ID %q", args[0])
		}
		info, err := c.Network(nwid)
		if err != nil {
			return err
		}
		printNetworkDetail(info)
		return nil
	}

	infos, err := c.Networks()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No networks joined")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%s %-24s %-22s %s %s\n",
			info.ID, info.Name, info.Status, info.MAC, joinAddresses(info.AssignedAddresses))
	}
	return nil
}

func printNetworkDetail(info *api.NetworkInfo) {
	fmt.Printf("id:        %s\n", info.ID)
	fmt.Printf("name:      %s\n", info.Name)
	fmt.Printf("status:    %s\n", info.Status)
	fmt.Printf("mac:       %s\n", info.MAC)
	fmt.Printf("mtu:       %d\n", info.MTU)
	fmt.Printf("revision:  %d\n", info.Revision)
	fmt.Printf("device:    %s\n", info.Device)
	fmt.Printf("addresses: %s\n", joinAddresses(info.AssignedAddresses))
	for _, r := range info.Routes {
		fmt.Printf("route:     %s\n", r.String())
	}
	fmt.Printf("settings:  managedIPs=%t globalIPs=%t managedRoutes=%t globalRoutes=%t defaultRouteOverride=%t\n",
		info.Settings.AllowManagedIPs, info.Settings.AllowGlobalIPs,
		info.Settings.AllowManagedRoutes, info.Settings.AllowGlobalRoutes,
		info.Settings.AllowDefaultRouteOverride)
	if len(info.MulticastGroups) > 0 {
		fmt.Printf("multicast: %s\n", strings.Join(info.MulticastGroups, " "))
	}
}

func joinAddresses(addrs []domain.InetAddress) string {
	if len(addrs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ",")
}
