package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"meshnode/internal/meshnode/domain"
)

func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <network-id> <option>=<bool> [...]",
		Short: "Change a network's local policy settings",
		Long: `Change local policy settings for a joined network.

Options:
  managedIPs            allow controller-assigned IP addresses
  globalIPs             allow managed IPs in global address space
  managedRoutes         allow controller-assigned routes
  globalRoutes          allow managed routes in global address space
  defaultRouteOverride  allow replacing the system default route`,
		Args: cobra.MinimumNArgs(2),
		RunE: runSet,
	}
}

func runSet(cmd *cobra.Command, args []string) error {
	nwid, err := domain.NewNetworkIDFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid network ID %q", args[0])
	}

	c := newAPIClient()
	info, err := c.Network(nwid)
	if err != nil {
		return err
	}
	ls := info.Settings

	for _, arg := range args[1:] {
		key, valStr, found := strings.Cut(arg, "=")
		if !found {
			return fmt.Errorf("expected option=bool, got %q", arg)
		}
		val, err := strconv.ParseBool(valStr)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", key, valStr)
		}
		switch key {
		case "managedIPs":
			ls.AllowManagedIPs = val
		case "globalIPs":
			ls.AllowGlobalIPs = val
		case "managedRoutes":
			ls.AllowManagedRoutes = val
		case "globalRoutes":
			ls.AllowGlobalRoutes = val
		case "defaultRouteOverride":
			ls.AllowDefaultRouteOverride = val
		default:
			return fmt.Errorf("unknown option %q", key)
		}
	}

	updated, err := c.SetSettings(nwid, ls)
	if err != nil {
		return err
	}
	printNetworkDetail(updated)
	return nil
}
