package domain

// NetworkStatus is a network's authorization status as last reported by its
// controller (or the local placeholder before any response arrives).
type NetworkStatus int

const (
	NetworkStatusRequestingConfiguration NetworkStatus = iota
	NetworkStatusOK
	NetworkStatusAccessDenied
	NetworkStatusNotFound
	NetworkStatusPortError
	NetworkStatusAuthenticationRequired
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkStatusRequestingConfiguration:
		return "REQUESTING_CONFIGURATION"
	case NetworkStatusOK:
		return "OK"
	case NetworkStatusAccessDenied:
		return "ACCESS_DENIED"
	case NetworkStatusNotFound:
		return "NOT_FOUND"
	case NetworkStatusPortError:
		return "PORT_ERROR"
	case NetworkStatusAuthenticationRequired:
		return "AUTHENTICATION_REQUIRED"
	}
	return "UNKNOWN"
}

// NetworkType distinguishes access-controlled networks from open ones.
type NetworkType int

const (
	NetworkTypePrivate NetworkType = iota
	NetworkTypePublic
)

// DefaultMTU is the Ethernet MTU applied to a network before its controller
// says otherwise.
const DefaultMTU = 2800

// NetworkConfig is a network's configuration as distributed by its
// controller. It is a value type: every controller push replaces the whole
// thing, and the reconciler diffs new against old.
type NetworkConfig struct {
	// ID is this network's 64-bit globally unique identifier.
	ID NetworkID `json:"id"`

	// MAC is the Ethernet MAC address of this node on this network.
	MAC MAC `json:"mac"`

	// Name is a short human-readable name set by the controller.
	Name string `json:"name"`

	// Status is this network's authorization status.
	Status NetworkStatus `json:"status"`

	// Type is this network's type.
	Type NetworkType `json:"type"`

	// MTU is the Ethernet MTU for this network.
	MTU int `json:"mtu"`

	// Bridge is true if this node may bridge in other Ethernet devices.
	Bridge bool `json:"bridge"`

	// BroadcastEnabled is true if ff:ff:ff:ff:ff:ff works on this network.
	BroadcastEnabled bool `json:"broadcastEnabled"`

	// Revision is the controller-assigned monotonically non-decreasing
	// configuration revision.
	Revision uint64 `json:"revision"`

	// AssignedAddresses are managed IPs assigned to this node.
	AssignedAddresses []InetAddress `json:"assignedAddresses,omitempty"`

	// Routes are managed routes assigned to this node.
	Routes []Route `json:"routes,omitempty"`
}

// NetworkLocalSettings are the local operator's policy gates for one
// network. They are independent of (and always override) controller wishes.
type NetworkLocalSettings struct {
	// AllowManagedIPs gates all managed IP assignment.
	AllowManagedIPs bool `json:"allowManagedIPs"`

	// AllowGlobalIPs additionally gates managed IPs that overlap global
	// (public Internet) address space.
	AllowGlobalIPs bool `json:"allowGlobalIPs"`

	// AllowManagedRoutes gates all managed routes.
	AllowManagedRoutes bool `json:"allowManagedRoutes"`

	// AllowGlobalRoutes additionally gates managed routes overlapping
	// global address space.
	AllowGlobalRoutes bool `json:"allowGlobalRoutes"`

	// AllowDefaultRouteOverride gates replacement of the system default
	// route ("full tunnel" mode), independent of AllowGlobalRoutes.
	AllowDefaultRouteOverride bool `json:"allowDefaultRouteOverride"`
}
