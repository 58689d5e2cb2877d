package domain

// ResultCode is returned by every node engine entry point. The engine never
// panics on bad input; it reports one of these instead.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultErrPacketInvalid
	ResultErrNetworkNotFound
	ResultErrBadParameter
	ResultErrControllerConflict
	ResultErrInternal
)

func (r ResultCode) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultErrPacketInvalid:
		return "PACKET_INVALID"
	case ResultErrNetworkNotFound:
		return "NETWORK_NOT_FOUND"
	case ResultErrBadParameter:
		return "BAD_PARAMETER"
	case ResultErrControllerConflict:
		return "CONTROLLER_CONFLICT"
	case ResultErrInternal:
		return "INTERNAL_ERROR"
	}
	return "UNKNOWN"
}

// OK returns true if the operation succeeded.
func (r ResultCode) OK() bool { return r == ResultOK }

// Event is a condition surfaced to the embedding application through its
// event callback. Events are fire-and-forget; the engine never waits on the
// handler.
type Event int

const (
	EventUp Event = iota
	EventOnline
	EventOffline
	EventDown
	EventTrace
	EventConfigReceived
	EventPacketInvalid
	EventSendFailed
	EventStateWriteFailed
)

func (e Event) String() string {
	switch e {
	case EventUp:
		return "UP"
	case EventOnline:
		return "ONLINE"
	case EventOffline:
		return "OFFLINE"
	case EventDown:
		return "DOWN"
	case EventTrace:
		return "TRACE"
	case EventConfigReceived:
		return "CONFIG_RECEIVED"
	case EventPacketInvalid:
		return "PACKET_INVALID"
	case EventSendFailed:
		return "SEND_FAILED"
	case EventStateWriteFailed:
		return "STATE_WRITE_FAILED"
	}
	return "UNKNOWN"
}

// StateObjectType classifies objects in the durable state store.
type StateObjectType int

const (
	StateObjectIdentityPublic StateObjectType = iota + 1
	StateObjectIdentitySecret
	StateObjectPeer
	StateObjectNetworkConfig
	StateObjectNetworkMembership
)

func (t StateObjectType) String() string {
	switch t {
	case StateObjectIdentityPublic:
		return "identity.public"
	case StateObjectIdentitySecret:
		return "identity.secret"
	case StateObjectPeer:
		return "peer"
	case StateObjectNetworkConfig:
		return "network.config"
	case StateObjectNetworkMembership:
		return "network.membership"
	}
	return "unknown"
}
