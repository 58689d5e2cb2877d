// Package controller defines the contract between the node engine and a
// network controller implementation. Controllers decide membership and hand
// out network configurations; the engine only transports their answers.
package controller

import (
	"meshnode/internal/meshnode/domain"
	"meshnode/internal/meshnode/identity"
)

// ErrorCode is a controller's reason for rejecting a config request.
type ErrorCode uint8

const (
	// ErrorNone means no error. Never sent.
	ErrorNone ErrorCode = iota

	// ErrorObjectNotFound means the requested network does not exist on
	// this controller.
	ErrorObjectNotFound

	// ErrorAccessDenied means the member is known but not authorized.
	ErrorAccessDenied

	// ErrorAuthenticationRequired means the member must complete an
	// external authentication step before authorization.
	ErrorAuthenticationRequired

	// ErrorInternalServerError means the controller failed internally.
	ErrorInternalServerError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "NONE"
	case ErrorObjectNotFound:
		return "OBJECT_NOT_FOUND"
	case ErrorAccessDenied:
		return "ACCESS_DENIED"
	case ErrorAuthenticationRequired:
		return "AUTHENTICATION_REQUIRED"
	case ErrorInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	}
	return "UNKNOWN"
}

// NetworkStatus returns the member-visible network status implied by this
// error code.
func (c ErrorCode) NetworkStatus() domain.NetworkStatus {
	switch c {
	case ErrorObjectNotFound:
		return domain.NetworkStatusNotFound
	case ErrorAccessDenied:
		return domain.NetworkStatusAccessDenied
	case ErrorAuthenticationRequired:
		return domain.NetworkStatusAuthenticationRequired
	}
	return domain.NetworkStatusRequestingConfiguration
}

// Revocation withdraws a previously granted credential from a member.
type Revocation struct {
	NetworkID domain.NetworkID `json:"networkId"`
	Target    domain.Address   `json:"target"`
	Threshold int64            `json:"threshold"` // credentials issued before this (ms) are void
}

// Sender is the engine-provided reply channel a controller uses to answer
// requests. Implementations route locally when the member is this node and
// over the wire otherwise.
type Sender interface {
	// SendConfig answers a config request with a (possibly updated)
	// network configuration. requestID is the packet ID of the request
	// being answered, or 0 for an unsolicited push.
	SendConfig(nwid domain.NetworkID, requestID uint64, dest domain.Address, nc *domain.NetworkConfig) error

	// SendError answers a config request with a rejection.
	SendError(nwid domain.NetworkID, requestID uint64, dest domain.Address, code ErrorCode) error

	// SendRevocation pushes a credential revocation to a member.
	SendRevocation(dest domain.Address, rev *Revocation) error
}

// Controller is implemented by network controllers hosted in this process.
// The engine calls Request when a config request arrives for a network whose
// controller address is this node; the controller answers via the Sender it
// was given at attach time.
type Controller interface {
	// Attach hands the controller its reply channel. Called once, before
	// any Request.
	Attach(sender Sender)

	// Request asks for a network config on behalf of a member. now is
	// milliseconds since epoch. The controller may answer synchronously
	// or later via the Sender.
	Request(now int64, nwid domain.NetworkID, requestID uint64, member *identity.Identity, haveRevision uint64)
}
