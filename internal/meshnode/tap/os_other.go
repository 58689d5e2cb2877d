//go:build !linux

package tap

import "errors"

// NewOS creates the platform tap device. Only Linux is supported.
func NewOS(name string, mtu int, onFrame FrameHandler) (Tap, error) {
	return nil, errors.New("tap devices are not supported on this platform")
}
