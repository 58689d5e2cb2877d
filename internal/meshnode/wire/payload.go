package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"meshnode/internal/meshnode/domain"
)

// ErrPayloadTruncated is returned when a payload ends before its fixed
// fields do.
var ErrPayloadTruncated = errors.New("payload truncated")

// FramePayload is the VERB_FRAME body: an Ethernet frame whose MACs are
// implied by the packet's source and destination addresses on the network.
type FramePayload struct {
	NetworkID domain.NetworkID
	EtherType uint16
	Data      []byte
}

// EncodeFrame encodes a FramePayload.
func EncodeFrame(p *FramePayload) []byte {
	out := make([]byte, 10+len(p.Data))
	binary.BigEndian.PutUint64(out[0:8], uint64(p.NetworkID))
	binary.BigEndian.PutUint16(out[8:10], p.EtherType)
	copy(out[10:], p.Data)
	return out
}

// DecodeFrame decodes a VERB_FRAME payload.
func DecodeFrame(data []byte) (*FramePayload, error) {
	if len(data) < 10 {
		return nil, ErrPayloadTruncated
	}
	return &FramePayload{
		NetworkID: domain.NetworkID(binary.BigEndian.Uint64(data[0:8])),
		EtherType: binary.BigEndian.Uint16(data[8:10]),
		Data:      data[10:],
	}, nil
}

// ExtFramePayload is the VERB_EXT_FRAME body: an Ethernet frame with
// explicit source and destination MACs, needed for bridged traffic.
type ExtFramePayload struct {
	NetworkID domain.NetworkID
	DestMAC   domain.MAC
	SrcMAC    domain.MAC
	EtherType uint16
	VlanID    uint16
	Data      []byte
}

// EncodeExtFrame encodes an ExtFramePayload.
func EncodeExtFrame(p *ExtFramePayload) []byte {
	out := make([]byte, 24+len(p.Data))
	binary.BigEndian.PutUint64(out[0:8], uint64(p.NetworkID))
	putMAC(out[8:14], p.DestMAC)
	putMAC(out[14:20], p.SrcMAC)
	binary.BigEndian.PutUint16(out[20:22], p.EtherType)
	binary.BigEndian.PutUint16(out[22:24], p.VlanID)
	copy(out[24:], p.Data)
	return out
}

// DecodeExtFrame decodes a VERB_EXT_FRAME payload.
func DecodeExtFrame(data []byte) (*ExtFramePayload, error) {
	if len(data) < 24 {
		return nil, ErrPayloadTruncated
	}
	return &ExtFramePayload{
		NetworkID: domain.NetworkID(binary.BigEndian.Uint64(data[0:8])),
		DestMAC:   getMAC(data[8:14]),
		SrcMAC:    getMAC(data[14:20]),
		EtherType: binary.BigEndian.Uint16(data[20:22]),
		VlanID:    binary.BigEndian.Uint16(data[22:24]),
		Data:      data[24:],
	}, nil
}

// MulticastLikePayload is the VERB_MULTICAST_LIKE body: one or more group
// subscriptions being announced for one network.
type MulticastLikePayload struct {
	NetworkID domain.NetworkID
	Groups    []domain.MulticastGroup
}

// EncodeMulticastLike encodes a MulticastLikePayload.
func EncodeMulticastLike(p *MulticastLikePayload) []byte {
	out := make([]byte, 8, 8+10*len(p.Groups))
	binary.BigEndian.PutUint64(out[0:8], uint64(p.NetworkID))
	for _, g := range p.Groups {
		var rec [10]byte
		putMAC(rec[0:6], g.MAC)
		binary.BigEndian.PutUint32(rec[6:10], g.ADI)
		out = append(out, rec[:]...)
	}
	return out
}

// DecodeMulticastLike decodes a VERB_MULTICAST_LIKE payload.
func DecodeMulticastLike(data []byte) (*MulticastLikePayload, error) {
	if len(data) < 8 || (len(data)-8)%10 != 0 {
		return nil, ErrPayloadTruncated
	}
	p := &MulticastLikePayload{
		NetworkID: domain.NetworkID(binary.BigEndian.Uint64(data[0:8])),
	}
	for rec := data[8:]; len(rec) > 0; rec = rec[10:] {
		p.Groups = append(p.Groups, domain.MulticastGroup{
			MAC: getMAC(rec[0:6]),
			ADI: binary.BigEndian.Uint32(rec[6:10]),
		})
	}
	return p, nil
}

// ConfigRequestPayload is the VERB_NETWORK_CONFIG_REQUEST body.
type ConfigRequestPayload struct {
	NetworkID domain.NetworkID
	Revision  uint64 // revision the requester already holds, 0 for none
}

// EncodeConfigRequest encodes a ConfigRequestPayload.
func EncodeConfigRequest(p *ConfigRequestPayload) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], uint64(p.NetworkID))
	binary.BigEndian.PutUint64(out[8:16], p.Revision)
	return out
}

// DecodeConfigRequest decodes a VERB_NETWORK_CONFIG_REQUEST payload.
func DecodeConfigRequest(data []byte) (*ConfigRequestPayload, error) {
	if len(data) < 16 {
		return nil, ErrPayloadTruncated
	}
	return &ConfigRequestPayload{
		NetworkID: domain.NetworkID(binary.BigEndian.Uint64(data[0:8])),
		Revision:  binary.BigEndian.Uint64(data[8:16]),
	}, nil
}

// EncodeNetworkConfig encodes a VERB_NETWORK_CONFIG payload: the network ID
// followed by the configuration as JSON. JSON keeps the controller side
// debuggable and forward compatible; the size cost is fine for a control
// message.
func EncodeNetworkConfig(nc *domain.NetworkConfig) ([]byte, error) {
	body, err := json.Marshal(nc)
	if err != nil {
		return nil, fmt.Errorf("encode network config: %w", err)
	}
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out[0:8], uint64(nc.ID))
	copy(out[8:], body)
	return out, nil
}

// DecodeNetworkConfig decodes a VERB_NETWORK_CONFIG payload.
func DecodeNetworkConfig(data []byte) (*domain.NetworkConfig, error) {
	if len(data) < 8 {
		return nil, ErrPayloadTruncated
	}
	var nc domain.NetworkConfig
	if err := json.Unmarshal(data[8:], &nc); err != nil {
		return nil, fmt.Errorf("decode network config: %w", err)
	}
	if nc.ID != domain.NetworkID(binary.BigEndian.Uint64(data[0:8])) {
		return nil, fmt.Errorf("decode network config: envelope/body network ID mismatch")
	}
	return &nc, nil
}

// ErrorPayload is the VERB_ERROR body: a controller's response to a request
// it rejects.
type ErrorPayload struct {
	NetworkID domain.NetworkID
	RequestID uint64 // packet ID of the request being answered
	Code      uint8
}

// EncodeError encodes an ErrorPayload.
func EncodeError(p *ErrorPayload) []byte {
	out := make([]byte, 17)
	binary.BigEndian.PutUint64(out[0:8], uint64(p.NetworkID))
	binary.BigEndian.PutUint64(out[8:16], p.RequestID)
	out[16] = p.Code
	return out
}

// DecodeError decodes a VERB_ERROR payload.
func DecodeError(data []byte) (*ErrorPayload, error) {
	if len(data) < 17 {
		return nil, ErrPayloadTruncated
	}
	return &ErrorPayload{
		NetworkID: domain.NetworkID(binary.BigEndian.Uint64(data[0:8])),
		RequestID: binary.BigEndian.Uint64(data[8:16]),
		Code:      data[16],
	}, nil
}

func putMAC(dst []byte, m domain.MAC) {
	dst[0] = byte(m >> 40)
	dst[1] = byte(m >> 32)
	dst[2] = byte(m >> 24)
	dst[3] = byte(m >> 16)
	dst[4] = byte(m >> 8)
	dst[5] = byte(m)
}

func getMAC(src []byte) domain.MAC {
	return domain.MAC(uint64(src[0])<<40 | uint64(src[1])<<32 | uint64(src[2])<<24 |
		uint64(src[3])<<16 | uint64(src[4])<<8 | uint64(src[5]))
}
