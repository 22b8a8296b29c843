// Package gwmp implements the wire codec for the Semtech packet-forwarder
// UDP protocol (GWMP) spoken between LoRaWAN gateways and the multiplexer.
package gwmp

import (
	"encoding/binary"
	"fmt"

	"github.com/brocaar/lorawan"
)

// PacketType is the one-byte packet-type field at header offset 3.
type PacketType byte

// Packet types defined by the protocol.
const (
	PushData PacketType = 0x00
	PushAck  PacketType = 0x01
	PullData PacketType = 0x02
	PullResp PacketType = 0x03
	PullAck  PacketType = 0x04
	TXAck    PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	case TXAck:
		return "TX_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// GatewayId is the 8-byte gateway identifier carried big-endian at header
// offsets 4..12. It is represented with the same type the teacher uses for
// LoRaWAN device identifiers.
type GatewayId = lorawan.EUI64

// RandomToken is the 16-bit opaque correlator carried at header offsets 1..3.
type RandomToken uint16

// ParseError is returned by the parse functions below.
type ParseError struct {
	Kind string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("gwmp: %s: %s", e.Kind, e.Msg)
}

func tooShort(msg string) error {
	return &ParseError{Kind: "too_short", Msg: msg}
}

// ParsePacketType reads the packet-type field from a raw datagram.
func ParsePacketType(data []byte) (PacketType, error) {
	if len(data) < 4 {
		return 0, tooShort("at least 4 bytes are expected")
	}

	switch PacketType(data[3]) {
	case PushData, PushAck, PullData, PullResp, PullAck, TXAck:
		return PacketType(data[3]), nil
	default:
		return 0, &ParseError{Kind: "unknown_type", Msg: fmt.Sprintf("unknown packet-type: 0x%02x", data[3])}
	}
}

// ParseGatewayId reads the gateway id field from a raw datagram.
func ParseGatewayId(data []byte) (GatewayId, error) {
	var id GatewayId
	if len(data) < 12 {
		return id, tooShort("at least 12 bytes are expected")
	}
	copy(id[:], data[4:12])
	return id, nil
}

// ParseRandomToken reads the random-token field from a raw datagram.
func ParseRandomToken(data []byte) (RandomToken, error) {
	if len(data) < 3 {
		return 0, tooShort("at least 3 bytes are expected")
	}
	return RandomToken(binary.BigEndian.Uint16(data[1:3])), nil
}

// BuildAck builds a 4-byte acknowledgement frame, echoing the version and
// token of the given datagram and setting the given ack packet-type.
func BuildAck(data []byte, ackType PacketType) ([]byte, error) {
	if len(data) < 3 {
		return nil, tooShort("at least 3 bytes are expected")
	}
	return []byte{data[0], data[1], data[2], byte(ackType)}, nil
}
