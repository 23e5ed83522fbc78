package model

import (
	"fmt"
	"strconv"
)

// IP protocol numbers the decoder understands.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// TCP flag bits as carried in the TCP header.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
)

// FiveTuple identifies a flow. It is a comparable value and is used directly as a map key.
// Source and destination are never swapped into a canonical order: the two directions of a
// connection are distinct identities unless the decoder already normalised them.
type FiveTuple struct {
	SrcIP    string
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// String renders the tuple as "src:port->dst:port/proto".
func (ft FiveTuple) String() string {
	return fmt.Sprintf("%s:%d->%s:%d/%d", ft.SrcIP, ft.SrcPort, ft.DstIP, ft.DstPort, ft.Protocol)
}

// Key returns a stable byte key for partitioning and message keys.
func (ft FiveTuple) Key() []byte {
	b := make([]byte, 0, len(ft.SrcIP)+len(ft.DstIP)+16)
	b = append(b, ft.SrcIP...)
	b = append(b, '-')
	b = append(b, ft.DstIP...)
	b = append(b, '-')
	b = strconv.AppendUint(b, uint64(ft.SrcPort), 10)
	b = append(b, '-')
	b = strconv.AppendUint(b, uint64(ft.DstPort), 10)
	b = append(b, '-')
	b = strconv.AppendUint(b, uint64(ft.Protocol), 10)
	return b
}

// PacketEvent holds the metadata extracted from a single packet by the decoder.
// TimestampUS is microseconds since an arbitrary epoch; PacketLength is the wire length.
type PacketEvent struct {
	FiveTuple    FiveTuple
	TimestampUS  int64
	PacketLength uint32
	TCPFlags     uint8
	IsForward    bool
}
