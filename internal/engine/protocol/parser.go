package protocol

import (
	"DeepTrace/internal/model"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrNotIPv4              = errors.New("not an IPv4 packet")
	ErrUnsupportedTransport = errors.New("not a TCP or UDP packet")
)

// ParseData decodes an Ethernet frame captured at ts.
func ParseData(data []byte, ts time.Time) (*model.PacketEvent, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	md := packet.Metadata()
	md.Timestamp = ts
	md.Length = len(data)
	md.CaptureLength = len(data)
	return ParsePacket(packet)
}

// ParsePacket extracts the flow metadata from a decoded packet. Only IPv4 TCP and UDP
// are supported; anything else returns ErrNotIPv4 or ErrUnsupportedTransport.
func ParsePacket(packet gopacket.Packet) (*model.PacketEvent, error) {
	ev := &model.PacketEvent{
		TimestampUS:  time.Now().UnixMicro(), // overwritten by capture metadata when present
		PacketLength: uint32(len(packet.Data())),
	}
	if md := packet.Metadata(); md != nil {
		if !md.Timestamp.IsZero() {
			ev.TimestampUS = md.Timestamp.UnixMicro()
		}
		if md.Length > 0 {
			ev.PacketLength = uint32(md.Length)
		}
	}

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, ErrNotIPv4
	}
	ip := l.(*layers.IPv4)
	ev.FiveTuple.SrcIP = ip.SrcIP.String()
	ev.FiveTuple.DstIP = ip.DstIP.String()
	ev.FiveTuple.Protocol = uint8(ip.Protocol)

	switch t := packet.TransportLayer().(type) {
	case *layers.TCP:
		ev.FiveTuple.SrcPort = uint16(t.SrcPort)
		ev.FiveTuple.DstPort = uint16(t.DstPort)
		ev.TCPFlags = tcpFlags(t)
	case *layers.UDP:
		ev.FiveTuple.SrcPort = uint16(t.SrcPort)
		ev.FiveTuple.DstPort = uint16(t.DstPort)
	default:
		return nil, ErrUnsupportedTransport
	}

	ev.IsForward = IsForward(ev.FiveTuple, ev.TCPFlags)
	return ev, nil
}

func tcpFlags(t *layers.TCP) uint8 {
	var flags uint8
	if t.FIN {
		flags |= model.FlagFIN
	}
	if t.SYN {
		flags |= model.FlagSYN
	}
	if t.RST {
		flags |= model.FlagRST
	}
	if t.PSH {
		flags |= model.FlagPSH
	}
	if t.ACK {
		flags |= model.FlagACK
	}
	return flags
}

// IsForward guesses whether a packet travels from the connection initiator.
// A bare SYN opens the connection and a SYN+ACK answers it; otherwise the side
// using the higher (ephemeral) port is taken to be the client.
func IsForward(ft model.FiveTuple, flags uint8) bool {
	if flags&model.FlagSYN != 0 {
		return flags&model.FlagACK == 0
	}
	return ft.SrcPort >= ft.DstPort
}
