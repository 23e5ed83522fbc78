package protocol

import (
	"DeepTrace/internal/model"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func tcpFrame(t *testing.T, src, dst string, sport, dport uint16, configure func(*layers.TCP), payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Window: 1024}
	if configure != nil {
		configure(tcp)
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth, ip, tcp, gopacket.Payload(payload))
}

func TestParseData_TCP(t *testing.T) {
	data := tcpFrame(t, "10.0.0.1", "10.0.0.2", 51000, 80, func(tcp *layers.TCP) {
		tcp.SYN = true
	}, nil)
	ts := time.UnixMicro(1_700_000_000_123_456)

	ev, err := ParseData(data, ts)
	require.NoError(t, err)
	assert.Equal(t, model.FiveTuple{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 51000, DstPort: 80, Protocol: model.ProtocolTCP}, ev.FiveTuple)
	assert.Equal(t, ts.UnixMicro(), ev.TimestampUS)
	assert.Equal(t, uint32(len(data)), ev.PacketLength)
	assert.Equal(t, model.FlagSYN, ev.TCPFlags)
	assert.True(t, ev.IsForward)
}

func TestParseData_TCPFlags(t *testing.T) {
	data := tcpFrame(t, "10.0.0.2", "10.0.0.1", 80, 51000, func(tcp *layers.TCP) {
		tcp.SYN, tcp.ACK = true, true
	}, nil)
	ev, err := ParseData(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.FlagSYN|model.FlagACK, ev.TCPFlags)
	assert.False(t, ev.IsForward)

	data = tcpFrame(t, "10.0.0.1", "10.0.0.2", 51000, 80, func(tcp *layers.TCP) {
		tcp.FIN, tcp.PSH, tcp.ACK, tcp.RST = true, true, true, true
	}, []byte("bye"))
	ev, err = ParseData(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.FlagFIN|model.FlagRST|model.FlagPSH|model.FlagACK, ev.TCPFlags)
}

func TestParseData_UDP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.ParseIP("8.8.8.8"), DstIP: net.ParseIP("192.168.0.1")}
	udp := &layers.UDP{SrcPort: 53, DstPort: 53000}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	data := serialize(t, eth, ip, udp, gopacket.Payload(make([]byte, 32)))

	ev, err := ParseData(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.ProtocolUDP, ev.FiveTuple.Protocol)
	assert.Equal(t, uint16(53), ev.FiveTuple.SrcPort)
	assert.Equal(t, uint8(0), ev.TCPFlags)
	assert.False(t, ev.IsForward, "the reply from the well-known port is backward")
}

func TestParseData_Unsupported(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv6}
	ip6 := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2")}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 5353}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip6))
	_, err := ParseData(serialize(t, eth, ip6, udp), time.Now())
	assert.ErrorIs(t, err, ErrNotIPv4)

	eth.EthernetType = layers.EthernetTypeIPv4
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2")}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	_, err = ParseData(serialize(t, eth, ip, icmp), time.Now())
	assert.ErrorIs(t, err, ErrUnsupportedTransport)
}

func TestIsForward(t *testing.T) {
	client := model.FiveTuple{SrcPort: 51000, DstPort: 443}
	server := model.FiveTuple{SrcPort: 443, DstPort: 51000}

	tests := []struct {
		name  string
		ft    model.FiveTuple
		flags uint8
		want  bool
	}{
		{"syn from client", client, model.FlagSYN, true},
		{"syn-ack from server", server, model.FlagSYN | model.FlagACK, false},
		{"syn to a higher port", server, model.FlagSYN, true},
		{"data from client", client, model.FlagACK | model.FlagPSH, true},
		{"data from server", server, model.FlagACK, false},
		{"equal ports", model.FiveTuple{SrcPort: 123, DstPort: 123}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsForward(tt.ft, tt.flags))
		})
	}
}
