package main

import (
	"flag"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
	opts      = gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
)

// generator writes bidirectional conversations with a monotonically advancing clock.
type generator struct {
	w     *pcapgo.Writer
	rng   *rand.Rand
	clock time.Time
	count int
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flowCount := flag.Int("c", 100, "Number of flows to generate")
	udpRatio := flag.Float64("udp", 0.3, "Fraction of flows that are UDP request/response pairs")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	g := &generator{
		w:     pcapWriter,
		rng:   rand.New(rand.NewSource(*seed)),
		clock: time.Now(),
	}
	log.Infof("Generating %d flows into %s...", *flowCount, *outputFile)

	for i := 0; i < *flowCount; i++ {
		client := net.IP{10, 0, byte(g.rng.Intn(256)), byte(g.rng.Intn(254) + 1)}
		server := net.IP{192, 168, byte(g.rng.Intn(256)), byte(g.rng.Intn(254) + 1)}
		clientPort := uint16(g.rng.Intn(65535-1024) + 1024)

		var err error
		if g.rng.Float64() < *udpRatio {
			err = g.udpExchange(client, server, clientPort, 53)
		} else {
			err = g.tcpConversation(client, server, clientPort, []uint16{80, 443, 22, 8080}[g.rng.Intn(4)])
		}
		if err != nil {
			log.Fatalf("Failed to write flow: %v", err)
		}
	}

	log.Infof("Successfully generated %d packets in %d flows into %s.", g.count, *flowCount, *outputFile)
}

// tcpConversation writes a handshake, a few data segments each way and a FIN exchange.
func (g *generator) tcpConversation(client, server net.IP, cport, sport uint16) error {
	type segment struct {
		fromClient bool
		flags      func(*layers.TCP)
		payload    int
	}
	segments := []segment{
		{true, func(t *layers.TCP) { t.SYN = true }, 0},
		{false, func(t *layers.TCP) { t.SYN, t.ACK = true, true }, 0},
		{true, func(t *layers.TCP) { t.ACK = true }, 0},
	}
	for i := 0; i < g.rng.Intn(8)+1; i++ {
		segments = append(segments,
			segment{true, func(t *layers.TCP) { t.PSH, t.ACK = true, true }, g.rng.Intn(400) + 20},
			segment{false, func(t *layers.TCP) { t.PSH, t.ACK = true, true }, g.rng.Intn(1400) + 50},
		)
	}
	segments = append(segments,
		segment{true, func(t *layers.TCP) { t.FIN, t.ACK = true, true }, 0},
		segment{false, func(t *layers.TCP) { t.FIN, t.ACK = true, true }, 0},
		segment{true, func(t *layers.TCP) { t.ACK = true }, 0},
	)

	for _, s := range segments {
		src, dst, srcPort, dstPort := client, server, cport, sport
		if !s.fromClient {
			src, dst, srcPort, dstPort = server, client, sport, cport
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(srcPort),
			DstPort: layers.TCPPort(dstPort),
			Seq:     g.rng.Uint32(),
			Window:  14600,
		}
		s.flags(tcp)
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		if err := g.write(s.fromClient, ip, tcp, g.payload(s.payload)); err != nil {
			return err
		}
	}
	return nil
}

// udpExchange writes a request and its response.
func (g *generator) udpExchange(client, server net.IP, cport, sport uint16) error {
	for _, fromClient := range []bool{true, false} {
		src, dst, srcPort, dstPort := client, server, cport, sport
		if !fromClient {
			src, dst, srcPort, dstPort = server, client, sport, cport
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
		udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		if err := g.write(fromClient, ip, udp, g.payload(g.rng.Intn(200)+30)); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) payload(size int) gopacket.Payload {
	p := make([]byte, size)
	g.rng.Read(p)
	return p
}

func (g *generator) write(fromClient bool, ip *layers.IPv4, transport gopacket.SerializableLayer, payload gopacket.Payload) error {
	eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
	if !fromClient {
		eth.SrcMAC, eth.DstMAC = serverMAC, clientMAC
	}

	// Serialize the packet
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, payload); err != nil {
		return err
	}

	g.clock = g.clock.Add(time.Duration(g.rng.Intn(5000)+100) * time.Microsecond)
	ci := gopacket.CaptureInfo{
		Timestamp:     g.clock,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	g.count++
	if g.count%100000 == 0 {
		log.Infof("Generated %d packets...", g.count)
	}
	return g.w.WritePacket(ci, buf.Bytes())
}
