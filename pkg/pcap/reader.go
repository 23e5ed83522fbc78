package pcap

import (
	"DeepTrace/internal/engine/protocol"
	"DeepTrace/internal/metrics"
	"DeepTrace/internal/model"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
)

// LiveOptions configures a live capture handle.
type LiveOptions struct {
	Interface   string
	SnapLen     int32
	Promiscuous bool
	BPFFilter   string
}

// Reader reads packets from a live interface or a capture file and turns them into flow events.
type Reader struct {
	source   gopacket.PacketDataSource
	linkType layers.LinkType
	closer   func()
	log      logrus.FieldLogger
}

// OpenLive starts capturing on an interface through libpcap.
func OpenLive(opts LiveOptions, log logrus.FieldLogger) (*Reader, error) {
	snapLen := opts.SnapLen
	if snapLen <= 0 {
		snapLen = 1600
	}
	// A short read timeout lets the read loop notice cancellation on idle links.
	handle, err := pcap.OpenLive(opts.Interface, snapLen, opts.Promiscuous, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", opts.Interface, err)
	}
	if opts.BPFFilter != "" {
		if err := handle.SetBPFFilter(opts.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid bpf filter %q: %w", opts.BPFFilter, err)
		}
	}
	return &Reader{source: handle, linkType: handle.LinkType(), closer: handle.Close, log: log}, nil
}

// OpenFile opens a pcap or pcapng file without requiring libpcap.
func OpenFile(filePath string, log logrus.FieldLogger) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	closer := func() { f.Close() }

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	// pcapng section header block type
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open pcapng file: %w", err)
		}
		return &Reader{source: ng, linkType: ng.LinkType(), closer: closer, log: log}, nil
	}

	r, err := pcapgo.NewReader(br)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	return &Reader{source: r, linkType: r.LinkType(), closer: closer, log: log}, nil
}

// Close closes the underlying handle or file.
func (r *Reader) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// maxConsecutiveReadErrors stops a capture whose source keeps failing, e.g. a live
// interface that went down.
const maxConsecutiveReadErrors = 100

// ReadPackets decodes packets and sends the resulting events to out until the source
// is exhausted, ctx is cancelled or the source fails persistently. It does not close out.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketEvent) (int, error) {
	packetSource := gopacket.NewPacketSource(r.source, r.linkType)
	packetSource.NoCopy = true

	count, readErrors := 0, 0
	for {
		select {
		case <-ctx.Done():
			return count, nil
		default:
		}

		packet, err := packetSource.NextPacket()
		switch {
		case err == nil:
			readErrors = 0
		case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
			return count, nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		default:
			// Truncated or corrupt record; the next one may still be readable.
			r.log.WithError(err).Debug("Error reading packet")
			metrics.PacketsSkipped.WithLabelValues("read_error").Inc()
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return count, nil
			}
			readErrors++
			if readErrors >= maxConsecutiveReadErrors {
				return count, fmt.Errorf("giving up after %d consecutive read errors: %w", readErrors, err)
			}
			continue
		}

		ev, err := protocol.ParsePacket(packet)
		if err != nil {
			metrics.PacketsSkipped.WithLabelValues(skipReason(err)).Inc()
			continue
		}

		select {
		case out <- ev:
			count++
		case <-ctx.Done():
			return count, nil
		}
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrNotIPv4):
		return "not_ipv4"
	case errors.Is(err, protocol.ErrUnsupportedTransport):
		return "unsupported_transport"
	default:
		return "decode_error"
	}
}
