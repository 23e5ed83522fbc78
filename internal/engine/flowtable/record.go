package flowtable

import (
	"DeepTrace/internal/engine/statistic"
	"DeepTrace/internal/model"
)

// Per-packet forward header estimate: 20 bytes IPv4 plus 20 TCP or 8 UDP.
const (
	tcpHeaderEstimate = 40
	udpHeaderEstimate = 28
)

// FlowRecord is the running aggregate of one flow. Timestamps are microseconds.
// It is only ever touched under the lock of the shard that owns it.
type FlowRecord struct {
	FiveTuple model.FiveTuple

	FirstSeen         int64
	LastSeen          int64
	LastFwdPacketTime int64

	TotalFwdPackets    uint64
	TotalBwdPackets    uint64
	TotalLenFwdPackets uint64

	PktLen    statistic.Welford
	FwdPktLen statistic.Welford
	BwdPktLen statistic.Welford
	FwdIAT    statistic.Welford
	FlowIAT   statistic.Welford

	MaxPacketLen    float64
	FwdPacketLenMax float64
	BwdPacketLenMax float64
	FlowIATMax      float64

	SYNCount uint64
	FINCount uint64
	RSTCount uint64
	PSHCount uint64
	ACKCount uint64

	FwdHeaderLen uint64

	// Part of the schema; nothing populates them yet.
	InitWinBytesFwd uint32
	InitWinBytesBwd uint32
}

func newFlowRecord(ft model.FiveTuple, ts int64) *FlowRecord {
	return &FlowRecord{
		FiveTuple: ft,
		FirstSeen: ts,
		LastSeen:  ts,
	}
}

// update folds one packet into the record. existed is false for the event that created it.
func (f *FlowRecord) update(ev *model.PacketEvent, existed bool) {
	ts := ev.TimestampUS
	length := float64(ev.PacketLength)

	if existed {
		iat := float64(ts - f.LastSeen)
		f.FlowIAT.Update(iat)
		if iat > f.FlowIATMax {
			f.FlowIATMax = iat
		}
	}

	if ev.IsForward {
		if f.LastFwdPacketTime > 0 {
			f.FwdIAT.Update(float64(ts - f.LastFwdPacketTime))
		}
		f.LastFwdPacketTime = ts
	}

	f.LastSeen = ts

	f.PktLen.Update(length)
	if length > f.MaxPacketLen {
		f.MaxPacketLen = length
	}

	if ev.IsForward {
		f.TotalFwdPackets++
		f.TotalLenFwdPackets += uint64(ev.PacketLength)
		f.FwdPktLen.Update(length)
		if length > f.FwdPacketLenMax {
			f.FwdPacketLenMax = length
		}
		if f.FiveTuple.Protocol == model.ProtocolTCP {
			f.FwdHeaderLen += tcpHeaderEstimate
		} else {
			f.FwdHeaderLen += udpHeaderEstimate
		}
	} else {
		f.TotalBwdPackets++
		f.BwdPktLen.Update(length)
		if length > f.BwdPacketLenMax {
			f.BwdPacketLenMax = length
		}
	}

	flags := ev.TCPFlags
	if flags&model.FlagSYN != 0 {
		f.SYNCount++
	}
	if flags&model.FlagFIN != 0 {
		f.FINCount++
	}
	if flags&model.FlagRST != 0 {
		f.RSTCount++
	}
	if flags&model.FlagPSH != 0 {
		f.PSHCount++
	}
	if flags&model.FlagACK != 0 {
		f.ACKCount++
	}
}

// Record maps the aggregate onto the exported feature schema.
func (f *FlowRecord) Record() model.FeatureRecord {
	return model.FeatureRecord{
		BwdPacketLengthStd:    f.BwdPktLen.StdDev(),
		PacketLengthVariance:  f.PktLen.Variance(),
		PacketLengthStd:       f.PktLen.StdDev(),
		TotalLengthFwdPackets: f.TotalLenFwdPackets,
		AveragePacketSize:     f.PktLen.Mean(),
		MaxPacketLength:       f.MaxPacketLen,
		BwdPacketLengthMean:   f.BwdPktLen.Mean(),
		PacketLengthMean:      f.PktLen.Mean(),
		SubflowFwdBytes:       f.TotalLenFwdPackets,
		FwdPacketLengthMax:    f.FwdPacketLenMax,
		FwdPacketLengthMean:   f.FwdPktLen.Mean(),
		DestinationPort:       f.FiveTuple.DstPort,
		FwdIATStd:             f.FwdIAT.StdDev(),
		FlowIATMax:            f.FlowIATMax,
		FwdPacketLengthStd:    f.FwdPktLen.StdDev(),
		TotalFwdPackets:       f.TotalFwdPackets,
		ActDataPktFwd:         f.TotalFwdPackets,
		InitWinBytesBackward:  f.InitWinBytesBwd,
		BwdPacketLengthMax:    f.BwdPacketLenMax,
		FwdHeaderLength:       f.FwdHeaderLen,

		SrcIP:     f.FiveTuple.SrcIP,
		DstIP:     f.FiveTuple.DstIP,
		SrcPort:   f.FiveTuple.SrcPort,
		Protocol:  f.FiveTuple.Protocol,
		Timestamp: f.LastSeen,
	}
}
