package model

// Feature names of the exported record. They are consumed verbatim by the downstream
// classifier and must not be renamed or reordered.
const (
	FieldBwdPacketLengthStd    = "Bwd Packet Length Std"
	FieldPacketLengthVariance  = "Packet Length Variance"
	FieldPacketLengthStd       = "Packet Length Std"
	FieldTotalLengthFwdPackets = "Total Length of Fwd Packets"
	FieldAveragePacketSize     = "Average Packet Size"
	FieldMaxPacketLength       = "Max Packet Length"
	FieldBwdPacketLengthMean   = "Bwd Packet Length Mean"
	FieldPacketLengthMean      = "Packet Length Mean"
	FieldSubflowFwdBytes       = "Subflow Fwd Bytes"
	FieldFwdPacketLengthMax    = "Fwd Packet Length Max"
	FieldFwdPacketLengthMean   = "Fwd Packet Length Mean"
	FieldDestinationPort       = "Destination Port"
	FieldFwdIATStd             = "Fwd IAT Std"
	FieldFlowIATMax            = "Flow IAT Max"
	FieldFwdPacketLengthStd    = "Fwd Packet Length Std"
	FieldTotalFwdPackets       = "Total Fwd Packets"
	FieldActDataPktFwd         = "act_data_pkt_fwd"
	FieldInitWinBytesBackward  = "Init_Win_bytes_backward"
	FieldBwdPacketLengthMax    = "Bwd Packet Length Max"
	FieldFwdHeaderLength       = "Fwd Header Length"
	FieldSrcIP                 = "src_ip"
	FieldDstIP                 = "dst_ip"
	FieldSrcPort               = "src_port"
	FieldProtocol              = "protocol"
	FieldTimestamp             = "timestamp"
)

// FieldNames lists every record field in wire order.
var FieldNames = []string{
	FieldBwdPacketLengthStd,
	FieldPacketLengthVariance,
	FieldPacketLengthStd,
	FieldTotalLengthFwdPackets,
	FieldAveragePacketSize,
	FieldMaxPacketLength,
	FieldBwdPacketLengthMean,
	FieldPacketLengthMean,
	FieldSubflowFwdBytes,
	FieldFwdPacketLengthMax,
	FieldFwdPacketLengthMean,
	FieldDestinationPort,
	FieldFwdIATStd,
	FieldFlowIATMax,
	FieldFwdPacketLengthStd,
	FieldTotalFwdPackets,
	FieldActDataPktFwd,
	FieldInitWinBytesBackward,
	FieldBwdPacketLengthMax,
	FieldFwdHeaderLength,
	FieldSrcIP,
	FieldDstIP,
	FieldSrcPort,
	FieldProtocol,
	FieldTimestamp,
}

// FeatureRecord is the fixed-schema record exported for every evicted flow.
// Field order matches FieldNames; the json tags carry the exact wire names.
type FeatureRecord struct {
	BwdPacketLengthStd    float64 `json:"Bwd Packet Length Std"`
	PacketLengthVariance  float64 `json:"Packet Length Variance"`
	PacketLengthStd       float64 `json:"Packet Length Std"`
	TotalLengthFwdPackets uint64  `json:"Total Length of Fwd Packets"`
	AveragePacketSize     float64 `json:"Average Packet Size"`
	MaxPacketLength       float64 `json:"Max Packet Length"`
	BwdPacketLengthMean   float64 `json:"Bwd Packet Length Mean"`
	PacketLengthMean      float64 `json:"Packet Length Mean"`
	SubflowFwdBytes       uint64  `json:"Subflow Fwd Bytes"`
	FwdPacketLengthMax    float64 `json:"Fwd Packet Length Max"`
	FwdPacketLengthMean   float64 `json:"Fwd Packet Length Mean"`
	DestinationPort       uint16  `json:"Destination Port"`
	FwdIATStd             float64 `json:"Fwd IAT Std"`
	FlowIATMax            float64 `json:"Flow IAT Max"`
	FwdPacketLengthStd    float64 `json:"Fwd Packet Length Std"`
	TotalFwdPackets       uint64  `json:"Total Fwd Packets"`
	ActDataPktFwd         uint64  `json:"act_data_pkt_fwd"`
	InitWinBytesBackward  uint32  `json:"Init_Win_bytes_backward"`
	BwdPacketLengthMax    float64 `json:"Bwd Packet Length Max"`
	FwdHeaderLength       uint64  `json:"Fwd Header Length"`

	SrcIP     string `json:"src_ip"`
	DstIP     string `json:"dst_ip"`
	SrcPort   uint16 `json:"src_port"`
	Protocol  uint8  `json:"protocol"`
	Timestamp int64  `json:"timestamp"`
}

// Values returns the record's fields in FieldNames order.
func (r *FeatureRecord) Values() []interface{} {
	return []interface{}{
		r.BwdPacketLengthStd,
		r.PacketLengthVariance,
		r.PacketLengthStd,
		r.TotalLengthFwdPackets,
		r.AveragePacketSize,
		r.MaxPacketLength,
		r.BwdPacketLengthMean,
		r.PacketLengthMean,
		r.SubflowFwdBytes,
		r.FwdPacketLengthMax,
		r.FwdPacketLengthMean,
		r.DestinationPort,
		r.FwdIATStd,
		r.FlowIATMax,
		r.FwdPacketLengthStd,
		r.TotalFwdPackets,
		r.ActDataPktFwd,
		r.InitWinBytesBackward,
		r.BwdPacketLengthMax,
		r.FwdHeaderLength,
		r.SrcIP,
		r.DstIP,
		r.SrcPort,
		r.Protocol,
		r.Timestamp,
	}
}
