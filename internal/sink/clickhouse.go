package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
)

const defaultClickHouseTable = "flow_records"

const createClickHouseTable = `
CREATE TABLE IF NOT EXISTS %s (
    ExportedAt                DateTime,
    Reason                    LowCardinality(String),
    SrcIP                     String,
    DstIP                     String,
    SrcPort                   UInt16,
    DstPort                   UInt16,
    Protocol                  UInt8,
    LastSeen                  Int64,
    BwdPacketLengthStd        Float64,
    PacketLengthVariance      Float64,
    PacketLengthStd           Float64,
    TotalLengthFwdPackets     UInt64,
    AveragePacketSize         Float64,
    MaxPacketLength           Float64,
    BwdPacketLengthMean       Float64,
    PacketLengthMean          Float64,
    SubflowFwdBytes           UInt64,
    FwdPacketLengthMax        Float64,
    FwdPacketLengthMean       Float64,
    FwdIATStd                 Float64,
    FlowIATMax                Float64,
    FwdPacketLengthStd        Float64,
    TotalFwdPackets           UInt64,
    ActDataPktFwd             UInt64,
    InitWinBytesBackward      UInt32,
    BwdPacketLengthMax        Float64,
    FwdHeaderLength           UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ExportedAt)
ORDER BY (ExportedAt, SrcIP, DstIP);
`

func init() {
	Register("clickhouse", NewClickHouseSink)
}

// ClickHouseSink batch inserts feature columns into a MergeTree table.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
	log   logrus.FieldLogger
}

// NewClickHouseSink connects and ensures the table exists. DSN takes precedence over Addr.
func NewClickHouseSink(cfg config.SinkConfig, log logrus.FieldLogger) (model.Sink, error) {
	conn, err := connectClickHouse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = defaultClickHouseTable
	}
	if err := conn.Exec(context.Background(), fmt.Sprintf(createClickHouseTable, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Info("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseSink{conn: conn, table: table, log: log}, nil
}

func connectClickHouse(cfg config.SinkConfig) (driver.Conn, error) {
	opts, err := clickHouseOptions(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout(cfg))
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func clickHouseOptions(cfg config.SinkConfig) (*clickhouse.Options, error) {
	var opts *clickhouse.Options
	if cfg.DSN != "" {
		parsed, err := clickhouse.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid clickhouse dsn: %w", err)
		}
		opts = parsed
	} else {
		addr := cfg.Addr
		if addr == "" {
			addr = "127.0.0.1:9000"
		}
		opts = &clickhouse.Options{
			Addr: []string{addr},
			Auth: clickhouse.Auth{
				Database: "default",
				Username: "default",
				Password: cfg.Password,
			},
			Compression: &clickhouse.Compression{
				Method: clickhouse.CompressionLZ4,
			},
		}
	}
	opts.DialTimeout = dialTimeout(cfg)
	return opts, nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Write inserts the batch in one round trip.
func (s *ClickHouseSink) Write(ctx context.Context, flows []model.ExportedFlow) error {
	flows = deliverable(flows)
	if len(flows) == 0 {
		return nil // Nothing to write
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return &DeliveryError{Sink: s.Name(), Err: fmt.Errorf("failed to prepare batch: %w", err)}
	}

	now := time.Now()
	for i := range flows {
		if err := batch.Append(clickHouseRow(now, &flows[i])...); err != nil {
			batch.Abort()
			return &DeliveryError{Sink: s.Name(), Err: fmt.Errorf("failed to append flow to batch: %w", err)}
		}
	}
	if err := batch.Send(); err != nil {
		return &DeliveryError{Sink: s.Name(), Err: fmt.Errorf("failed to send batch: %w", err)}
	}

	s.log.Debugf("Wrote %d flows to ClickHouse table '%s'", len(flows), s.table)
	return nil
}

// clickHouseRow orders the values like the table columns.
func clickHouseRow(exportedAt time.Time, f *model.ExportedFlow) []interface{} {
	r := &f.Record
	return []interface{}{
		exportedAt,
		f.Reason,
		r.SrcIP,
		r.DstIP,
		r.SrcPort,
		r.DestinationPort,
		r.Protocol,
		r.Timestamp,
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
		r.FwdIATStd,
		r.FlowIATMax,
		r.FwdPacketLengthStd,
		r.TotalFwdPackets,
		r.ActDataPktFwd,
		r.InitWinBytesBackward,
		r.BwdPacketLengthMax,
		r.FwdHeaderLength,
	}
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
