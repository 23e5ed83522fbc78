package sink

import (
	"DeepTrace/internal/config"
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/model"
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	sarama "github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func exportedFlow(t *testing.T, srcPort uint16) model.ExportedFlow {
	t.Helper()
	ft := model.FiveTuple{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: srcPort, DstPort: 80, Protocol: model.ProtocolTCP}
	rec := model.FeatureRecord{
		TotalFwdPackets:       3,
		ActDataPktFwd:         3,
		TotalLengthFwdPackets: 600,
		SubflowFwdBytes:       600,
		DestinationPort:       80,
		SrcIP:                 ft.SrcIP,
		DstIP:                 ft.DstIP,
		SrcPort:               ft.SrcPort,
		Protocol:              ft.Protocol,
		Timestamp:             8000,
	}
	enc, err := serializer.New("json")
	require.NoError(t, err)
	payload, err := enc.Encode(&rec)
	require.NoError(t, err)
	return model.ExportedFlow{FiveTuple: ft, Reason: model.ReasonIdle, Record: rec, Payload: payload}
}

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"clickhouse", "file", "kafka", "nats", "postgres", "redis"}, Types())
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(config.SinkConfig{Type: "carrier-pigeon"}, testLogger())
	assert.True(t, errors.Is(err, ErrUnknownSink))
}

func TestNew_InvalidSettings(t *testing.T) {
	_, err := New(config.SinkConfig{Type: "kafka"}, testLogger())
	assert.Error(t, err)
	_, err = New(config.SinkConfig{Type: "postgres"}, testLogger())
	assert.Error(t, err)
}

func TestRegister_Duplicate(t *testing.T) {
	assert.Panics(t, func() { Register("file", NewFileSink) })
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&DeliveryError{Sink: "redis", Err: cause})

	assert.True(t, errors.Is(err, ErrDelivery))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "connection reset for redis sink", err.Error())
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.jsonl")
	s, err := NewAll([]config.SinkConfig{{Type: "file", Path: path}}, testLogger())
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.Equal(t, "file", s[0].Name())

	broken := exportedFlow(t, 3)
	broken.Payload = nil
	broken.Err = errors.New("unsupported value: NaN")

	flows := []model.ExportedFlow{exportedFlow(t, 1), exportedFlow(t, 2), broken}
	require.NoError(t, s[0].Write(context.Background(), flows))
	require.NoError(t, s[0].Write(context.Background(), nil))
	CloseAll(s, testLogger())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ports []uint16
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rec, err := serializer.Decode(scanner.Bytes())
		require.NoError(t, err)
		assert.Equal(t, uint64(600), rec.TotalLengthFwdPackets)
		ports = append(ports, rec.SrcPort)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []uint16{1, 2}, ports, "records that failed to encode are skipped")
}

func TestFileSink_BadPath(t *testing.T) {
	_, err := New(config.SinkConfig{Type: "file", Path: filepath.Join(t.TempDir(), "missing", "flows.jsonl")}, testLogger())
	assert.Error(t, err)
}

func TestKafkaSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		rec, err := serializer.Decode(val)
		if err != nil {
			return err
		}
		if rec.SrcPort != 1 {
			return errors.New("unexpected record order")
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	s := newKafkaSink(producer, "", testLogger())
	assert.Equal(t, defaultKafkaTopic, s.topic)
	require.NoError(t, s.Write(context.Background(), []model.ExportedFlow{exportedFlow(t, 1), exportedFlow(t, 2)}))
	require.NoError(t, s.Close())
}

func TestKafkaSink_Failure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := newKafkaSink(producer, "flows", testLogger())
	err := s.Write(context.Background(), []model.ExportedFlow{exportedFlow(t, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelivery))

	var derr *DeliveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "kafka", derr.Sink)
	require.NoError(t, s.Close())
}

func TestClickHouseRow(t *testing.T) {
	f := exportedFlow(t, 1)
	now := time.Unix(1700000000, 0)
	row := clickHouseRow(now, &f)

	require.Len(t, row, 27)
	assert.Equal(t, now, row[0])
	assert.Equal(t, model.ReasonIdle, row[1])
	assert.Equal(t, "10.0.0.1", row[2])
	assert.Equal(t, uint16(80), row[5])
	assert.Equal(t, int64(8000), row[7])
}

func TestPostgresInsert(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "flow_records" (reason, src_ip, dst_ip, src_port, dst_port, protocol, record) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		postgresInsert(`"flow_records"`))
}

func TestClickHouseOptions(t *testing.T) {
	opts, err := clickHouseOptions(config.SinkConfig{Type: "clickhouse", DSN: "clickhouse://127.0.0.1:9000/default"})
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:9000"}, opts.Addr)
	assert.Equal(t, "default", opts.Auth.Database)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)

	opts, err = clickHouseOptions(config.SinkConfig{Type: "clickhouse", Addr: "10.0.0.5:9000", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.5:9000"}, opts.Addr)
	assert.Equal(t, "default", opts.Auth.Database)
	assert.Equal(t, time.Second, opts.DialTimeout)
}
