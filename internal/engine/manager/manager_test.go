package manager

import (
	"DeepTrace/internal/engine/flowtable"
	"DeepTrace/internal/model"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	name   string
	err    error
	calls  int
	flows  []model.ExportedFlow
	closed bool
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(ctx context.Context, flows []model.ExportedFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	if s.err != nil {
		return s.err
	}
	s.flows = append(s.flows, flows...)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

func (s *memorySink) received() []model.ExportedFlow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ExportedFlow(nil), s.flows...)
}

var webFlow = model.FiveTuple{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1234, DstPort: 80, Protocol: model.ProtocolTCP}

func newTable(t *testing.T) *flowtable.Table {
	t.Helper()
	table, err := flowtable.New(flowtable.Options{})
	require.NoError(t, err)
	return table
}

func TestManager_FlushOnStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &memorySink{name: "memory"}
	m := NewManager(newTable(t), []model.Sink{sink}, Options{
		NumWorkers:          4,
		SizeOfPacketChannel: 16,
		IdleTimeout:         time.Hour,
		SweepInterval:       time.Hour,
	}, logger)
	m.Start()

	for i, ts := range []int64{1000, 3000, 8000} {
		m.InputChannel() <- &model.PacketEvent{FiveTuple: webFlow, TimestampUS: ts, PacketLength: uint32(100 * (i + 1)), IsForward: true}
	}
	m.Stop()
	m.Stop()

	flows := sink.received()
	require.Len(t, flows, 1)
	assert.Equal(t, model.ReasonShutdown, flows[0].Reason)
	assert.Equal(t, uint64(3), flows[0].Record.TotalFwdPackets)
	assert.Equal(t, uint64(600), flows[0].Record.TotalLengthFwdPackets)
	assert.False(t, sink.closed, "sinks are owned by the caller")
}

func TestManager_PacketClockSweep(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &memorySink{name: "memory"}
	table := newTable(t)
	m := NewManager(table, []model.Sink{sink}, Options{
		IdleTimeout: time.Millisecond,
		PacketClock: true,
	}, logger)

	require.NoError(t, table.Ingest(&model.PacketEvent{FiveTuple: webFlow, TimestampUS: 1000, PacketLength: 60, IsForward: true}))
	m.observe(2000)
	assert.Equal(t, 0, m.SweepNow(), "idle for exactly the timeout")

	m.observe(1500)
	m.observe(2001)
	assert.Equal(t, int64(2001), m.now())
	assert.Equal(t, 1, m.SweepNow())
	require.Len(t, sink.received(), 1)
	assert.Equal(t, model.ReasonIdle, sink.received()[0].Reason)
	assert.Equal(t, 0, table.Len())
}

func TestManager_TableFullIsNotFatal(t *testing.T) {
	logger, _ := test.NewNullLogger()
	table, err := flowtable.New(flowtable.Options{NumShards: 1, MaxEntries: 1})
	require.NoError(t, err)
	sink := &memorySink{name: "memory"}
	m := NewManager(table, []model.Sink{sink}, Options{IdleTimeout: time.Hour}, logger)
	m.Start()

	other := webFlow
	other.SrcPort = 4321
	m.InputChannel() <- &model.PacketEvent{FiveTuple: webFlow, TimestampUS: 1000, PacketLength: 60, IsForward: true}
	m.InputChannel() <- &model.PacketEvent{FiveTuple: other, TimestampUS: 2000, PacketLength: 60, IsForward: true}
	m.Stop()

	flows := sink.received()
	require.Len(t, flows, 1)
	assert.Equal(t, webFlow, flows[0].FiveTuple)
}

func TestExporter_FailingSinkDoesNotBlockOthers(t *testing.T) {
	logger, hook := test.NewNullLogger()
	broken := &memorySink{name: "broken", err: errors.New("connection refused")}
	healthy := &memorySink{name: "healthy"}
	exporter := NewExporter([]model.Sink{broken, healthy}, 0, logger)

	flows := []model.ExportedFlow{
		{FiveTuple: webFlow, Reason: model.ReasonIdle, Payload: []byte("{}")},
		{FiveTuple: webFlow, Reason: model.ReasonIdle, Err: errors.New("unsupported value: NaN")},
	}
	assert.Equal(t, 1, exporter.Export(flows))
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, healthy.calls)
	assert.Len(t, healthy.received(), 2)

	var sawSinkError bool
	for _, entry := range hook.AllEntries() {
		if entry.Data["sink"] == "broken" {
			sawSinkError = true
		}
	}
	assert.True(t, sawSinkError)
}

func TestExporter_NothingToDeliver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sink := &memorySink{name: "memory"}
	exporter := NewExporter([]model.Sink{sink}, time.Second, logger)

	assert.Equal(t, 0, exporter.Export(nil))
	assert.Equal(t, 0, exporter.Export([]model.ExportedFlow{{Err: errors.New("boom")}}))
	assert.Equal(t, 0, sink.calls)
}
