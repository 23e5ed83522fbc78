package manager

import (
	"DeepTrace/internal/engine/flowtable"
	"DeepTrace/internal/model"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Options tunes the worker pool and the sweep loop.
type Options struct {
	NumWorkers          int
	SizeOfPacketChannel int
	IdleTimeout         time.Duration
	SweepInterval       time.Duration
	WriteTimeout        time.Duration
	// PacketClock sweeps against the newest packet timestamp instead of the wall clock,
	// which keeps idle timeouts meaningful when replaying a capture file.
	PacketClock bool
}

// Manager feeds packet events into a flow table and exports flows it evicts.
type Manager struct {
	table    model.Aggregator
	exporter *Exporter
	log      logrus.FieldLogger

	// Worker pool for concurrent packet processing
	packetChannel chan *model.PacketEvent
	numWorkers    int
	workerWg      sync.WaitGroup

	idleTimeout   time.Duration
	sweepInterval time.Duration
	packetClock   bool
	newestPacket  atomic.Int64

	done     chan struct{}
	sweepWg  sync.WaitGroup
	stopOnce sync.Once
}

// NewManager creates a new Manager.
func NewManager(table model.Aggregator, sinks []model.Sink, opts Options, log logrus.FieldLogger) *Manager {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	return &Manager{
		table:         table,
		exporter:      NewExporter(sinks, opts.WriteTimeout, log),
		log:           log,
		packetChannel: make(chan *model.PacketEvent, opts.SizeOfPacketChannel),
		numWorkers:    opts.NumWorkers,
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
		packetClock:   opts.PacketClock,
		done:          make(chan struct{}),
	}
}

// Start begins the packet processing workers and the sweeper.
func (m *Manager) Start() {
	m.sweepWg.Add(1)
	go m.runSweeper()
	m.log.Infof("Started sweeper with interval %s and idle timeout %s", m.sweepInterval, m.idleTimeout)

	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker()
	}
	m.log.Infof("Manager started with %d workers.", m.numWorkers)
}

// Stop gracefully shuts down the manager. Buffered events are ingested, then every
// remaining flow is flushed to the sinks.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.log.Info("Manager stopping...")
		// 1. Stop accepting new packets.
		close(m.packetChannel)

		// 2. Wait for all workers to finish processing buffered packets.
		m.log.Info("Waiting for workers to finish...")
		m.workerWg.Wait()

		// 3. Stop the sweeper; it flushes on the way out.
		close(m.done)
		m.sweepWg.Wait()
		m.log.Info("Manager stopped.")
	})
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for ev := range m.packetChannel {
		if m.packetClock {
			m.observe(ev.TimestampUS)
		}
		if err := m.table.Ingest(ev); err != nil {
			if errors.Is(err, flowtable.ErrTableFull) {
				m.log.WithField("flow", ev.FiveTuple.String()).Debug("Flow table full, dropping new flow")
				continue
			}
			m.log.WithError(err).Warn("Failed to ingest packet")
		}
	}
}

// observe keeps the newest timestamp seen so far.
func (m *Manager) observe(ts int64) {
	for {
		cur := m.newestPacket.Load()
		if ts <= cur || m.newestPacket.CompareAndSwap(cur, ts) {
			return
		}
	}
}

func (m *Manager) now() int64 {
	if m.packetClock {
		return m.newestPacket.Load()
	}
	return time.Now().UnixMicro()
}

func (m *Manager) runSweeper() {
	defer m.sweepWg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SweepNow()
		case <-m.done:
			flushed := m.table.Flush()
			m.log.Infof("Flushing %d remaining flows.", len(flushed))
			m.exporter.Export(flushed)
			return
		}
	}
}

// SweepNow evicts idle flows and delivers them, returning how many were exported.
func (m *Manager) SweepNow() int {
	exported := m.table.Sweep(m.now(), m.idleTimeout.Microseconds())
	if len(exported) > 0 {
		m.log.Debugf("Sweep exported %d flows, %d still active", len(exported), m.table.Len())
		m.exporter.Export(exported)
	}
	return len(exported)
}

// InputChannel is where capture sources send decoded events.
func (m *Manager) InputChannel() chan<- *model.PacketEvent {
	return m.packetChannel
}
