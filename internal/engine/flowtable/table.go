package flowtable

import (
	"DeepTrace/internal/engine/serializer"
	"DeepTrace/internal/metrics"
	"DeepTrace/internal/model"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const defaultShardCount = 256

// OverflowPolicy decides what happens to a new flow when the table is at capacity.
type OverflowPolicy string

const (
	// OverflowReject drops events that would create a new flow.
	OverflowReject OverflowPolicy = "reject"
	// OverflowEvictOldest exports the least recently seen flow of the table to make room.
	OverflowEvictOldest OverflowPolicy = "evict-oldest"
)

// ErrTableFull is returned by Ingest when a new flow is rejected.
var ErrTableFull = errors.New("flow table is full")

// ParseOverflowPolicy validates a policy name.
func ParseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(name); p {
	case OverflowReject, OverflowEvictOldest:
		return p, nil
	case "":
		return OverflowReject, nil
	default:
		return "", fmt.Errorf("unknown overflow policy: '%s'", name)
	}
}

// Options configures a Table.
type Options struct {
	// NumShards partitions the table; 1 serializes everything behind a single lock.
	NumShards uint32
	// MaxEntries caps live flows, 0 means unbounded.
	MaxEntries int
	Overflow   OverflowPolicy
	// Encoder serializes evicted records, JSON when nil.
	Encoder serializer.Encoder
}

// shard is a part of the table, containing its own map and a mutex.
type shard struct {
	mu    sync.Mutex
	flows map[model.FiveTuple]*FlowRecord
}

// Table is the concurrent flow table. Every record lives in exactly one shard and is
// only read or written while holding that shard's lock, so Ingest and Sweep are
// serialized per flow.
type Table struct {
	shards     []*shard
	shardCount uint32
	maxEntries int64
	overflow   OverflowPolicy
	encoder    serializer.Encoder
	size       atomic.Int64

	pendingMu sync.Mutex
	pending   []model.ExportedFlow
}

// New creates a flow table.
func New(opts Options) (*Table, error) {
	numShards := opts.NumShards
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("max entries must not be negative, got %d", opts.MaxEntries)
	}
	overflow, err := ParseOverflowPolicy(string(opts.Overflow))
	if err != nil {
		return nil, err
	}
	encoder := opts.Encoder
	if encoder == nil {
		if encoder, err = serializer.New("json"); err != nil {
			return nil, err
		}
	}

	t := &Table{
		shards:     make([]*shard, numShards),
		shardCount: numShards,
		maxEntries: int64(opts.MaxEntries),
		overflow:   overflow,
		encoder:    encoder,
	}
	for i := range t.shards {
		t.shards[i] = &shard{flows: make(map[model.FiveTuple]*FlowRecord)}
	}
	return t, nil
}

// getShard returns the shard owning a tuple.
func (t *Table) getShard(ft model.FiveTuple) *shard {
	if t.shardCount == 1 {
		return t.shards[0]
	}
	hasher := fnv.New32a()
	hasher.Write(ft.Key())
	return t.shards[hasher.Sum32()%t.shardCount]
}

// Ingest creates or updates the flow for ev.FiveTuple. The whole update happens under
// the owning shard's lock. It returns ErrTableFull when a new flow is rejected.
func (t *Table) Ingest(ev *model.PacketEvent) error {
	s := t.getShard(ev.FiveTuple)
	for attempt := 0; ; attempt++ {
		s.mu.Lock()
		rec, existed := s.flows[ev.FiveTuple]
		if !existed {
			if !t.reserve() {
				s.mu.Unlock()
				// The victim may live in any shard, so s must not be held while evicting.
				if t.overflow != OverflowEvictOldest || attempt >= maxEvictAttempts || !t.evictOldest() {
					metrics.FlowsRejected.Inc()
					return ErrTableFull
				}
				continue
			}
			rec = newFlowRecord(ev.FiveTuple, ev.TimestampUS)
			s.flows[ev.FiveTuple] = rec
			metrics.FlowsCreated.Inc()
		}
		rec.update(ev, existed)
		s.mu.Unlock()
		metrics.PacketsIngested.Inc()
		return nil
	}
}

// maxEvictAttempts bounds how often one Ingest evicts when concurrent ingesters keep
// taking the freed slot.
const maxEvictAttempts = 4

// reserve claims room for one new flow.
func (t *Table) reserve() bool {
	if t.maxEntries == 0 {
		t.size.Add(1)
		return true
	}
	for {
		n := t.size.Load()
		if n >= t.maxEntries {
			return false
		}
		if t.size.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// evictOldest removes the least recently seen flow of the whole table and queues it
// for the next Sweep. Shards are locked one at a time. It reports false when the
// table holds no flow to evict.
func (t *Table) evictOldest() bool {
	var (
		victim   model.FiveTuple
		lastSeen int64
		owner    *shard
	)
	for _, s := range t.shards {
		s.mu.Lock()
		for key, rec := range s.flows {
			if owner == nil || rec.LastSeen < lastSeen {
				victim, lastSeen, owner = key, rec.LastSeen, s
			}
		}
		s.mu.Unlock()
	}
	if owner == nil {
		return false
	}

	owner.mu.Lock()
	rec, ok := owner.flows[victim]
	if !ok {
		// Swept or evicted meanwhile, which already freed a slot.
		owner.mu.Unlock()
		return true
	}
	delete(owner.flows, victim)
	t.size.Add(-1)
	exported := t.export(rec, model.ReasonOverflow)
	owner.mu.Unlock()

	t.pendingMu.Lock()
	t.pending = append(t.pending, exported)
	t.pendingMu.Unlock()
	return true
}

// export serializes a record that has just been removed from its shard.
func (t *Table) export(rec *FlowRecord, reason string) model.ExportedFlow {
	out := model.ExportedFlow{
		FiveTuple: rec.FiveTuple,
		Reason:    reason,
		Record:    rec.Record(),
	}
	out.Payload, out.Err = t.encoder.Encode(&out.Record)
	if out.Err != nil {
		metrics.EncodeErrors.Inc()
	}
	metrics.FlowsEvicted.WithLabelValues(reason).Inc()
	return out
}

// Sweep removes every flow with nowUS - LastSeen > ttlUS and returns them serialized,
// together with flows displaced by the overflow policy since the previous call.
// Order is unspecified.
func (t *Table) Sweep(nowUS, ttlUS int64) []model.ExportedFlow {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
		metrics.FlowsActive.Set(float64(t.size.Load()))
	}()

	exported := t.drainPending()
	return t.evict(exported, model.ReasonIdle, func(rec *FlowRecord) bool {
		return nowUS-rec.LastSeen > ttlUS
	})
}

// Flush removes every remaining flow, used on shutdown.
func (t *Table) Flush() []model.ExportedFlow {
	exported := t.drainPending()
	exported = t.evict(exported, model.ReasonShutdown, func(*FlowRecord) bool { return true })
	metrics.FlowsActive.Set(float64(t.size.Load()))
	return exported
}

func (t *Table) evict(out []model.ExportedFlow, reason string, expired func(*FlowRecord) bool) []model.ExportedFlow {
	for _, s := range t.shards {
		s.mu.Lock()
		for key, rec := range s.flows {
			if !expired(rec) {
				continue
			}
			out = append(out, t.export(rec, reason))
			delete(s.flows, key)
			t.size.Add(-1)
		}
		s.mu.Unlock()
	}
	return out
}

func (t *Table) drainPending() []model.ExportedFlow {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

// Snapshot returns copies of up to limit live records, all of them when limit <= 0.
// It does not remove anything.
func (t *Table) Snapshot(limit int) []model.FeatureRecord {
	var out []model.FeatureRecord
	for _, s := range t.shards {
		s.mu.Lock()
		for _, rec := range s.flows {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, rec.Record())
		}
		s.mu.Unlock()
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Get returns a copy of the record for a tuple.
// Note: This is for testing/metrics purposes.
func (t *Table) Get(ft model.FiveTuple) (FlowRecord, bool) {
	s := t.getShard(ft)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.flows[ft]; ok {
		return *rec, true
	}
	return FlowRecord{}, false
}

// Len returns the number of live flows.
func (t *Table) Len() int {
	return int(t.size.Load())
}

// Capacity returns the configured maximum, 0 when unbounded.
func (t *Table) Capacity() int {
	return int(t.maxEntries)
}

// Shards returns the number of partitions.
func (t *Table) Shards() int {
	return int(t.shardCount)
}

// Overflow returns the configured overflow policy.
func (t *Table) Overflow() OverflowPolicy {
	return t.overflow
}
