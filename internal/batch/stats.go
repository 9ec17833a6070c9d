package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/hydrant/internal/metrics"
)

// DefaultRingSize is the number of per-flush records retained.
const DefaultRingSize = 1000

// FlushRecord is one entry in the stats ring.
type FlushRecord struct {
	Processed int
	Failed    int
	Timestamp time.Time
}

// Stats tracks the pipeline's running counters and a circular ring of
// recent flushes. All mutation happens under the stats lock except the
// connection counters, which are atomic so the pool can bump them from
// under its own lock without nesting.
type Stats struct {
	mu        sync.Mutex
	ring      []FlushRecord
	ringPos   int
	prevFlush time.Time // previous flush stamp; zero before the first flush

	totalBytes uint64
	batches    uint64
	errors     uint64
	avgBatchMs float64
	start      time.Time
	lastBatch  time.Time

	connResets   atomic.Uint64
	connFailures atomic.Uint64

	m   *metrics.Metrics
	now func() time.Time
}

// Snapshot is a point-in-time copy of the running stats.
type Snapshot struct {
	TotalBytes   uint64
	Batches      uint64
	Errors       uint64
	ConnResets   uint64
	ConnFailures uint64
	AvgBatchMs   float64
	Start        time.Time
}

// NewStats creates a Stats with a ring of ringSize flush records.
// m may be nil when Prometheus export is disabled.
func NewStats(ringSize int, m *metrics.Metrics) *Stats {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	st := &Stats{
		ring: make([]FlushRecord, ringSize),
		m:    m,
		now:  time.Now,
	}
	st.start = st.now()
	st.lastBatch = st.start
	return st
}

// RecordFlush advances the ring and the running counters for one flush.
// The rolling mean batch time uses the previous flush's stamp held
// beside the ring, so the first flush records no duration sample and the
// ring is never indexed behind its start.
func (st *Stats) RecordFlush(processed, failed int) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.ring[st.ringPos] = FlushRecord{Processed: processed, Failed: failed, Timestamp: now}
	st.ringPos = (st.ringPos + 1) % len(st.ring)

	st.totalBytes += uint64(processed)
	st.batches++
	if failed > 0 {
		st.errors++
	}

	if !st.prevFlush.IsZero() {
		dt := float64(now.Sub(st.prevFlush).Microseconds()) / 1000.0
		n := float64(st.batches)
		st.avgBatchMs = (st.avgBatchMs*(n-1) + dt) / n
	}
	st.prevFlush = now

	if st.m != nil {
		st.m.TotalBytes.Add(float64(processed))
		st.m.Batches.Inc()
		if failed > 0 {
			st.m.Errors.Inc()
		}
	}
}

// ConnectionReset counts one successful slot recovery.
func (st *Stats) ConnectionReset() {
	st.connResets.Add(1)
	if st.m != nil {
		st.m.ConnResets.Inc()
	}
}

// ConnectionFailure counts one failed recovery attempt.
func (st *Stats) ConnectionFailure() {
	st.connFailures.Add(1)
	if st.m != nil {
		st.m.ConnFailures.Inc()
	}
}

// Snapshot returns a copy of the running stats under the stats lock.
func (st *Stats) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	return Snapshot{
		TotalBytes:   st.totalBytes,
		Batches:      st.batches,
		Errors:       st.errors,
		ConnResets:   st.connResets.Load(),
		ConnFailures: st.connFailures.Load(),
		AvgBatchMs:   st.avgBatchMs,
		Start:        st.start,
	}
}

// ReportDue returns the batch and error counters, reporting due=true and
// refreshing the stamp when more than interval has passed since the last
// report.
func (st *Stats) ReportDue(interval time.Duration) (batches, errors uint64, due bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.now().Sub(st.lastBatch) > interval {
		st.lastBatch = st.now()
		return st.batches, st.errors, true
	}
	return st.batches, st.errors, false
}
