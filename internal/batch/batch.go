// Package batch accumulates raw bytes into a bounded in-memory buffer
// and ships full batches to the database through the bulk-copy protocol.
//
// Append either fits entirely in the remaining capacity or is rejected;
// there are no partial appends. Flush drains the buffer through one
// pooled connection inside one transaction, streaming fixed-size chunks
// with backpressure handling. A failed flush discards the unshipped tail
// — the pipeline is at-most-once per flushed batch, and nothing at this
// layer retries.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/hydrant/internal/logger"
	"github.com/koustreak/hydrant/internal/pool"
)

const (
	// CopyChunkSize is the unit of streaming into the copy protocol.
	CopyChunkSize = 8 * 1024

	// maxPutRetries bounds consecutive backpressure events on one chunk.
	maxPutRetries = 5

	// progressLogEvery spaces the DEBUG progress records.
	progressLogEvery = 1024 * 1024
)

// Archiver receives the unshipped tail of a failed flush. Implementations
// must not feed the data back into the pipeline.
type Archiver interface {
	Archive(ctx context.Context, seq uint64, data []byte) error
}

// Accumulator is the bounded batch buffer and its flush driver. One
// producer writes; Append and the residual shutdown flush hold the batch
// lock, the streaming copy itself does not.
type Accumulator struct {
	mu  sync.Mutex
	buf []byte
	pos int

	pool     *pool.Pool
	stats    *Stats
	log      *logger.Logger
	archiver Archiver
	seq      atomic.Uint64

	chunkSize int
	sleep     func(time.Duration)
}

// NewAccumulator creates an Accumulator with the given capacity in bytes.
func NewAccumulator(capacity int, p *pool.Pool, st *Stats, log *logger.Logger) *Accumulator {
	if log == nil {
		log = logger.Default()
	}
	return &Accumulator{
		buf:       make([]byte, capacity),
		pool:      p,
		stats:     st,
		log:       log,
		chunkSize: CopyChunkSize,
		sleep:     time.Sleep,
	}
}

// SetArchiver installs the dead-letter archive for unshipped tails.
func (a *Accumulator) SetArchiver(ar Archiver) {
	a.archiver = ar
}

// Append copies data into the buffer iff it fits in the remaining
// capacity. The caller's pattern on false is: flush, then retry the
// append; a second false is fatal for that producer.
func (a *Accumulator) Append(data []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pos+len(data) > len(a.buf) {
		return false
	}
	copy(a.buf[a.pos:], data)
	a.pos += len(data)
	return true
}

// Len returns the current buffer position.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

// Capacity returns the configured batch capacity.
func (a *Accumulator) Capacity() int {
	return len(a.buf)
}

// Flush drains the buffer into the database via one acquired connection
// and one transaction. The buffer position is reset to zero on return,
// success or not. Returns bytes shipped, bytes lost, and overall success.
func (a *Accumulator) Flush(ctx context.Context) (processed, failed int, ok bool) {
	a.mu.Lock()
	data := a.buf[:a.pos]
	a.mu.Unlock()

	processed, failed, ok = a.flush(ctx, data)

	a.mu.Lock()
	a.pos = 0
	a.mu.Unlock()
	return processed, failed, ok
}

// FlushResidual is the shutdown path: it drains whatever is buffered
// while holding the batch lock, so no producer can interleave.
func (a *Accumulator) FlushResidual(ctx context.Context) (processed, failed int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pos == 0 {
		return 0, 0, true
	}
	processed, failed, ok = a.flush(ctx, a.buf[:a.pos])
	a.pos = 0
	return processed, failed, ok
}

// flush ships data as a single bulk-copy operation within a transaction.
func (a *Accumulator) flush(ctx context.Context, data []byte) (int, int, bool) {
	if len(data) == 0 {
		return 0, 0, true
	}

	lease, err := a.pool.Acquire(ctx)
	if err != nil {
		a.log.Error("No connection available for batch flush")
		a.archive(ctx, data)
		a.stats.RecordFlush(0, len(data))
		return 0, len(data), false
	}

	ok := true
	defer func() {
		lease.Release(!ok)
	}()

	conn := lease.Conn()

	if err := conn.Exec(ctx, "BEGIN"); err != nil {
		a.log.Errorf("Failed to begin transaction: %v", err)
		lease.MarkDead(err.Error())
		ok = false
		a.archive(ctx, data)
		a.stats.RecordFlush(0, len(data))
		return 0, len(data), false
	}

	sink, err := conn.StartCopy(ctx)
	if err != nil {
		a.log.Errorf("Failed to start COPY: %v", err)
		conn.Exec(ctx, "ROLLBACK")
		lease.MarkDead(err.Error())
		ok = false
		a.archive(ctx, data)
		a.stats.RecordFlush(0, len(data))
		return 0, len(data), false
	}

	written := 0
	retries := 0

	for written < len(data) {
		end := written + a.chunkSize
		if end > len(data) {
			end = len(data)
		}

		switch sink.PutChunk(data[written:end]) {
		case pool.ChunkWritten:
			written = end
			retries = 0
			if written%progressLogEvery == 0 {
				a.log.Debugf("COPY progress: %d/%d bytes", written, len(data))
			}

		case pool.ChunkBackpressure:
			sink.Drain()
			retries++
			if retries > maxPutRetries {
				a.log.Error("Max retries exceeded waiting for buffer space")
				lease.MarkDead("max retries exceeded waiting for buffer space")
				ok = false
				break
			}
			a.sleep(backoffSleep(retries))
			continue

		case pool.ChunkError:
			a.log.Error("Failed to write batch data")
			lease.MarkDead("copy write failed")
			ok = false
		}

		if !ok {
			break
		}
	}

	if ok {
		if err := sink.Finish(); err != nil {
			a.log.Errorf("Failed to end COPY: %v", err)
			ok = false
		} else if err := conn.Exec(ctx, "COMMIT"); err != nil {
			a.log.Errorf("Failed to commit transaction: %v", err)
			ok = false
		}
	} else {
		sink.Abort()
	}

	failed := 0
	if !ok {
		conn.Exec(ctx, "ROLLBACK")
		failed = len(data) - written
		a.archive(ctx, data[written:])
	}

	a.stats.RecordFlush(written, failed)
	return written, failed, ok
}

// archive hands the unshipped tail to the dead-letter store, best effort.
func (a *Accumulator) archive(ctx context.Context, tail []byte) {
	if a.archiver == nil || len(tail) == 0 {
		return
	}
	seq := a.seq.Add(1)
	if err := a.archiver.Archive(ctx, seq, tail); err != nil {
		a.log.Errorf("Failed to archive unshipped batch tail: %v", err)
		return
	}
	a.log.Infof("Archived %d unshipped bytes (seq %d)", len(tail), seq)
}

// backoffSleep is 2^min(retries, MaxBackoffShift) milliseconds.
func backoffSleep(retries int) time.Duration {
	shift := retries
	if shift > pool.MaxBackoffShift {
		shift = pool.MaxBackoffShift
	}
	return time.Millisecond * (1 << shift)
}
