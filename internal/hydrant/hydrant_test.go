package hydrant

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/hydrant/internal/config"
	"github.com/koustreak/hydrant/internal/errs"
	"github.com/koustreak/hydrant/internal/logger"
	"github.com/koustreak/hydrant/internal/pool"
)

// --- fakes ---

// alwaysConn accepts every chunk and commits every transaction.
type alwaysConn struct {
	mu      sync.Mutex
	written int
	copies  int
}

func (c *alwaysConn) Healthy() bool                     { return true }
func (c *alwaysConn) Secure() bool                      { return true }
func (c *alwaysConn) Prepare(ctx context.Context) error { return nil }
func (c *alwaysConn) Close(ctx context.Context) error   { return nil }

func (c *alwaysConn) Exec(ctx context.Context, sql string) error { return nil }

func (c *alwaysConn) StartCopy(ctx context.Context) (pool.CopySink, error) {
	c.mu.Lock()
	c.copies++
	c.mu.Unlock()
	return &alwaysSink{conn: c}, nil
}

func (c *alwaysConn) totals() (written, copies int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written, c.copies
}

type alwaysSink struct {
	conn *alwaysConn
}

func (s *alwaysSink) PutChunk(chunk []byte) pool.PutResult {
	s.conn.mu.Lock()
	s.conn.written += len(chunk)
	s.conn.mu.Unlock()
	return pool.ChunkWritten
}

func (s *alwaysSink) Drain()        {}
func (s *alwaysSink) Finish() error { return nil }
func (s *alwaysSink) Abort()        {}

func testPipeline(t *testing.T, batchSize int) (*Pipeline, *alwaysConn) {
	t.Helper()
	logger.SetDefault(logger.New(&logger.Config{Level: "error", Output: io.Discard}))

	conn := &alwaysConn{}
	dial := func(ctx context.Context) (pool.Conn, error) {
		return conn, nil
	}

	cfg := &config.Config{
		DatabaseURL:  "postgres://unused",
		BatchSize:    batchSize,
		MaxRetries:   3,
		RetryDelayMs: 100,
	}

	p, err := NewWithConfig(context.Background(), cfg, dial)
	require.NoError(t, err)
	return p, conn
}

// --- tests ---

func TestPipeline_HappyPath(t *testing.T) {
	p, conn := testPipeline(t, config.DefaultBatchSize)
	defer p.RequestShutdown(context.Background())

	// 2.5 MiB through a 1 MiB batch: two full flushes plus the tail.
	input := bytes.Repeat([]byte{0xAB}, 2*config.DefaultBatchSize+config.DefaultBatchSize/2)
	p.ProcessInput(context.Background(), bytes.NewReader(input))

	written, copies := conn.totals()
	assert.Equal(t, len(input), written)
	assert.Equal(t, 3, copies)

	status := p.Status()
	assert.Equal(t, uint64(len(input)), status.TotalBytes)
	assert.Equal(t, uint64(3), status.BatchesProcessed)
	assert.Zero(t, status.Errors)
	assert.Zero(t, status.CurrentBatchSize)
}

func TestPipeline_ShutdownFlushesResidual(t *testing.T) {
	p, conn := testPipeline(t, config.MinBatchSize)

	// 100 KiB through a 64 KiB batch: one full batch flushes while
	// appending, and the 36 KiB remainder is left for shutdown to flush.
	residual := bytes.Repeat([]byte{0xCD}, 100*1024)
	for off := 0; off < len(residual); off += config.MinBatchSize {
		end := off + config.MinBatchSize
		if end > len(residual) {
			end = len(residual)
		}
		if !p.acc.Append(residual[off:end]) {
			p.acc.Flush(context.Background())
			require.True(t, p.acc.Append(residual[off:end]))
		}
	}

	p.RequestShutdown(context.Background())

	written, _ := conn.totals()
	assert.Equal(t, len(residual), written)
	assert.Zero(t, p.acc.Len())
}

func TestPipeline_ShutdownIdempotent(t *testing.T) {
	p, _ := testPipeline(t, config.MinBatchSize)

	p.RequestShutdown(context.Background())
	assert.NotPanics(t, func() {
		p.RequestShutdown(context.Background())
	})
}

func TestPipeline_StatusSnapshotShape(t *testing.T) {
	p, _ := testPipeline(t, config.MinBatchSize)
	defer p.RequestShutdown(context.Background())

	p.ProcessInput(context.Background(), bytes.NewReader(bytes.Repeat([]byte{1}, 1024)))

	body, err := p.DetailedStatus()
	require.NoError(t, err)

	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &snapshot))

	for _, key := range []string{
		"uptime_seconds", "total_bytes", "batches_processed", "errors",
		"avg_batch_time_ms", "connections", "current_batch_size",
	} {
		assert.Contains(t, snapshot, key)
	}

	conns, ok := snapshot["connections"].(map[string]interface{})
	require.True(t, ok)
	for _, key := range []string{"available", "in_use", "dead", "resets", "failures"} {
		assert.Contains(t, conns, key)
	}

	assert.Equal(t, float64(pool.DefaultSize), conns["available"])
	assert.Equal(t, float64(1024), snapshot["total_bytes"])
}

func TestPipeline_InputErrorBreaksProducer(t *testing.T) {
	p, conn := testPipeline(t, config.MinBatchSize)
	defer p.RequestShutdown(context.Background())

	// A reader that yields some bytes and then fails mid-stream. The
	// producer breaks and the buffered bytes flush at end of input.
	r := io.MultiReader(
		bytes.NewReader(bytes.Repeat([]byte{2}, 2048)),
		&failingReader{},
	)
	p.ProcessInput(context.Background(), r)

	written, _ := conn.totals()
	assert.Equal(t, 2048, written)
}

func TestPipeline_Healthy(t *testing.T) {
	p, _ := testPipeline(t, config.MinBatchSize)
	assert.True(t, p.Healthy())

	p.RequestShutdown(context.Background())
}

func TestNewWithConfig_NoHealthyConnections(t *testing.T) {
	logger.SetDefault(logger.New(&logger.Config{Level: "error", Output: io.Discard}))

	dial := func(ctx context.Context) (pool.Conn, error) {
		return nil, errs.New(errs.ErrKindConnectionFailed, "dial refused")
	}
	cfg := &config.Config{DatabaseURL: "postgres://unused", BatchSize: config.MinBatchSize}

	_, err := NewWithConfig(context.Background(), cfg, dial)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrKindConnectionFailed))
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
