package pool

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/hydrant/internal/errs"
)

// putChunkWait is how long a chunk may sit unaccepted by the copy stream
// before the put reports backpressure.
const putChunkWait = 20 * time.Millisecond

// PGDialer returns a Dialer opening PostgreSQL sessions against the
// given connection descriptor.
func PGDialer(connString string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		pg, err := pgconn.Connect(ctx, connString)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConnectionFailed, "connect failed", err)
		}
		return &pgConn{pg: pg}, nil
	}
}

// pgConn is the production Conn over a single pgconn session.
type pgConn struct {
	pg *pgconn.PgConn
}

func (c *pgConn) Healthy() bool {
	return !c.pg.IsClosed()
}

func (c *pgConn) Secure() bool {
	_, ok := c.pg.Conn().(*tls.Conn)
	return ok
}

// Prepare installs the named bulk-copy statement. pgconn executes COPY by
// statement text rather than by prepared name, so the copy step reuses
// the same text constant; preparing here still validates the statement
// server-side on every slot.
func (c *pgConn) Prepare(ctx context.Context) error {
	if _, err := c.pg.Prepare(ctx, CopyStatementName, CopyStatement, nil); err != nil {
		return errs.Wrap(errs.ErrKindCopyFailed, "prepare failed", err)
	}
	return nil
}

func (c *pgConn) Exec(ctx context.Context, sql string) error {
	if _, err := c.pg.Exec(ctx, sql).ReadAll(); err != nil {
		return errs.Wrap(errs.ErrKindCopyFailed, sql+" failed", err)
	}
	return nil
}

func (c *pgConn) Close(ctx context.Context) error {
	return c.pg.Close(ctx)
}

// StartCopy opens one bulk-copy operation. The copy runs on its own
// goroutine, fed chunk by chunk through a bounded channel: a feed that
// stalls because the server is not consuming maps to backpressure, a
// terminated copy maps to error.
func (c *pgConn) StartCopy(ctx context.Context) (CopySink, error) {
	cctx, cancel := context.WithCancel(ctx)
	s := &pgSink{
		feed:   make(chan []byte, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		_, err := c.pg.CopyFrom(cctx, &feedReader{ctx: cctx, feed: s.feed}, CopyStatement)
		s.err = err
		close(s.done)
	}()

	return s, nil
}

// pgSink is one in-flight COPY on a pgConn.
type pgSink struct {
	feed   chan []byte
	done   chan struct{}
	cancel context.CancelFunc
	err    error // written before done is closed
}

func (s *pgSink) PutChunk(chunk []byte) PutResult {
	select {
	case <-s.done:
		return ChunkError
	default:
	}

	select {
	case s.feed <- chunk:
		return ChunkWritten
	case <-s.done:
		return ChunkError
	case <-time.After(putChunkWait):
		return ChunkBackpressure
	}
}

// Drain is a no-op here: inbound traffic is consumed by the goroutine
// running the copy.
func (s *pgSink) Drain() {}

func (s *pgSink) Finish() error {
	close(s.feed)
	<-s.done
	s.cancel()
	if s.err != nil {
		return errs.Wrap(errs.ErrKindCopyFailed, "copy failed", s.err)
	}
	return nil
}

func (s *pgSink) Abort() {
	s.cancel()
	<-s.done
}

// feedReader adapts the chunk channel to the io.Reader the copy consumes.
// Read must stay cancellable while parked on an empty feed: Abort only
// cancels the copy context, and without the ctx arm a reader waiting for
// the next chunk would never wake, leaving Abort blocked on done forever.
type feedReader struct {
	ctx  context.Context
	feed chan []byte
	rest []byte
}

func (r *feedReader) Read(p []byte) (int, error) {
	for len(r.rest) == 0 {
		select {
		case b, ok := <-r.feed:
			if !ok {
				return 0, io.EOF
			}
			r.rest = b
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}
