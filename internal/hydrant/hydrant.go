// Package hydrant wires the ingestion pipeline together: configuration,
// the connection pool, the batch accumulator, background workers, and
// the optional status surface. The Pipeline lives for the process; one
// producer drives ProcessInput and RequestShutdown tears everything down
// with the in-flight batch either committed or reported as lost.
package hydrant

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/hydrant/internal/batch"
	"github.com/koustreak/hydrant/internal/config"
	"github.com/koustreak/hydrant/internal/deadletter"
	"github.com/koustreak/hydrant/internal/logger"
	"github.com/koustreak/hydrant/internal/metrics"
	"github.com/koustreak/hydrant/internal/pool"
	"github.com/koustreak/hydrant/internal/server"
	"github.com/koustreak/hydrant/internal/worker"
)

// Pipeline owns every subsystem of one ingestion process.
type Pipeline struct {
	cfg   *config.Config
	log   *logger.Logger
	m     *metrics.Metrics
	stats *batch.Stats
	pool  *pool.Pool
	acc   *batch.Accumulator
	sup   *worker.Supervisor
	srv   *server.Server

	shutdown atomic.Bool
	closing  atomic.Bool
	sourceID string
	start    time.Time
}

// New loads configuration from path (or the environment when path is
// empty) and builds the pipeline against PostgreSQL.
func New(configPath string) (*Pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(context.Background(), cfg, pool.PGDialer(cfg.DatabaseURL))
}

// NewWithConfig builds the pipeline from an already-loaded Config and a
// Dialer. Tests substitute fake dialers here.
func NewWithConfig(ctx context.Context, cfg *config.Config, dial pool.Dialer) (*Pipeline, error) {
	log := logger.Default()
	cfg.Clamp(log)

	p := &Pipeline{
		cfg:      cfg,
		log:      log,
		m:        metrics.New(),
		sourceID: uuid.NewString(),
		start:    time.Now(),
	}

	p.stats = batch.NewStats(batch.DefaultRingSize, p.m)

	pl, err := pool.New(ctx, pool.Options{
		Dial:       dial,
		RequireTLS: cfg.RequireTLS,
		Log:        log,
		Recorder:   p.stats,
		Shutdown:   &p.shutdown,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pl

	p.acc = batch.NewAccumulator(cfg.BatchSize, pl, p.stats, log)

	if cfg.DeadLetter != nil {
		ar, err := deadletter.New(ctx, cfg.DeadLetter, p.sourceID, log)
		if err != nil {
			log.Errorf("Dead-letter archive disabled: %v", err)
		} else {
			p.acc.SetArchiver(ar)
		}
	}

	p.sup = worker.NewSupervisor(p.stats, pl, &p.shutdown, log, p.m)
	p.sup.Start(worker.DefaultWorkers)

	if cfg.StatusAddr != "" {
		p.srv = server.New(cfg.StatusAddr, p, p.m.Handler(), log)
		p.srv.Start()
	}

	log.Infof("Hydrant initialized successfully with %d healthy connections (source %s)",
		pl.Healthy(), p.sourceID)
	return p, nil
}

// ProcessInput reads r in chunks sized to the batch capacity, appending
// each into the accumulator; a full buffer flushes and the chunk is
// retried once. Honors the shutdown flag between iterations and flushes
// any non-empty buffer at end of input.
func (p *Pipeline) ProcessInput(ctx context.Context, r io.Reader) {
	log := p.log.WithThread("producer")
	buf := make([]byte, p.acc.Capacity())

	for {
		if p.shutdown.Load() {
			break
		}

		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if !p.acc.Append(chunk) {
				p.acc.Flush(ctx)
				if !p.acc.Append(chunk) {
					log.Error("Failed to add data after flushing batch")
					break
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Errorf("Input read error: %v", err)
			}
			break
		}
	}

	if p.acc.Len() > 0 {
		p.acc.Flush(ctx)
	}
}

// RequestShutdown drains the pipeline: raises the shutdown flag, joins
// the workers, flushes any residual buffer under the batch lock, stops
// the status listener, and closes the pool. Idempotent — a second call
// observes the flag already set and returns.
func (p *Pipeline) RequestShutdown(ctx context.Context) {
	if !p.closing.CompareAndSwap(false, true) {
		return
	}

	p.log.Info("Shutdown requested")
	p.shutdown.Store(true)
	p.sup.Stop()

	if processed, failed, ok := p.acc.FlushResidual(ctx); !ok {
		p.log.Errorf("Failed to flush final batch: %d bytes lost", failed)
	} else if processed > 0 {
		p.log.Infof("Final batch flushed: %d bytes", processed)
	}

	if p.srv != nil {
		p.srv.Shutdown(ctx)
	}

	if status, err := p.DetailedStatus(); err == nil {
		p.log.Infof("Final hydrant status: %s", status)
	}

	p.pool.Close(ctx)
}

// SourceID returns this process's source identity token.
func (p *Pipeline) SourceID() string {
	return p.sourceID
}
