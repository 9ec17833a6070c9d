// Package worker runs the pipeline's background observers.
//
// Workers never touch the batch buffer or own connections; they read the
// running stats and pool counts on a one-second cadence, emit a status
// line once a minute, and warn when pool health degrades. They hold only
// the narrow view the supervisor hands them, not the orchestrator itself.
package worker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/hydrant/internal/batch"
	"github.com/koustreak/hydrant/internal/logger"
	"github.com/koustreak/hydrant/internal/metrics"
	"github.com/koustreak/hydrant/internal/pool"
)

// DefaultWorkers is the number of observers a deployment starts.
const DefaultWorkers = 2

const (
	tickInterval   = time.Second
	reportInterval = time.Minute
)

// Supervisor starts and stops the observer goroutines. Stop is
// idempotent across repeated calls.
type Supervisor struct {
	stats    *batch.Stats
	pool     *pool.Pool
	log      *logger.Logger
	m        *metrics.Metrics
	shutdown *atomic.Bool

	wg       sync.WaitGroup
	interval time.Duration
}

// NewSupervisor wires the supervisor to the stats, pool, and the shared
// shutdown flag. m may be nil when Prometheus export is disabled.
func NewSupervisor(st *batch.Stats, p *pool.Pool, shutdown *atomic.Bool, log *logger.Logger, m *metrics.Metrics) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{
		stats:    st,
		pool:     p,
		log:      log,
		m:        m,
		shutdown: shutdown,
		interval: tickInterval,
	}
}

// Start spawns n observer goroutines.
func (s *Supervisor) Start(n int) {
	if n <= 0 {
		n = DefaultWorkers
	}
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.run(i + 1)
	}
}

// Stop raises the shared shutdown flag and joins every worker.
func (s *Supervisor) Stop() {
	s.shutdown.Store(true)
	s.wg.Wait()
}

func (s *Supervisor) run(id int) {
	defer s.wg.Done()
	log := s.log.WithThread(fmt.Sprintf("worker-%d", id))

	for !s.shutdown.Load() {
		if batches, errors, due := s.stats.ReportDue(reportInterval); due {
			log.Infof("Worker status: processed %d batches, %d errors", batches, errors)
		}

		c := s.pool.Counts()
		dead := c.Dead + c.Permanent
		if dead > 0 && c.Available < s.pool.Size()/2 {
			log.Warnf("Pool health degraded: %d dead, %d available", dead, c.Available)
		}

		if s.m != nil {
			s.m.HealthySlots.Set(float64(s.pool.Healthy()))
		}

		time.Sleep(s.interval)
	}

	log.Info("Worker shutting down")
}
