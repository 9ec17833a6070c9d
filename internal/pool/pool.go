// Package pool manages a fixed-size set of long-lived database
// connections for the ingestion pipeline.
//
// Each slot carries its own state machine — AVAILABLE, IN_USE, DEAD,
// PERMANENT_FAILURE — independent of the underlying connection handle,
// which may be replaced during recovery while the slot identity persists.
// Dead slots are recovered with exponential backoff; a slot that exhausts
// its recovery budget is quarantined for the process lifetime.
//
// Usage:
//
//	p, err := pool.New(ctx, pool.Options{Dial: pool.PGDialer(url), RequireTLS: true})
//	if err != nil { ... }
//	lease, err := p.Acquire(ctx)
//	if err != nil { ... }
//	defer lease.Release(false)
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/hydrant/internal/errs"
	"github.com/koustreak/hydrant/internal/logger"
)

const (
	// DefaultSize is the number of slots opened at init.
	DefaultSize = 10

	// DeadThreshold is the failed-release count that sends a slot to DEAD.
	DeadThreshold = 5

	// MaxRecoveryAttempts is the recovery budget before quarantine.
	MaxRecoveryAttempts = 3

	// MaxBackoffShift caps the exponent of the recovery backoff.
	MaxBackoffShift = 10

	// RecoveryBackoffBase is the base interval between recovery attempts;
	// attempt k waits base * 2^min(k, MaxBackoffShift).
	RecoveryBackoffBase = 100 * time.Millisecond

	// maxErrorLen bounds the per-slot last-error string.
	maxErrorLen = 1024

	defaultAcquireWait = time.Second
)

// State is the lifecycle position of one pool slot.
type State int

const (
	StateAvailable State = iota
	StateInUse
	StateDead
	StatePermanentFailure
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateInUse:
		return "in_use"
	case StateDead:
		return "dead"
	case StatePermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// ErrNoConnection is returned when no slot becomes available within the
// acquire window.
var ErrNoConnection = errs.New(errs.ErrKindTimeout, "no connection available")

// slot is one pool entry. All fields are guarded by the pool mutex.
type slot struct {
	conn             Conn
	state            State
	lastUsed         time.Time
	failedAttempts   int
	recoveryAttempts int
	nextRecovery     time.Time
	lastError        string
}

// Counts is a snapshot of slot states.
type Counts struct {
	Available int
	InUse     int
	Dead      int
	Permanent int
}

// Options configures a Pool.
type Options struct {
	// Size is the number of slots; DefaultSize when zero.
	Size int

	// Dial opens connections against the configured descriptor.
	Dial Dialer

	// RequireTLS rejects sessions without a secure transport.
	RequireTLS bool

	// Log receives pool lifecycle records; logger.Default when nil.
	Log *logger.Logger

	// Recorder receives reset/failure counters; optional.
	Recorder Recorder

	// Shutdown short-circuits acquire waits when set; optional.
	Shutdown *atomic.Bool

	// AcquireWait bounds one acquire attempt; one second when zero.
	AcquireWait time.Duration

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Pool is a fixed-size connection pool with per-slot health state.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots   []*slot
	healthy int

	dial        Dialer
	requireTLS  bool
	log         *logger.Logger
	rec         Recorder
	shutdown    *atomic.Bool
	acquireWait time.Duration
	now         func() time.Time
}

// New opens opts.Size connections and returns the pool. Slots that fail
// to connect, negotiate a secure transport, or prepare the bulk-copy
// statement enter DEAD. An error is returned when zero slots are healthy.
func New(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.AcquireWait <= 0 {
		opts.AcquireWait = defaultAcquireWait
	}
	if opts.Log == nil {
		opts.Log = logger.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Pool{
		dial:        opts.Dial,
		requireTLS:  opts.RequireTLS,
		log:         opts.Log,
		rec:         opts.Recorder,
		shutdown:    opts.Shutdown,
		acquireWait: opts.AcquireWait,
		now:         opts.Now,
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < opts.Size; i++ {
		s := &slot{}
		p.openSlot(ctx, i, s)
		p.slots = append(p.slots, s)
	}

	if p.healthy == 0 {
		p.Close(ctx)
		return nil, errs.New(errs.ErrKindConnectionFailed, "no healthy connections available")
	}

	p.log.Infof("Connection pool ready with %d/%d healthy connections", p.healthy, opts.Size)
	return p, nil
}

// openSlot dials and validates one connection at init time.
func (p *Pool) openSlot(ctx context.Context, i int, s *slot) {
	c, err := p.dial(ctx)
	if err != nil {
		p.log.Errorf("Failed to connect to database: %v", err)
		s.state = StateDead
		s.lastError = truncate(err.Error())
		return
	}

	if p.requireTLS && !c.Secure() {
		p.log.Errorf("Secure transport required but not in use for connection %d", i)
		c.Close(ctx)
		s.state = StateDead
		s.lastError = "secure transport required but not in use"
		return
	}

	if err := c.Prepare(ctx); err != nil {
		p.log.Errorf("Failed to prepare statement: %v", err)
		c.Close(ctx)
		s.state = StateDead
		s.lastError = truncate(err.Error())
		return
	}

	s.conn = c
	s.state = StateAvailable
	p.healthy++
}

// Acquire returns a lease on a connection. It scans for an available
// healthy slot, then tries to recover dead slots, then waits for a
// release — renewed until the acquire window elapses or shutdown is
// observed, at which point ErrNoConnection is returned.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l := p.takeLocked(); l != nil {
		return l, nil
	}

	for _, s := range p.slots {
		if s.state != StateDead {
			continue
		}
		if p.recoverLocked(ctx, s) {
			s.state = StateInUse
			s.lastUsed = p.now()
			return &Lease{pool: p, slot: s}, nil
		}
	}

	timedOut := false
	wake := time.AfterFunc(p.acquireWait, func() {
		p.mu.Lock()
		timedOut = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	defer wake.Stop()

	for {
		if p.shutdown != nil && p.shutdown.Load() {
			return nil, ErrNoConnection
		}
		p.cond.Wait()
		if l := p.takeLocked(); l != nil {
			return l, nil
		}
		if timedOut {
			return nil, ErrNoConnection
		}
	}
}

// takeLocked claims the first available healthy slot.
func (p *Pool) takeLocked() *Lease {
	for _, s := range p.slots {
		if s.state == StateAvailable && s.conn != nil && s.conn.Healthy() {
			s.state = StateInUse
			s.lastUsed = p.now()
			return &Lease{pool: p, slot: s}
		}
	}
	return nil
}

// recoverLocked attempts to re-establish a dead slot's connection,
// subject to backoff. Called with the pool lock held.
func (p *Pool) recoverLocked(ctx context.Context, s *slot) bool {
	now := p.now()

	if now.Before(s.nextRecovery) {
		return false
	}

	if s.recoveryAttempts >= MaxRecoveryAttempts {
		if s.state != StatePermanentFailure {
			p.log.Errorf("Connection permanently failed after %d recovery attempts. Last error: %s",
				s.recoveryAttempts, s.lastError)
			s.state = StatePermanentFailure
		}
		return false
	}

	p.log.Infof("Attempting to recover connection (attempt %d/%d)",
		s.recoveryAttempts+1, MaxRecoveryAttempts)

	if s.conn != nil {
		s.conn.Close(ctx)
		s.conn = nil
	}

	c, err := p.dial(ctx)
	if err != nil {
		p.failRecoveryLocked(s, now, fmt.Sprintf("Recovery failed: %v", err))
		return false
	}
	if !c.Healthy() {
		c.Close(ctx)
		p.failRecoveryLocked(s, now, "Recovery failed: connection not healthy")
		return false
	}
	if p.requireTLS && !c.Secure() {
		c.Close(ctx)
		p.failRecoveryLocked(s, now, "Recovery failed: secure transport required but not in use")
		return false
	}
	if err := c.Prepare(ctx); err != nil {
		c.Close(ctx)
		p.failRecoveryLocked(s, now, fmt.Sprintf("Failed to prepare statement: %v", err))
		return false
	}

	s.conn = c
	s.failedAttempts = 0
	s.recoveryAttempts = 0
	s.nextRecovery = time.Time{}
	s.state = StateAvailable
	p.healthy++
	if p.rec != nil {
		p.rec.ConnectionReset()
	}

	p.log.Info("Successfully recovered connection")
	return true
}

// failRecoveryLocked records a failed recovery attempt and schedules the
// next one at base * 2^min(attempts, MaxBackoffShift).
func (p *Pool) failRecoveryLocked(s *slot, now time.Time, reason string) {
	s.lastError = truncate(reason)
	s.recoveryAttempts++

	shift := s.recoveryAttempts
	if shift > MaxBackoffShift {
		shift = MaxBackoffShift
	}
	s.nextRecovery = now.Add(RecoveryBackoffBase * (1 << shift))

	if p.rec != nil {
		p.rec.ConnectionFailure()
	}
}

// markDeadLocked transitions a slot into DEAD. Idempotent: only the first
// transition decrements the healthy counter and logs.
func (p *Pool) markDeadLocked(s *slot, reason string) {
	if s.state == StateDead || s.state == StatePermanentFailure {
		return
	}
	p.healthy--
	s.state = StateDead
	s.lastError = truncate(reason)
	p.log.Warnf("Connection marked dead: %s", reason)
}

// Counts returns a snapshot of slot states under the pool lock.
func (p *Pool) Counts() Counts {
	p.mu.Lock()
	defer p.mu.Unlock()

	var c Counts
	for _, s := range p.slots {
		switch s.state {
		case StateAvailable:
			c.Available++
		case StateInUse:
			c.InUse++
		case StateDead:
			c.Dead++
		case StatePermanentFailure:
			c.Permanent++
		}
	}
	return c
}

// Healthy returns the count of slots not in DEAD or PERMANENT_FAILURE.
func (p *Pool) Healthy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Close tears down every connection. After Close no slot holds an open
// handle; waiting acquirers are woken and time out.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if s.conn != nil {
			s.conn.Close(ctx)
			s.conn = nil
		}
	}
	p.cond.Broadcast()
}

// Lease is exclusive ownership of one pooled connection between Acquire
// and Release. Release must be called exactly once; extra calls are
// no-ops so deferred releases on error paths stay safe.
type Lease struct {
	pool     *Pool
	slot     *slot
	released bool
}

// Conn returns the leased connection.
func (l *Lease) Conn() Conn {
	return l.slot.conn
}

// Release returns the connection to the pool. With hadError the slot's
// failed-attempts counter advances and crosses into DEAD at the
// threshold; a clean release resets it. A slot already marked dead
// during use keeps that state.
func (l *Lease) Release(hadError bool) {
	p := l.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if l.released {
		return
	}
	l.released = true

	s := l.slot
	if s.state == StateInUse {
		if hadError {
			s.failedAttempts++
			if s.failedAttempts >= DeadThreshold {
				p.markDeadLocked(s, "error threshold reached")
			} else {
				s.state = StateAvailable
			}
		} else {
			s.state = StateAvailable
			s.failedAttempts = 0
		}
	}

	p.cond.Signal()
}

// MarkDead transitions the leased slot into DEAD with the given reason.
// Idempotent on slots already dead or quarantined.
func (l *Lease) MarkDead(reason string) {
	p := l.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markDeadLocked(l.slot, reason)
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
