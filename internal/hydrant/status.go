package hydrant

import (
	"encoding/json"
	"time"
)

// ConnectionStatus groups the pool's slot counts. Dead folds in
// quarantined slots.
type ConnectionStatus struct {
	Available int    `json:"available"`
	InUse     int    `json:"in_use"`
	Dead      int    `json:"dead"`
	Resets    uint64 `json:"resets"`
	Failures  uint64 `json:"failures"`
}

// Status is the pipeline's point-in-time snapshot.
type Status struct {
	UptimeSeconds    int64            `json:"uptime_seconds"`
	TotalBytes       uint64           `json:"total_bytes"`
	BatchesProcessed uint64           `json:"batches_processed"`
	Errors           uint64           `json:"errors"`
	AvgBatchTimeMs   float64          `json:"avg_batch_time_ms"`
	Connections      ConnectionStatus `json:"connections"`
	CurrentBatchSize int              `json:"current_batch_size"`
}

// Status snapshots the running stats and pool counts. The stats lock is
// taken before the pool lock; the two are never held together.
func (p *Pipeline) Status() Status {
	snap := p.stats.Snapshot()
	c := p.pool.Counts()

	return Status{
		UptimeSeconds:    int64(time.Since(snap.Start).Seconds()),
		TotalBytes:       snap.TotalBytes,
		BatchesProcessed: snap.Batches,
		Errors:           snap.Errors,
		AvgBatchTimeMs:   snap.AvgBatchMs,
		Connections: ConnectionStatus{
			Available: c.Available,
			InUse:     c.InUse,
			Dead:      c.Dead + c.Permanent,
			Resets:    snap.ConnResets,
			Failures:  snap.ConnFailures,
		},
		CurrentBatchSize: p.acc.Len(),
	}
}

// DetailedStatus renders the snapshot as JSON.
func (p *Pipeline) DetailedStatus() ([]byte, error) {
	return json.Marshal(p.Status())
}

// Healthy reports whether at least one pool slot is usable.
func (p *Pipeline) Healthy() bool {
	return p.pool.Healthy() > 0
}
