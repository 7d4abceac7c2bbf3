package pool

import "sync/atomic"

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name       string `json:"name"`
	MinWorkers int    `json:"min_workers"`
	MaxWorkers int    `json:"max_workers"`
	Workers    int    `json:"workers"` // running + idle
	Active     int    `json:"active"`
	Idle       int    `json:"idle"`
	// Queued is always zero: admission is direct handoff.
	Queued int `json:"queued"`

	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"` // finished tasks, failed ones included
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

type counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}
