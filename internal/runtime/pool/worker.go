package pool

import (
	"fmt"
	"time"

	loggingpkg "github.com/drblury/dispatchkit/internal/runtime/logging"
)

type job struct {
	id   string
	task Task
}

// worker owns a private single-slot channel. A submitter only sends on it
// after popping the worker from the idle stack, so the send never blocks.
type worker struct {
	name  string
	pool  *Pool
	tasks chan job
}

func newWorker(p *Pool, seq int) *worker {
	return &worker{
		name:  fmt.Sprintf("%s-%d", p.name, seq),
		pool:  p,
		tasks: make(chan job, 1),
	}
}

func (w *worker) loop(first *job) {
	defer w.pool.wg.Done()

	if first != nil {
		w.pool.run(w, *first)
		if !w.pool.park(w) {
			return
		}
	}

	for {
		j, ok := w.await()
		if !ok {
			return
		}
		w.pool.run(w, j)
		if !w.pool.park(w) {
			return
		}
	}
}

// await blocks until the worker is handed a task, is retired after the
// keep-alive, or its channel is closed by Shutdown.
func (w *worker) await() (job, bool) {
	timer := time.NewTimer(w.pool.keepAlive)
	defer timer.Stop()

	select {
	case j, ok := <-w.tasks:
		return j, ok
	case <-timer.C:
		if w.pool.retire(w) {
			w.pool.logger.Trace("Worker retired after keep-alive", loggingpkg.LogFields{"worker": w.name})
			return job{}, false
		}
		// Either claimed by a submitter in the meantime, closed by Shutdown,
		// or needed to keep MinWorkers alive. All three resolve on the channel.
		j, ok := <-w.tasks
		return j, ok
	}
}
