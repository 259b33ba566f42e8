package playlist

import (
	"context"
	"sync"
)

// slot is a remote collection touched by a mirror write.
type slot int

const (
	slotQueue slot = iota
	slotCurrent
	slotHistory
)

func (s slot) String() string {
	switch s {
	case slotQueue:
		return "queue"
	case slotCurrent:
		return "current"
	case slotHistory:
		return "history"
	default:
		return "unknown"
	}
}

// mirrorJob is a remote write, or a re-read of slot when write is nil.
type mirrorJob struct {
	op        string
	slot      slot
	write     func(ctx context.Context) error
	onSuccess func()
	onFailure func()
}

// mirrorQueue runs mirror jobs one at a time in submission order.
// push never blocks so it can be called with the machine lock held.
type mirrorQueue struct {
	mu     sync.Mutex
	jobs   []mirrorJob
	closed bool
	wake   chan struct{}
	done   chan struct{}
	idle   sync.WaitGroup
}

func newMirrorQueue() *mirrorQueue {
	return &mirrorQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *mirrorQueue) push(job mirrorJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, job)
	q.idle.Add(1)
	q.signal()
	return true
}

func (q *mirrorQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run executes jobs until close is called and the backlog is drained.
func (q *mirrorQueue) run(exec func(mirrorJob)) {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		job := q.jobs[0]
		q.jobs[0] = mirrorJob{}
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		exec(job)
		q.idle.Done()
	}
}

// wait blocks until every pushed job has run.
func (q *mirrorQueue) wait() {
	q.idle.Wait()
}

// close stops accepting jobs and waits for the backlog to drain.
func (q *mirrorQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.signal()
	q.mu.Unlock()
	<-q.done
}
