// Package queue implements the per-user Job Queue (§4.5) as an actor: a
// single goroutine owns the pending heap and in-flight set; callers
// communicate only through Add/Pop/Done/Retry messages sent over
// channels, per Design Notes §9 ("no shared-memory locking needed").
//
// The request/reply channel shape is grounded on spilldb/processor's own
// channel-driven loop (a buffered signal channel plus a select loop);
// priority ordering itself is a stdlib container/heap, a data-structure
// choice rather than an ambient concern needing a pack library.
package queue

import (
	"container/heap"
	"context"
	"time"

	"github.com/highkick05/mailboy-sub000/internal/model"
)

// retryDelay is how long a failed job waits before being re-added (§4.5).
const retryDelay = 2 * time.Second

// maxAttempts bounds retries before a job is dropped (§4.5).
const maxAttempts = 3

type addMsg struct {
	job model.Job
}

type popMsg struct {
	reply chan *model.Job
}

type doneMsg struct {
	id string
}

type retryMsg struct {
	job model.Job
}

type statsMsg struct {
	reply chan Stats
}

// Stats exposes queue depth for /sync/status.
type Stats struct {
	Pending    int
	Processing int
	Retries    int
}

// Queue is one user's job queue actor handle.
type Queue struct {
	add    chan addMsg
	pop    chan popMsg
	done   chan doneMsg
	retry  chan retryMsg
	stats  chan statsMsg
	cancel context.CancelFunc
}

type jobHeap []model.Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].AddedAt.Before(h[j].AddedAt)
}
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(model.Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// New starts the queue actor and returns its handle. Call Close to stop it.
func New() *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		add:    make(chan addMsg),
		pop:    make(chan popMsg),
		done:   make(chan doneMsg),
		retry:  make(chan retryMsg),
		stats:  make(chan statsMsg),
		cancel: cancel,
	}
	go q.run(ctx)
	return q
}

func (q *Queue) Close() { q.cancel() }

func (q *Queue) run(ctx context.Context) {
	pending := &jobHeap{}
	heap.Init(pending)
	inFlight := make(map[string]bool)
	retryStats := 0

	pendingIDs := func() map[string]bool {
		m := make(map[string]bool, len(*pending))
		for _, j := range *pending {
			m[j.ID] = true
		}
		return m
	}

	retryTimer := time.NewTimer(time.Hour)
	retryTimer.Stop()
	var retryQueue []model.Job
	scheduleRetry := func(j model.Job) {
		retryQueue = append(retryQueue, j)
		retryTimer.Reset(retryDelay)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case m := <-q.add:
			if inFlight[m.job.ID] {
				continue
			}
			ids := pendingIDs()
			if ids[m.job.ID] {
				// Replace in place if the new priority is higher (lower number).
				replaced := (*pending)[:0]
				for _, j := range *pending {
					if j.ID == m.job.ID {
						if m.job.Priority < j.Priority {
							replaced = append(replaced, m.job)
						} else {
							replaced = append(replaced, j)
						}
					} else {
						replaced = append(replaced, j)
					}
				}
				*pending = replaced
				heap.Init(pending)
				continue
			}
			heap.Push(pending, m.job)

		case m := <-q.pop:
			if pending.Len() == 0 {
				m.reply <- nil
				continue
			}
			j := heap.Pop(pending).(model.Job)
			inFlight[j.ID] = true
			jCopy := j
			m.reply <- &jCopy

		case m := <-q.done:
			delete(inFlight, m.id)

		case m := <-q.retry:
			delete(inFlight, m.job.ID)
			if m.job.Attempts >= maxAttempts {
				continue
			}
			j := m.job
			j.Attempts++
			retryStats++
			scheduleRetry(j)

		case <-retryTimer.C:
			for _, j := range retryQueue {
				if !inFlight[j.ID] {
					heap.Push(pending, j)
				}
			}
			retryQueue = nil

		case m := <-q.stats:
			m.reply <- Stats{Pending: pending.Len(), Processing: len(inFlight), Retries: retryStats}
		}
	}
}

// Add enqueues job per §4.5's add semantics (drop if in-flight, replace if
// pending with a higher priority number, else append).
func (q *Queue) Add(job model.Job) {
	if job.AddedAt.IsZero() {
		job.AddedAt = time.Now()
	}
	q.add <- addMsg{job: job}
}

// Pop returns the highest-priority pending job (ties broken by earliest
// AddedAt), moving it into the in-flight set, or nil if the queue is empty.
func (q *Queue) Pop() *model.Job {
	reply := make(chan *model.Job, 1)
	q.pop <- popMsg{reply: reply}
	return <-reply
}

// Done removes id from the in-flight set.
func (q *Queue) Done(id string) {
	q.done <- doneMsg{id: id}
}

// Retry re-queues job after a worker failure: if attempts < 3, bump
// attempts and re-add after 2s at the original priority; otherwise drop.
func (q *Queue) Retry(job model.Job) {
	q.retry <- retryMsg{job: job}
}

// Stats returns the current queue depth.
func (q *Queue) Stats() Stats {
	reply := make(chan Stats, 1)
	q.stats <- statsMsg{reply: reply}
	return <-reply
}
