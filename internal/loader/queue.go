package loader

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Token identifies a queued job.
type Token string

type job struct {
	token Token
	ctx   context.Context
	fn    func(context.Context) error
	done  chan error
}

// Queue runs jobs one at a time in submission order.
type Queue struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []*job
	running bool
}

// NewQueue creates an idle queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{logger: logger}
}

// Enqueue schedules fn and returns its token and a channel that receives
// its result. A job whose context ends while it waits is skipped. Once
// started, a job runs to completion: fn gets a context that is never
// cancelled.
func (q *Queue) Enqueue(ctx context.Context, fn func(context.Context) error) (Token, <-chan error) {
	j := &job{token: Token(uuid.NewString()), ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	if !q.running {
		q.running = true
		go q.run()
	}
	q.mu.Unlock()
	return j.token, j.done
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.fn(context.WithoutCancel(j.ctx))
	}
}

// Cancel removes a job that has not started. It reports whether the job
// was removed; running and finished jobs are not affected.
func (q *Queue) Cancel(t Token) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.jobs {
		if j.token != t {
			continue
		}
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
		j.done <- context.Canceled
		q.logger.Debug("load cancelled", slog.String("token", string(t)))
		return true
	}
	return false
}

// Pending returns the number of jobs waiting to start.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
