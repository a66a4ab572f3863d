// Package lock provides an in-process single-writer lock for database
// files. A holder that is asked to give up a resource is called back so it
// can drain its connections before the resource changes hands.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/gridsource/pkg/provider"
	"golang.org/x/sync/semaphore"
)

// ErrNotHeld is returned when releasing a resource the session does not hold.
var ErrNotHeld = errors.New("lock not held")

// Local arbitrates resources between sessions of one process.
type Local struct {
	logger *slog.Logger

	mu        sync.Mutex
	resources map[string]*resource
}

type resource struct {
	sem      *semaphore.Weighted
	holder   *Session
	revoking bool
}

// NewLocal creates an empty lock table.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Local{
		logger:    logger.With(slog.String("component", "lock")),
		resources: make(map[string]*resource),
	}
}

// Session returns a lock handle. onRelease is called when another session
// needs a resource this session holds; it may be nil.
func (l *Local) Session(onRelease provider.ReleaseFunc) *Session {
	return &Session{lock: l, onRelease: onRelease}
}

// Holder returns the session holding name, or nil.
func (l *Local) Holder(name string) *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.resources[name]; ok {
		return r.holder
	}
	return nil
}

func (l *Local) resource(name string) *resource {
	r, ok := l.resources[name]
	if !ok {
		r = &resource{sem: semaphore.NewWeighted(1)}
		l.resources[name] = r
	}
	return r
}

// Session is one participant of a Local lock. It implements provider.Lock.
type Session struct {
	lock      *Local
	onRelease provider.ReleaseFunc
}

// Acquire takes the resource. If another session holds it, that session's
// release callback runs first and its hold is revoked once the callback
// returns. Acquiring a held resource again is a no-op.
func (s *Session) Acquire(ctx context.Context, name string) (bool, error) {
	l := s.lock

	l.mu.Lock()
	r := l.resource(name)
	if r.holder == s {
		l.mu.Unlock()
		return true, nil
	}
	if r.sem.TryAcquire(1) {
		r.holder = s
		l.mu.Unlock()
		l.logger.Debug("acquired", slog.String("resource", name))
		return true, nil
	}

	prev := r.holder
	revoke := prev != nil && !r.revoking
	if revoke {
		r.revoking = true
	}
	l.mu.Unlock()

	if revoke {
		l.logger.Debug("revoking", slog.String("resource", name))
		err := prev.release(ctx)

		l.mu.Lock()
		r.revoking = false
		if err == nil && r.holder == prev {
			r.holder = nil
			r.sem.Release(1)
		}
		l.mu.Unlock()

		if err != nil {
			return false, fmt.Errorf("failed to revoke %s from holder: %w", name, err)
		}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	l.mu.Lock()
	r.holder = s
	l.mu.Unlock()
	l.logger.Debug("acquired", slog.String("resource", name))
	return true, nil
}

// Release gives up the resource.
func (s *Session) Release(_ context.Context, name string) error {
	l := s.lock
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.resources[name]
	if !ok || r.holder != s {
		return ErrNotHeld
	}
	r.holder = nil
	r.sem.Release(1)
	l.logger.Debug("released", slog.String("resource", name))
	return nil
}

func (s *Session) release(ctx context.Context) error {
	if s.onRelease == nil {
		return nil
	}
	return s.onRelease(ctx)
}

var _ provider.Lock = (*Session)(nil)
