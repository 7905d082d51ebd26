package exam

import (
	"container/heap"
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Scheduler guarantees every in_progress attempt is force-submitted at its
// deadline even if the client never calls Submit. It keeps a deadline-ordered
// heap, pops everything due on each tick and fires Submit(timeout). The submit
// is CAS-claimed and idempotent, so extra scheduler instances are safe: one
// worker wins each attempt and the rest converge as no-ops. State rehydrates
// from the attempt records themselves, so no durable timer storage exists.
type Scheduler struct {
	svc    *Service
	store  Store
	tick   time.Duration
	rescan time.Duration

	mu      sync.Mutex
	pending deadlineHeap
}

type SchedulerOption func(*Scheduler)

func WithTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tick = d }
}

// WithRescan sets how often the scheduler rescans the store for in-progress
// attempts it never saw (e.g. started on another worker).
func WithRescan(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.rescan = d }
}

func NewScheduler(svc *Service, store Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		svc:    svc,
		store:  store,
		tick:   time.Second,
		rescan: 30 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Track enqueues an attempt's deadline. Called from StartAttempt wiring;
// attempts started elsewhere are picked up by the periodic rescan.
func (s *Scheduler) Track(a Attempt) {
	if a.Status != StatusInProgress {
		return
	}
	s.mu.Lock()
	heap.Push(&s.pending, deadlineEntry{id: a.ID, deadline: a.Deadline})
	s.mu.Unlock()
}

// Run blocks until ctx is done. It rehydrates from the store first, so a
// restarted worker resumes expiring where the old one left off.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.rehydrate(ctx); err != nil {
		log.Printf("scheduler rehydrate: %v", err)
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	rescan := time.NewTicker(s.rescan)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireDue(ctx)
		case <-rescan.C:
			if err := s.rehydrate(ctx); err != nil {
				log.Printf("scheduler rescan: %v", err)
			}
		}
	}
}

func (s *Scheduler) rehydrate(ctx context.Context) error {
	attempts, err := s.store.ListInProgress(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = s.pending[:0]
	for _, a := range attempts {
		heap.Push(&s.pending, deadlineEntry{id: a.ID, deadline: a.Deadline})
	}
	s.mu.Unlock()
	return nil
}

// expireDue pops every attempt whose deadline has passed and submits it
// with the timeout trigger. Failures stay safe: the attempt remains
// in_progress and the next rescan queues it again.
func (s *Scheduler) expireDue(ctx context.Context) {
	now := s.svc.now()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.pending[0].deadline.After(now) {
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.pending).(deadlineEntry)
		s.mu.Unlock()

		if _, err := s.svc.Submit(ctx, entry.id, TriggerTimeout); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // reset or deleted underneath us
			}
			log.Printf("expire attempt %s: %v", entry.id, err)
		}
	}
}

type deadlineEntry struct {
	id       string
	deadline time.Time
}

type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
