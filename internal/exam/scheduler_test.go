package exam

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerExpiresDueAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, nil)

	sched := NewScheduler(f.svc, f.store)
	f.svc.OnAttemptStarted(sched.Track)

	a, err := f.svc.StartAttempt(ctx, e.ID, "stu-1")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	sched.expireDue(ctx)
	got, err := f.store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != StatusInProgress {
		t.Fatalf("expired before deadline: %s", got.Status)
	}

	f.clock.Advance(30 * time.Minute)
	sched.expireDue(ctx)
	got, err = f.store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != StatusGraded {
		t.Fatalf("status after due tick: want graded, got %s", got.Status)
	}
	if n := f.eventCount("attempt."+StatusExpired, a.ID); n != 1 {
		t.Errorf("expired events: got %d, want 1", n)
	}
	if _, err := f.store.GetResult(ctx, a.ID); err != nil {
		t.Errorf("result after expiry: %v", err)
	}
}

func TestSchedulerLeavesEarlyDeadlinesQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, func(e *Exam) { e.DurationMin = 45 })

	sched := NewScheduler(f.svc, f.store)
	f.svc.OnAttemptStarted(sched.Track)
	later, err := f.svc.StartAttempt(ctx, e.ID, "stu-1")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	e2 := f.twoMCQExam(t, nil) // 30 minute timer
	sooner, err := f.svc.StartAttempt(ctx, e2.ID, "stu-1")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	// Only the 30 minute attempt is due.
	f.clock.Advance(31 * time.Minute)
	sched.expireDue(ctx)

	if got, _ := f.store.GetAttempt(ctx, sooner.ID); got.Status != StatusGraded {
		t.Errorf("due attempt: want graded, got %s", got.Status)
	}
	if got, _ := f.store.GetAttempt(ctx, later.ID); got.Status != StatusInProgress {
		t.Errorf("not-yet-due attempt: want in_progress, got %s", got.Status)
	}
}

func TestSchedulerRehydratesFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, nil)

	// Attempt started before this scheduler existed, as after a restart.
	a, err := f.svc.StartAttempt(ctx, e.ID, "stu-1")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	sched := NewScheduler(f.svc, f.store)
	if err := sched.rehydrate(ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	f.clock.Advance(time.Hour)
	sched.expireDue(ctx)

	got, err := f.store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Status != StatusGraded {
		t.Fatalf("rehydrated attempt not expired: %s", got.Status)
	}
}

func TestSchedulerDuplicateWorkersConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, nil)

	a, err := f.svc.StartAttempt(ctx, e.ID, "stu-1")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	s1 := NewScheduler(f.svc, f.store)
	s2 := NewScheduler(f.svc, f.store)
	for _, s := range []*Scheduler{s1, s2} {
		if err := s.rehydrate(ctx); err != nil {
			t.Fatalf("rehydrate: %v", err)
		}
	}
	f.clock.Advance(time.Hour)
	s1.expireDue(ctx)
	s2.expireDue(ctx)

	if n := f.eventCount("attempt."+StatusExpired, a.ID); n != 1 {
		t.Fatalf("expired events with two workers: got %d, want 1", n)
	}
}

func TestSchedulerSkipsResetAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.twoMCQExam(t, nil)

	sched := NewScheduler(f.svc, f.store)
	f.svc.OnAttemptStarted(sched.Track)
	a, err := f.svc.StartAttempt(ctx, e.ID, "stu-1")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if _, err := f.svc.ResetAttempts(ctx, e.ID, ""); err != nil {
		t.Fatalf("ResetAttempts: %v", err)
	}

	// The queued entry now points at a deleted attempt; the tick must not
	// error out or resurrect it.
	f.clock.Advance(time.Hour)
	sched.expireDue(ctx)

	if _, err := f.store.GetAttempt(ctx, a.ID); err == nil {
		t.Fatal("deleted attempt came back")
	}
}
