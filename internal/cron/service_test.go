package cron

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

type fakeLock struct {
	acquired  bool
	releases  int
	extends   int
	loseAfter int
}

func (f *fakeLock) Extend(context.Context) error {
	f.extends++
	if f.loseAfter > 0 && f.extends >= f.loseAfter {
		return ErrLockLost
	}
	return nil
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.releases++
	return nil
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panic {
		panic("job exploded")
	}
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
		RunHour:  2,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	exploding := &testJob{name: "panic", panic: true}
	last := &testJob{name: "last"}
	lock := &fakeLock{}
	service := newTestService(t, lock, success, failure, exploding, last)

	err := service.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected combined job failures")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 job failures, got %d: %v", got, err)
	}
	if !strings.Contains(err.Error(), "fail: boom") || !strings.Contains(err.Error(), "panic: job panicked") {
		t.Fatalf("failures not attributed to jobs: %v", err)
	}
	for _, job := range []*testJob{success, failure, exploding, last} {
		if job.runs != 1 {
			t.Fatalf("expected %s to run once, ran %d", job.name, job.runs)
		}
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released once, got %d", lock.releases)
	}
}

func TestServiceRunCycleStopsWhenLeaseLost(t *testing.T) {
	first := &testJob{name: "sweep"}
	second := &testJob{name: "enforce"}
	third := &testJob{name: "cleanup"}
	lock := &fakeLock{loseAfter: 2}
	service := newTestService(t, lock, first, second, third)

	err := service.RunCycle(context.Background())
	if !errors.Is(err, ErrLockLost) {
		t.Fatalf("expected lease loss, got %v", err)
	}
	if first.runs != 1 || second.runs != 1 || third.runs != 0 {
		t.Fatalf("unexpected runs %d/%d/%d", first.runs, second.runs, third.runs)
	}
	if lock.releases != 1 {
		t.Fatalf("expected release after lease loss, got %d", lock.releases)
	}
}

func TestServiceRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "sweep"}
	lock := &fakeLock{acquired: true}
	service := newTestService(t, lock, job)

	if err := service.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
}

func TestNewServiceRejectsInvalidRunTime(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Lock:    &fakeLock{},
		RunHour: 24,
	})
	if err == nil {
		t.Fatal("expected error for hour 24")
	}
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	service := newTestService(t, &fakeLock{})
	service.interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}
