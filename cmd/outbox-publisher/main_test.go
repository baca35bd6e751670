package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

type recordingRequeuer struct {
	seen []uuid.UUID
	fail uuid.UUID
}

func (r *recordingRequeuer) Requeue(_ context.Context, id uuid.UUID) error {
	if id == r.fail {
		return errors.New("not dead-lettered")
	}
	r.seen = append(r.seen, id)
	return nil
}

func TestRequeueDeadLettersCollectsFailures(t *testing.T) {
	ok := uuid.New()
	missing := uuid.New()
	rq := &recordingRequeuer{fail: missing}

	err := requeueDeadLetters(context.Background(), rq, " "+ok.String()+",not-a-uuid,,"+missing.String(), logger.Nop())
	if err == nil {
		t.Fatalf("expected combined error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 failures, got %d: %v", got, err)
	}
	if len(rq.seen) != 1 || rq.seen[0] != ok {
		t.Fatalf("expected only %s requeued, got %v", ok, rq.seen)
	}
}
