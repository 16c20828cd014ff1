package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestAddJobValidation(t *testing.T) {
	s := New(logrus.New())

	if err := s.AddJob("sweep", "@every 5m", func(ctx context.Context) {}); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
	if err := s.AddJob("sweep", "@every 5m", func(ctx context.Context) {}); err == nil {
		t.Fatalf("duplicate job name accepted")
	}
	if err := s.AddJob("bad", "not a schedule", func(ctx context.Context) {}); err == nil {
		t.Fatalf("invalid schedule accepted")
	}
	if s.JobCount() != 1 {
		t.Fatalf("job count = %d, want 1", s.JobCount())
	}
}

func TestRemoveJob(t *testing.T) {
	s := New(nil)
	if err := s.AddJob("sweep", "@every 1h", func(ctx context.Context) {}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.RemoveJob("sweep")
	s.RemoveJob("sweep") // idempotent
	if s.JobCount() != 0 {
		t.Fatalf("job count = %d, want 0", s.JobCount())
	}
}

func TestSchedulerFiresAndStops(t *testing.T) {
	s := New(logrus.New())

	var fired atomic.Int32
	if err := s.AddJob("tick", "@every 50ms", func(ctx context.Context) {
		fired.Add(1)
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatalf("job never fired")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
