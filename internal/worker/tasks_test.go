package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTaskSurvivesCallerCancellation(t *testing.T) {
	tasks := NewTasks(quietLogger(), nil)
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	task, err := tasks.WaitUntil(ctx, "slow", func(taskCtx context.Context) error {
		<-release
		if taskCtx.Err() != nil {
			return taskCtx.Err()
		}
		close(finished)
		return nil
	})
	if err != nil {
		t.Fatalf("wait until: %v", err)
	}

	cancel()
	if err := task.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("caller wait should end with its own cancellation, got %v", err)
	}
	close(release)

	if err := task.Wait(context.Background()); err != nil {
		t.Fatalf("task should complete despite caller cancellation: %v", err)
	}
	select {
	case <-finished:
	default:
		t.Fatalf("task body did not finish")
	}
}

func TestDrainWaitsAndRefusesNewTasks(t *testing.T) {
	tasks := NewTasks(quietLogger(), nil)
	release := make(chan struct{})
	if _, err := tasks.WaitUntil(context.Background(), "display", func(context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatalf("wait until: %v", err)
	}

	drained := make(chan error, 1)
	go func() { drained <- tasks.Drain(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-drained:
		t.Fatalf("drain returned before task finished")
	default:
	}
	if _, err := tasks.WaitUntil(context.Background(), "late", func(context.Context) error { return nil }); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}

	close(release)
	if err := <-drained; err != nil {
		t.Fatalf("drain error: %v", err)
	}
	if tasks.Pending() != 0 {
		t.Fatalf("expected no pending tasks, got %d", tasks.Pending())
	}
}

func TestDrainTimeout(t *testing.T) {
	tasks := NewTasks(quietLogger(), nil)
	release := make(chan struct{})
	defer close(release)
	_, _ = tasks.WaitUntil(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tasks.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestTaskPanicBecomesError(t *testing.T) {
	tasks := NewTasks(quietLogger(), nil)
	task, _ := tasks.WaitUntil(context.Background(), "boom", func(context.Context) error {
		panic("boom")
	})
	if err := task.Wait(context.Background()); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if tasks.Pending() != 0 {
		t.Fatalf("panicking task should still be released")
	}
}
