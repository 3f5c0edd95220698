package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================
// Тесты Run
// ============================================================

func TestRun_StepRepeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	go Run(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, Config{Interval: 10 * time.Millisecond})

	time.Sleep(100 * time.Millisecond)
	cancel()

	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Errorf("step ran %d times in 100ms, want >= 3", got)
	}
}

func TestRun_ErrorDoesNotStopLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls, errs int32
	go Run(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("step failed")
	}, Config{
		Interval: 10 * time.Millisecond,
		OnError: func(err error) {
			atomic.AddInt32(&errs, 1)
		},
	})

	time.Sleep(100 * time.Millisecond)
	cancel()

	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Errorf("step ran %d times despite errors, want >= 3", got)
	}
	if atomic.LoadInt32(&errs) != atomic.LoadInt32(&calls) {
		t.Errorf("OnError called %d times for %d failing steps",
			atomic.LoadInt32(&errs), atomic.LoadInt32(&calls))
	}
}

func TestRun_StepTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gotErr error
	done := make(chan struct{})

	go Run(ctx, func(stepCtx context.Context) error {
		// Шаг зависает до истечения deadline
		<-stepCtx.Done()
		return stepCtx.Err()
	}, Config{
		Interval: 10 * time.Millisecond,
		Slack:    20 * time.Millisecond,
		OnError: func(err error) {
			gotErr = err
			close(done)
			cancel()
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnError")
	}

	if !errors.Is(gotErr, context.DeadlineExceeded) {
		t.Errorf("got error %v, want context.DeadlineExceeded", gotErr)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		Run(ctx, func(ctx context.Context) error { return nil },
			Config{Interval: 10 * time.Millisecond})
		close(stopped)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestRun_CancelledParentNotReportedAsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var onErrorCalled int32
	stopped := make(chan struct{})
	started := make(chan struct{}, 1)

	go func() {
		Run(ctx, func(stepCtx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-stepCtx.Done()
			return stepCtx.Err()
		}, Config{
			Interval: time.Second,
			OnError: func(err error) {
				atomic.AddInt32(&onErrorCalled, 1)
			},
		})
		close(stopped)
	}()

	<-started
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	if atomic.LoadInt32(&onErrorCalled) != 0 {
		t.Error("shutdown cancellation must not be reported via OnError")
	}
}

// ============================================================
// Тесты Group
// ============================================================

func TestGroup_StopWaitsForGoroutines(t *testing.T) {
	g := NewGroup(context.Background())

	var finished int32
	for i := 0; i < 3; i++ {
		g.Go(func(ctx context.Context) {
			<-ctx.Done()
			atomic.AddInt32(&finished, 1)
		})
	}

	if !g.Stop(time.Second) {
		t.Fatal("Stop returned false, want clean shutdown")
	}
	if got := atomic.LoadInt32(&finished); got != 3 {
		t.Errorf("finished = %d, want 3", got)
	}
}

func TestGroup_StopTimesOut(t *testing.T) {
	g := NewGroup(context.Background())

	release := make(chan struct{})
	g.Go(func(ctx context.Context) {
		// Игнорирует отмену контекста
		<-release
	})

	if g.Stop(50 * time.Millisecond) {
		t.Error("Stop returned true for a stuck goroutine, want false")
	}
	close(release)
}

func TestGroup_ContextDerivedFromParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := NewGroup(parent)

	cancel()

	select {
	case <-g.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("group context not cancelled with parent")
	}
}
