package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ============================================================
// Тесты Limiter
// ============================================================

func TestLimiter_FirstCallsNotDelayed(t *testing.T) {
	limiter := New(3, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	// Первые limit вызовов проходят без ожидания
	if elapsed > 50*time.Millisecond {
		t.Errorf("First %d calls took %v, expected no delay", 3, elapsed)
	}
}

func TestLimiter_SlidingWindowTiming(t *testing.T) {
	// limit=1, period=200ms, три вызова: t ~ 0, 0.2, 0.4
	limiter := New(1, 200*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	var stamps []time.Duration
	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		stamps = append(stamps, time.Since(start))
	}

	expected := []time.Duration{0, 200 * time.Millisecond, 400 * time.Millisecond}
	tolerance := 80 * time.Millisecond

	for i, want := range expected {
		diff := stamps[i] - want
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Errorf("call %d at %v, want ~%v", i, stamps[i], want)
		}
	}
}

func TestLimiter_ConcurrentCallsSerialized(t *testing.T) {
	// Три конкурентных вызова с limit=1 проходят последовательно
	limiter := New(1, 100*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(ctx); err != nil {
				t.Errorf("Wait failed: %v", err)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Последний вызов не раньше чем через 2 периода
	if elapsed < 150*time.Millisecond {
		t.Errorf("3 concurrent calls finished in %v, expected >= ~200ms", elapsed)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := New(1, time.Second)
	ctx := context.Background()

	// Первый вызов занимает окно
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	// Второй вызов отменяется до освобождения слота
	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(cancelCtx)
	elapsed := time.Since(start)

	if err != context.DeadlineExceeded {
		t.Errorf("got error %v, want context.DeadlineExceeded", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("cancelled Wait took %v, expected prompt return", elapsed)
	}

	// Отменённый вызов освобождает зарезервированный слот
	if limiter.Size() != 1 {
		t.Errorf("Size = %d after cancellation, want 1", limiter.Size())
	}
}

func TestLimiter_WindowRefills(t *testing.T) {
	limiter := New(2, 100*time.Millisecond)
	ctx := context.Background()

	// Заполняем окно
	limiter.Wait(ctx)
	limiter.Wait(ctx)

	// После периода вызов проходит без долгого ожидания
	time.Sleep(120 * time.Millisecond)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Wait after window expiry took %v, expected no delay", elapsed)
	}
}

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		period     time.Duration
		wantLimit  int
		wantPeriod time.Duration
	}{
		{"valid", 30, time.Second, 30, time.Second},
		{"zero limit", 0, time.Second, 1, time.Second},
		{"negative limit", -5, time.Second, 1, time.Second},
		{"zero period", 10, 0, 10, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.limit, tt.period)
			if limiter.Limit() != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", limiter.Limit(), tt.wantLimit)
			}
			if limiter.Period() != tt.wantPeriod {
				t.Errorf("Period = %v, want %v", limiter.Period(), tt.wantPeriod)
			}
		})
	}
}

// ============================================================
// Бенчмарки
// ============================================================

func BenchmarkLimiter_Wait(b *testing.B) {
	// Просторное окно: измеряем накладные расходы без ожидания
	limiter := New(b.N+1, time.Hour)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Wait(ctx)
	}
}
