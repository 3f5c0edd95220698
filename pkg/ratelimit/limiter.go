package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter - rate limiter скользящего окна для контроля частоты запросов к API бирж
//
// Алгоритм:
// - Хранится очередь времён последних limit вызовов
// - Пока очередь не заполнена, вызов проходит без ожидания
// - Когда очередь полна, вызов ждёт пока самый старый вызов
//   не выйдет за пределы period, затем занимает его место
//
// В отличие от token bucket окно не допускает превышения limit
// вызовов внутри ЛЮБОГО интервала длиной period - ровно так лимиты
// считают сами биржи.
//
// Использование:
//
//	limiter := New(30, time.Second) // 30 запросов в секунду
//	err := limiter.Wait(ctx)        // блокирующее ожидание
type Limiter struct {
	limit  int
	period time.Duration

	mu    sync.Mutex
	calls []time.Time // времена последних limit вызовов, по возрастанию
}

// New создаёт rate limiter скользящего окна.
//
// Параметры:
//   - limit: максимальное число вызовов внутри окна
//   - period: длина окна
//
// Примеры лимитов бирж:
//   - bitfinex: 90 req/min
//   - hitbtc:  100 req/sec
func New(limit int, period time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if period <= 0 {
		period = time.Second
	}

	return &Limiter{
		limit:  limit,
		period: period,
		calls:  make([]time.Time, 0, limit),
	}
}

// Wait блокирует до освобождения слота в окне или отмены контекста.
//
// Первые limit вызовов проходят без задержки. Последующие ждут,
// пока самый старый вызов не выйдет за пределы period.
//
// Возвращает:
//   - nil: слот занят, можно выполнять запрос
//   - ctx.Err(): контекст отменён (timeout или cancel)
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()

	var wake, displaced time.Time
	var hasDisplaced bool
	if len(l.calls) < l.limit {
		wake = now
	} else {
		displaced = l.calls[0]
		hasDisplaced = true
		l.calls = l.calls[1:]
		wake = displaced.Add(l.period)
		if wake.Before(now) {
			wake = now
		}
	}
	// Слот резервируется сразу: следующий вызов будет ждать уже от него
	l.calls = append(l.calls, wake)
	l.mu.Unlock()

	delay := time.Until(wake)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.release(wake, displaced, hasDisplaced)
		return ctx.Err()
	}
}

// release возвращает окно в состояние до несостоявшегося вызова:
// резерв снимается, вытесненный им старый слот восстанавливается.
// Если резерв уже вытеснен следующим вызовом, окно не трогаем.
func (l *Limiter) release(wake, displaced time.Time, hasDisplaced bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, t := range l.calls {
		if t.Equal(wake) {
			l.calls = append(l.calls[:i], l.calls[i+1:]...)
			if hasDisplaced {
				l.calls = append([]time.Time{displaced}, l.calls...)
			}
			return
		}
	}
}

// Size возвращает число занятых слотов в окне.
// Полезно для мониторинга и отладки.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

// Limit возвращает максимальное число вызовов внутри окна
func (l *Limiter) Limit() int {
	return l.limit
}

// Period возвращает длину окна
func (l *Limiter) Period() time.Duration {
	return l.period
}
