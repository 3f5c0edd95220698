package schedule

import (
	"context"
	"sync"
	"time"
)

// Debouncer не даёт защищённой операции выполняться чаще
// одного раза за interval.
//
// Конкурентные вызовы строго сериализуются: пока одна операция
// выполняется, остальные ждут. Интервал отсчитывается от момента
// ЗАВЕРШЕНИЯ предыдущей операции. Первый вызов проходит без задержки.
//
// Используется для обновления балансов: после сделки несколько
// компонентов запрашивают балансы одновременно, а бирже достаточно
// одного запроса за интервал.
type Debouncer struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time // момент завершения последнего вызова, нулевое до первого
}

// NewDebouncer создаёт дебаунсер с заданным интервалом
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Do выполняет fn не раньше чем через interval после завершения
// предыдущего вызова. Вызовы сериализуются.
//
// Возвращает ошибку fn либо ctx.Err() если ожидание отменено.
func (d *Debouncer) Do(ctx context.Context, fn func(context.Context) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() {
		elapsed := time.Since(d.last)
		if elapsed < d.interval {
			timer := time.NewTimer(d.interval - elapsed)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	err := fn(ctx)
	d.last = time.Now()
	return err
}

// Interval возвращает настроенный интервал
func (d *Debouncer) Interval() time.Duration {
	return d.interval
}
