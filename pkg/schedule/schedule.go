package schedule

import (
	"context"
	"errors"
	"time"
)

// schedule.go - периодический запуск шагов с ограничением по времени
//
// Каждый шаг выполняется под собственным deadline (interval + slack),
// ошибки и таймауты логируются через callback и НИКОГДА не прерывают
// цикл: упавший шаг не должен останавливать торговлю.

// DefaultSlack - запас сверх interval на выполнение одного шага
const DefaultSlack = 5 * time.Second

// Config - настройки периодического запуска
type Config struct {
	// Interval - пауза между завершением шага и началом следующего
	Interval time.Duration

	// Slack - запас к deadline шага сверх Interval.
	// По умолчанию DefaultSlack.
	Slack time.Duration

	// OnError вызывается при ошибке или таймауте шага.
	// Паника внутри шага не перехватывается.
	OnError func(err error)
}

// Run выполняет step в цикле до отмены ctx.
//
// Каждая итерация:
//  1. step выполняется под deadline Interval+Slack
//  2. ошибка шага передаётся в OnError, цикл продолжается
//  3. пауза Interval перед следующей итерацией
//
// Возвращает управление только после отмены ctx.
func Run(ctx context.Context, step func(context.Context) error, cfg Config) {
	slack := cfg.Slack
	if slack <= 0 {
		slack = DefaultSlack
	}

	for {
		if ctx.Err() != nil {
			return
		}

		stepCtx, cancel := context.WithTimeout(ctx, cfg.Interval+slack)
		err := step(stepCtx)
		cancel()

		if err != nil {
			// Отмена родительского контекста - не ошибка шага
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return
			}
			if cfg.OnError != nil {
				cfg.OnError(err)
			}
		}

		timer := time.NewTimer(cfg.Interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}
