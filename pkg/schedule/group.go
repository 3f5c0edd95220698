package schedule

import (
	"context"
	"sync"
	"time"
)

// Group - группа фоновых горутин с общим контекстом и graceful stop.
//
// Подписки на пары, циклы балансов и тикеров каждой биржи живут
// в одной группе: Stop отменяет общий контекст и ждёт завершения
// всех горутин с ограничением по времени.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup создаёт группу, производную от parent
func NewGroup(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Context возвращает контекст группы
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go запускает fn в отслеживаемой горутине.
// fn обязана завершаться при отмене переданного контекста.
func (g *Group) Go(fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// Stop отменяет контекст группы и ждёт завершения горутин
// не дольше grace.
//
// Возвращает:
//   - true: все горутины завершились
//   - false: grace истёк, часть горутин ещё работает
func (g *Group) Stop(grace time.Duration) bool {
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
