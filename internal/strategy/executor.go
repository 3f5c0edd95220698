package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/pkg/utils"
)

// executor.go - протокол исполнения одного ордера
//
// Trade доводит ордер до терминального статуса: размещает, ждёт
// исполнения опросом статуса и снимает с биржи по таймауту. Две ноги
// арбитражной пары исполняются параллельно через TradePair.

// balanceRefreshDelay - пауза перед обновлением балансов после
// исполнения: биржи обновляют балансы с задержкой
const balanceRefreshDelay = 500 * time.Millisecond

// TradeTimings - тайминги протокола исполнения
type TradeTimings struct {
	// FetchOrderInterval - период опроса статуса ордера
	FetchOrderInterval time.Duration

	// SleepAfterPlaced - пауза между размещением и первым опросом:
	// некоторые биржи показывают ордер в списке открытых с задержкой
	SleepAfterPlaced time.Duration

	// Timeout - потолок ожидания исполнения; по истечении ордер
	// снимается с биржи
	Timeout time.Duration
}

// TradeResult - итог исполнения ордера
type TradeResult struct {
	Success  bool
	Response string
}

// Trade размещает ордер и ждёт его исполнения.
//
// Успех - ордер исполнен (fulfilled); отменённый или отклонённый
// ордер, как и таймаут ожидания, - неуспех. После исполнения балансы
// биржи обновляются, чтобы следующие решения считались по свежим
// данным.
func Trade(ctx context.Context, venue *exchange.Exchange, order *models.Order, timings TradeTimings, logger *utils.Logger) TradeResult {
	placed := venue.Place(ctx, order)
	if !placed.Success {
		return TradeResult{Success: false, Response: placed.Response}
	}

	if err := sleepCtx(ctx, timings.SleepAfterPlaced); err != nil {
		return TradeResult{Success: false, Response: err.Error()}
	}

	response, closed := waitClosed(ctx, venue, order, timings)
	if !closed {
		if _, err := venue.Cancel(ctx, order); err != nil {
			logger.Errorf("cancel timed out order: %v", err)
		}
		return TradeResult{
			Success:  false,
			Response: fmt.Sprintf("timeout of waiting a terminal order status is reached: %s", order),
		}
	}

	now := time.Now().UTC()
	order.ExecutedAt = &now

	if order.Status == models.OrderStatusCancelled {
		return TradeResult{Success: false, Response: response}
	}

	if err := sleepCtx(ctx, balanceRefreshDelay); err == nil {
		if err := venue.FetchBalances(ctx); err != nil {
			logger.Warnf("fetch balances after trade: %v", err)
		}
	}
	return TradeResult{Success: true, Response: response}
}

// waitClosed опрашивает статус ордера, пока он не станет терминальным.
// Ожидание ограничено timings.Timeout.
func waitClosed(ctx context.Context, venue *exchange.Exchange, order *models.Order, timings TradeTimings) (string, bool) {
	waitCtx, cancel := context.WithTimeout(ctx, timings.Timeout)
	defer cancel()

	var response string
	for !order.IsClosed() {
		result, err := venue.FetchStatus(waitCtx, order)
		if err != nil {
			return err.Error(), false
		}
		if result.Success {
			response = result.Response
		}
		if order.IsClosed() {
			break
		}
		if err := sleepCtx(waitCtx, timings.FetchOrderInterval); err != nil {
			return response, false
		}
	}
	return response, true
}

// TradePair исполняет обе ноги пары параллельно.
// Возврат только после завершения обеих, успешного или нет.
func TradePair(
	ctx context.Context,
	buyVenue, sellVenue *exchange.Exchange,
	buy, sell *models.Order,
	timings TradeTimings,
	logger *utils.Logger,
) (TradeResult, TradeResult) {
	var buyResult, sellResult TradeResult

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyResult = Trade(ctx, buyVenue, buy, timings, logger)
	}()
	go func() {
		defer wg.Done()
		sellResult = Trade(ctx, sellVenue, sell, timings, logger)
	}()
	wg.Wait()

	return buyResult, sellResult
}

// sleepCtx спит d или меньше, если контекст отменён раньше
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
