package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/internal/notify"
	"cryptotrader/internal/repository"
	"cryptotrader/pkg/utils"
)

// arbitrage.go - арбитражная стратегия
//
// Алгоритм в общих чертах:
// - собрать текущие офферы со всех бирж
// - найти арбитражное окно (см. ArbitrageWindow)
// - построить из окна пару ордеров и разместить её
// - дождаться закрытия окна
// - разместить реверсивные ордера
// - прибыль
//
// Каждый тик сначала выполняется выход (дренаж очереди реверса),
// затем вход (поиск нового окна). Неудача одной пары не прерывает тик.

// UnhandledPairError - пара стратегии не торгуется ни на одной бирже
type UnhandledPairError struct {
	Pair string
}

func (e *UnhandledPairError) Error() string {
	return fmt.Sprintf("exchanges can not handle pair %q", e.Pair)
}

// OrderStore - персистентность ордеров, нужная стратегии
type OrderStore interface {
	Save(order *models.Order) error
}

// Config - настройки арбитражной стратегии
type Config struct {
	// Name - имя стратегии, сохраняется с каждым ордером
	Name string

	// Pairs - пары, на которых работает стратегия
	Pairs []string

	// OrderType - тип прямых ордеров: limit или market
	OrderType string

	// DirectWidth - порог открытия окна (множитель прибыли)
	DirectWidth float64

	// ReversedWidth - порог закрытия окна
	ReversedWidth float64

	// MaxSpendPart - доля баланса, доступная стратегии (0, 1]
	MaxSpendPart float64

	// Interval - свежесть офферов при поиске окна
	Interval time.Duration

	// OrderPlacementInterval - пауза после обработки окна
	OrderPlacementInterval time.Duration

	// FetchOrderInterval, SleepAfterPlaced, OrderTimeout - тайминги
	// протокола исполнения, см. TradeTimings
	FetchOrderInterval time.Duration
	SleepAfterPlaced   time.Duration
	OrderTimeout       time.Duration

	// AutoreverseOrderDelta - возраст исполнения, после которого пара
	// реверсируется принудительно даже при открытом окне
	AutoreverseOrderDelta time.Duration
}

// Arbitrage - арбитражная стратегия поверх коллекции бирж
type Arbitrage struct {
	cfg       Config
	exchanges *exchange.Exchanges
	orders    OrderStore
	queue     repository.Queue
	reporter  notify.Reporter
	logger    *utils.Logger
}

// NewArbitrage создаёт стратегию.
// Каждая пара стратегии обязана торговаться хотя бы на одной бирже.
func NewArbitrage(
	cfg Config,
	exchanges *exchange.Exchanges,
	orders OrderStore,
	queue repository.Queue,
	reporter notify.Reporter,
	logger *utils.Logger,
) (*Arbitrage, error) {
	if reporter == nil {
		reporter = notify.NopReporter{}
	}

	for _, pair := range cfg.Pairs {
		handled := false
		for _, venue := range exchanges.All() {
			if venue.HasPair(models.NewPairName(pair)) {
				handled = true
				break
			}
		}
		if !handled {
			return nil, &UnhandledPairError{Pair: pair}
		}
	}

	return &Arbitrage{
		cfg:       cfg,
		exchanges: exchanges,
		orders:    orders,
		queue:     queue,
		reporter:  reporter,
		logger:    logger.Named("strategy.arbitrage"),
	}, nil
}

// timings - тайминги протокола исполнения из конфигурации
func (s *Arbitrage) timings() TradeTimings {
	return TradeTimings{
		FetchOrderInterval: s.cfg.FetchOrderInterval,
		SleepAfterPlaced:   s.cfg.SleepAfterPlaced,
		Timeout:            s.cfg.OrderTimeout,
	}
}

// Schedule - один тик стратегии: сначала выход, затем вход
func (s *Arbitrage) Schedule(ctx context.Context) error {
	start := time.Now()
	ticksTotal.Inc()

	s.Exit(ctx)
	s.Enter(ctx)

	tickDuration.Observe(time.Since(start).Seconds())
	if length, err := s.queue.Length(ctx); err == nil {
		queueDepth.Set(float64(length))
	}
	return ctx.Err()
}

// Enter ищет самое прибыльное открытое окно и обрабатывает его
func (s *Arbitrage) Enter(ctx context.Context) {
	window, ok := s.LocateWindow()
	if !ok {
		return
	}

	windowsDetected.Inc()
	s.logger.Infof("arbitrage window detected: %s / %s", window.AskOffer, window.BidOffer)
	s.reporter.Info("Arbitrage window detected\n" + window.ReportString())

	s.ProcessWindow(ctx, window)

	// пауза после обработки окна: даём биржам разнести сделки
	_ = sleepCtx(ctx, s.cfg.OrderPlacementInterval)
}

// Exit закрывает готовые к реверсу позиции
func (s *Arbitrage) Exit(ctx context.Context) {
	s.reverseOrders(ctx)
}

// ============================================================
// Вход: поиск окна и размещение пары
// ============================================================

// getPairOfferMap строит карту офферов стратегии: несвежие офферы и
// офферы бирж без достаточного баланса отбрасываются
func (s *Arbitrage) getPairOfferMap() map[string][]models.Offer {
	pairs := make([]models.PairName, 0, len(s.cfg.Pairs))
	for _, pair := range s.cfg.Pairs {
		pairs = append(pairs, models.NewPairName(pair))
	}

	offerMap := s.exchanges.GetPairOfferMap(pairs)
	expiredAt := time.Now().Add(-s.cfg.Interval)

	filtered := make(map[string][]models.Offer, len(offerMap))
	for pair, offers := range offerMap {
		kept := make([]models.Offer, 0, len(offers))
		for _, offer := range offers {
			if offer.Timestamp.Before(expiredAt) {
				continue
			}
			venue, err := s.exchanges.Get(offer.Exchange)
			if err != nil {
				s.logger.Errorf("offer from unknown exchange: %s", offer)
				continue
			}
			if !venue.InOfferLimit(offer, s.cfg.MaxSpendPart) {
				continue
			}
			kept = append(kept, offer)
		}
		filtered[pair] = kept
	}
	return filtered
}

// LocateWindow ищет первое открытое окно: для каждой пары берётся
// минимальный ask и максимальный bid по всем биржам
func (s *Arbitrage) LocateWindow() (ArbitrageWindow, bool) {
	offerMap := s.getPairOfferMap()

	for _, pair := range s.cfg.Pairs {
		offers := offerMap[models.NewPairName(pair).Common()]

		var minAsk, maxBid *models.Offer
		for i := range offers {
			offer := offers[i]
			switch offer.PriceType {
			case models.Ask:
				if minAsk == nil || minAsk.Price > offer.Price {
					minAsk = &offers[i]
				}
			case models.Bid:
				if maxBid == nil || maxBid.Price < offer.Price {
					maxBid = &offers[i]
				}
			}
		}
		if minAsk == nil || maxBid == nil {
			continue
		}

		window, err := NewArbitrageWindow(*minAsk, *maxBid, s.cfg.DirectWidth, s.cfg.ReversedWidth)
		if err != nil {
			s.logger.Errorf("build window for pair %s: %v", pair, err)
			continue
		}
		if window.Exists() && window.IsOpen() {
			return window, true
		}
	}
	return ArbitrageWindow{}, false
}

// ProcessWindow строит пару ордеров окна и размещает её.
// Успешно размещённая пара уходит в очередь реверса.
func (s *Arbitrage) ProcessWindow(ctx context.Context, window ArbitrageWindow) {
	buyVenue, err := s.exchanges.Get(window.AskOffer.Exchange)
	if err != nil {
		s.logger.Errorf("process window: %v", err)
		return
	}
	sellVenue, err := s.exchanges.Get(window.BidOffer.Exchange)
	if err != nil {
		s.logger.Errorf("process window: %v", err)
		return
	}

	pair := NewArbitrageOrdersPair(buyVenue, sellVenue, window, s.cfg.MaxSpendPart, s.cfg.OrderType, s.cfg.Name, s.logger)
	if pair == nil {
		return
	}

	if !pair.IsValid(buyVenue, sellVenue, s.reporter, s.logger) || !window.IsOpen() {
		return
	}

	if s.place(ctx, buyVenue, sellVenue, pair) {
		if err := s.queue.Push(ctx, pair.BuyOrder, pair.SellOrder); err != nil {
			s.logger.Errorf("push orders pair to reverse queue: %v", err)
		}
	}
}

// place исполняет обе ноги пары параллельно.
//
// Одинокая успешная нога немедленно реверсируется market-ордером,
// чтобы не держать открытую позицию. Дошедшие до биржи ордера
// сохраняются в любом случае.
func (s *Arbitrage) place(ctx context.Context, buyVenue, sellVenue *exchange.Exchange, pair *ArbitrageOrdersPair) bool {
	s.logger.Debugf("submit orders on exchanges: %s / %s", pair.BuyOrder, pair.SellOrder)

	buyResult, sellResult := TradePair(ctx, buyVenue, sellVenue, pair.BuyOrder, pair.SellOrder, s.timings(), s.logger)

	if !buyResult.Success {
		s.logger.Warnf(
			"arbitrage order submit failed: %s, %s response: %s",
			pair.BuyOrder, buyVenue.Name(), buyResult.Response,
		)
		if sellResult.Success {
			s.reverseLeg(ctx, pair.SellOrder)
		}
	}
	if !sellResult.Success {
		s.logger.Warnf(
			"arbitrage order submit failed: %s, %s response: %s",
			pair.SellOrder, sellVenue.Name(), sellResult.Response,
		)
		if buyResult.Success {
			s.reverseLeg(ctx, pair.BuyOrder)
		}
	}

	s.saveOrder(pair.BuyOrder)
	s.saveOrder(pair.SellOrder)

	if buyResult.Success && sellResult.Success {
		ordersPlaced.Add(2)
		s.logger.Debugf("arbitrage orders submitted successfully: %s / %s", pair.BuyOrder, pair.SellOrder)
		s.reporter.Info(fmt.Sprintf(
			"Orders placed successfully\nPair - %s\n%s\n%s",
			pair.BuyOrder.Pair(), pair.BuyOrder.ReportString(), pair.SellOrder.ReportString(),
		))
		return true
	}

	var failed string
	if !buyResult.Success {
		failed += fmt.Sprintf("Error on exchange %s\n", buyVenue.Name())
	}
	if !sellResult.Success {
		failed += fmt.Sprintf("Error on exchange %s\n", sellVenue.Name())
	}
	s.reporter.Error(fmt.Sprintf(
		"Orders place error\n%sPair - %s\n%s\n%s",
		failed, pair.BuyOrder.Pair(), pair.BuyOrder.ReportString(), pair.SellOrder.ReportString(),
	))
	return false
}

// reverseLeg немедленно реверсирует одинокую успешную ногу пары
func (s *Arbitrage) reverseLeg(ctx context.Context, order *models.Order) {
	reversed := s.reversedOrder(ctx, order)
	venue, err := s.exchanges.Get(reversed.Exchange())
	if err != nil {
		s.logger.Errorf("reverse leg: %v", err)
		return
	}

	result := Trade(ctx, venue, reversed, s.timings(), s.logger)
	s.saveOrder(reversed)

	if !result.Success {
		s.reporter.Error(fmt.Sprintf(
			"WARNING\nArbitrage placed order %s but can't reverse it."+
				" Please create reversed order %s manually."+
				" Otherwise, arbitrage is not able to continue working with exchange %s.",
			order, reversed, order.Exchange(),
		))
	}
}

// ============================================================
// Выход: дренаж очереди реверса
// ============================================================

// reverseOrders снимает из очереди все пары и реверсирует готовые.
// Не готовые к реверсу пары возвращаются в хвост очереди.
func (s *Arbitrage) reverseOrders(ctx context.Context) {
	length, err := s.queue.Length(ctx)
	if err != nil {
		s.logger.Errorf("reverse queue length: %v", err)
		return
	}

	for i := 0; i < length; i++ {
		buy, sell, err := s.queue.Pop(ctx)
		if errors.Is(err, repository.ErrQueueEmpty) {
			return
		}
		if err != nil {
			s.logger.Errorf("pop orders pair: %v", err)
			return
		}
		s.logger.Debugf("non reversed orders from storage: %s / %s", buy, sell)

		s.reversePair(ctx, buy, sell)
	}
}

// reversePair реверсирует одну пару, когда её окно закрыто или пара
// просрочена. В остальных случаях пара возвращается в очередь.
func (s *Arbitrage) reversePair(ctx context.Context, buy, sell *models.Order) {
	freshAsk, askErr := s.freshOffer(ctx, buy.Offer)
	freshBid, bidErr := s.freshOffer(ctx, sell.Offer)
	if askErr != nil || bidErr != nil {
		s.pushBack(ctx, buy, sell)
		s.logger.Warnf(
			"can't get fresh offers to build reversed orders, pair will be retried later: %v / %v",
			askErr, bidErr,
		)
		return
	}

	window, err := NewArbitrageWindow(freshAsk, freshBid, s.cfg.DirectWidth, s.cfg.ReversedWidth)
	if err != nil {
		s.pushBack(ctx, buy, sell)
		s.logger.Errorf("build fresh window: %v", err)
		return
	}

	expired := s.areOrdersExpired(buy, sell)
	if !window.IsClosed() && !expired {
		s.pushBack(ctx, buy, sell)
		return
	}

	reversedBuy := s.reversedOrder(ctx, buy)
	reversedSell := s.reversedOrder(ctx, sell)

	if expired {
		message := fmt.Sprintf(
			"A pair of orders have expired %s, so they will be reversed. Buy order: %s. Sell order: %s.",
			s.cfg.AutoreverseOrderDelta, buy, sell,
		)
		s.logger.Infof(message)
		s.reporter.Info("Pair of orders auto reverse\n" + message)
	}

	s.logger.Debugf("reversed orders found, placing them: %s / %s", reversedBuy, reversedSell)
	s.reporter.Debug(fmt.Sprintf(
		"Reversed pairs detected\nPair - %s\n%s\n%s",
		reversedBuy.Pair(), reversedBuy.ReportString(), reversedSell.ReportString(),
	))

	buyVenue, err := s.exchanges.Get(reversedBuy.Exchange())
	if err != nil {
		s.pushBack(ctx, buy, sell)
		s.logger.Errorf("reverse pair: %v", err)
		return
	}
	sellVenue, err := s.exchanges.Get(reversedSell.Exchange())
	if err != nil {
		s.pushBack(ctx, buy, sell)
		s.logger.Errorf("reverse pair: %v", err)
		return
	}

	buyOK, _ := buyVenue.Validate(reversedBuy)
	sellOK, _ := sellVenue.Validate(reversedSell)
	if !buyOK || !sellOK {
		s.pushBack(ctx, buy, sell)
		return
	}

	// реверс buy-ноги - продажа, реверс sell-ноги - покупка:
	// в TradePair они меняются местами
	sellResult, buyResult := TradePair(ctx, sellVenue, buyVenue, reversedSell, reversedBuy, s.timings(), s.logger)

	s.saveOrder(reversedBuy)
	s.saveOrder(reversedSell)

	if !buyResult.Success {
		s.logger.Warnf("arbitrage reversed order submit failed: %s, response: %s", reversedBuy, buyResult.Response)
	}
	if !sellResult.Success {
		s.logger.Warnf("arbitrage reversed order submit failed: %s, response: %s", reversedSell, sellResult.Response)
	}

	if buyResult.Success && sellResult.Success {
		ordersReversed.Add(2)
		s.logger.Debugf("arbitrage reverse orders submitted successfully: %s / %s", reversedBuy, reversedSell)
		s.reporter.Info(fmt.Sprintf(
			"Reversed orders placed successfully\nPair - %s\n%s\n%s",
			buy.Pair(), reversedBuy.ReportString(), reversedSell.ReportString(),
		))
	} else {
		s.reporter.Info(fmt.Sprintf(
			"Reverse orders place error\nPair - %s\nTimeout\n%s\n%s",
			reversedBuy.Pair(), reversedBuy.ReportString(), reversedSell.ReportString(),
		))
	}
}

// areOrdersExpired - обе ноги исполнены раньше autoreverse-дедлайна
func (s *Arbitrage) areOrdersExpired(orders ...*models.Order) bool {
	expiredAfter := time.Now().UTC().Add(-s.cfg.AutoreverseOrderDelta)
	for _, order := range orders {
		if order.ExecutedAt == nil || !order.ExecutedAt.Before(expiredAfter) {
			return false
		}
	}
	return true
}

// reversedOrder строит реверсивный ордер по свежей цене противоположной
// стороны. Несвежий тикер не блокирует реверс: реверсивные ордера
// всегда market, так что старая цена не разрушительна.
func (s *Arbitrage) reversedOrder(ctx context.Context, order *models.Order) *models.Order {
	reversedOffer := order.Offer.Reversed()

	price := reversedOffer.Price
	if fresh, err := s.freshOffer(ctx, reversedOffer); err != nil {
		s.logger.Warnf("using stale offer to build reversed order: %v", err)
	} else {
		price = fresh.Price
	}

	return order.Reversed(price)
}

// freshOffer перечитывает оффер по свежему тикеру его биржи
func (s *Arbitrage) freshOffer(ctx context.Context, offer models.Offer) (models.Offer, error) {
	venue, err := s.exchanges.Get(offer.Exchange)
	if err != nil {
		return models.Offer{}, err
	}

	data, err := venue.GetFreshPair(ctx, offer.Pair)
	if err != nil {
		return models.Offer{}, err
	}

	price, size := data.Ask, data.AskSize
	if offer.PriceType == models.Bid {
		price, size = data.Bid, data.BidSize
	}
	return models.NewOffer(offer.PriceType, offer.Pair.Common(), price, size, venue.Name(), venue.Fee(), data.Time)
}

// pushBack возвращает пару в хвост очереди реверса
func (s *Arbitrage) pushBack(ctx context.Context, buy, sell *models.Order) {
	if err := s.queue.Push(ctx, buy, sell); err != nil {
		s.logger.Errorf("push orders pair back to reverse queue: %v", err)
	}
}

// saveOrder сохраняет ордер, логируя отказ хранилища
func (s *Arbitrage) saveOrder(order *models.Order) {
	if err := s.orders.Save(order); err != nil {
		s.logger.Errorf("save order %s: %v", order, err)
	}
}
