package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cryptotrader/internal/models"
	"cryptotrader/internal/notify"
	"cryptotrader/pkg/schedule"
	"cryptotrader/pkg/utils"
)

// exchange.go - биржа поверх адаптера
//
// Exchange оборачивает Session хозяйственной логикой: кеш балансов,
// кеш тикеров, фоновые подписки на пары, дебаунс запроса балансов,
// валидация ордеров перед отправкой и отчёты оператору об изменении
// балансов.

// DefaultPairKey - ключ лимита по умолчанию в pair_limits
const DefaultPairKey = "DEFAULT"

// pairPollInterval - шаг ожидания свежего тикера в UpdateTickers
const pairPollInterval = 250 * time.Millisecond

// balanceReportPrecision - точность сравнения балансов в отчётах
const balanceReportPrecision = 4

// StopGrace - время ожидания фоновых горутин биржи при остановке
const StopGrace = 5 * time.Second

// Config - настройки биржи.
//
// Блок default_exchange конфигурации накладывается на блок каждой
// биржи до создания Config: здесь значения уже финальные.
type Config struct {
	Name string

	// Fee - комиссия биржи, доля (0.001 = 0.1%)
	Fee float64

	// Limit - глобальный потолок траты quote-валюты на один ордер.
	// 0 = потолка нет.
	Limit float64

	// Pairs - торгуемые пары в общем формате ("ETCUSD")
	Pairs []string

	// PairLimits - минимальный объём ордера в quote-валюте по парам.
	// Ключ DefaultPairKey задаёт лимит для пар без собственного.
	PairLimits map[string]float64

	// PairNameTemplate - шаблон имени пары на бирже ("{quote}{base}")
	PairNameTemplate string

	// FetchBalancesInterval - дебаунс запроса балансов
	FetchBalancesInterval time.Duration

	// UpdateTickersInterval - период фоновой подписки на пару
	UpdateTickersInterval time.Duration

	// UpdateTickersTimeout - потолок ожидания свежих тикеров
	UpdateTickersTimeout time.Duration

	// SubscribeOnPairsDelay - сдвиг старта соседних подписок,
	// чтобы не упереться в rate limit биржи
	SubscribeOnPairsDelay time.Duration

	// Interval - время жизни кешированного тикера
	Interval time.Duration
}

// TransportConfig - ключи и адреса транспортов биржи
type TransportConfig struct {
	Key              string
	Secret           string
	HTTPBaseURL      string
	WebsocketBaseURL string
	RateLimit        RateLimit
}

// HistorySink принимает каждый принятый тикер для истории торгов
type HistorySink interface {
	SaveTicker(ctx context.Context, exchange string, pair models.PairName, data PairData) error
}

// Exchange - биржа: адаптер плюс кеши и фоновые циклы
type Exchange struct {
	cfg      Config
	session  Session
	history  HistorySink // nil - история не ведётся
	reporter notify.Reporter
	logger   *utils.Logger

	balancesMu   sync.RWMutex
	balances     map[string]float64
	prevBalances map[string]float64

	pairsMu sync.RWMutex
	pairs   map[string]PairData

	debouncer *schedule.Debouncer

	group      *schedule.Group
	subscribed bool
	startMu    sync.Mutex
}

// NewExchange создаёт биржу. Фоновые подписки стартуют на первом Schedule.
func NewExchange(cfg Config, session Session, history HistorySink, reporter notify.Reporter, logger *utils.Logger) *Exchange {
	if reporter == nil {
		reporter = notify.NopReporter{}
	}
	return &Exchange{
		cfg:       cfg,
		session:   session,
		history:   history,
		reporter:  reporter,
		logger:    logger.Named("exchange." + cfg.Name),
		balances:  make(map[string]float64),
		pairs:     make(map[string]PairData),
		debouncer: schedule.NewDebouncer(cfg.FetchBalancesInterval),
	}
}

// Name - имя биржи
func (e *Exchange) Name() string {
	return e.cfg.Name
}

// Fee - комиссия биржи
func (e *Exchange) Fee() float64 {
	return e.cfg.Fee
}

// GlobalLimit - потолок траты quote-валюты на ордер, 0 = без потолка
func (e *Exchange) GlobalLimit() float64 {
	return e.cfg.Limit
}

// Session возвращает адаптер биржи
func (e *Exchange) Session() Session {
	return e.session
}

// DefaultPairs - торгуемые пары биржи
func (e *Exchange) DefaultPairs() []models.PairName {
	pairs := make([]models.PairName, 0, len(e.cfg.Pairs))
	for _, p := range e.cfg.Pairs {
		pairs = append(pairs, models.NewPairName(p))
	}
	return pairs
}

// HasPair сообщает, торгуется ли пара на бирже
func (e *Exchange) HasPair(pair models.PairName) bool {
	for _, p := range e.cfg.Pairs {
		if models.NewPairName(p) == pair {
			return true
		}
	}
	return false
}

// PairLimit - минимальный объём ордера по паре в quote-валюте
func (e *Exchange) PairLimit(pair models.PairName) float64 {
	if limit, ok := e.cfg.PairLimits[pair.Common()]; ok {
		return limit
	}
	return e.cfg.PairLimits[DefaultPairKey]
}

// ============================================================
// Schedule и фоновые циклы
// ============================================================

// Schedule - один проход обслуживания биржи:
// прогрев транспортов, запуск подписок (однократно), обновление
// балансов и отчёт оператору об их изменении.
func (e *Exchange) Schedule(ctx context.Context) error {
	if err := e.session.Schedule(ctx); err != nil {
		return fmt.Errorf("session schedule %s: %w", e.cfg.Name, err)
	}

	e.startMu.Lock()
	if !e.subscribed {
		e.subscribed = true
		e.group = schedule.NewGroup(context.Background())
		e.subscribeOnPairs()
	}
	e.startMu.Unlock()

	if err := e.FetchBalances(ctx); err != nil {
		return err
	}
	e.reportBalanceChange()
	return nil
}

// subscribeOnPairs запускает по фоновому циклу на каждую пару.
// Старты сдвинуты на SubscribeOnPairsDelay, чтобы запросы соседних
// пар не приходили на биржу одновременно.
func (e *Exchange) subscribeOnPairs() {
	for i, pair := range e.DefaultPairs() {
		delay := time.Duration(i) * e.cfg.SubscribeOnPairsDelay
		p := pair
		e.group.Go(func(ctx context.Context) {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
			e.pairLoop(ctx, p)
		})
	}
}

// pairLoop обновляет тикер пары каждые UpdateTickersInterval.
// Ошибки логируются и проглатываются, цикл живёт до остановки биржи.
func (e *Exchange) pairLoop(ctx context.Context, pair models.PairName) {
	e.logger.Debugf("subscribed on pair %s", pair)

	ticker := time.NewTicker(e.cfg.UpdateTickersInterval)
	defer ticker.Stop()

	for {
		if _, err := e.fetchAndCachePair(ctx, pair); err != nil {
			e.logger.Warnf("pair loop %s: %v", pair, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// fetchAndCachePair запрашивает тикер, кладёт его в кеш и историю
func (e *Exchange) fetchAndCachePair(ctx context.Context, pair models.PairName) (PairData, error) {
	result := e.session.FetchPair(ctx, pair, e.PairLimit(pair))
	if !result.Success {
		return PairData{}, &FetchPairError{Pair: pair.Common(), Response: result.Response}
	}

	data := result.Pair
	data.Time = time.Now()

	e.pairsMu.Lock()
	e.pairs[pair.Common()] = data
	e.pairsMu.Unlock()

	if e.history != nil {
		if err := e.history.SaveTicker(ctx, e.cfg.Name, pair, data); err != nil {
			e.logger.Warnf("save ticker %s: %v", pair, err)
		}
	}
	return data, nil
}

// CachedPair возвращает кешированный тикер пары как есть
func (e *Exchange) CachedPair(pair models.PairName) (PairData, bool) {
	e.pairsMu.RLock()
	defer e.pairsMu.RUnlock()
	data, ok := e.pairs[pair.Common()]
	return data, ok
}

// GetFreshPair возвращает тикер не старше Interval.
// Устаревший кеш обновляется синхронным запросом.
func (e *Exchange) GetFreshPair(ctx context.Context, pair models.PairName) (PairData, error) {
	if data, ok := e.CachedPair(pair); ok && time.Since(data.Time) <= e.cfg.Interval {
		return data, nil
	}
	return e.fetchAndCachePair(ctx, pair)
}

// UpdateTickers ждёт, пока кешированный тикер пары не станет свежим.
// Потолок ожидания задаёт контекст вызывающего.
func (e *Exchange) UpdateTickers(ctx context.Context, pair models.PairName) error {
	for {
		if data, ok := e.CachedPair(pair); ok && time.Since(data.Time) <= e.cfg.Interval {
			return nil
		}

		timer := time.NewTimer(pairPollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// ============================================================
// Балансы
// ============================================================

// FetchBalances обновляет кеш балансов через дебаунсер:
// конкурентные вызовы сериализуются, биржа получает не больше
// одного запроса за FetchBalancesInterval.
//
// Неуспех биржи кеш не трогает - работаем по старым данным.
func (e *Exchange) FetchBalances(ctx context.Context) error {
	return e.debouncer.Do(ctx, func(ctx context.Context) error {
		result := e.session.FetchBalances(ctx)
		if !result.Success {
			e.logger.Warnf("fetch balances failed: %s", result.Response)
			return nil
		}

		e.balancesMu.Lock()
		e.balances = result.Balances
		e.balancesMu.Unlock()
		return nil
	})
}

// Balance возвращает доступный баланс валюты
func (e *Exchange) Balance(currency string) float64 {
	e.balancesMu.RLock()
	defer e.balancesMu.RUnlock()
	return e.balances[strings.ToUpper(currency)]
}

// Balances возвращает копию кеша балансов
func (e *Exchange) Balances() map[string]float64 {
	e.balancesMu.RLock()
	defer e.balancesMu.RUnlock()

	clone := make(map[string]float64, len(e.balances))
	for currency, amount := range e.balances {
		clone[currency] = amount
	}
	return clone
}

// CurrencyLimits - минимальные рабочие остатки по валютам.
//
// Лимит пары задан в quote-валюте; лимит base-стороны - это
// pair_limit по текущей цене ask. По валюте, входящей в несколько
// пар, берётся максимум.
func (e *Exchange) CurrencyLimits() map[string]float64 {
	limits := make(map[string]float64)
	for _, pair := range e.DefaultPairs() {
		pairLimit := e.PairLimit(pair)
		if pairLimit > limits[pair.Quote] {
			limits[pair.Quote] = pairLimit
		}

		if data, ok := e.CachedPair(pair); ok && data.Ask > 0 {
			baseLimit := pairLimit * data.Ask
			if baseLimit > limits[pair.Base] {
				limits[pair.Base] = baseLimit
			}
		}
	}
	return limits
}

// reportBalanceChange сравнивает балансы с прошлым снимком и при
// изменении шлёт оператору отчёт, отмечая валюты ниже рабочего лимита
func (e *Exchange) reportBalanceChange() {
	current := e.Balances()

	e.balancesMu.Lock()
	prev := e.prevBalances
	e.prevBalances = current
	e.balancesMu.Unlock()

	if prev == nil {
		return
	}

	changed := make([]string, 0)
	currencies := make(map[string]struct{}, len(current))
	for currency := range current {
		currencies[currency] = struct{}{}
	}
	for currency := range prev {
		currencies[currency] = struct{}{}
	}
	for currency := range currencies {
		if utils.Round(current[currency], balanceReportPrecision) != utils.Round(prev[currency], balanceReportPrecision) {
			changed = append(changed, currency)
		}
	}
	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)

	limits := e.CurrencyLimits()
	var b strings.Builder
	fmt.Fprintf(&b, "Balance changed on %s:", e.cfg.Name)
	for _, currency := range changed {
		fmt.Fprintf(&b, "\n- %s: %.4f -> %.4f", currency, prev[currency], current[currency])
		if limit, ok := limits[currency]; ok && current[currency] < limit {
			fmt.Fprintf(&b, " (below working limit %.4f)", limit)
		}
	}
	e.reporter.Info(b.String())
}

// ============================================================
// Офферы
// ============================================================

// Offers строит офферы пары из кешированного тикера: по одному на
// каждую сторону стакана. Пустой или нулевой тикер - пустой список.
func (e *Exchange) Offers(pair models.PairName) []models.Offer {
	data, ok := e.CachedPair(pair)
	if !ok || data.IsZero() {
		return nil
	}

	offers := make([]models.Offer, 0, 2)
	if ask, err := models.NewOffer(models.Ask, pair.Common(), data.Ask, data.AskSize, e.cfg.Name, e.cfg.Fee, data.Time); err == nil {
		offers = append(offers, ask)
	}
	if bid, err := models.NewOffer(models.Bid, pair.Common(), data.Bid, data.BidSize, e.cfg.Name, e.cfg.Fee, data.Time); err == nil {
		offers = append(offers, bid)
	}
	return offers
}

// InOfferLimit проверяет, что оффером можно воспользоваться хотя бы
// на минимальный объём при трате part доли баланса.
//
// Для ask мы покупаем и тратим base-валюту: её баланс должен
// покрывать pair_limit по цене оффера. Для bid мы продаём quote-валюту:
// баланса должно хватить на pair_limit напрямую. Сам оффер тоже обязан
// вмещать pair_limit.
func (e *Exchange) InOfferLimit(offer models.Offer, part float64) bool {
	pairLimit := e.PairLimit(offer.Pair)

	var balanceOK bool
	if offer.PriceType == models.Ask {
		balanceOK = e.Balance(offer.Pair.Base)*part >= pairLimit*offer.Price
	} else {
		balanceOK = e.Balance(offer.Pair.Quote)*part >= pairLimit
	}

	return balanceOK && offer.QuoteAmount*part >= pairLimit
}

// ============================================================
// Операции с ордерами
// ============================================================

// Validate проверяет ордер против кеша балансов и лимита пары.
//
// Ордер валиден, когда после сделки обе валюты остаются
// неотрицательными и объём не меньше pair_limit. Причина отказа
// возвращается текстом для отчёта оператору.
func (e *Exchange) Validate(order *models.Order) (bool, string) {
	pairLimit := e.PairLimit(order.Pair())
	if order.Quote().Amount < pairLimit {
		reason := fmt.Sprintf("order quote %s is below pair limit %.4f on %s", order.Quote(), pairLimit, e.cfg.Name)
		e.logger.Infof("validate failed: %s", reason)
		return false, reason
	}

	factor := models.SideFactor(order.Side())
	finalQuote := utils.Floor(e.Balance(order.Pair().Quote)-factor*order.Quote().Amount, 8)
	finalBase := utils.Floor(e.Balance(order.Pair().Base)+factor*order.Base().Amount, 8)

	if finalQuote < 0 {
		reason := fmt.Sprintf("not enough funds on %s: money - %s", e.cfg.Name, order.Quote())
		e.logger.Infof("validate failed: %s", reason)
		return false, reason
	}
	if finalBase < 0 {
		reason := fmt.Sprintf("not enough funds on %s: money - %s", e.cfg.Name, order.Base())
		e.logger.Infof("validate failed: %s", reason)
		return false, reason
	}
	return true, ""
}

// Place размещает ордер через адаптер.
//
// Невалидный ордер до биржи не доходит. Повторное размещение уже
// принятого биржей ордера - успех без запроса (идемпотентность).
// На успехе ордеру проставляются биржевой идентификатор и статус.
func (e *Exchange) Place(ctx context.Context, order *models.Order) PlacedOrder {
	if ok, reason := e.Validate(order); !ok {
		return PlacedOrder{Success: false, Response: reason}
	}

	if order.IsPlaced() {
		e.logger.Debugf("order already placed: %s", order)
		return PlacedOrder{Success: true, OrderID: order.IDOnExchange, Status: order.Status}
	}

	result := e.session.Place(ctx, order)
	if result.Success {
		order.IDOnExchange = result.OrderID
		order.Status = result.Status
		e.logger.Infof("order placed: %s", order)
	} else {
		e.logger.Infof("order place refused: order=%s, response=%s", order, result.Response)
	}
	return result
}

// Cancel отменяет размещённый ордер.
//
// Закрытые ордера не отменяются, ордер без биржевого идентификатора -
// ошибка вызывающего. Отказ биржи (например, частичное исполнение) -
// информационное событие, не ошибка.
func (e *Exchange) Cancel(ctx context.Context, order *models.Order) (CancelResult, error) {
	if order.IsClosed() {
		return CancelResult{Success: false, Response: "order is already closed"}, nil
	}
	if order.IDOnExchange == "" {
		return CancelResult{}, models.ErrNoExchangeID
	}

	result := e.session.Cancel(ctx, order)
	if result.Success {
		order.Status = models.OrderStatusCancelled
		e.logger.Infof("order cancelled: %s", order)
	} else {
		e.logger.Infof("order cancel refused: order=%s, response=%s", order, result.Response)
	}
	return result, nil
}

// FetchStatus запрашивает статус ордера на бирже.
// На успехе статус ордера обновляется на месте.
func (e *Exchange) FetchStatus(ctx context.Context, order *models.Order) (FetchedStatus, error) {
	if order.IDOnExchange == "" {
		return FetchedStatus{}, models.ErrNoExchangeID
	}

	result := e.session.FetchStatus(ctx, order)
	if result.Success {
		order.Status = result.Status
	}
	return result, nil
}

// Stop останавливает фоновые циклы и адаптер
func (e *Exchange) Stop() {
	e.startMu.Lock()
	group := e.group
	e.group = nil
	e.subscribed = false
	e.startMu.Unlock()

	if group != nil {
		if !group.Stop(StopGrace) {
			e.logger.Warnf("pair loops did not stop within %s", StopGrace)
		}
	}
	e.session.Stop()
}
