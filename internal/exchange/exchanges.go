package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cryptotrader/internal/models"
	"cryptotrader/internal/notify"
	"cryptotrader/pkg/utils"
)

// exchanges.go - коллекция бирж
//
// Exchanges обслуживает все биржи разом: параллельный schedule,
// ожидание свежих тикеров по всем площадкам, карта офферов для поиска
// арбитражных окон и сводный отчёт по суммарным балансам.

// Exchanges - именованная коллекция бирж
type Exchanges struct {
	items    map[string]*Exchange
	order    []string // имена в порядке добавления, для стабильных обходов
	reporter notify.Reporter
	logger   *utils.Logger

	totalsMu   sync.Mutex
	prevTotals map[string]float64
}

// NewExchanges создаёт коллекцию
func NewExchanges(reporter notify.Reporter, logger *utils.Logger) *Exchanges {
	if reporter == nil {
		reporter = notify.NopReporter{}
	}
	return &Exchanges{
		items:    make(map[string]*Exchange),
		reporter: reporter,
		logger:   logger.Named("exchanges"),
	}
}

// Add регистрирует биржу. Повторное имя затирает прежнюю запись.
func (s *Exchanges) Add(e *Exchange) {
	if _, exists := s.items[e.Name()]; !exists {
		s.order = append(s.order, e.Name())
	}
	s.items[e.Name()] = e
}

// Get возвращает биржу по имени
func (s *Exchanges) Get(name string) (*Exchange, error) {
	e, ok := s.items[name]
	if !ok {
		return nil, &NoSuchExchangeError{Name: name}
	}
	return e, nil
}

// Names - имена бирж в порядке добавления
func (s *Exchanges) Names() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// All - биржи в порядке добавления
func (s *Exchanges) All() []*Exchange {
	all := make([]*Exchange, 0, len(s.order))
	for _, name := range s.order {
		all = append(all, s.items[name])
	}
	return all
}

// Len - число бирж в коллекции
func (s *Exchanges) Len() int {
	return len(s.items)
}

// Fee возвращает комиссию биржи по имени.
// Коллекция реализует models.FeeResolver для репозиториев и очередей.
func (s *Exchanges) Fee(name string) (float64, error) {
	e, err := s.Get(name)
	if err != nil {
		return 0, err
	}
	return e.Fee(), nil
}

// Schedule обслуживает все биржи параллельно, затем дожидается свежих
// тикеров и шлёт оператору сводный отчёт по суммарным балансам.
// Ошибка одной биржи не мешает остальным.
func (s *Exchanges) Schedule(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, e := range s.items {
		wg.Add(1)
		go func(e *Exchange) {
			defer wg.Done()
			if err := e.Schedule(ctx); err != nil {
				s.logger.Errorf("schedule %s: %v", e.Name(), err)
			}
		}(e)
	}
	wg.Wait()

	if err := s.UpdateTickers(ctx, nil); err != nil {
		s.logger.Warnf("update tickers: %v", err)
	}

	s.reportTotalBalances()
	return ctx.Err()
}

// UpdateTickers ждёт свежие тикеры указанных пар на всех биржах,
// где пара торгуется. Пустой список пар - все пары всех бирж.
// Ожидание каждой биржи ограничено её update_tickers_timeout.
func (s *Exchanges) UpdateTickers(ctx context.Context, pairs []models.PairName) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(s.items))

	for _, e := range s.items {
		wanted := pairs
		if len(wanted) == 0 {
			wanted = e.DefaultPairs()
		}

		for _, pair := range wanted {
			if !e.HasPair(pair) {
				continue
			}

			wg.Add(1)
			go func(e *Exchange, pair models.PairName) {
				defer wg.Done()

				waitCtx := ctx
				if timeout := e.cfg.UpdateTickersTimeout; timeout > 0 {
					var cancel context.CancelFunc
					waitCtx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				if err := e.UpdateTickers(waitCtx, pair); err != nil {
					errCh <- fmt.Errorf("update tickers %s %s: %w", e.Name(), pair, err)
				}
			}(e, pair)
		}
	}

	wg.Wait()
	close(errCh)

	// достаточно первой ошибки: остальные почти всегда о том же
	for err := range errCh {
		return err
	}
	return nil
}

// GetPairOfferMap строит карту пар в списки офферов: по ask и bid
// с каждой биржи, где пара торгуется и тикер есть в кеше.
// Пара без офферов логируется, но остаётся в карте пустой.
func (s *Exchanges) GetPairOfferMap(pairs []models.PairName) map[string][]models.Offer {
	offerMap := make(map[string][]models.Offer, len(pairs))
	for _, pair := range pairs {
		offers := make([]models.Offer, 0, 2*len(s.items))
		for _, name := range s.order {
			e := s.items[name]
			if !e.HasPair(pair) {
				continue
			}
			offers = append(offers, e.Offers(pair)...)
		}

		if len(offers) == 0 {
			s.logger.Infof("no offers for pair %s", pair)
		}
		offerMap[pair.Common()] = offers
	}
	return offerMap
}

// TotalBalances - суммарные балансы по всем биржам
func (s *Exchanges) TotalBalances() map[string]float64 {
	totals := make(map[string]float64)
	for _, e := range s.items {
		for currency, amount := range e.Balances() {
			totals[currency] += amount
		}
	}
	return totals
}

// reportTotalBalances шлёт оператору сводный отчёт, когда суммарный
// баланс какой-либо валюты изменился с прошлого schedule
func (s *Exchanges) reportTotalBalances() {
	totals := s.TotalBalances()

	s.totalsMu.Lock()
	prev := s.prevTotals
	s.prevTotals = totals
	s.totalsMu.Unlock()

	if prev == nil {
		return
	}

	changed := make([]string, 0)
	currencies := make(map[string]struct{}, len(totals))
	for currency := range totals {
		currencies[currency] = struct{}{}
	}
	for currency := range prev {
		currencies[currency] = struct{}{}
	}
	for currency := range currencies {
		if utils.Round(totals[currency], balanceReportPrecision) != utils.Round(prev[currency], balanceReportPrecision) {
			changed = append(changed, currency)
		}
	}
	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)

	var b strings.Builder
	b.WriteString("Total balance changed:")
	for _, currency := range changed {
		fmt.Fprintf(&b, "\n- %s: %.4f -> %.4f", currency, prev[currency], totals[currency])
	}
	s.reporter.Info(b.String())
}

// Stop останавливает все биржи
func (s *Exchanges) Stop() {
	for _, e := range s.items {
		e.Stop()
	}
}
