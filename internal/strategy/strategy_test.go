package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/internal/notify"
	"cryptotrader/internal/repository"
	"cryptotrader/pkg/utils"
)

// fakeSession - биржа в памяти: балансы и тикеры заданы скриптом,
// размещение ордера двигает балансы как настоящая биржа
type fakeSession struct {
	name string

	mu       sync.Mutex
	balances map[string]float64
	pairs    map[string]exchange.PairData

	failPlace     bool
	failFetchPair bool
	placeCalls    int
}

func newFakeSession(name string, balances map[string]float64, pairs map[string]exchange.PairData) *fakeSession {
	return &fakeSession{name: name, balances: balances, pairs: pairs}
}

func (s *fakeSession) Name() string { return s.name }

func (s *fakeSession) Schedule(ctx context.Context) error { return nil }

func (s *fakeSession) FetchBalances(ctx context.Context) exchange.FetchedBalances {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := make(map[string]float64, len(s.balances))
	for currency, amount := range s.balances {
		clone[currency] = amount
	}
	return exchange.FetchedBalances{Success: true, Balances: clone, Response: "ok"}
}

func (s *fakeSession) FetchPair(ctx context.Context, pair models.PairName, minSize float64) exchange.FetchedPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.pairs[pair.Common()]
	if s.failFetchPair || !ok {
		return exchange.FetchedPair{Success: false, Response: "no such pair"}
	}
	return exchange.FetchedPair{Success: true, Pair: data, Response: "ok"}
}

func (s *fakeSession) Place(ctx context.Context, order *models.Order) exchange.PlacedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.placeCalls++
	if s.failPlace {
		return exchange.PlacedOrder{Success: false, Status: models.OrderStatusCreated, Response: "error"}
	}

	factor := models.SideFactor(order.Side())
	s.balances[order.Base().Currency] += factor * order.Base().Amount
	s.balances[order.Quote().Currency] -= factor * order.Quote().Amount

	return exchange.PlacedOrder{
		Success:  true,
		OrderID:  fmt.Sprintf("%s-%d", s.name, s.placeCalls),
		Status:   models.OrderStatusPlaced,
		Response: "ok",
	}
}

func (s *fakeSession) Cancel(ctx context.Context, order *models.Order) exchange.CancelResult {
	return exchange.CancelResult{Success: true, Response: "ok"}
}

func (s *fakeSession) FetchStatus(ctx context.Context, order *models.Order) exchange.FetchedStatus {
	return exchange.FetchedStatus{Success: true, Status: models.OrderStatusFulfilled, Response: "ok"}
}

func (s *fakeSession) Stop() {}

// setPair подменяет тикер пары, имитируя движение рынка
func (s *fakeSession) setPair(pair string, data exchange.PairData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pair] = data
}

// memStore - хранилище ордеров в памяти
type memStore struct {
	mu    sync.Mutex
	saved []*models.Order
}

func (m *memStore) Save(order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.UUID == "" {
		order.UUID = fmt.Sprintf("uuid-%d", len(m.saved)+1)
	}
	m.saved = append(m.saved, order)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// memQueue - очередь пар в памяти, реализует repository.Queue
type memQueue struct {
	mu    sync.Mutex
	pairs [][2]*models.Order
}

func (q *memQueue) Pop(ctx context.Context) (*models.Order, *models.Order, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pairs) == 0 {
		return nil, nil, repository.ErrQueueEmpty
	}
	pair := q.pairs[0]
	q.pairs = q.pairs[1:]
	return pair[0], pair[1], nil
}

func (q *memQueue) Push(ctx context.Context, buy, sell *models.Order) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pairs = append(q.pairs, [2]*models.Order{buy, sell})
	return nil
}

func (q *memQueue) Length(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pairs), nil
}

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error", Format: "text"})
}

// newVenue строит биржу над фейковым адаптером.
// Interval 0: GetFreshPair всегда перечитывает тикер из адаптера.
func newVenue(name string, session exchange.Session, fee, limit float64, interval time.Duration) *exchange.Exchange {
	cfg := exchange.Config{
		Name:                  name,
		Fee:                   fee,
		Limit:                 limit,
		Pairs:                 []string{"ETCUSD", "BTCUSD"},
		PairLimits:            map[string]float64{exchange.DefaultPairKey: 0},
		Interval:              interval,
		UpdateTickersInterval: time.Minute,
		UpdateTickersTimeout:  time.Second,
	}
	return exchange.NewExchange(cfg, session, nil, notify.NopReporter{}, testLogger())
}

// primeVenue наполняет кеши биржи балансами и тикерами адаптера
func primeVenue(t *testing.T, venue *exchange.Exchange, pairs ...string) {
	t.Helper()
	ctx := context.Background()

	if err := venue.FetchBalances(ctx); err != nil {
		t.Fatalf("fetch balances: %v", err)
	}
	for _, pair := range pairs {
		if _, err := venue.GetFreshPair(ctx, models.NewPairName(pair)); err != nil {
			t.Fatalf("fetch pair %s: %v", pair, err)
		}
	}
}

func testArbitrage(t *testing.T, exchanges *exchange.Exchanges, store *memStore, queue *memQueue, cfg Config) *Arbitrage {
	t.Helper()

	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if len(cfg.Pairs) == 0 {
		cfg.Pairs = []string{"ETCUSD"}
	}
	if cfg.OrderType == "" {
		cfg.OrderType = models.OrderTypeMarket
	}
	if cfg.DirectWidth == 0 {
		cfg.DirectWidth = 1.0
	}
	if cfg.ReversedWidth == 0 {
		cfg.ReversedWidth = 1.0
	}
	if cfg.MaxSpendPart == 0 {
		cfg.MaxSpendPart = 1.0
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.FetchOrderInterval == 0 {
		cfg.FetchOrderInterval = 10 * time.Millisecond
	}
	if cfg.OrderTimeout == 0 {
		cfg.OrderTimeout = 2 * time.Second
	}
	if cfg.AutoreverseOrderDelta == 0 {
		cfg.AutoreverseOrderDelta = time.Hour
	}

	arb, err := NewArbitrage(cfg, exchanges, store, queue, notify.NopReporter{}, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return arb
}

// checkBalance сравнивает баланс валюты на бирже с ожиданием
func checkBalance(t *testing.T, venue *exchange.Exchange, currency string, expected float64) {
	t.Helper()
	if got := utils.Round(venue.Balance(currency), 4); got != expected {
		t.Errorf("%s %s balance: expected %v, got %v", venue.Name(), currency, expected, got)
	}
}
