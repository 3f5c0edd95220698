package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/internal/notify"
)

// entryFixture - две биржи с захардкоженным открытым окном ETCUSD:
// покупка на left по 290, продажа на right по 312
type entryFixture struct {
	left      *fakeSession
	right     *fakeSession
	leftVenue *exchange.Exchange
	rightVen  *exchange.Exchange
	exchanges *exchange.Exchanges
	store     *memStore
	queue     *memQueue
}

func newEntryFixture(t *testing.T, leftBid float64) *entryFixture {
	t.Helper()

	bigSize := 1e30
	left := newFakeSession("left",
		map[string]float64{"USD": 300, "ETC": 1},
		map[string]exchange.PairData{
			"ETCUSD": {Ask: 290, Bid: leftBid, AskSize: bigSize, BidSize: bigSize},
		},
	)
	right := newFakeSession("right",
		map[string]float64{"USD": 300, "ETC": 1},
		map[string]exchange.PairData{
			"ETCUSD": {Ask: 330, Bid: 312, AskSize: bigSize, BidSize: bigSize},
		},
	)

	// Interval 0: каждый GetFreshPair перечитывает тикер из адаптера
	leftVenue := newVenue("left", left, 0, 0, 0)
	rightVenue := newVenue("right", right, 0, 0, 0)
	primeVenue(t, leftVenue, "ETCUSD")
	primeVenue(t, rightVenue, "ETCUSD")

	exchanges := exchange.NewExchanges(notify.NopReporter{}, testLogger())
	exchanges.Add(leftVenue)
	exchanges.Add(rightVenue)

	return &entryFixture{
		left:      left,
		right:     right,
		leftVenue: leftVenue,
		rightVen:  rightVenue,
		exchanges: exchanges,
		store:     &memStore{},
		queue:     &memQueue{},
	}
}

func (f *entryFixture) arbitrage(t *testing.T, cfg Config) *Arbitrage {
	return testArbitrage(t, f.exchanges, f.store, f.queue, cfg)
}

// Сценарий: открытое окно, обе ноги исполнились.
// Покупка на 290 USD на left, продажа 1 ETC по 312 на right.
func TestEnterPlacesBothLegs(t *testing.T) {
	f := newEntryFixture(t, 280)
	arb := f.arbitrage(t, Config{})

	arb.Enter(context.Background())

	checkBalance(t, f.leftVenue, "ETC", 2)
	checkBalance(t, f.leftVenue, "USD", 10)
	checkBalance(t, f.rightVen, "ETC", 0)
	checkBalance(t, f.rightVen, "USD", 612)

	if length, _ := f.queue.Length(context.Background()); length != 1 {
		t.Fatalf("expected 1 pair in reverse queue, got %d", length)
	}

	buy, sell, err := f.queue.Pop(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buy.Side() != models.Buy || buy.Exchange() != "left" {
		t.Errorf("unexpected buy order: %s", buy)
	}
	if sell.Side() != models.Sell || sell.Exchange() != "right" {
		t.Errorf("unexpected sell order: %s", sell)
	}
	if buy.UUID == "" || sell.UUID == "" {
		t.Error("expected both orders to be persisted before enqueueing")
	}
	if buy.ExecutedAt == nil || sell.ExecutedAt == nil {
		t.Error("expected executed_at to be set on both orders")
	}
}

// Сценарий: окно закрылось, exit реверсирует пару.
// Реверс продаёт 1 ETC по 305 на left и покупает 1 ETC по 310 на right.
func TestExitReversesWhenWindowClosed(t *testing.T) {
	f := newEntryFixture(t, 280)
	arb := f.arbitrage(t, Config{})
	ctx := context.Background()

	arb.Enter(ctx)

	// окно закрылось
	f.left.setPair("ETCUSD", exchange.PairData{Ask: 666, Bid: 305, AskSize: 1e30, BidSize: 1e30})
	f.right.setPair("ETCUSD", exchange.PairData{Ask: 310, Bid: 666, AskSize: 1e30, BidSize: 1e30})

	arb.Exit(ctx)

	checkBalance(t, f.leftVenue, "ETC", 1)
	checkBalance(t, f.leftVenue, "USD", 315)
	checkBalance(t, f.rightVen, "ETC", 1)
	checkBalance(t, f.rightVen, "USD", 302)

	if length, _ := f.queue.Length(ctx); length != 0 {
		t.Fatalf("expected empty reverse queue, got %d pairs", length)
	}
}

// Сценарий: окно не закрылось, но пара просрочена - принудительный
// реверс по дедлайну. Продажа по 302 на left, покупка по 310 на right.
func TestExitAutoReversesExpiredPair(t *testing.T) {
	f := newEntryFixture(t, 280)
	arb := f.arbitrage(t, Config{AutoreverseOrderDelta: 100 * time.Millisecond})
	ctx := context.Background()

	arb.Enter(ctx)

	// окно всё ещё открыто
	f.left.setPair("ETCUSD", exchange.PairData{Ask: 305, Bid: 302, AskSize: 1e30, BidSize: 1e30})
	f.right.setPair("ETCUSD", exchange.PairData{Ask: 310, Bid: 308, AskSize: 1e30, BidSize: 1e30})

	// пара ещё не просрочена - возвращается в очередь
	arb.Exit(ctx)
	if length, _ := f.queue.Length(ctx); length != 1 {
		t.Fatalf("expected pair to be pushed back, queue length %d", length)
	}

	time.Sleep(300 * time.Millisecond)
	arb.Exit(ctx)

	checkBalance(t, f.leftVenue, "ETC", 1)
	checkBalance(t, f.leftVenue, "USD", 312)
	checkBalance(t, f.rightVen, "ETC", 1)
	checkBalance(t, f.rightVen, "USD", 302)

	if length, _ := f.queue.Length(ctx); length != 0 {
		t.Fatalf("expected empty reverse queue, got %d pairs", length)
	}
}

// Сценарий: правая биржа отклоняет размещение - одинокая успешная нога
// немедленно реверсируется, балансы возвращаются к начальным.
func TestEnterReversesHalfProcessedWindow(t *testing.T) {
	// bid на left равен ask, чтобы реверс вернул балансы точь-в-точь
	f := newEntryFixture(t, 290)
	f.right.failPlace = true
	arb := f.arbitrage(t, Config{})
	ctx := context.Background()

	arb.Enter(ctx)

	checkBalance(t, f.leftVenue, "ETC", 1)
	checkBalance(t, f.leftVenue, "USD", 300)
	checkBalance(t, f.rightVen, "ETC", 1)
	checkBalance(t, f.rightVen, "USD", 300)

	if length, _ := f.queue.Length(ctx); length != 0 {
		t.Fatalf("expected empty reverse queue, got %d pairs", length)
	}
	// покупка, несостоявшаяся продажа и реверсивная нога сохранены
	if f.store.count() != 3 {
		t.Errorf("expected 3 saved orders, got %d", f.store.count())
	}
}

// Сценарий: рестарт. Очередь уже содержит пару из базы,
// первый exit реверсирует её по текущим тикерам.
func TestExitResumesPersistedPair(t *testing.T) {
	bigSize := 1e30
	left := newFakeSession("left",
		map[string]float64{"USD": 10, "ETC": 2},
		map[string]exchange.PairData{
			"ETCUSD": {Ask: 666, Bid: 305, AskSize: bigSize, BidSize: bigSize},
		},
	)
	right := newFakeSession("right",
		map[string]float64{"USD": 612, "ETC": 0},
		map[string]exchange.PairData{
			"ETCUSD": {Ask: 310, Bid: 666, AskSize: bigSize, BidSize: bigSize},
		},
	)
	leftVenue := newVenue("left", left, 0, 0, 0)
	rightVenue := newVenue("right", right, 0, 0, 0)
	primeVenue(t, leftVenue, "ETCUSD")
	primeVenue(t, rightVenue, "ETCUSD")

	exchanges := exchange.NewExchanges(notify.NopReporter{}, testLogger())
	exchanges.Add(leftVenue)
	exchanges.Add(rightVenue)

	executedAt := time.Now().UTC().Add(-time.Minute)
	askOffer, err := models.NewOffer(models.Ask, "ETCUSD", 290, 1, "left", 0, executedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bidOffer, err := models.NewOffer(models.Bid, "ETCUSD", 312, 1, "right", 0, executedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buy := models.NewOrder(askOffer, models.OrderTypeMarket, "test")
	buy.UUID = "uuid-1"
	buy.Status = models.OrderStatusFulfilled
	buy.ExecutedAt = &executedAt

	sell := models.NewOrder(bidOffer, models.OrderTypeMarket, "test")
	sell.UUID = "uuid-2"
	sell.Status = models.OrderStatusFulfilled
	sell.ExecutedAt = &executedAt

	queue := &memQueue{}
	if err := queue.Push(context.Background(), buy, sell); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	arb := testArbitrage(t, exchanges, &memStore{}, queue, Config{})
	arb.Exit(context.Background())

	checkBalance(t, leftVenue, "ETC", 1)
	checkBalance(t, leftVenue, "USD", 315)
	checkBalance(t, rightVenue, "ETC", 1)
	checkBalance(t, rightVenue, "USD", 302)
}

// Реверс откладывается, когда свежий тикер недоступен
func TestExitPushesBackOnFetchFailure(t *testing.T) {
	f := newEntryFixture(t, 280)
	arb := f.arbitrage(t, Config{})
	ctx := context.Background()

	arb.Enter(ctx)

	f.left.failFetchPair = true
	arb.Exit(ctx)

	if length, _ := f.queue.Length(ctx); length != 1 {
		t.Fatalf("expected pair to stay in queue, length %d", length)
	}
}

// ============================================================
// Поиск окна
// ============================================================

func TestLocateWindowFindsOpenWindow(t *testing.T) {
	f := newEntryFixture(t, 280)
	arb := f.arbitrage(t, Config{})

	window, ok := arb.LocateWindow()
	if !ok {
		t.Fatal("expected an open window")
	}
	if window.AskOffer.Exchange != "left" || window.AskOffer.Price != 290 {
		t.Errorf("expected min ask 290 on left, got %s", window.AskOffer)
	}
	if window.BidOffer.Exchange != "right" || window.BidOffer.Price != 312 {
		t.Errorf("expected max bid 312 on right, got %s", window.BidOffer)
	}
}

func TestLocateWindowNoWindow(t *testing.T) {
	f := newEntryFixture(t, 280)

	// ask выше bid на обеих биржах - окна нет
	f.left.setPair("ETCUSD", exchange.PairData{Ask: 295, Bid: 290, AskSize: 1e8, BidSize: 1e4})
	f.right.setPair("ETCUSD", exchange.PairData{Ask: 296, Bid: 291, AskSize: 1e8, BidSize: 1e4})
	primeVenue(t, f.leftVenue, "ETCUSD")
	primeVenue(t, f.rightVen, "ETCUSD")

	arb := f.arbitrage(t, Config{})
	if _, ok := arb.LocateWindow(); ok {
		t.Fatal("expected no window")
	}
}

func TestLocateWindowSkipsStaleOffers(t *testing.T) {
	f := newEntryFixture(t, 280)

	// нулевой порог свежести отбрасывает любые офферы
	arb := f.arbitrage(t, Config{Interval: time.Nanosecond})
	if _, ok := arb.LocateWindow(); ok {
		t.Fatal("expected stale offers to be filtered out")
	}
}

func TestLocateWindowFirstPairWins(t *testing.T) {
	bigSize := 1e30
	pairs := map[string]exchange.PairData{
		"ETCUSD": {Ask: 290, Bid: 280, AskSize: bigSize, BidSize: bigSize},
		"BTCUSD": {Ask: 5000, Bid: 4000, AskSize: bigSize, BidSize: bigSize},
	}
	rightPairs := map[string]exchange.PairData{
		"ETCUSD": {Ask: 330, Bid: 312, AskSize: bigSize, BidSize: bigSize},
		"BTCUSD": {Ask: 6000, Bid: 5500, AskSize: bigSize, BidSize: bigSize},
	}

	left := newFakeSession("left", map[string]float64{"USD": 1000, "ETC": 1, "BTC": 1}, pairs)
	right := newFakeSession("right", map[string]float64{"USD": 1000, "ETC": 1, "BTC": 1}, rightPairs)
	leftVenue := newVenue("left", left, 0, 0, time.Minute)
	rightVenue := newVenue("right", right, 0, 0, time.Minute)
	primeVenue(t, leftVenue, "ETCUSD", "BTCUSD")
	primeVenue(t, rightVenue, "ETCUSD", "BTCUSD")

	exchanges := exchange.NewExchanges(notify.NopReporter{}, testLogger())
	exchanges.Add(leftVenue)
	exchanges.Add(rightVenue)

	// оба окна открыты, побеждает первая пара стратегии
	arb := testArbitrage(t, exchanges, &memStore{}, &memQueue{}, Config{Pairs: []string{"BTCUSD", "ETCUSD"}})
	window, ok := arb.LocateWindow()
	if !ok {
		t.Fatal("expected an open window")
	}
	if window.AskOffer.Pair.Common() != "BTCUSD" {
		t.Errorf("expected first strategy pair to win, got %s", window.AskOffer.Pair)
	}
}

func TestNewArbitrageRejectsUnhandledPair(t *testing.T) {
	f := newEntryFixture(t, 280)

	cfg := Config{
		Name:          "test",
		Pairs:         []string{"EURUSD"},
		OrderType:     models.OrderTypeMarket,
		DirectWidth:   1,
		ReversedWidth: 1,
		MaxSpendPart:  1,
		Interval:      time.Minute,
	}
	_, err := NewArbitrage(cfg, f.exchanges, f.store, f.queue, notify.NopReporter{}, testLogger())

	var unhandled *UnhandledPairError
	if !errors.As(err, &unhandled) {
		t.Fatalf("expected UnhandledPairError, got %v", err)
	}
	if unhandled.Pair != "EURUSD" {
		t.Errorf("expected pair EURUSD in error, got %q", unhandled.Pair)
	}
}
