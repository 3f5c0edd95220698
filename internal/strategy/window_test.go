package strategy

import (
	"errors"
	"testing"
	"time"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/pkg/utils"
)

func testOffer(t *testing.T, priceType string, price, quote float64, venue string) models.Offer {
	t.Helper()
	offer, err := models.NewOffer(priceType, "BTCUSD", price, quote, venue, 0, time.Now())
	if err != nil {
		t.Fatalf("unexpected offer error: %v", err)
	}
	return offer
}

func TestNewArbitrageWindowRejects(t *testing.T) {
	ask := testOffer(t, models.Ask, 5000, 1, "left")

	tests := []struct {
		name string
		bid  models.Offer
	}{
		{"same price type", testOffer(t, models.Ask, 5100, 1, "right")},
		{"pair mismatch", func() models.Offer {
			offer, err := models.NewOffer(models.Bid, "ETCUSD", 5100, 1, "right", 0, time.Now())
			if err != nil {
				t.Fatalf("unexpected offer error: %v", err)
			}
			return offer
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewArbitrageWindow(ask, tt.bid, 1, 1); !errors.Is(err, ErrWindowOffers) {
				t.Fatalf("expected ErrWindowOffers, got %v", err)
			}
		})
	}
}

func TestWindowExists(t *testing.T) {
	ask := testOffer(t, models.Ask, 5000, 1, "left")

	window, err := NewArbitrageWindow(ask, testOffer(t, models.Bid, 5100, 1, "right"), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !window.Exists() {
		t.Error("expected window on different exchanges to exist")
	}

	sameVenue, err := NewArbitrageWindow(ask, testOffer(t, models.Bid, 5100, 1, "left"), 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sameVenue.Exists() {
		t.Error("expected window on one exchange to not exist")
	}
}

func TestWindowState(t *testing.T) {
	tests := []struct {
		name          string
		askPrice      float64
		bidPrice      float64
		directWidth   float64
		reversedWidth float64
		open          bool
		closed        bool
	}{
		{"open", 5000, 5001, 1.0, 1.0, true, false},
		{"closed", 5000, 5000, 1.0, 1.0, false, true},
		{"wide reversed width", 100, 105, 1.0, 1.06, true, true},
		{"wide direct width", 100, 105, 1.6, 1.0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, err := NewArbitrageWindow(
				testOffer(t, models.Ask, tt.askPrice, 1, "left"),
				testOffer(t, models.Bid, tt.bidPrice, 1, "right"),
				tt.directWidth, tt.reversedWidth,
			)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if window.IsOpen() != tt.open {
				t.Errorf("IsOpen: expected %v, got %v", tt.open, window.IsOpen())
			}
			if window.IsClosed() != tt.closed {
				t.Errorf("IsClosed: expected %v, got %v", tt.closed, window.IsClosed())
			}
		})
	}
}

func TestWindowOpenAccountsForFee(t *testing.T) {
	ask, err := models.NewOffer(models.Ask, "BTCUSD", 5000, 1, "left", 0.01, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bid, err := models.NewOffer(models.Bid, "BTCUSD", 5060, 1, "right", 0.01, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// без комиссий окно открыто (5000 < 5060),
	// комиссии съедают спред: 5050 >= 5009.4
	window, err := NewArbitrageWindow(ask, bid, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.IsOpen() {
		t.Error("expected fees to close the window")
	}
}

// ============================================================
// GetMaxSpend
// ============================================================

func maxSpendVenues(t *testing.T, askBalances, bidBalances map[string]float64, askFee, bidFee, askLimit, bidLimit float64) (*exchange.Exchange, *exchange.Exchange) {
	t.Helper()

	askVenue := newVenue("left", newFakeSession("left", askBalances, nil), askFee, askLimit, time.Minute)
	bidVenue := newVenue("right", newFakeSession("right", bidBalances, nil), bidFee, bidLimit, time.Minute)
	primeVenue(t, askVenue)
	primeVenue(t, bidVenue)
	return askVenue, bidVenue
}

func TestGetMaxSpend(t *testing.T) {
	tests := []struct {
		name          string
		askBalances   map[string]float64
		bidBalances   map[string]float64
		askFee        float64
		bidFee        float64
		askLimit      float64
		bidLimit      float64
		askOffer      models.Offer
		bidOffer      models.Offer
		part          float64
		expectedBase  float64
		expectedQuote float64
	}{
		{
			// объём ask-оффера меньше балансов - он и ограничивает
			name:          "bound by offer quote size",
			askBalances:   map[string]float64{"USD": 50000, "BTC": 7},
			bidBalances:   map[string]float64{"USD": 30000, "BTC": 10},
			askOffer:      testOffer(t, models.Ask, 5000, 3, "left"),
			bidOffer:      testOffer(t, models.Bid, 5000, 5, "right"),
			part:          1,
			expectedBase:  15000,
			expectedQuote: 3,
		},
		{
			// долларов на ask-бирже хватает, ограничивает BTC bid-биржи
			name:          "bound by bid balance",
			askBalances:   map[string]float64{"USD": 50000, "BTC": 7},
			bidBalances:   map[string]float64{"USD": 30000, "BTC": 10},
			askOffer:      testOffer(t, models.Ask, 4500, 150, "left"),
			bidOffer:      testOffer(t, models.Bid, 4500, 150, "right"),
			part:          1,
			expectedBase:  45000,
			expectedQuote: 10,
		},
		{
			// долларов не хватает - ограничивает баланс ask-биржи
			name:          "bound by ask balance",
			askBalances:   map[string]float64{"USD": 40000, "BTC": 7},
			bidBalances:   map[string]float64{"USD": 30000, "BTC": 10},
			askOffer:      testOffer(t, models.Ask, 4500, 150, "left"),
			bidOffer:      testOffer(t, models.Bid, 4500, 150, "right"),
			part:          1,
			expectedBase:  40000,
			expectedQuote: 8.89,
		},
		{
			name:          "fee applied with double factor",
			askBalances:   map[string]float64{"USD": 40000, "BTC": 7},
			bidBalances:   map[string]float64{"USD": 30000, "BTC": 10},
			askFee:        0.01,
			bidFee:        0.01,
			askOffer:      testOffer(t, models.Ask, 4500, 150, "left"),
			bidOffer:      testOffer(t, models.Bid, 4500, 150, "right"),
			part:          1,
			expectedBase:  39200,
			expectedQuote: 8.71,
		},
		{
			name:          "zero balance on bid exchange",
			askBalances:   map[string]float64{"USD": 40000, "BTC": 7},
			bidBalances:   map[string]float64{"USD": 0, "BTC": 0},
			askOffer:      testOffer(t, models.Ask, 4500, 150, "left"),
			bidOffer:      testOffer(t, models.Bid, 4500, 150, "right"),
			part:          1,
			expectedBase:  0,
			expectedQuote: 0,
		},
		{
			name:          "max spend part scales both sums",
			askBalances:   map[string]float64{"USD": 40000, "BTC": 7},
			bidBalances:   map[string]float64{"USD": 30000, "BTC": 10},
			askOffer:      testOffer(t, models.Ask, 4500, 150, "left"),
			bidOffer:      testOffer(t, models.Bid, 4500, 150, "right"),
			part:          0.5,
			expectedBase:  20000,
			expectedQuote: 4.44,
		},
		{
			// глобальный лимит режет только quote-сумму
			name:          "global limit caps quote",
			askBalances:   map[string]float64{"USD": 50000, "BTC": 7},
			bidBalances:   map[string]float64{"USD": 30000, "BTC": 10},
			askLimit:      5,
			askOffer:      testOffer(t, models.Ask, 4500, 150, "left"),
			bidOffer:      testOffer(t, models.Bid, 4500, 150, "right"),
			part:          1,
			expectedBase:  45000,
			expectedQuote: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			askVenue, bidVenue := maxSpendVenues(
				t, tt.askBalances, tt.bidBalances,
				tt.askFee, tt.bidFee, tt.askLimit, tt.bidLimit,
			)

			maxBase, maxQuote := GetMaxSpend(askVenue, bidVenue, tt.askOffer, tt.bidOffer, tt.part)

			if maxBase.Currency != "USD" || maxQuote.Currency != "BTC" {
				t.Fatalf("unexpected currencies: %s / %s", maxBase, maxQuote)
			}
			if got := utils.Round(maxBase.Amount, 2); got != tt.expectedBase {
				t.Errorf("max base: expected %v, got %v", tt.expectedBase, got)
			}
			if got := utils.Round(maxQuote.Amount, 2); got != tt.expectedQuote {
				t.Errorf("max quote: expected %v, got %v", tt.expectedQuote, got)
			}
		})
	}
}

func TestGetMaxSpendPartScalingLaw(t *testing.T) {
	askVenue, bidVenue := maxSpendVenues(
		t,
		map[string]float64{"USD": 40000, "BTC": 7},
		map[string]float64{"USD": 30000, "BTC": 10},
		0, 0, 0, 0,
	)
	ask := testOffer(t, models.Ask, 4500, 150, "left")
	bid := testOffer(t, models.Bid, 4500, 150, "right")

	fullBase, fullQuote := GetMaxSpend(askVenue, bidVenue, ask, bid, 1)
	partBase, partQuote := GetMaxSpend(askVenue, bidVenue, ask, bid, 0.25)

	if got := utils.Round(partBase.Amount, 5); got != utils.Round(fullBase.Amount*0.25, 5) {
		t.Errorf("expected base scaled by part, got %v of %v", got, fullBase.Amount)
	}
	if got := utils.Round(partQuote.Amount, 5); got != utils.Round(fullQuote.Amount*0.25, 5) {
		t.Errorf("expected quote scaled by part, got %v of %v", got, fullQuote.Amount)
	}
}
