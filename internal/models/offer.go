package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptotrader/pkg/utils"
)

// Стороны оффера
const (
	Ask = "ask" // предложение продать нам
	Bid = "bid" // предложение купить у нас
)

// Точности пересчёта объёмов
const (
	// BasePrecision - точность расчёта base = quote * price
	BasePrecision = 5
	// QuoteFromBasePrecision - точность обратного пересчёта quote = base / price
	QuoteFromBasePrecision = 10
)

// ErrInvalidOffer - оффер с неположительной ценой или объёмом
var ErrInvalidOffer = errors.New("offer price and quote amount must be positive")

// Offer - неизменяемый снимок предложения купить/продать валюту на бирже.
//
// offer = "можно купить 1000 ETC по $312 за штуку на hitbtc":
//
//	offer.PriceType == "ask"
//	offer.QuoteAmount == 1000
//	offer.Price == 312
//	offer.Base() == 312000 USD - столько потратим на покупку 1000 ETC
//
// Передаётся по значению; методы-модификаторы возвращают копию.
type Offer struct {
	PriceType   string   // Ask или Bid
	Pair        PairName // валютная пара
	Price       float64  // цена за единицу quote-валюты
	QuoteAmount float64  // объём в quote-валюте
	Exchange    string   // имя биржи
	Fee         float64  // комиссия биржи на момент снимка
	Timestamp   time.Time
}

// NewOffer создаёт оффер. Цена и объём обязаны быть положительными.
func NewOffer(priceType, pair string, price, quote float64, exchange string, fee float64, timestamp time.Time) (Offer, error) {
	if price <= 0 || quote <= 0 {
		return Offer{}, ErrInvalidOffer
	}
	return Offer{
		PriceType:   priceType,
		Pair:        NewPairName(pair),
		Price:       price,
		QuoteAmount: quote,
		Exchange:    exchange,
		Fee:         fee,
		Timestamp:   timestamp,
	}, nil
}

// Quote возвращает объём оффера в торгуемой валюте
func (o Offer) Quote() Money {
	return Money{Amount: o.QuoteAmount, Currency: o.Pair.Quote}
}

// Base возвращает стоимость оффера в валюте цены
func (o Offer) Base() Money {
	return Money{
		Amount:   utils.Round(o.QuoteAmount*o.Price, BasePrecision),
		Currency: o.Pair.Base,
	}
}

// TotalPrice - цена с учётом комиссии биржи.
// Для ask комиссия удорожает покупку, для bid - уменьшает выручку.
func (o Offer) TotalPrice() float64 {
	k := 1.0
	if o.PriceType == Bid {
		k = -1.0
	}
	return o.Price * (1.0 + k*o.Fee)
}

// ReversedPriceType возвращает противоположную сторону
func (o Offer) ReversedPriceType() string {
	if o.PriceType == Bid {
		return Ask
	}
	return Bid
}

// Reversed возвращает тот же оффер с противоположной стороной
func (o Offer) Reversed() Offer {
	reversed := o
	reversed.PriceType = o.ReversedPriceType()
	return reversed
}

// WithQuote возвращает копию оффера с новым объёмом
func (o Offer) WithQuote(quote float64) Offer {
	clone := o
	clone.QuoteAmount = quote
	return clone
}

// WithPrice возвращает копию оффера со свежей ценой
func (o Offer) WithPrice(price float64, timestamp time.Time) Offer {
	clone := o
	clone.Price = price
	clone.Timestamp = timestamp
	return clone
}

func (o Offer) String() string {
	return fmt.Sprintf(
		"<Offer: pair: %s, price type: %s, price: %.4f, exchange: %s, base: %s, quote: %s>",
		o.Pair, o.PriceType, o.Price, o.Exchange, o.Base(), o.Quote(),
	)
}

// ReportString - многострочное описание оффера для отчётов оператору
func (o Offer) ReportString() string {
	return fmt.Sprintf(
		"%s:\n- Exchange - %s\n- Price - %v\n- Quote Volume - %s\n- Base Volume - %s",
		strings.ToUpper(o.PriceType), o.Exchange, o.Price, o.Quote(), o.Base(),
	)
}
