package models

import (
	"errors"
	"fmt"
	"time"

	"cryptotrader/pkg/utils"
)

// ErrNoExchangeID - операция требует биржевой идентификатор,
// а ордер ещё не размещён
var ErrNoExchangeID = errors.New("order doesn't have exchange ID")

// Стороны ордера
const (
	Buy  = "buy"
	Sell = "sell"
)

// Типы ордера
const (
	// OrderTypeLimit - биржа исполнит ордер ровно по указанной цене
	OrderTypeLimit = "limit"
	// OrderTypeMarket - биржа исполнит ордер по лучшей текущей цене
	OrderTypeMarket = "market"
)

// Статусы ордера
const (
	OrderStatusCreated   = "created"
	OrderStatusPlaced    = "placed"
	OrderStatusRejected  = "rejected"  // отклонён биржей
	OrderStatusCancelled = "cancelled" // отменён по нашему запросу
	OrderStatusFulfilled = "fulfilled"
)

// SideFromPriceType переводит сторону оффера в сторону ордера:
// ask (нам продают) - мы покупаем, bid (у нас покупают) - мы продаём.
func SideFromPriceType(priceType string) string {
	if priceType == Bid {
		return Sell
	}
	return Buy
}

// PriceTypeFromSide - обратное преобразование для чтения ордера из базы
func PriceTypeFromSide(side string) string {
	if side == Sell {
		return Bid
	}
	return Ask
}

// SideFactor - знак изменения баланса base-валюты для стороны ордера:
// покупка тратит base (-1), продажа приносит base (+1).
func SideFactor(side string) float64 {
	if side == Buy {
		return -1
	}
	return 1
}

// Order - торговое намерение: оффер с объёмом, статусом и датами.
//
// Жизненный цикл: created -> placed -> (fulfilled | cancelled | rejected).
// Терминальные статусы - fulfilled и cancelled.
type Order struct {
	UUID         string // пустой до первого сохранения в базу
	IDOnExchange string // присваивается биржей при размещении
	Type         string // OrderTypeLimit или OrderTypeMarket
	Offer        Offer
	Status       string
	Strategy     string
	CreatedAt    time.Time
	ExecutedAt   *time.Time
	ExpiredAt    *time.Time
	Commission   float64
}

// NewOrder создаёт ордер в статусе created
func NewOrder(offer Offer, orderType, strategy string) *Order {
	return &Order{
		Type:      orderType,
		Offer:     offer,
		Status:    OrderStatusCreated,
		Strategy:  strategy,
		CreatedAt: time.Now().UTC(),
	}
}

// Side возвращает сторону ордера, выведенную из стороны оффера
func (o *Order) Side() string {
	return SideFromPriceType(o.Offer.PriceType)
}

// Pair - пара оффера
func (o *Order) Pair() PairName {
	return o.Offer.Pair
}

// Price - цена оффера
func (o *Order) Price() float64 {
	return o.Offer.Price
}

// Quote - объём в торгуемой валюте
func (o *Order) Quote() Money {
	return o.Offer.Quote()
}

// Base - стоимость в валюте цены
func (o *Order) Base() Money {
	return o.Offer.Base()
}

// Exchange - имя биржи оффера
func (o *Order) Exchange() string {
	return o.Offer.Exchange
}

// IsClosed - ордер в терминальном статусе
func (o *Order) IsClosed() bool {
	return o.Status == OrderStatusFulfilled || o.Status == OrderStatusCancelled
}

// IsPlaced - ордер принят биржей
func (o *Order) IsPlaced() bool {
	return o.Status == OrderStatusPlaced || o.Status == OrderStatusFulfilled
}

// SetQuote устанавливает объём в торгуемой валюте.
// Base пересчитывается по старой цене.
func (o *Order) SetQuote(quote Money) error {
	if quote.Currency != o.Offer.Pair.Quote {
		return fmt.Errorf("quote currency mismatch: %s != %s", quote.Currency, o.Offer.Pair.Quote)
	}
	o.Offer = o.Offer.WithQuote(quote.Amount)
	return nil
}

// SetBase устанавливает стоимость в валюте цены.
// Quote пересчитывается по старой цене с точностью QuoteFromBasePrecision.
func (o *Order) SetBase(base Money) error {
	if base.Currency != o.Offer.Pair.Base {
		return fmt.Errorf("base currency mismatch: %s != %s", base.Currency, o.Offer.Pair.Base)
	}
	quote := utils.Round(base.Amount/o.Offer.Price, QuoteFromBasePrecision)
	o.Offer = o.Offer.WithQuote(quote)
	return nil
}

// Reversed возвращает новый ордер с противоположной стороной.
//
// Пара и объём сохраняются, цена берётся свежая (newPrice),
// при нуле остаётся старая. Реверсивный ордер всегда market:
// главное - закрыть позицию, а не цена закрытия.
func (o *Order) Reversed(newPrice float64) *Order {
	price := newPrice
	if price == 0 {
		price = o.Offer.Price
	}

	offer := o.Offer.Reversed()
	offer.Price = price

	return &Order{
		Type:      OrderTypeMarket,
		Offer:     offer,
		Status:    OrderStatusCreated,
		CreatedAt: time.Now().UTC(),
		Strategy:  o.Strategy,
	}
}

func (o *Order) String() string {
	return fmt.Sprintf(
		"<Order: status: %s, id_on_exchange: %s, uuid: %s, pair: %s, side: %s, price: %.4f, exchange: %s, base: %s, quote: %s>",
		o.Status, o.IDOnExchange, o.UUID, o.Pair(), o.Side(), o.Price(), o.Exchange(), o.Base(), o.Quote(),
	)
}

// ReportString - многострочное описание ордера для отчётов оператору
func (o *Order) ReportString() string {
	return fmt.Sprintf(
		"%s\nOrder DB id - %s\nOrder exchange id - %s",
		o.Offer.ReportString(), o.UUID, o.IDOnExchange,
	)
}
