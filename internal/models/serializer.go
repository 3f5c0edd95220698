package models

import (
	"fmt"
	"math"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FeeResolver отдаёт комиссию биржи по имени.
// Реализуется реестром бирж.
type FeeResolver interface {
	Fee(exchange string) (float64, error)
}

// OrderSerializer сериализует списки ордеров в JSON для очереди в Redis.
//
// Комиссия в JSON не хранится: при чтении оффер получает актуальную
// комиссию биржи через FeeResolver, как и при создании из тикера.
type OrderSerializer struct {
	fees FeeResolver
}

// NewOrderSerializer создаёт сериализатор поверх реестра бирж
func NewOrderSerializer(fees FeeResolver) *OrderSerializer {
	return &OrderSerializer{fees: fees}
}

type offerJSON struct {
	ExchangeName string  `json:"exchange_name"`
	Pair         string  `json:"pair"`
	Price        float64 `json:"price"`
	PriceType    string  `json:"price_type"`
	Quote        float64 `json:"quote"`
}

type orderJSON struct {
	UUID       *string   `json:"uuid"`
	CreatedAt  *float64  `json:"created_at"`
	ExecutedAt *float64  `json:"executed_at"`
	ExpiredAt  *float64  `json:"expired_at"`
	Status     string    `json:"status"`
	Offer      offerJSON `json:"offer"`
}

// Dumps кодирует список ордеров в JSON
func (s *OrderSerializer) Dumps(orders []*Order) ([]byte, error) {
	raw := make([]orderJSON, 0, len(orders))
	for _, order := range orders {
		createdAt := order.CreatedAt
		raw = append(raw, orderJSON{
			UUID:       stringToJSON(order.UUID),
			CreatedAt:  dateToUnix(&createdAt),
			ExecutedAt: dateToUnix(order.ExecutedAt),
			ExpiredAt:  dateToUnix(order.ExpiredAt),
			Status:     order.Status,
			Offer: offerJSON{
				ExchangeName: order.Offer.Exchange,
				Pair:         order.Offer.Pair.Common(),
				Price:        order.Offer.Price,
				PriceType:    order.Offer.PriceType,
				Quote:        order.Offer.QuoteAmount,
			},
		})
	}
	return json.Marshal(raw)
}

// Loads декодирует список ордеров из JSON
func (s *OrderSerializer) Loads(data []byte) ([]*Order, error) {
	var raw []orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}

	orders := make([]*Order, 0, len(raw))
	for _, r := range raw {
		fee, err := s.fees.Fee(r.Offer.ExchangeName)
		if err != nil {
			return nil, fmt.Errorf("resolve fee for %q: %w", r.Offer.ExchangeName, err)
		}

		offer, err := NewOffer(
			r.Offer.PriceType,
			r.Offer.Pair,
			r.Offer.Price,
			r.Offer.Quote,
			r.Offer.ExchangeName,
			fee,
			time.Time{},
		)
		if err != nil {
			return nil, fmt.Errorf("rebuild offer for %q: %w", r.Offer.Pair, err)
		}

		createdAt := unixToDate(r.CreatedAt)
		order := &Order{
			UUID:       stringFromJSON(r.UUID),
			Type:       OrderTypeLimit,
			Offer:      offer,
			Status:     r.Status,
			ExecutedAt: unixToDate(r.ExecutedAt),
			ExpiredAt:  unixToDate(r.ExpiredAt),
		}
		if createdAt != nil {
			order.CreatedAt = *createdAt
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// dateToUnix переводит время в unix-секунды с точностью до микросекунд
func dateToUnix(t *time.Time) *float64 {
	if t == nil || t.IsZero() {
		return nil
	}
	f := float64(t.Unix()) + float64(t.Nanosecond()/1000)/1e6
	return &f
}

// unixToDate восстанавливает время из unix-секунд
func unixToDate(f *float64) *time.Time {
	if f == nil {
		return nil
	}
	secs := int64(*f)
	micros := int64(math.Round((*f - float64(secs)) * 1e6))
	t := time.Unix(secs, micros*1000).UTC()
	return &t
}

func stringToJSON(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringFromJSON(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
