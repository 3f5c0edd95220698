package strategy

import (
	"fmt"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/pkg/utils"
)

// window.go - арбитражное окно и расчёт размера позиции
//
// Окно - особое состояние цен пары на двух биржах: на одной можно
// купить, на другой тут же продать дороже. Окно описывается двумя
// офферами (ask и bid) и двумя порогами ширины.

// ErrWindowOffers - офферы не образуют окно: совпадают стороны
// или не совпадает пара
var ErrWindowOffers = fmt.Errorf("offers do not form an arbitrage window")

// ArbitrageWindow - пара офферов одной валютной пары с разных бирж.
//
// DirectWidth - множитель гарантированной прибыли для входа:
// 1.2 - работаем с прибылью от 20%. ReversedWidth - порог, при котором
// позицию безопасно закрывать; обязан быть не больше DirectWidth.
type ArbitrageWindow struct {
	AskOffer      models.Offer
	BidOffer      models.Offer
	DirectWidth   float64
	ReversedWidth float64
}

// NewArbitrageWindow создаёт окно из ask- и bid-офферов одной пары
func NewArbitrageWindow(ask, bid models.Offer, directWidth, reversedWidth float64) (ArbitrageWindow, error) {
	if ask.PriceType != models.Ask || bid.PriceType != models.Bid || ask.Pair != bid.Pair {
		return ArbitrageWindow{}, fmt.Errorf("%w: %s / %s", ErrWindowOffers, ask, bid)
	}
	return ArbitrageWindow{
		AskOffer:      ask,
		BidOffer:      bid,
		DirectWidth:   directWidth,
		ReversedWidth: reversedWidth,
	}, nil
}

// Exists сообщает, что офферы пришли с разных бирж
func (w ArbitrageWindow) Exists() bool {
	return w.AskOffer.Exchange != w.BidOffer.Exchange
}

// IsOpen - прямая пара ордеров прибыльна с учётом комиссий
func (w ArbitrageWindow) IsOpen() bool {
	return w.AskOffer.TotalPrice()*w.DirectWidth < w.BidOffer.TotalPrice()
}

// IsClosed - реверсивная пара ордеров прибыльна, позицию пора закрывать
func (w ArbitrageWindow) IsClosed() bool {
	return w.AskOffer.Price*w.ReversedWidth >= w.BidOffer.Price
}

// ReportString - многострочное описание окна для отчётов оператору
func (w ArbitrageWindow) ReportString() string {
	return fmt.Sprintf(
		"Pair - %s\n%s\n%s",
		w.AskOffer.Pair, w.AskOffer.ReportString(), w.BidOffer.ReportString(),
	)
}

// GetMaxSpend считает, сколько можно потратить на каждой стороне окна.
//
// "Max" - потолок траты, фактически берутся минимумы из балансов и
// объёмов офферов. Обе суммы приводятся к одному нотионалу по цене
// ask, режутся комиссиями с двукратным запасом, масштабируются долей
// part и ограничиваются глобальным лимитом бирж (0 - лимита нет).
func GetMaxSpend(askVenue, bidVenue *exchange.Exchange, ask, bid models.Offer, part float64) (models.Money, models.Money) {
	maxBase := utils.Min(askVenue.Balance(ask.Pair.Base), ask.Base().Amount)
	maxQuote := utils.Min(bidVenue.Balance(bid.Pair.Quote), bid.Quote().Amount)

	// суммы обязаны сойтись в один нотионал, обе по цене ask:
	// именно по ней покупается quote-валюта
	maxQuote = utils.Min(maxQuote, maxBase/ask.Price)
	maxBase = utils.Min(maxBase, maxQuote*ask.Price)

	// теоретически хватило бы одной комиссии,
	// но двукратный запас прикрывает гонку validate/place
	maxBase *= 1.0 - 2*askVenue.Fee()
	maxQuote *= 1.0 - 2*bidVenue.Fee()

	maxBase *= part
	maxQuote *= part

	limit := utils.Min(globalLimitOrMax(askVenue), globalLimitOrMax(bidVenue))
	maxQuote = utils.Min(maxQuote, limit)

	return models.NewMoney(maxBase, ask.Pair.Base), models.NewMoney(maxQuote, bid.Pair.Quote)
}

func globalLimitOrMax(venue *exchange.Exchange) float64 {
	if limit := venue.GlobalLimit(); limit > 0 {
		return limit
	}
	return models.MaxSum
}
