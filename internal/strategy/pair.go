package strategy

import (
	"fmt"
	"strings"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/internal/notify"
	"cryptotrader/pkg/utils"
)

// pair.go - пара прямых арбитражных ордеров
//
// Пара открывает стратегию для найденного окна: покупка на бирже с
// минимальным ask и продажа на бирже с максимальным bid, обе на один
// нотионал из GetMaxSpend.

// ArbitrageOrdersPair - покупка и продажа одного окна
type ArbitrageOrdersPair struct {
	BuyOrder  *models.Order
	SellOrder *models.Order
}

// NewArbitrageOrdersPair строит пару ордеров окна, отмасштабированную
// по балансам и лимитам. Нулевой размер хотя бы одной стороны -
// средств нет, пара не строится.
func NewArbitrageOrdersPair(
	askVenue, bidVenue *exchange.Exchange,
	window ArbitrageWindow,
	part float64,
	orderType, strategy string,
	logger *utils.Logger,
) *ArbitrageOrdersPair {
	maxBase, maxQuote := GetMaxSpend(askVenue, bidVenue, window.AskOffer, window.BidOffer, part)
	if maxBase.Amount <= 0 || maxQuote.Amount <= 0 {
		logger.Debugf(
			"not enough funds to proceed window: %s balances: %v, %s balances: %v",
			askVenue.Name(), askVenue.Balances(), bidVenue.Name(), bidVenue.Balances(),
		)
		return nil
	}

	buy := models.NewOrder(window.AskOffer, orderType, strategy)
	sell := models.NewOrder(window.BidOffer, orderType, strategy)

	if err := buy.SetBase(maxBase); err != nil {
		logger.Errorf("size buy order: %v", err)
		return nil
	}
	if err := sell.SetQuote(maxQuote); err != nil {
		logger.Errorf("size sell order: %v", err)
		return nil
	}

	return &ArbitrageOrdersPair{BuyOrder: buy, SellOrder: sell}
}

// IsValid проверяет обе ноги против кешей балансов их бирж.
// Невалидная пара - отчёт оператору со списком бирж без средств.
func (p *ArbitrageOrdersPair) IsValid(buyVenue, sellVenue *exchange.Exchange, reporter notify.Reporter, logger *utils.Logger) bool {
	buyOK, buyReason := buyVenue.Validate(p.BuyOrder)
	sellOK, sellReason := sellVenue.Validate(p.SellOrder)
	if buyOK && sellOK {
		return true
	}

	if !buyOK {
		logger.Debugf("order declined with inner validation: %s: %s", p.BuyOrder, buyReason)
	}
	if !sellOK {
		logger.Debugf("order declined with inner validation: %s: %s", p.SellOrder, sellReason)
	}

	var b strings.Builder
	b.WriteString("Orders place error\n")
	if !buyOK {
		fmt.Fprintf(&b, "Not enough funds on %s\n", buyVenue.Name())
	}
	if !sellOK {
		fmt.Fprintf(&b, "Not enough funds on %s\n", sellVenue.Name())
	}
	fmt.Fprintf(&b, "Pair - %s\n%s\n%s\n", p.BuyOrder.Pair(), p.BuyOrder.ReportString(), p.SellOrder.ReportString())
	b.WriteString("Please add funds")
	reporter.Error(b.String())

	return false
}
