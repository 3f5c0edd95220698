package models

import (
	"fmt"

	"cryptotrader/pkg/utils"
)

// Денежные границы
const (
	// MaxSum - "бесконечная" сумма в любой валюте, для удобного сравнения
	MaxSum = 1e32
	// MinSum - минимальная значимая сумма в любой валюте
	MinSum = 1e-4
)

// MoneyPrecision - число знаков после запятой при сравнении сумм
const MoneyPrecision = 2

// Money - сумма в валюте.
//
// Суммы равны, когда совпадает валюта и значения равны
// с точностью MoneyPrecision знаков.
type Money struct {
	Amount   float64
	Currency string
}

// NewMoney создаёт сумму в валюте
func NewMoney(amount float64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Equal сравнивает суммы с точностью MoneyPrecision
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency &&
		utils.Round(m.Amount, MoneyPrecision) == utils.Round(other.Amount, MoneyPrecision)
}

func (m Money) String() string {
	return fmt.Sprintf("%.4f %s", m.Amount, m.Currency)
}
