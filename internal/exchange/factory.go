package exchange

import (
	"cryptotrader/pkg/utils"
)

// factory.go - фабрика сессий
//
// Множество адаптеров закрытое: новая биржа добавляется новым кейсом,
// ядро никогда не ветвится по имени биржи за пределами этой фабрики.

// NewSession создаёт адаптер биржи по имени
func NewSession(name string, transport TransportConfig, pairTemplate string, logger *utils.Logger) (Session, error) {
	switch name {
	case "bitfinex":
		return NewBitfinexSession(transport, pairTemplate, logger), nil
	case "hitbtc":
		return NewHitbtcSession(transport, pairTemplate, logger), nil
	default:
		return nil, &NoSuchExchangeError{Name: name}
	}
}
