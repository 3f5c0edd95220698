package models

import "strings"

// PairName - разобранное имя валютной пары.
//
// Quote - торгуемая валюта (ETC), Base - валюта цены (USD).
// Общий формат бота: quote+base заглавными, например "ETCUSD".
type PairName struct {
	Quote string // торгуемая валюта, первые три символа пары
	Base  string // валюта цены, остаток пары
}

// NewPairName разбирает пару в общем формате: первые три символа - quote,
// остальное - base. Регистр входа не важен.
func NewPairName(pair string) PairName {
	if len(pair) <= 3 {
		return PairName{Quote: strings.ToUpper(pair)}
	}
	return PairName{
		Quote: strings.ToUpper(pair[:3]),
		Base:  strings.ToUpper(pair[3:]),
	}
}

// Common возвращает пару в общем формате бота: "ETCUSD"
func (p PairName) Common() string {
	return p.Quote + p.Base
}

// String - синоним Common
func (p PairName) String() string {
	return p.Common()
}

// Format рендерит пару по шаблону биржи.
// Шаблон содержит плейсхолдеры {quote} и {base}: "{quote}{base}" -> "ETCUSD".
func (p PairName) Format(template string) string {
	r := strings.NewReplacer("{quote}", p.Quote, "{base}", p.Base)
	return r.Replace(template)
}
