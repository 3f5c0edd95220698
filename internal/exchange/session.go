package exchange

import (
	"context"
	"time"

	"cryptotrader/internal/models"
)

// session.go - контракт адаптера биржи
//
// Session - самый узкий интерфейс, который обязан реализовать адаптер:
// пять операций плюс Schedule для прогрева транспортов. Всё остальное
// (кеш балансов, подписки, валидация) живёт выше, в Exchange.
//
// Результаты операций - НЕ ошибки: биржа может отказать по своим
// внутренним причинам (нехватка средств, rate limit, частичное
// исполнение), это нормальный исход с success=false и сырым ответом
// для диагностики. Go-ошибки зарезервированы за инфраструктурой.

// ForeverTaskTimeout - максимальная пауза между сообщениями
// долгоживущего websocket-соединения. При её превышении соединение
// закрывается, следующий Schedule откроет новое.
const ForeverTaskTimeout = 8 * time.Second

// PairData - верх стакана пары на бирже
type PairData struct {
	Ask     float64
	Bid     float64
	AskSize float64
	BidSize float64
	Time    time.Time
}

// IsZero сообщает, что данных по паре ещё нет
func (p PairData) IsZero() bool {
	return p.Ask == 0 && p.Bid == 0 && p.Time.IsZero()
}

// FetchedBalances - результат запроса балансов
type FetchedBalances struct {
	Success  bool
	Balances map[string]float64 // валюта (заглавными) -> доступная сумма
	Response string             // сырой ответ биржи для диагностики
}

// FetchedPair - результат запроса верха стакана.
// Success=false в том числе когда любая из сторон тоньше minSize.
type FetchedPair struct {
	Success  bool
	Pair     PairData
	Response string
}

// PlacedOrder - результат размещения ордера.
// Status - взгляд биржи сразу после размещения, приведённый
// адаптером к закрытому множеству статусов ордера.
type PlacedOrder struct {
	Success  bool
	OrderID  string
	Status   string
	Response string
}

// CancelResult - результат отмены ордера
type CancelResult struct {
	Success  bool
	Response string
}

// FetchedStatus - результат запроса статуса ордера
type FetchedStatus struct {
	Success  bool
	Status   string
	Response string
}

// Session - контракт адаптера биржи.
//
// Все операции могут блокироваться на сетевом вводе-выводе и обязаны
// быть безопасны для конкурентного вызова вместе со Schedule.
// Сырые коды биржи наружу не выходят: адаптер переводит их в статусы
// из models (created/placed/fulfilled/cancelled/rejected).
type Session interface {
	// Name - имя биржи
	Name() string

	// Schedule - идемпотентный прогрев: держит транспорты живыми,
	// переподключает websocket после обрыва
	Schedule(ctx context.Context) error

	// FetchBalances запрашивает доступные балансы
	FetchBalances(ctx context.Context) FetchedBalances

	// FetchPair запрашивает верх стакана пары.
	// Стороны тоньше minSize считаются отсутствующими.
	FetchPair(ctx context.Context, pair models.PairName, minSize float64) FetchedPair

	// Place размещает ордер на бирже
	Place(ctx context.Context, order *models.Order) PlacedOrder

	// Cancel отменяет размещённый ордер
	Cancel(ctx context.Context, order *models.Order) CancelResult

	// FetchStatus запрашивает текущий статус ордера
	FetchStatus(ctx context.Context, order *models.Order) FetchedStatus

	// Stop закрывает транспорты
	Stop()
}
