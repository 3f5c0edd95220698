package exchange

import (
	"errors"
	"fmt"
)

// Сентинелы для errors.Is
var (
	// ErrNoSuchExchange - биржа не сконфигурирована
	ErrNoSuchExchange = errors.New("no such exchange")
	// ErrWebsocketAuth - биржа отклонила авторизацию websocket-канала
	ErrWebsocketAuth = errors.New("websocket auth failed")
)

// NoSuchExchangeError - обращение к бирже, которой нет в конфигурации.
// Вызывающий код пропускает связанную работу, это не фатально.
type NoSuchExchangeError struct {
	Name string
}

func (e *NoSuchExchangeError) Error() string {
	return fmt.Sprintf("no such exchange: %q", e.Name)
}

func (e *NoSuchExchangeError) Is(target error) bool {
	return target == ErrNoSuchExchange
}

// FetchPairError - не удалось получить свежий тикер пары.
// Вызывающий решает сам: стратегия откладывает пару до следующего тика,
// реверс market-ордера строится по устаревшей цене.
type FetchPairError struct {
	Pair     string
	Response string
}

func (e *FetchPairError) Error() string {
	return fmt.Sprintf("fetch pair %s failed: %s", e.Pair, e.Response)
}

// WebsocketAuthError - фатальная для транспорта ошибка авторизации.
// Следующий schedule попробует переподключиться.
type WebsocketAuthError struct {
	BaseURL string
}

func (e *WebsocketAuthError) Error() string {
	return fmt.Sprintf("websocket auth failed: %s", e.BaseURL)
}

func (e *WebsocketAuthError) Is(target error) bool {
	return target == ErrWebsocketAuth
}
