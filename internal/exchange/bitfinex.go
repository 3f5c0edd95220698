package exchange

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"cryptotrader/internal/models"
	"cryptotrader/pkg/crypto"
	"cryptotrader/pkg/utils"
)

// bitfinex.go - адаптер bitfinex
//
// Приватный REST v1 (размещение, отмена, статус, балансы): тело
// запроса кодируется в base64-JSON и подписывается HMAC-SHA384,
// https://docs.bitfinex.com/v1/docs/rest-auth
//
// Тикеры идут через websocket v2: подписка на канал ticker по паре,
// обновления складываются в кеш, fetch_pair читает кеш.

var bfxJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// bitfinexOrderType переводит наш тип ордера в биржевой.
// Префикс exchange означает спотовый кошелёк, не маржинальный.
func bitfinexOrderType(orderType string) string {
	if orderType == models.OrderTypeMarket {
		return "exchange market"
	}
	return "exchange limit"
}

// bitfinexOrderStatus выводит статус из ответа ордера.
// Порядок проверок важен: отменённый ордер тоже не is_live.
func bitfinexOrderStatus(resp bitfinexOrderResponse) string {
	if resp.IsCancelled {
		return models.OrderStatusCancelled
	}
	if remaining, err := strconv.ParseFloat(resp.RemainingAmount, 64); err == nil && remaining == 0 {
		return models.OrderStatusFulfilled
	}
	if resp.IsLive {
		return models.OrderStatusPlaced
	}
	if resp.Timestamp != "" {
		return models.OrderStatusCreated
	}
	return ""
}

type bitfinexOrderResponse struct {
	ID              int64  `json:"id"`
	IsCancelled     bool   `json:"is_cancelled"`
	IsLive          bool   `json:"is_live"`
	RemainingAmount string `json:"remaining_amount"`
	Timestamp       string `json:"timestamp"`
}

// bitfinexTicker - поля канала ticker v2 в порядке протокола
type bitfinexTicker struct {
	Bid     float64
	BidSize float64
	Ask     float64
	AskSize float64
}

// BitfinexSession - сессия bitfinex: REST для ордеров и балансов,
// websocket для тикеров
type BitfinexSession struct {
	http         *HTTPTransport
	ws           *WSTransport
	pairTemplate string
	logger       *utils.Logger

	tickersMu sync.Mutex
	channels  map[int64]string // идентификатор канала -> пара биржи
	tickers   map[string]bitfinexTicker
	pending   map[string]struct{} // отправленные, но не подтверждённые подписки
}

// NewBitfinexSession создаёт сессию bitfinex.
// Websocket открывается на первом Schedule.
func NewBitfinexSession(cfg TransportConfig, pairTemplate string, logger *utils.Logger) *BitfinexSession {
	logger = logger.Named("bitfinex")

	s := &BitfinexSession{
		http:         NewHTTPTransport(cfg.Key, cfg.Secret, cfg.HTTPBaseURL, cfg.RateLimit, logger),
		ws:           NewWSTransport(cfg.WebsocketBaseURL, logger),
		pairTemplate: pairTemplate,
		logger:       logger,
		channels:     make(map[int64]string),
		tickers:      make(map[string]bitfinexTicker),
		pending:      make(map[string]struct{}),
	}
	s.ws.SetAuthFunc(s.wsAuth)
	s.ws.SetOnMessage(s.consume)
	return s
}

// Name - имя биржи
func (s *BitfinexSession) Name() string {
	return "bitfinex"
}

// Schedule держит оба транспорта живыми. Новое websocket-соединение
// начинает с чистого кеша: каналы старого соединения мертвы.
func (s *BitfinexSession) Schedule(ctx context.Context) error {
	if err := s.http.Schedule(ctx); err != nil {
		return err
	}

	if !s.ws.IsConnected() {
		s.tickersMu.Lock()
		s.channels = make(map[int64]string)
		s.tickers = make(map[string]bitfinexTicker)
		s.pending = make(map[string]struct{})
		s.tickersMu.Unlock()
	}
	return s.ws.Schedule(ctx)
}

// ============================================================
// Websocket: авторизация и разбор сообщений
// ============================================================

// wsAuth выполняет рукопожатие v2 на свежем соединении:
// инфо-сообщение с версией, затем событие auth с подписью
// HMAC-SHA384 строки "AUTH"+nonce.
func (s *BitfinexSession) wsAuth(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(ForeverTaskTimeout))
	var info struct {
		Version int `json:"version"`
	}
	if err := conn.ReadJSON(&info); err != nil {
		return err
	}
	if info.Version != 2 {
		return fmt.Errorf("unsupported bitfinex websocket version %d", info.Version)
	}

	nonce := strconv.FormatInt(time.Now().UnixMicro(), 10)
	authPayload := "AUTH" + nonce
	if err := conn.WriteJSON(map[string]string{
		"event":       "auth",
		"apiKey":      s.http.Key,
		"authSig":     crypto.SignSHA384(s.http.Secret, authPayload),
		"authPayload": authPayload,
		"authNonce":   nonce,
	}); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(ForeverTaskTimeout))
	var result struct {
		Status string `json:"status"`
		Code   int    `json:"code"`
		Msg    string `json:"msg"`
	}
	if err := conn.ReadJSON(&result); err != nil {
		return err
	}
	if result.Status == "FAILED" {
		return fmt.Errorf("bitfinex auth rejected: code=%d, msg=%s", result.Code, result.Msg)
	}
	return nil
}

// consume разбирает входящее websocket-сообщение.
//
// Объект - событие (subscribed, error, info), массив - сообщение
// канала: [chanId, ticker] с десятью полями тикера либо [chanId, "hb"]
// (heartbeat, пропускается).
func (s *BitfinexSession) consume(message []byte) {
	if len(message) == 0 {
		return
	}

	if message[0] == '{' {
		var event struct {
			Event  string `json:"event"`
			ChanID int64  `json:"chanId"`
			Pair   string `json:"pair"`
			Code   int    `json:"code"`
			Msg    string `json:"msg"`
		}
		if err := bfxJSON.Unmarshal(message, &event); err != nil {
			s.logger.Debugf("skip unparsed event: %s", message)
			return
		}

		switch event.Event {
		case "subscribed":
			s.tickersMu.Lock()
			s.channels[event.ChanID] = event.Pair
			delete(s.pending, event.Pair)
			s.tickersMu.Unlock()
			s.logger.Debugf("subscribed on channel %d pair %s", event.ChanID, event.Pair)
		case "error":
			// 20051 - биржа сама закрывает соединение, переподключимся
			s.logger.Warnf("bitfinex websocket error: code=%d, msg=%s", event.Code, event.Msg)
		default:
			s.logger.Debugf("skip event %s", event.Event)
		}
		return
	}

	var frame []jsoniter.RawMessage
	if err := bfxJSON.Unmarshal(message, &frame); err != nil || len(frame) != 2 {
		return
	}

	var chanID int64
	if err := bfxJSON.Unmarshal(frame[0], &chanID); err != nil {
		return
	}

	var fields []float64
	if err := bfxJSON.Unmarshal(frame[1], &fields); err != nil || len(fields) != 10 {
		// heartbeat и служебные кадры
		return
	}

	s.tickersMu.Lock()
	pair, ok := s.channels[chanID]
	if ok {
		s.tickers[pair] = bitfinexTicker{
			Bid:     fields[0],
			BidSize: fields[1],
			Ask:     fields[2],
			AskSize: fields[3],
		}
	}
	s.tickersMu.Unlock()
}

// FetchPair возвращает тикер пары из websocket-кеша.
// Первый вызов отправляет подписку и ждёт первого обновления.
func (s *BitfinexSession) FetchPair(ctx context.Context, pair models.PairName, minSize float64) FetchedPair {
	venuePair := pair.Format(s.pairTemplate)

	s.tickersMu.Lock()
	_, known := s.tickers[venuePair]
	_, subscribing := s.pending[venuePair]
	if !known && !subscribing {
		s.pending[venuePair] = struct{}{}
	}
	s.tickersMu.Unlock()

	if !known && !subscribing {
		if err := s.ws.AddSubscription(map[string]string{
			"event":   "subscribe",
			"channel": "ticker",
			"pair":    venuePair,
		}); err != nil {
			s.tickersMu.Lock()
			delete(s.pending, venuePair)
			s.tickersMu.Unlock()
			return FetchedPair{Response: err.Error()}
		}
	}

	ticker, ok := s.waitTicker(ctx, venuePair)
	if !ok {
		return FetchedPair{Response: fmt.Sprintf("no ticker for %s", venuePair)}
	}
	if ticker.AskSize < minSize || ticker.BidSize < minSize {
		return FetchedPair{Response: fmt.Sprintf("ticker sizes below %v: %+v", minSize, ticker)}
	}

	return FetchedPair{
		Success: true,
		Pair: PairData{
			Ask:     ticker.Ask,
			AskSize: ticker.AskSize,
			Bid:     ticker.Bid,
			BidSize: ticker.BidSize,
		},
		Response: fmt.Sprintf("%+v", ticker),
	}
}

// waitTicker ждёт появления тикера пары в кеше
func (s *BitfinexSession) waitTicker(ctx context.Context, venuePair string) (bitfinexTicker, bool) {
	for {
		s.tickersMu.Lock()
		ticker, ok := s.tickers[venuePair]
		s.tickersMu.Unlock()
		if ok {
			return ticker, true
		}

		timer := time.NewTimer(200 * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return bitfinexTicker{}, false
		}
	}
}

// ============================================================
// REST: подписанные запросы
// ============================================================

// signedCall выполняет приватный POST v1: параметры вместе с
// endpoint и nonce кодируются в base64-JSON, подпись - HMAC-SHA384
// этой строки
func (s *BitfinexSession) signedCall(ctx context.Context, endpoint string, params map[string]interface{}) (bool, string) {
	payload := map[string]interface{}{
		"request": "/v1" + endpoint,
		// множитель 1e7: с меньшим nonce биржа отвечает
		// "Nonce is too small"
		"nonce":    fmt.Sprintf("%d", time.Now().UnixNano()/100),
		"exchange": "bitfinex",
	}
	for key, value := range params {
		switch v := value.(type) {
		case int, int64:
			payload[key] = v
		default:
			payload[key] = fmt.Sprintf("%v", v)
		}
	}

	raw, err := bfxJSON.Marshal(payload)
	if err != nil {
		return false, err.Error()
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	ok, body, err := s.http.Call(ctx, Request{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Headers: map[string]string{
			"X-BFX-APIKEY":    s.http.Key,
			"X-BFX-PAYLOAD":   encoded,
			"X-BFX-SIGNATURE": crypto.SignSHA384(s.http.Secret, encoded),
		},
	})
	if err != nil {
		s.logger.Warnf("bitfinex %s: %v", endpoint, err)
		return false, err.Error()
	}
	return ok, body
}

// FetchBalances запрашивает балансы спотового кошелька.
// https://docs.bitfinex.com/v1/reference#rest-auth-wallet-balances
func (s *BitfinexSession) FetchBalances(ctx context.Context) FetchedBalances {
	ok, body := s.signedCall(ctx, "/balances", nil)
	if !ok {
		return FetchedBalances{Response: body}
	}

	var raw []struct {
		Type      string `json:"type"`
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err := bfxJSON.UnmarshalFromString(body, &raw); err != nil {
		return FetchedBalances{Response: body}
	}

	balances := make(map[string]float64)
	for _, balance := range raw {
		if balance.Type != "exchange" {
			continue
		}
		available, err := strconv.ParseFloat(balance.Available, 64)
		if err != nil {
			continue
		}
		balances[strings.ToUpper(balance.Currency)] = available
	}
	return FetchedBalances{Success: true, Balances: balances, Response: body}
}

// Place размещает ордер через /order/new.
// Успех требует идентификатора в ответе: 2xx без id - отказ.
func (s *BitfinexSession) Place(ctx context.Context, order *models.Order) PlacedOrder {
	ok, body := s.signedCall(ctx, "/order/new", map[string]interface{}{
		"symbol": order.Pair().Format(s.pairTemplate),
		"side":   order.Side(),
		"type":   bitfinexOrderType(order.Type),
		"price":  strconv.FormatFloat(order.Price(), 'f', -1, 64),
		"amount": strconv.FormatFloat(order.Quote().Amount, 'f', -1, 64),
	})
	if !ok {
		return PlacedOrder{Response: body}
	}

	var resp bitfinexOrderResponse
	if err := bfxJSON.UnmarshalFromString(body, &resp); err != nil || resp.ID == 0 {
		return PlacedOrder{Response: body}
	}

	status := bitfinexOrderStatus(resp)
	if status == "" {
		status = order.Status
	}
	return PlacedOrder{
		Success:  true,
		OrderID:  strconv.FormatInt(resp.ID, 10),
		Status:   status,
		Response: body,
	}
}

// Cancel отменяет ордер. Успех только при is_cancelled в ответе:
// частично исполненный ордер биржа может отказаться снимать.
func (s *BitfinexSession) Cancel(ctx context.Context, order *models.Order) CancelResult {
	orderID, err := strconv.ParseInt(order.IDOnExchange, 10, 64)
	if err != nil {
		return CancelResult{Response: fmt.Sprintf("bad exchange order id %q", order.IDOnExchange)}
	}

	ok, body := s.signedCall(ctx, "/order/cancel", map[string]interface{}{
		"order_id": orderID,
	})
	if !ok {
		return CancelResult{Response: body}
	}

	var resp bitfinexOrderResponse
	if err := bfxJSON.UnmarshalFromString(body, &resp); err != nil {
		return CancelResult{Response: body}
	}
	return CancelResult{Success: resp.IsCancelled, Response: body}
}

// FetchStatus запрашивает статус ордера через /order/status
func (s *BitfinexSession) FetchStatus(ctx context.Context, order *models.Order) FetchedStatus {
	ok, body := s.signedCall(ctx, "/order/status", map[string]interface{}{
		"order_id": order.IDOnExchange,
	})
	if !ok {
		return FetchedStatus{Response: body}
	}

	var resp bitfinexOrderResponse
	if err := bfxJSON.UnmarshalFromString(body, &resp); err != nil {
		return FetchedStatus{Response: body}
	}

	status := bitfinexOrderStatus(resp)
	return FetchedStatus{Success: status != "", Status: status, Response: body}
}

// Stop закрывает оба транспорта
func (s *BitfinexSession) Stop() {
	s.ws.Stop()
	s.http.Stop()
}
