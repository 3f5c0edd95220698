package exchange

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"cryptotrader/internal/models"
	"cryptotrader/pkg/utils"
)

// hitbtc.go - адаптер hitbtc
//
// Документация API: https://api.hitbtc.com/api/2/explore/
// Чистый HTTP-адаптер: балансы, стакан, размещение, отмена и статус
// ходят через REST с BasicAuth (официальный метод авторизации v2).

// hitbtcTimeInForce - режим исполнения ордера:
// IOC = Immediate or Cancel, неисполненный остаток снимается сразу
const hitbtcTimeInForce = "IOC"

var hitbtcJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// hitbtcStatus переводит статус hitbtc в наш закрытый набор.
// Неизвестный статус считается placed: ордер принят и жив.
func hitbtcStatus(status string) string {
	switch status {
	case "new":
		return models.OrderStatusCreated
	case "filled":
		return models.OrderStatusFulfilled
	case "canceled":
		return models.OrderStatusCancelled
	case "expired":
		return models.OrderStatusRejected
	default:
		return models.OrderStatusPlaced
	}
}

// HitbtcSession - сессия hitbtc поверх одного HTTP-транспорта
type HitbtcSession struct {
	transport    *HTTPTransport
	pairTemplate string
	logger       *utils.Logger

	symbolsMu sync.Mutex
	symbols   map[string]struct{} // известные бирже инструменты
}

// NewHitbtcSession создаёт сессию hitbtc
func NewHitbtcSession(cfg TransportConfig, pairTemplate string, logger *utils.Logger) *HitbtcSession {
	logger = logger.Named("hitbtc")
	return &HitbtcSession{
		transport:    NewHTTPTransport(cfg.Key, cfg.Secret, cfg.HTTPBaseURL, cfg.RateLimit, logger),
		pairTemplate: pairTemplate,
		logger:       logger,
	}
}

// Name - имя биржи
func (s *HitbtcSession) Name() string {
	return "hitbtc"
}

// call выполняет запрос с BasicAuth и apikey/nonce в строке запроса.
// Ответ hitbtc с ключом error - отказ даже при статусе 2xx.
func (s *HitbtcSession) call(ctx context.Context, method, endpoint string, form url.Values) (bool, string) {
	query := url.Values{}
	query.Set("apikey", s.transport.Key)
	query.Set("nonce", strconv.FormatInt(time.Now().UnixMilli(), 10))

	req := Request{
		Method:   method,
		Endpoint: endpoint,
		Query:    query,
		BasicKey: s.transport.Key,
		BasicSec: s.transport.Secret,
	}
	if form != nil {
		req.Body = form.Encode()
		req.Headers = map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	}

	ok, body, err := s.transport.Call(ctx, req)
	if err != nil {
		s.logger.Warnf("hitbtc %s %s: %v", method, endpoint, err)
		return false, err.Error()
	}

	var probe struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if hitbtcJSON.UnmarshalFromString(body, &probe) == nil && probe.Error != nil {
		return false, body
	}
	return ok, body
}

// Schedule прогревает транспорт и один раз кеширует список
// инструментов биржи
func (s *HitbtcSession) Schedule(ctx context.Context) error {
	if err := s.transport.Schedule(ctx); err != nil {
		return err
	}

	s.symbolsMu.Lock()
	loaded := s.symbols != nil
	s.symbolsMu.Unlock()
	if loaded {
		return nil
	}

	ok, body := s.call(ctx, http.MethodGet, "/public/symbol", nil)
	if !ok {
		s.logger.Warnf("hitbtc symbols not loaded: %s", body)
		return nil
	}

	var raw []struct {
		ID string `json:"id"`
	}
	if err := hitbtcJSON.UnmarshalFromString(body, &raw); err != nil {
		s.logger.Warnf("hitbtc symbols decode: %v", err)
		return nil
	}

	symbols := make(map[string]struct{}, len(raw))
	for _, el := range raw {
		symbols[el.ID] = struct{}{}
	}
	s.symbolsMu.Lock()
	s.symbols = symbols
	s.symbolsMu.Unlock()
	s.logger.Debugf("hitbtc symbols loaded: %d", len(symbols))
	return nil
}

// FetchBalances запрашивает торговые балансы.
// https://api.hitbtc.com/#trading-balance
func (s *HitbtcSession) FetchBalances(ctx context.Context) FetchedBalances {
	ok, body := s.call(ctx, http.MethodGet, "/trading/balance", nil)
	if !ok {
		return FetchedBalances{Response: body}
	}

	var raw []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
	}
	if err := hitbtcJSON.UnmarshalFromString(body, &raw); err != nil {
		return FetchedBalances{Response: body}
	}

	balances := make(map[string]float64, len(raw))
	for _, el := range raw {
		available, err := strconv.ParseFloat(el.Available, 64)
		if err != nil {
			continue
		}
		balances[strings.ToUpper(el.Currency)] = available
	}
	return FetchedBalances{Success: true, Balances: balances, Response: body}
}

// FetchPair запрашивает стакан и берёт первый уровень каждой стороны
// с объёмом больше minSize. Без обеих сторон пара считается пустой.
func (s *HitbtcSession) FetchPair(ctx context.Context, pair models.PairName, minSize float64) FetchedPair {
	endpoint := "/public/orderbook/" + pair.Format(s.pairTemplate)
	ok, body := s.call(ctx, http.MethodGet, endpoint, nil)
	if !ok {
		return FetchedPair{Response: body}
	}

	var book struct {
		Ask []hitbtcBookLevel `json:"ask"`
		Bid []hitbtcBookLevel `json:"bid"`
	}
	if err := hitbtcJSON.UnmarshalFromString(body, &book); err != nil {
		return FetchedPair{Response: body}
	}

	ask, askOK := firstLevelAbove(book.Ask, minSize)
	bid, bidOK := firstLevelAbove(book.Bid, minSize)
	if !askOK || !bidOK {
		return FetchedPair{Response: body}
	}

	return FetchedPair{
		Success: true,
		Pair: PairData{
			Ask:     ask.price,
			AskSize: ask.size,
			Bid:     bid.price,
			BidSize: bid.size,
		},
		Response: body,
	}
}

type hitbtcBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type priceLevel struct {
	price float64
	size  float64
}

func firstLevelAbove(levels []hitbtcBookLevel, minSize float64) (priceLevel, bool) {
	for _, level := range levels {
		price, errP := strconv.ParseFloat(level.Price, 64)
		size, errS := strconv.ParseFloat(level.Size, 64)
		if errP != nil || errS != nil {
			continue
		}
		if size > minSize {
			return priceLevel{price: price, size: size}, true
		}
	}
	return priceLevel{}, false
}

// Place размещает ордер.
// Цена передаётся всегда, но для market-ордера биржа её игнорирует.
func (s *HitbtcSession) Place(ctx context.Context, order *models.Order) PlacedOrder {
	form := url.Values{}
	form.Set("symbol", order.Pair().Format(s.pairTemplate))
	form.Set("timeInForce", hitbtcTimeInForce)
	form.Set("side", order.Side())
	form.Set("price", strconv.FormatFloat(order.Price(), 'f', -1, 64))
	form.Set("type", order.Type)
	form.Set("quantity", strconv.FormatFloat(order.Quote().Amount, 'f', -1, 64))

	ok, body := s.call(ctx, http.MethodPost, "/order", form)
	if !ok {
		return PlacedOrder{Response: body}
	}

	var resp struct {
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	if err := hitbtcJSON.UnmarshalFromString(body, &resp); err != nil || resp.ClientOrderID == "" {
		return PlacedOrder{Response: body}
	}

	return PlacedOrder{
		Success:  true,
		OrderID:  resp.ClientOrderID,
		Status:   hitbtcStatus(resp.Status),
		Response: body,
	}
}

// Cancel отменяет ордер по биржевому идентификатору
func (s *HitbtcSession) Cancel(ctx context.Context, order *models.Order) CancelResult {
	ok, body := s.call(ctx, http.MethodDelete, "/order/"+order.IDOnExchange, nil)
	return CancelResult{Success: ok, Response: body}
}

// FetchStatus запрашивает статус ордера
func (s *HitbtcSession) FetchStatus(ctx context.Context, order *models.Order) FetchedStatus {
	ok, body := s.call(ctx, http.MethodGet, "/order/"+order.IDOnExchange, nil)
	if !ok {
		return FetchedStatus{Response: body}
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := hitbtcJSON.UnmarshalFromString(body, &resp); err != nil {
		return FetchedStatus{Response: body}
	}

	return FetchedStatus{
		Success:  true,
		Status:   hitbtcStatus(resp.Status),
		Response: body,
	}
}

// Stop закрывает транспорт
func (s *HitbtcSession) Stop() {
	s.transport.Stop()
}
