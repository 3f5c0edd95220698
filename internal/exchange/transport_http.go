package exchange

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cryptotrader/pkg/ratelimit"
	"cryptotrader/pkg/retry"
	"cryptotrader/pkg/utils"
)

// transport_http.go - HTTP-транспорт адаптеров бирж
//
// Каждый REST-вызов проходит через rate limiter скользящего окна:
// не больше limit запросов за period, лишние вызовы ждут.
// Идемпотентные GET-запросы ретраятся при сетевых сбоях,
// POST/DELETE (размещение и отмена ордеров) - никогда.

// RateLimit - лимит запросов транспорта: limit вызовов за period
type RateLimit struct {
	Limit  int
	Period time.Duration
}

// DefaultRateLimit - консервативный лимит, если биржа не настроена
func DefaultRateLimit() RateLimit {
	return RateLimit{Limit: 30, Period: time.Minute}
}

// HTTPClientConfig - таймауты и пул соединений HTTP-клиента
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration
	TotalTimeout        time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultHTTPClientConfig возвращает настройки по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		TotalTimeout:        30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// Общий клиент для всех транспортов: один пул keep-alive соединений
var (
	sharedClient     *http.Client
	sharedClientOnce sync.Once
)

func getSharedClient() *http.Client {
	sharedClientOnce.Do(func() {
		sharedClient = newHTTPClient(DefaultHTTPClientConfig())
	})
	return sharedClient
}

func newHTTPClient(cfg HTTPClientConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout,
	}
}

// HTTPTransport - базовый REST-транспорт биржи: ключи, базовый URL,
// rate limiter и retry для идемпотентных запросов.
// Конкретные адаптеры добавляют поверх него подпись запросов.
type HTTPTransport struct {
	Key     string
	Secret  string
	BaseURL string

	client  *http.Client
	limiter *ratelimit.Limiter
	retry   retry.Config
	logger  *utils.Logger
}

// NewHTTPTransport создаёт транспорт с общим пулом соединений
func NewHTTPTransport(key, secret, baseURL string, limit RateLimit, logger *utils.Logger) *HTTPTransport {
	if limit.Limit <= 0 {
		limit = DefaultRateLimit()
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warnf("retry http call: attempt=%d, delay=%s, error=%v", attempt, delay, err)
	}
	return &HTTPTransport{
		Key:     key,
		Secret:  secret,
		BaseURL: baseURL,
		client:  getSharedClient(),
		limiter: ratelimit.New(limit.Limit, limit.Period),
		retry:   retryCfg,
		logger:  logger,
	}
}

// URL собирает полный адрес эндпоинта
func (t *HTTPTransport) URL(endpoint string) string {
	return t.BaseURL + endpoint
}

// Request - один REST-вызов
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values        // параметры строки запроса
	Body     string            // тело для POST
	Headers  map[string]string // заголовки, включая подписи
	BasicKey string            // непустой BasicKey включает BasicAuth
	BasicSec string
}

// Call выполняет запрос под rate limiter'ом.
//
// Возвращает:
//   - ok: статус ответа в диапазоне 2xx-3xx
//   - body: тело ответа (сырой ответ биржи, уходит в Response результатов)
//   - err: инфраструктурная ошибка - сеть, отменённый контекст
func (t *HTTPTransport) Call(ctx context.Context, req Request) (bool, string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return false, "", err
	}

	// повтор только идемпотентных запросов: повтор POST может
	// продублировать ордер на бирже
	if req.Method != http.MethodGet {
		return t.doOnce(ctx, req)
	}

	var ok bool
	var body string
	err := retry.Do(ctx, func() error {
		var doErr error
		ok, body, doErr = t.doOnce(ctx, req)
		return doErr
	}, t.retry)
	return ok, body, err
}

func (t *HTTPTransport) doOnce(ctx context.Context, req Request) (bool, string, error) {
	u := t.URL(req.Endpoint)
	if len(req.Query) > 0 {
		u = u + "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, strings.NewReader(req.Body))
	if err != nil {
		return false, "", err
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.BasicKey != "" {
		httpReq.SetBasicAuth(req.BasicKey, req.BasicSec)
	}

	t.logger.Debugf("http %s %s", req.Method, u)
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, "", err
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 400
	if !ok {
		t.logger.Warnf("api error: url=%s, status=%d, response=%s", u, resp.StatusCode, string(body))
	}
	return ok, string(body), nil
}

// Schedule - прогрев HTTP-транспорта. Пул соединений живёт сам,
// поэтому достаточно проверки конфигурации.
func (t *HTTPTransport) Schedule(ctx context.Context) error {
	if t.BaseURL == "" {
		return &FetchPairError{Pair: "", Response: "http transport base url is empty"}
	}
	return nil
}

// Stop закрывает неиспользуемые соединения пула
func (t *HTTPTransport) Stop() {
	if transport, ok := t.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
