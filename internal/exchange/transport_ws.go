package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cryptotrader/pkg/utils"
)

// transport_ws.go - websocket-транспорт адаптеров бирж
//
// Одно долгоживущее соединение на транспорт. Фоновых циклов
// переподключения нет: если за ForeverTaskTimeout не пришло ни одного
// сообщения, цикл чтения один раз пингует соединение, а при повторной
// тишине закрывает его. Следующий Schedule биржи откроет новое
// соединение и восстановит подписки.

// WSState - состояние websocket-соединения
type WSState int32

const (
	WSStateDisconnected WSState = iota
	WSStateConnecting
	WSStateConnected
	WSStateClosed
)

func (s WSState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSTransport - websocket-транспорт биржи.
//
// Жизненный цикл:
//  1. Schedule: если соединения нет - dial, авторизация, подписки,
//     запуск цикла чтения
//  2. цикл чтения раздаёт сообщения в onMessage до обрыва или тишины
//  3. Stop закрывает соединение навсегда
type WSTransport struct {
	BaseURL string

	connectTimeout time.Duration
	logger         *utils.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	state int32 // atomic WSState

	// onMessage вызывается из цикла чтения для каждого сообщения
	onMessage func([]byte)

	// authFunc авторизует свежее соединение приватных каналов.
	// Ошибка авторизации оборачивается в WebsocketAuthError.
	authFunc func(conn *websocket.Conn) error

	// Подписки воспроизводятся на каждом новом соединении
	subscriptions   []interface{}
	subscriptionsMu sync.Mutex

	closed chan struct{}
	once   sync.Once
}

// NewWSTransport создаёт транспорт. Соединение открывает Schedule.
func NewWSTransport(baseURL string, logger *utils.Logger) *WSTransport {
	return &WSTransport{
		BaseURL:        baseURL,
		connectTimeout: 10 * time.Second,
		logger:         logger,
		closed:         make(chan struct{}),
	}
}

// SetOnMessage устанавливает обработчик входящих сообщений.
// Вызывать до первого Schedule.
func (t *WSTransport) SetOnMessage(handler func([]byte)) {
	t.onMessage = handler
}

// SetAuthFunc устанавливает авторизацию приватных каналов.
// Вызывать до первого Schedule.
func (t *WSTransport) SetAuthFunc(authFunc func(conn *websocket.Conn) error) {
	t.authFunc = authFunc
}

// AddSubscription запоминает подписку и, если соединение живо,
// отправляет её сразу
func (t *WSTransport) AddSubscription(sub interface{}) error {
	t.subscriptionsMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subscriptionsMu.Unlock()

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(sub)
}

// State возвращает текущее состояние соединения
func (t *WSTransport) State() WSState {
	return WSState(atomic.LoadInt32(&t.state))
}

// IsConnected сообщает, живо ли соединение
func (t *WSTransport) IsConnected() bool {
	return t.State() == WSStateConnected
}

// Schedule - идемпотентный прогрев: при живом соединении ничего не
// делает, при мёртвом - открывает новое, авторизует и восстанавливает
// подписки. Ошибка авторизации возвращается как WebsocketAuthError.
func (t *WSTransport) Schedule(ctx context.Context) error {
	select {
	case <-t.closed:
		return nil
	default:
	}

	if t.IsConnected() {
		return nil
	}

	atomic.StoreInt32(&t.state, int32(WSStateConnecting))

	dialer := websocket.Dialer{HandshakeTimeout: t.connectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, t.BaseURL, nil)
	if err != nil {
		atomic.StoreInt32(&t.state, int32(WSStateDisconnected))
		return err
	}

	if t.authFunc != nil {
		if err := t.authFunc(conn); err != nil {
			conn.Close()
			atomic.StoreInt32(&t.state, int32(WSStateDisconnected))
			t.logger.Errorf("websocket auth failed: url=%s, error=%v", t.BaseURL, err)
			return &WebsocketAuthError{BaseURL: t.BaseURL}
		}
	}

	if err := t.resubscribe(conn); err != nil {
		conn.Close()
		atomic.StoreInt32(&t.state, int32(WSStateDisconnected))
		return err
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	atomic.StoreInt32(&t.state, int32(WSStateConnected))

	t.logger.Infof("websocket connected: %s", t.BaseURL)
	go t.readLoop(conn)

	return nil
}

// resubscribe воспроизводит накопленные подписки на новом соединении
func (t *WSTransport) resubscribe(conn *websocket.Conn) error {
	t.subscriptionsMu.Lock()
	subs := make([]interface{}, len(t.subscriptions))
	copy(subs, t.subscriptions)
	t.subscriptionsMu.Unlock()

	for _, sub := range subs {
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
	}
	if len(subs) > 0 {
		t.logger.Debugf("websocket resubscribed to %d channels", len(subs))
	}
	return nil
}

// readLoop читает сообщения до обрыва соединения или тишины.
//
// Тишина: дедлайн чтения ForeverTaskTimeout. Первый истёкший дедлайн
// прощается пингом - биржи с редкими тикерами живы, но молчаливы.
// Повторная тишина закрывает соединение.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.dropConn(conn)

	pinged := false
	for {
		select {
		case <-t.closed:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(ForeverTaskTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) && !pinged {
				deadline := time.Now().Add(ForeverTaskTimeout)
				if pingErr := conn.WriteControl(websocket.PingMessage, nil, deadline); pingErr == nil {
					pinged = true
					continue
				}
			}
			t.logger.Warnf("websocket read stopped: url=%s, error=%v", t.BaseURL, err)
			return
		}

		pinged = false
		if t.onMessage != nil {
			t.onMessage(message)
		}
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}

// dropConn закрывает соединение, если оно всё ещё текущее
func (t *WSTransport) dropConn(conn *websocket.Conn) {
	conn.Close()

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == conn {
		t.conn = nil
		if t.State() != WSStateClosed {
			atomic.StoreInt32(&t.state, int32(WSStateDisconnected))
		}
	}
}

// Send отправляет сообщение в текущее соединение
func (t *WSTransport) Send(msg interface{}) error {
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()

	if conn == nil {
		return &FetchPairError{Response: "websocket is not connected"}
	}
	return conn.WriteJSON(msg)
}

// Stop закрывает транспорт навсегда
func (t *WSTransport) Stop() {
	t.once.Do(func() {
		close(t.closed)
	})
	atomic.StoreInt32(&t.state, int32(WSStateClosed))

	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
