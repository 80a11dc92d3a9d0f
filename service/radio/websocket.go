package radio

import (
	"context"
	"io/ioutil"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/validator"
	"github.com/kirsrus/meteohub/service"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	ReconnectTimeout = 5 * time.Second
	WriteTimeout     = 2 * time.Second
	// Очередь исходящих кадров
	MaximumSendChan = 20
	// Длинна MAC-адреса в начале каждого сообщения шлюза
	macLen = 6
)

// ErrNotConnected нет подключения к шлюзу
var ErrNotConnected = errors.New("нет подключения к шлюзу радиоканала")

// Тип текущего состояния подключения к шлюзу
type connectType int

const (
	connectUnknown = iota
	connectSuccess
	connectFailed
)

// Websocket подключение к шлюзу радиоканала по WebSocket. Инициируется через NewWebsocket.
// Постоянно держит соединение, пока не завершён контекст. Каждое двоичное сообщение шлюза
// имеет вид MAC(6) || кадр, в обе стороны
type Websocket struct {
	ctx              context.Context
	log              *logrus.Entry
	url              string
	reconnectTimeout time.Duration
	writeTimeout     time.Duration

	mu      sync.RWMutex
	handler service.RadioHandler

	send          chan []byte
	connected     atomic.Bool
	connectedFlag connectType
}

// ConfigWebsocket конфигурация Websocket
type ConfigWebsocket struct {
	Log *logrus.Logger
	// Адрес шлюза, например ws://127.0.0.1:8000/radio
	URL              string
	ReconnectTimeout time.Duration
	WriteTimeout     time.Duration
}

// Gateway адрес шлюза радиоканала
type Gateway struct {
	URL string `conform:"trim" validate:"required,wsurl"`
}

// NewWebsocket конструктор структуры Websocket
func NewWebsocket(ctx context.Context, config *ConfigWebsocket) (*Websocket, error) {
	if config == nil {
		return nil, errors.New("не задана конфигурация config")
	}
	gateway := Gateway{URL: config.URL}
	if err := validator.Get().ValidateWithConform(&gateway); err != nil {
		return nil, errors.Annotate(err, "некорректный адрес шлюза")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}

	res := &Websocket{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module":  "radio",
			"scope":   "service",
			"address": gateway.URL,
		}),
		url:              gateway.URL,
		reconnectTimeout: ReconnectTimeout,
		writeTimeout:     WriteTimeout,
		send:             make(chan []byte, MaximumSendChan),
		connectedFlag:    connectUnknown,
	}
	if config.ReconnectTimeout != 0 {
		res.reconnectTimeout = config.ReconnectTimeout
	}
	if config.WriteTimeout != 0 {
		res.writeTimeout = config.WriteTimeout
	}

	// Запускаем бесконечный цикл переподключения к шлюзу
	go res.loop()

	return res, nil
}

// Bind регистрирует обработчик принятых кадров
func (m *Websocket) Bind(handler service.RadioHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Connected есть подключение к шлюзу
func (m *Websocket) Connected() bool {
	return m.connected.Load()
}

// Send ставит кадр для узла mac в очередь отправки. Доставка не подтверждается
func (m *Websocket) Send(mac net.HardwareAddr, payload []byte) error {
	if len(mac) != macLen {
		return errors.Errorf("некорректный MAC-адрес %s", mac)
	}
	if len(payload) == 0 || len(payload) > model.MaxRadioPayload {
		return errors.Errorf("некорректная длинна кадра %d", len(payload))
	}
	if !m.connected.Load() {
		return errors.Trace(ErrNotConnected)
	}

	msg := make([]byte, 0, macLen+len(payload))
	msg = append(msg, mac...)
	msg = append(msg, payload...)
	select {
	case m.send <- msg:
		return nil
	default:
		return errors.New("очередь send переполнена")
	}
}

// Бесконечный цикл обращения к шлюзу. При завершении работы через context.Cancel просто
// завершаем его обработку
func (m *Websocket) loop() {
	m.log.Info("старт работы модуля")

	for {
		select {
		case <-m.ctx.Done():
			m.log.Info("завершение работы модуля")
			return
		default:
		}

		err := m.connect()

		if err != nil && errors.Cause(err) != context.Canceled {
			select {
			case <-m.ctx.Done():
			case <-time.After(m.reconnectTimeout):
			}
		}
	}
}

// Подключение по WebSocket к шлюзу
func (m *Websocket) connect() error {
	done := make(chan error, 1)

	conn, _, err := websocket.DefaultDialer.DialContext(m.ctx, m.url, nil)
	if err != nil {
		if m.connectedFlag == connectUnknown || m.connectedFlag == connectSuccess {
			m.log.Warnf("ошибка подключения: %v", err)
		}
		m.connectedFlag = connectFailed
		return errors.Trace(err)
	}
	defer func() {
		m.connected.Store(false)
		_ = conn.Close()
	}()
	if m.connectedFlag == connectUnknown || m.connectedFlag == connectFailed {
		m.log.Infof("подключение установлено")
		m.connectedFlag = connectSuccess
	}
	m.connected.Store(true)

	// Бесконечно читаем из канала WebSocket
	go func() {
		for {
			tpe, message, err := conn.ReadMessage()
			if err != nil {
				if !strings.Contains(err.Error(), "use of closed network connection") {
					m.log.Warnf("ошибка чтения из WebSocket: %v", err)
					done <- errors.Trace(err)
				} else {
					done <- nil
				}
				return
			}
			if tpe != websocket.BinaryMessage {
				m.log.Warnf("пропущено нетиповое послание типа %d, размера %d", tpe, len(message))
				continue
			}
			if len(message) <= macLen {
				m.log.Warnf("пропущено послание без кадра, размер %d", len(message))
				continue
			}
			m.mu.RLock()
			handler := m.handler
			m.mu.RUnlock()
			if handler != nil {
				handler(net.HardwareAddr(message[:macLen]), message[macLen:])
			}
		}
	}()

	// Отправка исходящих кадров
	for {
		select {
		case <-m.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(m.writeTimeout))
			return m.ctx.Err()
		case err := <-done:
			return err
		case msg := <-m.send:
			_ = conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				m.log.Warnf("ошибка отправки кадра %s: %v", net.HardwareAddr(msg[:macLen]), err)
				return errors.Trace(err)
			}
		}
	}
}
