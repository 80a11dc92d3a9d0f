package web

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kirsrus/meteohub/controller/fanout"
	"github.com/kirsrus/meteohub/pkg/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Ёмкость очереди сообщений клиента
	clientQueue  = 100
	writeTimeout = 10 * time.Second
	readLimit    = 4096
)

// Типы сообщений WebSocket
const (
	MessageConnected     = "connection_established"
	MessageSnapshot      = "snapshot"
	MessageSensorUpdate  = "sensor_update"
	MessageSystemStatus  = "system_status"
	RequestSensorData    = "request_sensor_data"
	RequestSystemStatus  = "request_system_status"
	MessageUnknownAction = "error"
)

// Message конверт сообщения WebSocket
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Запрос клиента
type request struct {
	Type string `json:"type"`
}

// Ответ на запрос клиента по его типу. false - тип не поддерживается
type replyFunc func(requestType string) (Message, bool)

type client struct {
	id    string
	conn  *websocket.Conn
	queue *fanout.Queue[[]byte]
}

func newClientQueue(capacity int) *fanout.Queue[[]byte] {
	return fanout.NewQueue[[]byte](capacity)
}

// Подписчики WebSocket. У каждого своя ограниченная очередь, переполнение вытесняет самое
// старое сообщение
type hub struct {
	log      *logrus.Entry
	metrics  *metrics.Metrics
	capacity int
	reply    replyFunc

	mu      sync.RWMutex
	clients map[string]*client
}

func newHub(log *logrus.Entry, m *metrics.Metrics, capacity int, reply replyFunc) *hub {
	if capacity <= 0 {
		capacity = clientQueue
	}
	return &hub{
		log:      log,
		metrics:  m,
		capacity: capacity,
		reply:    reply,
		clients:  make(map[string]*client),
	}
}

// Колличество подключённых клиентов
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Рассылка сообщения всем клиентам без ожидания
func (h *hub) broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Annotate(err, "кодирование сообщения")
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.push(c, data)
	}
	return nil
}

func (h *hub) push(c *client, data []byte) {
	if c.queue.Push(data) {
		h.metrics.FanoutDropped("websocket")
		h.log.Debugf("очередь клиента %s переполнена", c.id)
	}
}

func (h *hub) send(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warnf("кодирование сообщения %s: %v", msg.Type, err)
		return
	}
	h.push(c, data)
}

// Обслуживание подключения до его разрыва или завершения ctx
func (h *hub) serve(ctx context.Context, conn *websocket.Conn) {
	c := &client{
		id:    uuid.New().String(),
		conn:  conn,
		queue: newClientQueue(h.capacity),
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Infof("подключён клиент %s (%s)", c.id, conn.RemoteAddr())

	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		_ = conn.Close()
		h.log.Infof("отключён клиент %s", c.id)
	}()

	h.send(c, Message{Type: MessageConnected, Data: map[string]string{
		"client_id": c.id,
		"message":   "Connected to meteohub",
	}})

	go h.writer(ctx, cancel, c)

	// Закрытие соединения прерывает чтение
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	h.reader(c)
}

func (h *hub) writer(ctx context.Context, cancel context.CancelFunc, c *client) {
	defer cancel()
	for {
		data, err := c.queue.Pop(ctx)
		if err != nil {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debugf("запись клиенту %s: %v", c.id, err)
			return
		}
	}
}

func (h *hub) reader(c *client) {
	c.conn.SetReadLimit(readLimit)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			h.log.Debugf("некорректный запрос клиента %s: %v", c.id, err)
			continue
		}
		msg, ok := h.reply(req.Type)
		if !ok {
			msg = Message{Type: MessageUnknownAction, Data: map[string]string{"message": "unknown request " + req.Type}}
		}
		h.send(c, msg)
	}
}
