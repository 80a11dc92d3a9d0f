package peerlink

import (
	"io/ioutil"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/metrics"
	"github.com/kirsrus/meteohub/pkg/tool"
	"github.com/kirsrus/meteohub/service"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Узел на связи, пока с последнего кадра прошло меньше этого времени
	onlineTimeout = 600000 * time.Millisecond
)

// RequestPayload кадр запроса внеочередных данных у узла
var RequestPayload = []byte{0xAA, 0x55}

// PeerLink приём кадров телеметрии от удалённых узлов. Инициализируется через NewPeerLink.
// Хранит по одному последнему кадру на узел. Кадры могут теряться и приходить не по порядку:
// последний принятый всегда замещает предыдущий
type PeerLink struct {
	log     *logrus.Entry
	clock   tool.Clock
	metrics *metrics.Metrics
	radio   service.RadioSvc

	mu     sync.RWMutex
	states map[model.PeerID]*model.PeerState

	// Адреса узлов для запроса внеочередных данных
	nodes map[model.PeerID]net.HardwareAddr

	updates chan struct{}
	dropped atomic.Uint64

	onlineTimeout time.Duration
}

// ConfigPeerLink конфигурация PeerLink
type ConfigPeerLink struct {
	Log     *logrus.Logger
	Clock   tool.Clock
	Metrics *metrics.Metrics

	// Адреса узлов
	Nodes map[model.PeerID]net.HardwareAddr
	// Таймаут, после которого узел считается недоступным
	OnlineTimeout time.Duration
}

// NewPeerLink конструктор PeerLink. Регистрирует обработчик кадров в радиоканале radio
func NewPeerLink(radio service.RadioSvc, config *ConfigPeerLink) (*PeerLink, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if radio == nil {
		return nil, errors.New("не указан радиоканал radio")
	}

	link := PeerLink{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "peerlink",
			"scope":  "controller",
		}),
		clock:   tool.SystemClock{},
		metrics: config.Metrics,
		radio:   radio,

		states: make(map[model.PeerID]*model.PeerState, len(model.Peers)),
		nodes:  make(map[model.PeerID]net.HardwareAddr, len(config.Nodes)),

		updates:       make(chan struct{}, 1),
		onlineTimeout: onlineTimeout,
	}
	if config.Clock != nil {
		link.clock = config.Clock
	}
	if config.OnlineTimeout != 0 {
		link.onlineTimeout = config.OnlineTimeout
	}
	for _, id := range model.Peers {
		link.states[id] = &model.PeerState{Peer: id}
	}
	for id, mac := range config.Nodes {
		if !id.Valid() {
			return nil, errors.Annotatef(model.ErrUnknownNode, "адрес %s", mac)
		}
		link.nodes[id] = append(net.HardwareAddr(nil), mac...)
	}

	radio.Bind(func(mac net.HardwareAddr, payload []byte) {
		_ = link.OnFrameReceived(mac, payload)
	})

	return &link, nil
}

// OnFrameReceived обработка кадра из радиоканала. Кадры могут теряться, дублироваться и приходить
// не по порядку: принятый кадр безусловно замещает состояние узла. Некорректный кадр отбрасывается,
// состояние узла не меняется
func (m *PeerLink) OnFrameReceived(mac net.HardwareAddr, raw []byte) error {
	frame, err := model.DecodeFrame(raw)
	if err != nil {
		m.dropped.Add(1)
		reason := "decode"
		if errors.Cause(err) == model.ErrFrameSize {
			reason = "size"
		}
		m.metrics.FrameDropped(reason)
		m.log.Debugf("кадр от %s отброшен: %v", mac, err)
		return errors.Trace(err)
	}

	now := m.clock.Now()
	m.mu.Lock()
	state := m.states[frame.Peer]
	state.Frame = &frame
	state.LastUpdate = now
	state.MAC = append(state.MAC[:0], mac...)
	m.mu.Unlock()

	m.metrics.FrameAccepted(frame.Peer.String())

	// Уведомления схлопываются: достаточно одного необработанного
	select {
	case m.updates <- struct{}{}:
	default:
	}
	return nil
}

// PeerState копия состояния узла
func (m *PeerLink) PeerState(id model.PeerID) model.PeerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[id]
	if !ok {
		return model.PeerState{Peer: id}
	}
	return state.Clone()
}

// IsOnline узел на связи на текущий момент
func (m *PeerLink) IsOnline(id model.PeerID) bool {
	return m.PeerState(id).IsOnline(m.clock.Now(), m.onlineTimeout)
}

// OnlineTimeout таймаут доступности узла
func (m *PeerLink) OnlineTimeout() time.Duration {
	return m.onlineTimeout
}

// Dropped число отброшенных кадров
func (m *PeerLink) Dropped() uint64 {
	return m.dropped.Load()
}

// Updates канал уведомлений о принятых кадрах
func (m *PeerLink) Updates() <-chan struct{} {
	return m.updates
}

// RequestUpdate рассылает всем узлам запрос внеочередных данных. Подтверждение не ожидается,
// повторы не выполняются. Возвращает последнюю ошибку отправки
func (m *PeerLink) RequestUpdate() error {
	var last error
	for _, id := range model.Peers {
		mac, ok := m.nodes[id]
		if !ok {
			continue
		}
		if err := m.radio.Send(mac, RequestPayload); err != nil {
			m.log.Warnf("запрос данных у %s (%s) не отправлен: %v", id, mac, err)
			last = errors.Annotatef(err, "узел %s", id)
		}
	}
	return last
}
