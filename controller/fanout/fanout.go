package fanout

import (
	"context"
	"io/ioutil"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kirsrus/meteohub/controller"
	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/metrics"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Период рассылки снимка
	tickInterval = time.Second
)

// Consumer потребитель снимков состояния. Deliver вызывается из цикла рассылки и не должен
// блокироваться: медленный потребитель сам ставит снимки в ограниченную очередь
type Consumer interface {
	// Имя потребителя для логов и метрик
	Name() string
	// Передача снимка. Снимок нельзя изменять
	Deliver(*model.SystemSnapshot)
}

// Fanout рассылка текущего снимка всем зарегистрированным потребителям. Инициализируется через NewFanout
type Fanout struct {
	log     *logrus.Entry
	metrics *metrics.Metrics
	source  controller.SnapshotSource

	mu        sync.RWMutex
	consumers []Consumer

	interval time.Duration
}

// ConfigFanout конфигурация Fanout
type ConfigFanout struct {
	Log     *logrus.Logger
	Metrics *metrics.Metrics
	// Период рассылки для Run
	Interval time.Duration
}

// NewFanout конструктор Fanout
func NewFanout(source controller.SnapshotSource, config *ConfigFanout) (*Fanout, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if source == nil {
		return nil, errors.New("не указан источник снимков source")
	}

	fan := Fanout{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "fanout",
			"scope":  "controller",
		}),
		metrics:  config.Metrics,
		source:   source,
		interval: tickInterval,
	}
	if config.Interval != 0 {
		fan.interval = config.Interval
	}
	return &fan, nil
}

// RegisterConsumer регистрирует потребителя
func (m *Fanout) RegisterConsumer(c Consumer) {
	if c == nil {
		return
	}
	m.mu.Lock()
	m.consumers = append(m.consumers, c)
	m.mu.Unlock()
	m.log.Infof("зарегистрирован потребитель %s", c.Name())
}

// Consumers число зарегистрированных потребителей
func (m *Fanout) Consumers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consumers)
}

// Tick читает текущий снимок один раз и передаёт его каждому потребителю.
// Паника потребителя не прерывает рассылку остальным
func (m *Fanout) Tick() {
	snap := m.source.Snapshot()
	if snap == nil {
		return
	}

	m.mu.RLock()
	consumers := make([]Consumer, len(m.consumers))
	copy(consumers, m.consumers)
	m.mu.RUnlock()

	for _, c := range consumers {
		m.deliver(c, snap)
	}
}

// Run рассылка по таймеру до завершения контекста
func (m *Fanout) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.interval
	}
	m.log.Infof("старт рассылки, период %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("завершение рассылки")
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Fanout) deliver(c Consumer, snap *model.SystemSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.FanoutDropped(c.Name())
			m.log.Errorf("паника потребителя %s: %v\n%s", c.Name(), r, debug.Stack())
		}
	}()
	c.Deliver(snap)
}
