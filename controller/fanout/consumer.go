package fanout

import (
	"context"
	"io/ioutil"
	"sync/atomic"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/metrics"
	"github.com/kirsrus/meteohub/pkg/tool"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Ёмкость очереди потребителя
	queueCapacity = 100
)

// Sink получатель снимков в отдельной горутине потребителя
type Sink func(ctx context.Context, snap *model.SystemSnapshot) error

// Pusher потребитель с собственной ограниченной очередью и горутиной отправки.
// Инициализируется через NewPusher. Deliver не блокируется, при переполнении вытесняется
// самый старый снимок
type Pusher struct {
	name    string
	log     *logrus.Entry
	metrics *metrics.Metrics
	sink    Sink
	queue   *Queue[*model.SystemSnapshot]

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// ConfigPusher конфигурация Pusher
type ConfigPusher struct {
	Log     *logrus.Logger
	Metrics *metrics.Metrics
	// Ёмкость очереди
	Capacity int
}

// NewPusher конструктор Pusher. Горутина отправки работает до завершения ctx
func NewPusher(ctx context.Context, name string, sink Sink, config *ConfigPusher) (*Pusher, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if sink == nil {
		return nil, errors.Errorf("не указан получатель для %s", name)
	}

	capacity := queueCapacity
	if config.Capacity != 0 {
		capacity = config.Capacity
	}
	p := Pusher{
		name: name,
		log: config.Log.WithFields(map[string]interface{}{
			"module":   "fanout",
			"scope":    "controller",
			"consumer": name,
		}),
		metrics: config.Metrics,
		sink:    sink,
		queue:   NewQueue[*model.SystemSnapshot](capacity),
	}
	go p.loop(ctx)

	return &p, nil
}

// Name имя потребителя
func (m *Pusher) Name() string {
	return m.name
}

// Deliver ставит снимок в очередь
func (m *Pusher) Deliver(snap *model.SystemSnapshot) {
	if m.queue.Push(snap) {
		m.dropped.Add(1)
		m.metrics.FanoutDropped(m.name)
		m.log.Debug("очередь переполнена, вытеснен самый старый снимок")
	}
}

// Sent число переданных снимков
func (m *Pusher) Sent() uint64 {
	return m.sent.Load()
}

// Dropped число вытесненных снимков
func (m *Pusher) Dropped() uint64 {
	return m.dropped.Load()
}

// Failed число ошибок получателя
func (m *Pusher) Failed() uint64 {
	return m.failed.Load()
}

func (m *Pusher) loop(ctx context.Context) {
	for {
		snap, err := m.queue.Pop(ctx)
		if err != nil {
			return
		}
		if err := m.push(ctx, snap); err != nil {
			m.failed.Add(1)
			m.log.Warnf("снимок %d не передан: %v", snap.Version, err)
			continue
		}
		m.sent.Add(1)
	}
}

func (m *Pusher) push(ctx context.Context, snap *model.SystemSnapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("паника получателя: %v", r)
		}
	}()
	return m.sink(ctx, snap)
}

// Latest потребитель для обслуживания запросов: хранит последний переданный снимок
type Latest struct {
	name string
	snap atomic.Pointer[model.SystemSnapshot]
}

// NewLatest конструктор Latest
func NewLatest(name string) *Latest {
	return &Latest{name: name}
}

// Name имя потребителя
func (m *Latest) Name() string {
	return m.name
}

// Deliver запоминает снимок
func (m *Latest) Deliver(snap *model.SystemSnapshot) {
	m.snap.Store(snap)
}

// Snapshot последний переданный снимок или nil
func (m *Latest) Snapshot() *model.SystemSnapshot {
	return m.snap.Load()
}

// Throttled пропускает к потребителю не более одного снимка за период
type Throttled struct {
	next     Consumer
	clock    tool.Clock
	interval time.Duration
	last     atomic.Int64
}

// NewThrottled конструктор Throttled. clock может быть nil
func NewThrottled(next Consumer, interval time.Duration, clock tool.Clock) *Throttled {
	if clock == nil {
		clock = tool.SystemClock{}
	}
	t := &Throttled{next: next, clock: clock, interval: interval}
	t.last.Store(-1)
	return t
}

// Name имя потребителя
func (m *Throttled) Name() string {
	return m.next.Name()
}

// Deliver передаёт снимок, если с прошлой передачи прошёл период
func (m *Throttled) Deliver(snap *model.SystemSnapshot) {
	now := m.clock.Now().UnixNano()
	last := m.last.Load()
	if last >= 0 && time.Duration(now-last) < m.interval {
		return
	}
	if !m.last.CompareAndSwap(last, now) {
		return
	}
	m.next.Deliver(snap)
}

// Changed пропускает к потребителю только снимки с новой версией
type Changed struct {
	next    Consumer
	version atomic.Uint64
}

// NewChanged конструктор Changed
func NewChanged(next Consumer) *Changed {
	return &Changed{next: next}
}

// Name имя потребителя
func (m *Changed) Name() string {
	return m.next.Name()
}

// Deliver передаёт снимок, если его версия отличается от переданной ранее
func (m *Changed) Deliver(snap *model.SystemSnapshot) {
	if snap == nil || m.version.Swap(snap.Version) == snap.Version {
		return
	}
	m.next.Deliver(snap)
}
