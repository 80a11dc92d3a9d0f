package aggregator

import (
	"io/ioutil"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirsrus/meteohub/controller"
	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/metrics"
	"github.com/kirsrus/meteohub/pkg/tool"
	"github.com/kirsrus/meteohub/store"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Период цикла измерений: показания уходят в журнал и историю не чаще
	readingInterval = 5 * time.Minute
)

// Thresholds пороги тревог
type Thresholds struct {
	Temperature  float64
	Humidity     float64
	PressureDrop float64
	IAQ          int
}

var defaultThresholds = Thresholds{
	Temperature:  30,
	Humidity:     70,
	PressureDrop: 5,
	IAQ:          200,
}

// PeerSource источник состояний удалённых узлов
type PeerSource interface {
	PeerState(model.PeerID) model.PeerState
	// Таймаут, после которого узел считается недоступным
	OnlineTimeout() time.Duration
}

// Aggregator сборка согласованного снимка состояния из локального датчика, удалённых узлов,
// анализа истории и внешней погоды. Инициализируется через NewAggregator. Опубликованный снимок
// не изменяется, новый замещает его атомарно
type Aggregator struct {
	log     *logrus.Entry
	clock   tool.Clock
	metrics *metrics.Metrics

	peers    PeerSource
	trend    controller.TrendCtl
	logStore store.LogStore

	onlineTimeout   time.Duration
	readingInterval time.Duration
	thresholds      Thresholds

	// Начало отсчёта монотонного времени снимков
	start time.Time

	mu        sync.Mutex
	local     *model.LocalReading
	weather   *model.Weather
	lastCycle time.Time
	cycled    bool
	version   uint64

	snapshot atomic.Pointer[model.SystemSnapshot]
}

// ConfigAggregator конфигурация Aggregator
type ConfigAggregator struct {
	Log     *logrus.Logger
	Clock   tool.Clock
	Metrics *metrics.Metrics

	// Период цикла измерений. Отрицательное значение - каждое показание
	ReadingInterval time.Duration
	// Пороги тревог. Нулевые поля заменяются значениями по умолчанию
	Thresholds Thresholds
}

// NewAggregator конструктор Aggregator. Сразу публикует начальный снимок
func NewAggregator(peers PeerSource, trend controller.TrendCtl, logStore store.LogStore, config *ConfigAggregator) (*Aggregator, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if peers == nil {
		return nil, errors.New("не указан источник узлов peers")
	}
	if trend == nil {
		return nil, errors.New("не указан анализ истории trend")
	}
	if logStore == nil {
		return nil, errors.New("не указан журнал logStore")
	}

	agg := Aggregator{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "aggregator",
			"scope":  "controller",
		}),
		clock:   tool.SystemClock{},
		metrics: config.Metrics,

		peers:    peers,
		trend:    trend,
		logStore: logStore,

		onlineTimeout:   peers.OnlineTimeout(),
		readingInterval: readingInterval,
		thresholds:      defaultThresholds,
	}
	if config.Clock != nil {
		agg.clock = config.Clock
	}
	switch {
	case config.ReadingInterval < 0:
		agg.readingInterval = 0
	case config.ReadingInterval > 0:
		agg.readingInterval = config.ReadingInterval
	}
	if config.Thresholds.Temperature != 0 {
		agg.thresholds.Temperature = config.Thresholds.Temperature
	}
	if config.Thresholds.Humidity != 0 {
		agg.thresholds.Humidity = config.Thresholds.Humidity
	}
	if config.Thresholds.PressureDrop != 0 {
		agg.thresholds.PressureDrop = config.Thresholds.PressureDrop
	}
	if config.Thresholds.IAQ != 0 {
		agg.thresholds.IAQ = config.Thresholds.IAQ
	}
	agg.start = agg.clock.Now()

	agg.mu.Lock()
	agg.publish()
	agg.mu.Unlock()

	return &agg, nil
}

// IngestLocalReading новые показания локального датчика
func (m *Aggregator) IngestLocalReading(reading model.LocalReading) *model.SystemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = &reading
	m.cycle()
	return m.publish()
}

// IngestPeerUpdate забирает состояния узлов из PeerLink
func (m *Aggregator) IngestPeerUpdate() *model.SystemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycle()
	return m.publish()
}

// IngestWeatherUpdate новые данные погодного API
func (m *Aggregator) IngestWeatherUpdate(weather model.Weather) *model.SystemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weather = &weather
	return m.publish()
}

// PublishSnapshot собирает и публикует новый снимок из текущего состояния
func (m *Aggregator) PublishSnapshot() *model.SystemSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publish()
}

// Snapshot последний опубликованный снимок
func (m *Aggregator) Snapshot() *model.SystemSnapshot {
	return m.snapshot.Load()
}

// Цикл измерений: показания уходят в журнал и историю не чаще readingInterval.
// Ошибки только логируются
func (m *Aggregator) cycle() {
	now := m.clock.Now()
	if m.cycled && m.readingInterval > 0 && now.Sub(m.lastCycle) < m.readingInterval {
		return
	}

	interior := m.peerReading(model.PeerInterior, now)
	exterior := m.peerReading(model.PeerExterior, now)
	if m.local == nil && interior == nil && exterior == nil {
		return
	}
	m.cycled = true
	m.lastCycle = now

	rec := buildRecord(now, m.local, interior, exterior)
	if err := m.logStore.WriteRecord(rec); err != nil {
		m.log.Warnf("запись в журнал не выполнена: %v", err)
	}

	if sample, ok := buildSample(m.local, exterior); ok {
		m.trend.AddSample(sample.Pressure, sample.Temperature, sample.Humidity)
	}
}

// Кадр узла, если он на связи
func (m *Aggregator) peerReading(id model.PeerID, now time.Time) *model.TelemetryFrame {
	state := m.peers.PeerState(id)
	if !state.IsOnline(now, m.onlineTimeout) {
		return nil
	}
	return state.Frame
}

func (m *Aggregator) publish() *model.SystemSnapshot {
	now := m.clock.Now()
	m.version++

	snap := &model.SystemSnapshot{
		Version:       m.version,
		GeneratedAtMs: tool.Millis(now.Sub(m.start)),
		GeneratedAt:   now,
		Interior:      m.peerView(model.PeerInterior, now),
		Exterior:      m.peerView(model.PeerExterior, now),
		Inference:     m.trend.Infer(),
		StorageReady:  m.logStore.IsReady(),
	}
	if m.local != nil {
		local := *m.local
		snap.Local = &local
	}
	if m.weather != nil {
		weather := *m.weather
		weather.Forecast = append([]model.ForecastDay(nil), m.weather.Forecast...)
		snap.Weather = &weather
	}
	snap.Alerts = m.alerts(snap)

	m.snapshot.Store(snap)
	m.metrics.SnapshotPublished()
	m.metrics.PeerOnline(model.PeerInterior.String(), snap.Interior.Online)
	m.metrics.PeerOnline(model.PeerExterior.String(), snap.Exterior.Online)
	m.metrics.StorageReady(snap.StorageReady)
	return snap
}

func (m *Aggregator) peerView(id model.PeerID, now time.Time) model.PeerView {
	state := m.peers.PeerState(id)
	view := model.PeerView{
		Peer:   id,
		Online: state.IsOnline(now, m.onlineTimeout),
		Frame:  state.Frame,
	}
	if state.HasFrame() {
		view.LastUpdateMs = tool.Millis(state.LastUpdate.Sub(m.start))
		view.MAC = state.MAC.String()
	}
	return view
}

func (m *Aggregator) alerts(snap *model.SystemSnapshot) model.Alerts {
	var res model.Alerts
	indoor := func(fn func(temperature, humidity float64)) {
		if snap.Local != nil {
			fn(snap.Local.Temperature, snap.Local.Humidity)
		}
		if snap.Interior.Online {
			fn(snap.Interior.Frame.Temperature, snap.Interior.Frame.Humidity)
		}
	}
	indoor(func(temperature, humidity float64) {
		res.HighTemperature = res.HighTemperature || temperature > m.thresholds.Temperature
		res.HighHumidity = res.HighHumidity || humidity > m.thresholds.Humidity
	})
	res.PressureDrop = snap.Inference.PressureDelta <= -m.thresholds.PressureDrop
	if snap.Local != nil {
		res.PoorAirQuality = snap.Local.IAQ > m.thresholds.IAQ
	}
	return res
}

// Строка журнала. Внутренние показания берутся с локального датчика, при его отсутствии
// с внутреннего узла. Отсутствующие значения пишутся как NaN
func buildRecord(now time.Time, local *model.LocalReading, interior, exterior *model.TelemetryFrame) model.LogRecord {
	nan := math.NaN()
	rec := model.LogRecord{
		Timestamp:       now,
		TempIndoor:      nan,
		HumidityIndoor:  nan,
		TempOutdoor:     nan,
		HumidityOutdoor: nan,
		Pressure:        nan,
		Light:           nan,
	}
	switch {
	case local != nil:
		rec.TempIndoor, rec.HumidityIndoor = local.Temperature, local.Humidity
		rec.Pressure = local.Pressure
		rec.IAQ = local.IAQ
	case interior != nil:
		rec.TempIndoor, rec.HumidityIndoor = interior.Temperature, interior.Humidity
	}
	if exterior != nil {
		rec.TempOutdoor, rec.HumidityOutdoor = exterior.Temperature, exterior.Humidity
		rec.Light = exterior.Light
		if exterior.Pressure > 0 {
			rec.Pressure = exterior.Pressure
		}
	}
	return rec
}

// Отсчёт истории: наружные показания, если внешний узел на связи, иначе локальные.
// Без давления отсчёт не формируется
func buildSample(local *model.LocalReading, exterior *model.TelemetryFrame) (model.HistoricalSample, bool) {
	switch {
	case exterior != nil && exterior.Pressure > 0:
		return model.HistoricalSample{
			Pressure:    exterior.Pressure,
			Temperature: exterior.Temperature,
			Humidity:    exterior.Humidity,
		}, true
	case local != nil && local.Pressure > 0:
		return model.HistoricalSample{
			Pressure:    local.Pressure,
			Temperature: local.Temperature,
			Humidity:    local.Humidity,
		}, true
	}
	return model.HistoricalSample{}, false
}
