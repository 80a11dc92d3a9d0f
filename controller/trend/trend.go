package trend

import (
	"io/ioutil"
	"math"
	"sync"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/ring"
	"github.com/kirsrus/meteohub/pkg/tool"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Ёмкость истории: 12 часов при отсчёте раз в 5 минут
	capacity = 144
	// Окно тренда давления (1 час)
	pressureWindow = 12
	// Окно тренда температуры (30 минут)
	temperatureWindow = 6

	pressureThreshold = 1.0
	// Резкое падение давления. Даёт тот же тренд, что и обычное падение
	pressureRapidThreshold = 5.0
	temperatureThreshold   = 0.5

	rainPressureWeight    = 40.0
	rainHumidityThreshold = 75.0
	rainHumidityFactor    = 1.6
	rainTemperatureWeight = 20.0
)

// Trend анализ истории измерений: тренды давления и температуры, вероятность дождя.
// Инициализируется через NewTrend
type Trend struct {
	log   *logrus.Entry
	clock tool.Clock

	mu      sync.RWMutex
	history *ring.Buffer[model.HistoricalSample]

	pressureWindow    int
	temperatureWindow int
}

// ConfigTrend конфигурация Trend
type ConfigTrend struct {
	Log   *logrus.Logger
	Clock tool.Clock

	// Ёмкость истории в отсчётах
	Capacity int
	// Окно тренда давления в отсчётах
	PressureWindow int
	// Окно тренда температуры в отсчётах
	TemperatureWindow int
}

// NewTrend конструктор Trend
func NewTrend(config *ConfigTrend) (*Trend, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}

	trend := Trend{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "trend",
			"scope":  "controller",
		}),
		clock:             tool.SystemClock{},
		pressureWindow:    pressureWindow,
		temperatureWindow: temperatureWindow,
	}
	if config.Clock != nil {
		trend.clock = config.Clock
	}
	size := capacity
	if config.Capacity != 0 {
		size = config.Capacity
	}
	if config.PressureWindow != 0 {
		trend.pressureWindow = config.PressureWindow
	}
	if config.TemperatureWindow != 0 {
		trend.temperatureWindow = config.TemperatureWindow
	}
	if trend.pressureWindow >= size || trend.temperatureWindow >= size {
		return nil, errors.Errorf("окно тренда (%d, %d) не помещается в историю %d", trend.pressureWindow, trend.temperatureWindow, size)
	}
	trend.history = ring.New[model.HistoricalSample](size)

	return &trend, nil
}

// AddSample добавляет отсчёт в историю. Самый старый отсчёт вытесняется при заполнении
func (m *Trend) AddSample(pressure, temperature, humidity float64) {
	m.mu.Lock()
	m.history.Push(model.HistoricalSample{
		Pressure:    pressure,
		Temperature: temperature,
		Humidity:    humidity,
		Captured:    m.clock.Now(),
	})
	filled := m.history.Filled()
	m.mu.Unlock()

	m.log.Debugf("отсчёт: давление %.2f, температура %.2f, влажность %.2f (всего %d)", pressure, temperature, humidity, filled)
}

// Filled число накопленных отсчётов
func (m *Trend) Filled() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Filled()
}

// History копия истории от старого к новому
func (m *Trend) History() []model.HistoricalSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Values()
}

// PressureTrend тренд давления за час
func (m *Trend) PressureTrend() model.Trend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trend, _ := m.pressureTrend()
	return trend
}

// TemperatureTrend тренд температуры за полчаса
func (m *Trend) TemperatureTrend() model.Trend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.temperatureTrend()
}

// RainProbability вероятность дождя 0-100
func (m *Trend) RainProbability() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rainProbability()
}

// Infer полный результат анализа истории на текущий момент
func (m *Trend) Infer() model.Inference {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pressure, delta := m.pressureTrend()
	rain := m.rainProbability()
	return model.Inference{
		PressureTrend:    pressure,
		TemperatureTrend: m.temperatureTrend(),
		RainProbability:  rain,
		Condition:        Classify(rain),
		PressureDelta:    delta,
		Samples:          m.history.Filled(),
	}
}

// Classify текстовый прогноз по вероятности дождя
func Classify(rain float64) model.Condition {
	switch {
	case rain > 60:
		return model.ConditionRainy
	case rain > 30:
		return model.ConditionCloudy
	case rain > 10:
		return model.ConditionPartlyCloudy
	}
	return model.ConditionSunny
}

// Изменение величины между новейшим отсчётом и отсчётом window позиций назад.
// При истории ровно в window отсчётов сравнение идёт с самым старым
func (m *Trend) delta(window int, value func(model.HistoricalSample) float64) (float64, bool) {
	filled := m.history.Filled()
	if filled < window {
		return 0, false
	}
	back := window
	if back > filled-1 {
		back = filled - 1
	}
	current, _ := m.history.At(0)
	before, _ := m.history.At(back)
	return value(current) - value(before), true
}

func (m *Trend) pressureTrend() (model.Trend, float64) {
	delta, ok := m.delta(m.pressureWindow, func(s model.HistoricalSample) float64 { return s.Pressure })
	if !ok {
		return model.TrendStable, 0
	}
	switch {
	case delta < -pressureRapidThreshold:
		return model.TrendFalling, delta
	case delta < -pressureThreshold:
		return model.TrendFalling, delta
	case delta > pressureThreshold:
		return model.TrendRising, delta
	}
	return model.TrendStable, delta
}

func (m *Trend) temperatureTrend() model.Trend {
	delta, ok := m.delta(m.temperatureWindow, func(s model.HistoricalSample) float64 { return s.Temperature })
	if !ok {
		return model.TrendStable
	}
	switch {
	case delta > temperatureThreshold:
		return model.TrendRising
	case delta < -temperatureThreshold:
		return model.TrendFalling
	}
	return model.TrendStable
}

func (m *Trend) rainProbability() float64 {
	filled := m.history.Filled()
	if filled < m.pressureWindow {
		return 0
	}

	var rain float64
	if trend, _ := m.pressureTrend(); trend == model.TrendFalling {
		rain += rainPressureWeight
	}

	var sum float64
	m.history.Each(func(s model.HistoricalSample) {
		sum += s.Humidity
	})
	if avg := sum / float64(filled); avg > rainHumidityThreshold {
		rain += (avg - rainHumidityThreshold) * rainHumidityFactor
	}

	if m.temperatureTrend() != model.TrendStable {
		rain += rainTemperatureWeight
	}

	switch {
	case math.IsNaN(rain):
		return 0
	case rain > 100:
		return 100
	case rain < 0:
		return 0
	}
	return rain
}
