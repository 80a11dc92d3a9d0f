package sensor

import (
	"context"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/tool"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Каталог IIO устройства BME680 по умолчанию
	DevicePath = "/sys/bus/iio/devices/iio:device0"

	fileTemperature = "in_temp_input"             // милли °C
	fileHumidity    = "in_humidityrelative_input" // милли %
	filePressure    = "in_pressure_input"         // кПа
	fileResistance  = "in_resistance_input"       // Ом
)

// Iio чтение BME680 через Linux IIO sysfs. Инициализируется через NewIio
type Iio struct {
	log   *logrus.Entry
	clock tool.Clock
	path  string
}

// ConfigIio конфигурация Iio
type ConfigIio struct {
	Log   *logrus.Logger
	Clock tool.Clock
	// Каталог IIO устройства
	Path string
}

// NewIio конструктор Iio. Наличие устройства проверяется сразу
func NewIio(config *ConfigIio) (*Iio, error) {
	if config == nil {
		return nil, errors.New("не задана конфигурация config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}

	res := Iio{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "sensor",
			"scope":  "service",
		}),
		clock: tool.SystemClock{},
		path:  DevicePath,
	}
	if config.Clock != nil {
		res.clock = config.Clock
	}
	if config.Path != "" {
		res.path = config.Path
	}
	if _, err := os.Stat(filepath.Join(res.path, fileTemperature)); err != nil {
		return nil, errors.Annotatef(err, "датчик в %s недоступен", res.path)
	}

	return &res, nil
}

// Read считывает текущие показания. Сопротивление газового сенсора необязательно:
// без него индекс качества воздуха равен нулю
func (m *Iio) Read(ctx context.Context) (*model.LocalReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	temperature, err := m.value(fileTemperature)
	if err != nil {
		return nil, errors.Trace(err)
	}
	humidity, err := m.value(fileHumidity)
	if err != nil {
		return nil, errors.Trace(err)
	}
	pressure, err := m.value(filePressure)
	if err != nil {
		return nil, errors.Trace(err)
	}

	reading := model.LocalReading{
		Temperature: temperature / 1000,
		Humidity:    humidity / 1000,
		Pressure:    pressure * 10, // кПа -> гПа
		Timestamp:   m.clock.Now(),
	}
	if resistance, err := m.value(fileResistance); err == nil {
		reading.GasResistance = resistance
		reading.IAQ = IAQ(resistance, reading.Humidity)
	} else {
		m.log.Debugf("сопротивление газового сенсора не прочитано: %v", err)
	}

	m.log.Debugf("показания: %.2f °C, %.2f %%, %.2f гПа, IAQ %d",
		reading.Temperature, reading.Humidity, reading.Pressure, reading.IAQ)
	return &reading, nil
}

func (m *Iio) value(name string) (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.path, name))
	if err != nil {
		return 0, errors.Trace(err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, errors.Annotatef(err, "значение %s", name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("значение %s: %v", name, v)
	}
	return v, nil
}

// IAQ упрощённый индекс качества воздуха по сопротивлению газового сенсора (Ом)
// и относительной влажности. Чем больше индекс, тем хуже воздух
func IAQ(resistance, humidity float64) int {
	switch {
	case resistance < 100:
		return 500
	case resistance < 1000:
		return 300
	case resistance < 10000:
		return 150
	case resistance < 100000:
		return 50
	case humidity < 40:
		return 25
	case humidity > 60:
		return 30
	}
	return 0
}
