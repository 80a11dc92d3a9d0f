// Package display текстовые панели состояния для консоли или символьного дисплея
package display

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/tool"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	// Период смены панели
	panelInterval = 5 * time.Second
	timeLayout    = "15:04 02.01.2006"
)

// Panel панель дисплея
type Panel int

const (
	PanelIndoor Panel = iota
	PanelOutdoor
	PanelForecast
	panelCount
)

// String имя панели
func (m Panel) String() string {
	switch m {
	case PanelIndoor:
		return "Indoor"
	case PanelOutdoor:
		return "Outdoor"
	case PanelForecast:
		return "Forecast"
	}
	return fmt.Sprintf("Panel%d", int(m))
}

// ConfigText конфигурация Text
type ConfigText struct {
	Log   *logrus.Logger
	Clock tool.Clock
	// Куда выводятся панели. По умолчанию os.Stdout
	Out io.Writer
	// Период смены панели
	Interval time.Duration
	// Зона для вывода времени. По умолчанию time.Local
	Location *time.Location
}

// Text поочерёдный вывод трёх панелей: помещение, улица с погодой, прогноз. Инициализируется
// через NewText. Панель перерисовывается при смене панели или версии снимка
type Text struct {
	log      *logrus.Entry
	clock    tool.Clock
	out      io.Writer
	interval time.Duration
	location *time.Location

	mu          sync.Mutex
	panel       Panel
	switchedAt  time.Time
	started     bool
	lastVersion uint64
	rendered    uint64
}

// NewText конструктор Text
func NewText(config *ConfigText) (*Text, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	text := Text{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "display",
			"scope":  "service",
		}),
		clock:    tool.SystemClock{},
		out:      os.Stdout,
		interval: panelInterval,
		location: time.Local,
	}
	if config.Clock != nil {
		text.clock = config.Clock
	}
	if config.Out != nil {
		text.out = config.Out
	}
	if config.Interval > 0 {
		text.interval = config.Interval
	}
	if config.Location != nil {
		text.location = config.Location
	}
	return &text, nil
}

// Name имя потребителя
func (m *Text) Name() string {
	return "display"
}

// Deliver выводит снимок синхронно
func (m *Text) Deliver(snap *model.SystemSnapshot) {
	if err := m.Render(context.Background(), snap); err != nil {
		m.log.Warn(err)
	}
}

// Panel текущая панель
func (m *Text) Panel() Panel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.panel
}

// Rendered колличество выведенных панелей
func (m *Text) Rendered() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rendered
}

// Render выбирает панель по времени и выводит её, если есть что обновить
func (m *Text) Render(_ context.Context, snap *model.SystemSnapshot) error {
	if snap == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	changed := false
	switch {
	case !m.started:
		m.started = true
		m.switchedAt = now
		changed = true
	case now.Sub(m.switchedAt) >= m.interval:
		m.panel = (m.panel + 1) % panelCount
		m.switchedAt = now
		changed = true
	}
	if !changed && snap.Version == m.lastVersion {
		return nil
	}
	m.lastVersion = snap.Version

	var buf bytes.Buffer
	Draw(&buf, m.panel, snap, m.location)
	if _, err := m.out.Write(buf.Bytes()); err != nil {
		return errors.Annotate(err, "вывод панели")
	}
	m.rendered++
	return nil
}

// Draw выводит панель panel снимка snap в w
func Draw(w io.Writer, panel Panel, snap *model.SystemSnapshot, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	fmt.Fprintf(w, "== %s == %s\n", panel, snap.GeneratedAt.In(loc).Format(timeLayout))
	switch panel {
	case PanelIndoor:
		drawIndoor(w, snap)
	case PanelOutdoor:
		drawOutdoor(w, snap)
	case PanelForecast:
		drawForecast(w, snap)
	}
}

func drawIndoor(w io.Writer, snap *model.SystemSnapshot) {
	if local := snap.Local; local != nil {
		fmt.Fprintf(w, "Main    T: %.1fC  H: %.0f%%  IAQ: %d\n", local.Temperature, local.Humidity, local.IAQ)
	} else {
		fmt.Fprintln(w, "Main    no data")
	}
	if view := snap.Interior; view.Online && view.Frame != nil {
		fmt.Fprintf(w, "Second  T: %.1fC  H: %.0f%%\n", view.Frame.Temperature, view.Frame.Humidity)
	} else {
		fmt.Fprintln(w, "Second  offline")
	}

	storage := "OK"
	if !snap.StorageReady {
		storage = "FAIL"
	}
	fmt.Fprintf(w, "Log: %s\n", storage)

	alerts := snap.Alerts
	if alerts.HighTemperature {
		fmt.Fprintln(w, "! high temperature")
	}
	if alerts.HighHumidity {
		fmt.Fprintln(w, "! high humidity")
	}
	if alerts.PressureDrop {
		fmt.Fprintln(w, "! pressure drop")
	}
	if alerts.PoorAirQuality {
		fmt.Fprintln(w, "! poor air quality")
	}
}

func drawOutdoor(w io.Writer, snap *model.SystemSnapshot) {
	if view := snap.Exterior; view.Online && view.Frame != nil {
		f := view.Frame
		fmt.Fprintf(w, "Node    T: %.1fC  H: %.0f%%  P: %.0f hPa  L: %.0f lx\n", f.Temperature, f.Humidity, f.Pressure, f.Light)
	} else {
		fmt.Fprintln(w, "Node    offline")
	}

	weather := snap.Weather
	if weather == nil {
		fmt.Fprintln(w, "Weather no data")
		return
	}
	c := weather.Current
	fmt.Fprintf(w, "Weather %.0fC %s\n", c.Temp, c.Description)
	fmt.Fprintf(w, "Feels: %.1fC\n", c.FeelsLike)
	fmt.Fprintf(w, "Humidity: %d%%\n", c.Humidity)
	fmt.Fprintf(w, "Pressure: %.0f hPa\n", c.Pressure)
	fmt.Fprintf(w, "Wind: %.1f m/s\n", c.WindSpeed)
}

func drawForecast(w io.Writer, snap *model.SystemSnapshot) {
	if snap.Weather == nil || len(snap.Weather.Forecast) == 0 {
		fmt.Fprintln(w, "Forecast no data")
	} else {
		for i, day := range snap.Weather.Forecast {
			fmt.Fprintf(w, "Day%d  %.0fC/%.0fC  rain %.0f%%\n", i+1, day.TempMax, day.TempMin, day.RainProbability)
		}
	}

	inf := snap.Inference
	fmt.Fprintf(w, "Prediction: %s  rain %.0f%%\n", inf.Condition, inf.RainProbability)
	fmt.Fprintf(w, "Pressure %s  Temperature %s\n", inf.PressureTrend, inf.TemperatureTrend)
}
