// Package metrics метрики Prometheus узла. Все методы допускают nil-получатель,
// чтобы компоненты можно было собирать без метрик (например, в тестах)
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meteohub"

// Metrics набор метрик. Инициализируется через New
type Metrics struct {
	registry *prometheus.Registry

	framesAccepted *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	peerOnline     *prometheus.GaugeVec

	recordsWritten prometheus.Counter
	recordsFailed  prometheus.Counter
	rotations      *prometheus.CounterVec
	storageReady   prometheus.Gauge

	snapshots     prometheus.Counter
	fanoutDropped *prometheus.CounterVec

	weatherFetches *prometheus.CounterVec
}

// New создаёт метрики на собственном реестре
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_accepted_total",
			Help:      "Принятые кадры телеметрии от узлов.",
		}, []string{"peer"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Отброшенные кадры телеметрии по причине.",
		}, []string{"reason"}),
		peerOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_online",
			Help:      "Узел на связи (1) или нет (0).",
		}, []string{"peer"}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_records_written_total",
			Help:      "Записи, сохранённые в журнал измерений.",
		}),
		recordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_records_failed_total",
			Help:      "Записи, которые не удалось сохранить в журнал измерений.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_rotations_total",
			Help:      "Ротации файла журнала измерений по причине.",
		}, []string{"reason"}),
		storageReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_storage_ready",
			Help:      "Журнал измерений готов к записи (1) или нет (0).",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Опубликованные снимки состояния.",
		}),
		fanoutDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "Снимки, вытесненные из очередей потребителей.",
		}, []string{"consumer"}),
		weatherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_fetches_total",
			Help:      "Обращения к погодному API по результату.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesAccepted, m.framesDropped, m.peerOnline,
		m.recordsWritten, m.recordsFailed, m.rotations, m.storageReady,
		m.snapshots, m.fanoutDropped, m.weatherFetches,
	)
	return m
}

// Handler HTTP-обработчик выдачи метрик
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameAccepted(peer string) {
	if m == nil {
		return
	}
	m.framesAccepted.WithLabelValues(peer).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) PeerOnline(peer string, online bool) {
	if m == nil {
		return
	}
	m.peerOnline.WithLabelValues(peer).Set(boolToFloat(online))
}

func (m *Metrics) RecordWritten() {
	if m == nil {
		return
	}
	m.recordsWritten.Inc()
}

func (m *Metrics) RecordFailed() {
	if m == nil {
		return
	}
	m.recordsFailed.Inc()
}

func (m *Metrics) Rotated(reason string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(reason).Inc()
}

func (m *Metrics) StorageReady(ready bool) {
	if m == nil {
		return
	}
	m.storageReady.Set(boolToFloat(ready))
}

func (m *Metrics) SnapshotPublished() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

func (m *Metrics) FanoutDropped(consumer string) {
	if m == nil {
		return
	}
	m.fanoutDropped.WithLabelValues(consumer).Inc()
}

func (m *Metrics) WeatherFetch(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.weatherFetches.WithLabelValues(result).Inc()
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
