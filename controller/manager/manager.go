package manager

import (
	"context"
	"io/ioutil"
	"math"
	"time"

	"github.com/kirsrus/meteohub/controller"
	"github.com/kirsrus/meteohub/service"
	"github.com/kirsrus/meteohub/store"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	requestTimeout    = 10 * time.Second
	sensorInterval    = 30 * time.Second
	weatherInterval   = 15 * time.Minute
	peerCheckInterval = 10 * time.Second
	fanoutInterval    = time.Second
	flushInterval     = 5 * time.Minute
	cleanBasePeriod   = time.Hour * 24 * 30
	cleanBaseInterval = time.Minute * 30
)

// ConfigManager конфигурация Manager
type ConfigManager struct {
	Log *logrus.Logger

	PeerLinkCtl   controller.PeerLinkCtl
	AggregatorCtl controller.AggregatorCtl
	FanoutCtl     controller.FanoutCtl

	// Необязательные сервисы: nil отключает соответствующий цикл
	SensorSvc  service.SensorSvc
	WeatherSvc service.WeatherSvc
	WebSvc     service.WebSvc
	DbStore    store.DbStore

	LogStore store.LogStore

	RequestTimeout  time.Duration
	SensorInterval  time.Duration
	WeatherInterval time.Duration
	// Период запроса внеочередных данных у узлов. 0 и меньше - не запрашивать
	RequestInterval   time.Duration
	PeerCheckInterval time.Duration
	FanoutInterval    time.Duration
	FlushInterval     time.Duration
	CleanBasePeriod   time.Duration
	CleanBaseInterval time.Duration
}

// Manager основной менеджер работы со всеми сервисами. Инициируется через NewManager
type Manager struct {
	ctx context.Context
	log *logrus.Entry

	peerLinkCtl   controller.PeerLinkCtl
	aggregatorCtl controller.AggregatorCtl
	fanoutCtl     controller.FanoutCtl

	sensorSvc  service.SensorSvc
	weatherSvc service.WeatherSvc
	webSvc     service.WebSvc
	dbStore    store.DbStore
	logStore   store.LogStore

	requestTimeout    time.Duration
	sensorInterval    time.Duration
	weatherInterval   time.Duration
	requestInterval   time.Duration
	peerCheckInterval time.Duration
	fanoutInterval    time.Duration
	flushInterval     time.Duration
	cleanBasePeriod   time.Duration
	cleanBaseInterval time.Duration
}

// NewManager конструктор Manager
func NewManager(ctx context.Context, config *ConfigManager) (*Manager, error) {
	if config == nil {
		return nil, errors.New("не передана конфигурация")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if config.PeerLinkCtl == nil {
		return nil, errors.New("не передан контроллер узлов")
	}
	if config.AggregatorCtl == nil {
		return nil, errors.New("не передан контроллер снимков")
	}
	if config.FanoutCtl == nil {
		return nil, errors.New("не передан контроллер рассылки")
	}
	if config.LogStore == nil {
		return nil, errors.New("не передан журнал измерений")
	}

	manager := Manager{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module": "manager",
			"scope":  "controller",
		}),
		peerLinkCtl:   config.PeerLinkCtl,
		aggregatorCtl: config.AggregatorCtl,
		fanoutCtl:     config.FanoutCtl,

		sensorSvc:  config.SensorSvc,
		weatherSvc: config.WeatherSvc,
		webSvc:     config.WebSvc,
		dbStore:    config.DbStore,
		logStore:   config.LogStore,

		requestTimeout:    requestTimeout,
		sensorInterval:    sensorInterval,
		weatherInterval:   weatherInterval,
		requestInterval:   config.RequestInterval,
		peerCheckInterval: peerCheckInterval,
		fanoutInterval:    fanoutInterval,
		flushInterval:     flushInterval,
		cleanBasePeriod:   cleanBasePeriod,
		cleanBaseInterval: cleanBaseInterval,
	}
	if config.RequestTimeout != 0 {
		manager.requestTimeout = config.RequestTimeout
	}
	if config.SensorInterval != 0 {
		manager.sensorInterval = config.SensorInterval
	}
	if config.WeatherInterval != 0 {
		manager.weatherInterval = config.WeatherInterval
	}
	if config.PeerCheckInterval != 0 {
		manager.peerCheckInterval = config.PeerCheckInterval
	}
	if config.FanoutInterval != 0 {
		manager.fanoutInterval = config.FanoutInterval
	}
	if config.FlushInterval != 0 {
		manager.flushInterval = config.FlushInterval
	}
	if config.CleanBasePeriod != 0 {
		manager.cleanBasePeriod = config.CleanBasePeriod
	}
	if config.CleanBaseInterval != 0 {
		manager.cleanBaseInterval = config.CleanBaseInterval
	}

	manager.configToLog()

	return &manager, nil
}

// Вывести значения конфигурациии в лог
func (m *Manager) configToLog() {
	m.log.Debugf("requestTimeout: %s", m.requestTimeout)
	m.log.Debugf("sensorInterval: %s", m.sensorInterval)
	m.log.Debugf("weatherInterval: %s", m.weatherInterval)
	m.log.Debugf("requestInterval: %s", m.requestInterval)
	m.log.Debugf("peerCheckInterval: %s", m.peerCheckInterval)
	m.log.Debugf("fanoutInterval: %s", m.fanoutInterval)
	m.log.Debugf("flushInterval: %s", m.flushInterval)
	m.log.Debugf("cleanBasePeriod: %s", m.cleanBasePeriod)
	m.log.Debugf("cleanBaseInterval: %s", m.cleanBaseInterval)
}

// Serve начало процесса обработки поступающих данных. Работает до завершения контекста,
// после чего закрывает журнал и архив
func (m *Manager) Serve() error {
	g, ctx := errgroup.WithContext(m.ctx)

	// Опрос локального датчика
	if m.sensorSvc != nil {
		g.Go(func() error {
			return m.every(ctx, m.sensorInterval, true, m.readSensor)
		})
	}

	// Кадры от удалённых узлов и проверка их доступности по времени
	g.Go(func() error {
		check := time.NewTicker(m.peerCheckInterval)
		defer check.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-m.peerLinkCtl.Updates():
				m.aggregatorCtl.IngestPeerUpdate()
			case <-check.C:
				m.aggregatorCtl.IngestPeerUpdate()
			}
		}
	})

	// Запрос внеочередных данных у узлов
	if m.requestInterval > 0 {
		g.Go(func() error {
			return m.every(ctx, m.requestInterval, false, func(context.Context) {
				if err := m.peerLinkCtl.RequestUpdate(); err != nil {
					m.log.Warnf("запрос данных у узлов: %v", err)
				}
			})
		})
	}

	// Обновление погоды
	if m.weatherSvc != nil {
		g.Go(func() error {
			return m.every(ctx, m.weatherInterval, true, m.refreshWeather)
		})
	}

	// Рассылка снимков потребителям
	g.Go(func() error {
		err := m.fanoutCtl.Run(ctx, m.fanoutInterval)
		if err != nil && errors.Cause(err) != context.Canceled {
			return errors.Trace(err)
		}
		return nil
	})

	// Сброс журнала измерений на диск
	g.Go(func() error {
		return m.every(ctx, m.flushInterval, false, func(context.Context) {
			if err := m.logStore.Flush(); err != nil {
				m.log.Warnf("сброс журнала: %v", err)
			}
		})
	})

	// Очистка архива от старых записей
	if m.dbStore != nil {
		g.Go(func() error {
			days := int(math.Round(m.cleanBasePeriod.Hours() / 24))
			return m.every(ctx, m.cleanBaseInterval, true, func(context.Context) {
				if err := m.dbStore.Clean(days); err != nil {
					m.log.Warnf("очистка архива: %v", err)
				}
			})
		})
	}

	// WEB-сервер
	if m.webSvc != nil {
		g.Go(func() error {
			return errors.Trace(m.webSvc.Serve(ctx))
		})
	}

	err := g.Wait()
	m.shutdown()
	return errors.Trace(err)
}

// Выполняет fn с периодом interval до завершения ctx. При immediately=true первый раз сразу
func (m *Manager) every(ctx context.Context, interval time.Duration, immediately bool, fn func(context.Context)) error {
	if immediately {
		fn(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (m *Manager) readSensor(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()
	reading, err := m.sensorSvc.Read(ctx)
	if err != nil {
		m.log.Warnf("чтение локального датчика: %v", err)
		return
	}
	if reading == nil {
		return
	}
	m.aggregatorCtl.IngestLocalReading(*reading)
}

// Таймауты и повторы запроса погоды задаёт сам сервис
func (m *Manager) refreshWeather(ctx context.Context) {
	weather, err := m.weatherSvc.Fetch(ctx)
	if err != nil {
		// В снимке остаются предыдущие данные
		m.log.Warnf("обновление погоды: %v", err)
		return
	}
	if weather != nil {
		m.aggregatorCtl.IngestWeatherUpdate(*weather)
	}
}

// Закрытие хранилищ после остановки всех циклов
func (m *Manager) shutdown() {
	if err := m.logStore.Close(); err != nil {
		m.log.Warnf("закрытие журнала: %v", err)
	}
	if m.dbStore != nil {
		if err := m.dbStore.Close(); err != nil {
			m.log.Warnf("закрытие архива: %v", err)
		}
	}
	m.log.Info("менеджер остановлен")
}
