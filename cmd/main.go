package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/kirsrus/meteohub/controller/aggregator"
	"github.com/kirsrus/meteohub/controller/fanout"
	"github.com/kirsrus/meteohub/controller/manager"
	"github.com/kirsrus/meteohub/controller/peerlink"
	"github.com/kirsrus/meteohub/controller/trend"
	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/config"
	"github.com/kirsrus/meteohub/pkg/logger"
	"github.com/kirsrus/meteohub/pkg/metrics"
	"github.com/kirsrus/meteohub/service"
	brokerSvcMod "github.com/kirsrus/meteohub/service/broker"
	displaySvcMod "github.com/kirsrus/meteohub/service/display"
	radioSvcMod "github.com/kirsrus/meteohub/service/radio"
	sensorSvcMod "github.com/kirsrus/meteohub/service/sensor"
	weatherSvcMod "github.com/kirsrus/meteohub/service/weather"
	webSvcMod "github.com/kirsrus/meteohub/service/web"
	csvStoreMod "github.com/kirsrus/meteohub/store/csvlog"
	dbStoreMod "github.com/kirsrus/meteohub/store/db"

	"github.com/juju/errors"
	"github.com/k0kubun/pp"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

var (
	cfg *config.Config
	log *logrus.Logger

	configFile = flag.String("config", config.FileName, "файл конфигурации")
	dumpConfig = flag.Bool("dump", false, "вывести действующую конфигурацию и выйти")
)

func main() {
	flag.Parse()

	cfg = config.GetWithPath(*configFile)
	if *dumpConfig {
		_, _ = pp.Println(cfg)
		return
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.WarnLevel
	}
	log = logger.GetWithConfig(logger.Config{
		File:    filepath.Join(cfg.Log.Path, cfg.Log.Filename),
		Level:   level,
		Console: cfg.Log.Console,
	})

	err = run()
	if err != nil {
		fmt.Printf("ОШИБКА: в процессе работы произошла ошибка: %v\n", err)
		fmt.Printf("Для подробностей смотри лог: %s\n", filepath.Join(cfg.Log.Path, cfg.Log.Filename))
		log.Fatal(errors.ErrorStack(err))
	}
}

func run() error {
	// Отлавливаем сигнал завершения работы программы
	chanInterrupt := make(chan os.Signal, 1)
	signal.Notify(chanInterrupt, os.Interrupt)

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metric := metrics.New()

	// region Хранилища

	csvLog, err := csvStoreMod.NewCsvLog(&csvStoreMod.ConfigCsvLog{
		Log:           log,
		Metrics:       metric,
		Dir:           cfg.Storage.Path,
		Prefix:        cfg.Storage.Prefix,
		MaxFileSize:   cfg.Storage.MaxFileSize,
		FlushRecords:  cfg.Storage.FlushRecords,
		FlushInterval: cfg.Storage.FlushInterval,
	})
	if err != nil {
		return errors.Trace(err)
	}

	dbStore, err := dbStoreMod.NewDb(ctx, &dbStoreMod.ConfigDb{
		Log:    log,
		DbFile: filepath.Join(cfg.Db.Path, cfg.Db.Filename),
	})
	if err != nil {
		return errors.Trace(err)
	}

	// endregion
	// region Удалённые узлы

	nodes := make(map[model.PeerID]net.HardwareAddr, len(cfg.Peers.Nodes))
	for _, n := range cfg.Peers.Nodes {
		id, err := model.ParsePeerID(n.Name)
		if err != nil {
			return errors.Annotatef(err, "узел %s", n.Name)
		}
		mac, err := net.ParseMAC(n.MAC)
		if err != nil {
			return errors.Annotatef(err, "адрес узла %s", n.Name)
		}
		nodes[id] = mac
	}

	radio, err := radioSvcMod.NewWebsocket(ctx, &radioSvcMod.ConfigWebsocket{
		Log:              log,
		URL:              cfg.Peers.Gateway,
		ReconnectTimeout: cfg.Peers.Reconnect,
	})
	if err != nil {
		return errors.Trace(err)
	}

	peerLink, err := peerlink.NewPeerLink(radio, &peerlink.ConfigPeerLink{
		Log:           log,
		Metrics:       metric,
		Nodes:         nodes,
		OnlineTimeout: cfg.Peers.OnlineTimeout,
	})
	if err != nil {
		return errors.Trace(err)
	}

	// endregion
	// region Сборка снимков

	trendCtl, err := trend.NewTrend(&trend.ConfigTrend{
		Log:               log,
		Capacity:          cfg.Trend.Capacity,
		PressureWindow:    cfg.Trend.PressureWindow,
		TemperatureWindow: cfg.Trend.TemperatureWindow,
	})
	if err != nil {
		return errors.Trace(err)
	}

	agg, err := aggregator.NewAggregator(peerLink, trendCtl, csvLog, &aggregator.ConfigAggregator{
		Log:             log,
		Metrics:         metric,
		ReadingInterval: cfg.Aggregator.ReadingInterval,
		Thresholds: aggregator.Thresholds{
			Temperature:  cfg.Alerts.Temperature,
			Humidity:     cfg.Alerts.Humidity,
			PressureDrop: cfg.Alerts.PressureDrop,
			IAQ:          cfg.Alerts.IAQ,
		},
	})
	if err != nil {
		return errors.Trace(err)
	}

	// endregion
	// region Рассылка снимков потребителям

	fan, err := fanout.NewFanout(agg, &fanout.ConfigFanout{
		Log:      log,
		Metrics:  metric,
		Interval: cfg.Manager.FanoutInterval,
	})
	if err != nil {
		return errors.Trace(err)
	}

	latest := fanout.NewLatest("api")
	fan.RegisterConsumer(latest)

	webSvc, err := webSvcMod.NewWeb(ctx, latest, csvLog, dbStore, &webSvcMod.ConfigWeb{
		Log:       log,
		Metrics:   metric,
		Gateway:   radio,
		WebPort:   cfg.Http.Port,
		AssetsDir: cfg.Http.AssetsDir,
	})
	if err != nil {
		return errors.Trace(err)
	}
	webSvc.Static("/")
	webSvc.Api("/api")
	webSvc.Socket("/ws")
	webSvc.GraphQL("/graphql", "/playground")
	webSvc.Metrics("/metrics")
	fan.RegisterConsumer(fanout.NewChanged(webSvc))

	archive, err := fanout.NewPusher(ctx, "archive", func(_ context.Context, snap *model.SystemSnapshot) error {
		return dbStore.SaveSnapshot(snap)
	}, &fanout.ConfigPusher{Log: log, Metrics: metric})
	if err != nil {
		return errors.Trace(err)
	}
	fan.RegisterConsumer(fanout.NewThrottled(archive, cfg.Db.ArchiveInterval, nil))

	if cfg.Display.Enabled {
		display, err := displaySvcMod.NewText(&displaySvcMod.ConfigText{
			Log:      log,
			Interval: cfg.Display.Interval,
		})
		if err != nil {
			return errors.Trace(err)
		}
		pusher, err := fanout.NewPusher(ctx, display.Name(), display.Render, &fanout.ConfigPusher{Log: log, Metrics: metric})
		if err != nil {
			return errors.Trace(err)
		}
		fan.RegisterConsumer(pusher)
	}

	if cfg.Mqtt.Enabled {
		mqtt, err := brokerSvcMod.NewMqtt(&brokerSvcMod.ConfigMqtt{
			Log:          log,
			Broker:       cfg.Mqtt.Broker,
			Topic:        cfg.Mqtt.Topic,
			ClientPrefix: cfg.Mqtt.ClientPrefix,
		})
		if err != nil {
			return errors.Trace(err)
		}
		defer func() { _ = mqtt.Close() }()

		pusher, err := fanout.NewPusher(ctx, mqtt.Name(), mqtt.Publish, &fanout.ConfigPusher{Log: log, Metrics: metric})
		if err != nil {
			return errors.Trace(err)
		}
		fan.RegisterConsumer(fanout.NewChanged(pusher))
	}

	// endregion
	// region Локальный датчик и погода

	var sensorSvc service.SensorSvc
	if cfg.Sensor.Enabled {
		iio, err := sensorSvcMod.NewIio(&sensorSvcMod.ConfigIio{
			Log:  log,
			Path: cfg.Sensor.Path,
		})
		if err != nil {
			return errors.Trace(err)
		}
		sensorSvc = iio
	}

	var weatherSvc service.WeatherSvc
	if cfg.Weather.Enabled {
		owm, err := weatherSvcMod.NewOwm(&weatherSvcMod.ConfigOwm{
			Log:        log,
			Metrics:    metric,
			URL:        cfg.Weather.URL,
			ApiKey:     cfg.Weather.ApiKey,
			Lat:        cfg.Weather.Lat,
			Lon:        cfg.Weather.Lon,
			Timeout:    cfg.Weather.Timeout,
			Retries:    cfg.Weather.Retries,
			RetryDelay: cfg.Weather.RetryDelay,
		})
		if err != nil {
			return errors.Trace(err)
		}
		weatherSvc = owm
	}

	// endregion
	// region Менеджер управления всеми

	managerCtl, err := manager.NewManager(ctx, &manager.ConfigManager{
		Log:               log,
		PeerLinkCtl:       peerLink,
		AggregatorCtl:     agg,
		FanoutCtl:         fan,
		SensorSvc:         sensorSvc,
		WeatherSvc:        weatherSvc,
		WebSvc:            webSvc,
		DbStore:           dbStore,
		LogStore:          csvLog,
		SensorInterval:    cfg.Sensor.Interval,
		WeatherInterval:   cfg.Weather.Interval,
		RequestInterval:   cfg.Peers.RequestInterval,
		FanoutInterval:    cfg.Manager.FanoutInterval,
		FlushInterval:     cfg.Storage.FlushInterval,
		CleanBasePeriod:   time.Hour * 24 * time.Duration(cfg.Db.ArchiveDays),
		CleanBaseInterval: time.Minute * time.Duration(cfg.Db.CleanArchiveInterval),
	})
	if err != nil {
		return errors.Trace(err)
	}

	go func() {
		done <- managerCtl.Serve()
	}()

	// endregion

	// Процесс завершения работы
	select {
	case err := <-done:
		return errors.Trace(err)
	case <-chanInterrupt:
		log.Info("получена по каналу interrupt команда на завершение работы программы")
		cancel()
		select {
		case err := <-done:
			return errors.Trace(err)
		case <-time.After(shutdownTimeout):
			return errors.New("менеджер не завершил работу за отведённое время")
		}
	}
}
