package web

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/kirsrus/meteohub/controller"
	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/metrics"
	"github.com/kirsrus/meteohub/pkg/tool"
	"github.com/kirsrus/meteohub/store"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/sirupsen/logrus"
)

const (
	waitRestartStartServer = 10 * time.Second
	shutdownTimeout        = 5 * time.Second
	webPort                = 8080
	assetsDir              = "./assets"
	historyDays            = 1
)

// ErrNoArchive архив не подключён
var ErrNoArchive = errors.New("архив не подключён")

// LinkState состояние связи с радиошлюзом
type LinkState interface {
	Connected() bool
}

// ConfigWeb конфигурация структуры Web
type ConfigWeb struct {
	Log     *logrus.Logger
	Clock   tool.Clock
	Metrics *metrics.Metrics
	// Радиошлюз для /api/status. Необязателен
	Gateway LinkState

	WebPort   uint
	AssetsDir string
	// Ёмкость очереди сообщений клиента WebSocket
	ClientQueue int
}

// Web служба WEB-сервисов. Инициализируется через NewWeb
type Web struct {
	ctx      context.Context
	log      *logrus.Entry
	clock    tool.Clock
	metrics  *metrics.Metrics
	e        *echo.Echo
	upgrader websocket.Upgrader
	hub      *hub
	gateway  LinkState

	source   controller.SnapshotSource
	logStore store.LogStore
	dbStore  store.DbStore

	webPort   uint
	assetsDir string
	start     time.Time
}

// NewWeb конструктор структкуры Web. Снимки для запросов берутся из source, dbStore может быть nil
func NewWeb(ctx context.Context, source controller.SnapshotSource, logStore store.LogStore, dbStore store.DbStore, config *ConfigWeb) (*Web, error) {
	if config == nil {
		return nil, errors.New("не установлена конфигурация")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if source == nil {
		return nil, errors.New("не указан источник снимков")
	}
	if logStore == nil {
		return nil, errors.New("не указан журнал измерений")
	}
	web := Web{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module": "web",
			"scope":  "service",
		}),
		clock:   tool.SystemClock{},
		metrics: config.Metrics,
		e:       echo.New(),
		gateway: config.Gateway,

		source:   source,
		logStore: logStore,
		dbStore:  dbStore,

		webPort:   webPort,
		assetsDir: assetsDir,
	}
	if config.Clock != nil {
		web.clock = config.Clock
	}
	if config.WebPort != 0 {
		web.webPort = config.WebPort
	}
	if config.AssetsDir != "" {
		web.assetsDir = config.AssetsDir
	}
	web.start = web.clock.Now()
	web.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	web.hub = newHub(web.log, web.metrics, config.ClientQueue, web.reply)

	web.e.HideBanner = true
	web.e.HidePort = true
	web.e.Use(middleware.Recover())
	web.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	return &web, nil
}

// Serve работа HTTP-сервера с перезапуском при сбое, до завершения ctx
func (m *Web) Serve(ctx context.Context) error {
	for {
		m.log.Infof("старт HTTP-сервера на порту :%d", m.webPort)
		done := make(chan error, 1)
		go func() {
			done <- m.e.Start(fmt.Sprintf(":%d", m.webPort))
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := m.e.Shutdown(shutdownCtx); err != nil {
				m.log.Warnf("остановка HTTP-сервера: %v", err)
			}
			return nil
		case err := <-done:
			m.log.Errorf("сервер неожиданно завершил работу: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(waitRestartStartServer):
		}
	}
}

// Handler обработчик HTTP-запросов
func (m *Web) Handler() http.Handler {
	return m.e
}

// Static статический контент
func (m *Web) Static(path string) {
	m.e.Static(path, m.assetsDir)
}

// Api точки REST API с корнем path
func (m *Web) Api(path string) {
	g := m.e.Group(path)
	g.GET("/snapshot", m.snapshot)
	g.GET("/sensors", m.sensors)
	g.GET("/nodes", m.nodes)
	g.GET("/status", m.status)
	g.GET("/history", m.history)
	g.GET("/logs", m.logs)
	g.GET("/logs/:name", m.logFile)
}

// Socket подписка на снимки через WebSocket
func (m *Web) Socket(path string) {
	m.e.GET(path, func(c echo.Context) error {
		conn, err := m.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			m.log.Warnf("ошибка подключения WebSocket: %v", err)
			return nil
		}
		m.hub.serve(m.ctx, conn)
		return nil
	})
}

// Metrics выдача метрик Prometheus
func (m *Web) Metrics(path string) {
	m.e.GET(path, echo.WrapHandler(m.metrics.Handler()))
}

// Name имя потребителя снимков
func (m *Web) Name() string {
	return "websocket"
}

// Deliver рассылка снимка подписчикам WebSocket
func (m *Web) Deliver(snap *model.SystemSnapshot) {
	if snap == nil {
		return
	}
	if err := m.hub.broadcast(Message{Type: MessageSnapshot, Data: snap}); err != nil {
		m.log.Warn(err)
	}
}

// Clients колличество подписчиков WebSocket
func (m *Web) Clients() int {
	return m.hub.count()
}

// region Обработчики

func (m *Web) current(c echo.Context) (*model.SystemSnapshot, error) {
	snap := m.source.Snapshot()
	if snap == nil {
		return nil, c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "снимок состояния ещё не сформирован"})
	}
	return snap, nil
}

func (m *Web) snapshot(c echo.Context) error {
	snap, err := m.current(c)
	if snap == nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (m *Web) sensors(c echo.Context) error {
	snap, err := m.current(c)
	if snap == nil {
		return err
	}
	return c.JSON(http.StatusOK, sensorsView(snap))
}

func (m *Web) nodes(c echo.Context) error {
	snap, err := m.current(c)
	if snap == nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"nodes": m.nodesView(snap)})
}

func (m *Web) nodesView(snap *model.SystemSnapshot) []NodeView {
	archived := make(map[string]store.NodeInfo)
	if m.dbStore != nil {
		list, err := m.dbStore.Nodes()
		if err != nil {
			m.log.Warnf("сведения об узлах из архива: %v", err)
		}
		for _, v := range list {
			archived[v.Name] = v
		}
	}

	nodes := make([]NodeView, 0, len(model.Peers))
	for _, id := range model.Peers {
		view := snap.Peer(id)
		node := NodeView{
			Name:         id.String(),
			MAC:          view.MAC,
			Online:       view.Online,
			LastPacketMs: view.LastUpdateMs,
		}
		if view.Frame != nil {
			node.RSSI = view.Frame.LinkQuality
		}
		if a, ok := archived[node.Name]; ok {
			lastSeen := a.LastSeen
			node.LastSeen = &lastSeen
			if node.MAC == "" {
				node.MAC = a.MAC
			}
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func (m *Web) status(c echo.Context) error {
	return c.JSON(http.StatusOK, m.statusView())
}

func (m *Web) history(c echo.Context) error {
	if m.dbStore == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": ErrNoArchive.Error()})
	}
	source := model.Source(c.QueryParam("source"))
	if source != "" && !source.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": fmt.Sprintf("неизвестный источник: %s", source)})
	}
	days, err := uintParam(c, "days", historyDays)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	offset, err := uintParam(c, "offset", 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": err.Error()})
	}
	compact := c.QueryParam("compact") == "true"

	readings, err := m.readingLog(source, days, offset, compact)
	if err != nil {
		m.log.Warn(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "ошибка: " + err.Error()})
	}
	return c.JSON(http.StatusOK, readings)
}

// История показаний source из архива. Пустой источник - внешний узел, нулевое days - сутки
func (m *Web) readingLog(source model.Source, days, offset uint, compact bool) ([]model.ReadingMetric, error) {
	if m.dbStore == nil {
		return nil, errors.Trace(ErrNoArchive)
	}
	if source == "" {
		source = model.SourceExterior
	}
	if !source.Valid() {
		return nil, errors.Errorf("неизвестный источник: %s", source)
	}
	if days == 0 {
		days = historyDays
	}
	readings, err := m.dbStore.ReadingLog(source, days, offset, compact)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return readings, nil
}

func (m *Web) logs(c echo.Context) error {
	files, err := m.logStore.Files()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "ошибка: " + err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"files": files,
		"stats": m.logStore.Stats(),
	})
}

func (m *Web) logFile(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "не передано имя файла журнала"})
	}
	path, err := m.logStore.FilePath(name)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "ошибка: " + err.Error()})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "ошибка: " + err.Error()})
	}
	// Незаписанный буфер попадает в выгрузку
	if err := m.logStore.Flush(); err != nil {
		m.log.Warnf("сброс журнала перед выгрузкой: %v", err)
	}
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "ошибка: " + err.Error()})
	}
	mime := mimetype.Detect(content).String()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, mime, content)
}

// endregion

// Ответ на запрос клиента WebSocket
func (m *Web) reply(requestType string) (Message, bool) {
	switch requestType {
	case RequestSensorData:
		snap := m.source.Snapshot()
		if snap == nil {
			return Message{Type: MessageSensorUpdate}, true
		}
		return Message{Type: MessageSensorUpdate, Data: sensorsView(snap)}, true
	case RequestSystemStatus:
		return Message{Type: MessageSystemStatus, Data: m.statusView()}, true
	}
	return Message{}, false
}

func (m *Web) statusView() StatusView {
	status := StatusView{
		UptimeMs:   tool.Millis(m.clock.Now().Sub(m.start)),
		Goroutines: runtime.NumGoroutine(),
		Clients:    m.hub.count(),
		Storage:    m.logStore.Stats(),
	}
	if m.gateway != nil {
		status.GatewayConnected = m.gateway.Connected()
	}
	if snap := m.source.Snapshot(); snap != nil {
		status.Version = snap.Version
		status.StorageReady = snap.StorageReady
		for _, id := range model.Peers {
			if snap.Peer(id).Online {
				status.PeersOnline++
			}
		}
	}
	return status
}

func uintParam(c echo.Context, name string, def uint) (uint, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.Errorf("некорректный параметр %s: %s", name, v)
	}
	return uint(n), nil
}
