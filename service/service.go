package service

import (
	"context"
	"net"

	"github.com/kirsrus/meteohub/model"
)

// RadioHandler обработчик кадра, принятого из радиоканала. Вызывается из горутины чтения
// радиоканала и не должен блокироваться
type RadioHandler func(mac net.HardwareAddr, payload []byte)

// RadioSvc радиоканал до удалённых узлов. Доставка не гарантируется, порядок кадров не сохраняется
//go:generate mockery --dir . --name RadioSvc --output ./mocks
type RadioSvc interface {
	// Регистрирует обработчик принятых кадров. Повторный вызов заменяет обработчик
	Bind(RadioHandler)
	// Отправляет кадр узлу без подтверждения доставки
	Send(mac net.HardwareAddr, payload []byte) error
}

// SensorSvc локальный датчик центрального узла
//go:generate mockery --dir . --name SensorSvc --output ./mocks
type SensorSvc interface {
	// Считывает текущие показания
	Read(ctx context.Context) (*model.LocalReading, error)
}

// WeatherSvc внешний погодный API
//go:generate mockery --dir . --name WeatherSvc --output ./mocks
type WeatherSvc interface {
	// Запрашивает текущую погоду и прогноз. При ошибке возвращает последние удачные данные, если они есть
	Fetch(ctx context.Context) (*model.Weather, error)
}

// WebSvc серис общения с WEB интерфейсом
//go:generate mockery --dir . --name WebSvc --output ./mocks
type WebSvc interface {
	// Работа HTTP-сервера до завершения ctx
	Serve(ctx context.Context) error
	// Хэндлер показа основной страницы
	Static(string)
	// Хэндлеры REST API с корнем в указанном пути
	Api(string)
	// Хэндлер WebSocket подписки на снимки
	Socket(string)
	// Хэндлер выдачи метрик
	Metrics(string)
	// Имя потребителя снимков
	Name() string
	// Рассылка снимка подписчикам WebSocket
	Deliver(*model.SystemSnapshot)
}
