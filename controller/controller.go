package controller

import (
	"context"
	"time"

	"github.com/kirsrus/meteohub/model"
)

// PeerLinkCtl приём кадров от удалённых узлов
//go:generate mockery --dir . --name PeerLinkCtl --output ./mocks
type PeerLinkCtl interface {
	// Копия состояния узла
	PeerState(model.PeerID) model.PeerState
	// Запрос внеочередных данных у всех узлов, без подтверждения
	RequestUpdate() error
	// Канал уведомлений о принятых кадрах. Уведомления схлопываются
	Updates() <-chan struct{}
}

// TrendCtl анализ истории измерений
//go:generate mockery --dir . --name TrendCtl --output ./mocks
type TrendCtl interface {
	AddSample(pressure, temperature, humidity float64)
	Infer() model.Inference
}

// SnapshotSource источник опубликованного снимка состояния
//go:generate mockery --dir . --name SnapshotSource --output ./mocks
type SnapshotSource interface {
	// Последний опубликованный снимок. Не изменяется после публикации
	Snapshot() *model.SystemSnapshot
}

// AggregatorCtl сборка снимка состояния из поступающих данных
//go:generate mockery --dir . --name AggregatorCtl --output ./mocks
type AggregatorCtl interface {
	SnapshotSource
	IngestLocalReading(model.LocalReading) *model.SystemSnapshot
	IngestPeerUpdate() *model.SystemSnapshot
	IngestWeatherUpdate(model.Weather) *model.SystemSnapshot
}

// FanoutCtl рассылка снимков потребителям
//go:generate mockery --dir . --name FanoutCtl --output ./mocks
type FanoutCtl interface {
	// Рассылка по таймеру до завершения ctx
	Run(ctx context.Context, interval time.Duration) error
}
