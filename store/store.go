package store

import (
	"time"

	"github.com/kirsrus/meteohub/model"
)

// LogStore журнал измерений. Только дозапись, с ротацией файлов по размеру и по дню
//go:generate mockery --dir . --name LogStore --output ./mocks
type LogStore interface {
	// Записывает строку журнала. Ошибка не фатальна: следующий вызов повторяет попытку с нуля
	WriteRecord(model.LogRecord) error
	// Журнал готов к записи
	IsReady() bool
	// Статистика журнала
	Stats() LogStats
	// Принудительный сброс буфера на диск
	Flush() error
	// Список файлов журнала
	Files() ([]LogFile, error)
	// Путь к файлу журнала по его имени. Имя проверяется на принадлежность журналу
	FilePath(name string) (string, error)
	// Закрывает журнал
	Close() error
}

// LogStats статистика журнала измерений
type LogStats struct {
	Ready     bool   `json:"ready"`
	File      string `json:"file"`
	Size      int64  `json:"size"`
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	Rotations uint64 `json:"rotations"`
	Pending   int    `json:"pending"`
}

// LogFile файл журнала измерений
type LogFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// DbStore репозирторий общения с БД архива
//go:generate mockery --dir . --name DbStore --output ./mocks
type DbStore interface {
	// Сохраняет снимок состояния в архив
	SaveSnapshot(*model.SystemSnapshot) error

	// Возвращает показания источника source за days дней (со смещением offsetDays).
	// Если compact=true - данные сжимаются до дней и показываются только минимум и максимум каждого дня
	ReadingLog(source model.Source, days uint, offsetDays uint, compact bool) ([]model.ReadingMetric, error)

	// Последние известные сведения об удалённых узлах
	Nodes() ([]NodeInfo, error)

	// Очищает записи в БД старше days дней
	Clean(days int) error

	// Закрывает БД
	Close() error
}

// NodeInfo сохранённые в архиве сведения об удалённом узле
type NodeInfo struct {
	Name        string    `json:"name"`
	MAC         string    `json:"mac"`
	LastSeen    time.Time `json:"last_seen"`
	LinkQuality int32     `json:"link_quality"`
}
