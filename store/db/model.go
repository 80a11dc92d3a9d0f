package db

import (
	"time"

	"github.com/kirsrus/meteohub/model"
)

type (
	// GormModelUnscoped модель эквивалент gorm.Model без сохранения удалений
	GormModelUnscoped struct {
		ID        int `gorm:"primaryKey"`
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Reading показания одного источника из снимка состояния
	Reading struct {
		GormModelUnscoped
		// Источник: local, interior или exterior
		Source      string `gorm:"index"`
		Temperature float64
		Humidity    float64
		Pressure    float64
		Light       float64
		IAQ         int
		// Версия снимка, из которого взяты показания
		Version uint64
	}
)

// TableName имя таблицы
func (Reading) TableName() string {
	return "readings"
}

// ToMetric маппинг данных в структуру ReadingMetric
func (m Reading) ToMetric() model.ReadingMetric {
	return model.ReadingMetric{
		Time:        m.CreatedAt,
		Temperature: m.Temperature,
		Humidity:    m.Humidity,
		Pressure:    m.Pressure,
	}
}

type (
	// Node информация об удалённых узлах
	Node struct {
		GormModelUnscoped
		// Имя узла: interior или exterior
		Name string `gorm:"uniqueIndex"`
		// MAC-адрес, с которого пришёл последний кадр
		MAC      string
		LastSeen time.Time
		// Уровень сигнала последнего кадра
		LinkQuality int32
	}
)

// TableName имя таблицы
func (Node) TableName() string {
	return "nodes"
}
