package model

import "time"

// Trend направление изменения величины
type Trend int8

const (
	TrendFalling Trend = -1
	TrendStable  Trend = 0
	TrendRising  Trend = 1
)

// String стрелка тренда для дисплея
func (m Trend) String() string {
	switch m {
	case TrendFalling:
		return "v"
	case TrendRising:
		return "^"
	}
	return "-"
}

// Condition текстовый прогноз по вероятности дождя
type Condition string

const (
	ConditionSunny        Condition = "Sunny"
	ConditionPartlyCloudy Condition = "Partly Cloudy"
	ConditionCloudy       Condition = "Cloudy"
	ConditionRainy        Condition = "Rainy"
)

// HistoricalSample элемент истории для вычисления трендов
type HistoricalSample struct {
	Pressure    float64
	Temperature float64
	Humidity    float64
	Captured    time.Time
}

// Inference результат анализа истории
type Inference struct {
	PressureTrend    Trend     `json:"pressure_trend"`
	TemperatureTrend Trend     `json:"temperature_trend"`
	RainProbability  float64   `json:"rain_probability"`
	Condition        Condition `json:"condition"`
	// Изменение давления за окно тренда, гПа. Ноль при недостатке истории
	PressureDelta float64 `json:"pressure_delta"`
	// Число накопленных отсчётов
	Samples int `json:"samples"`
}
