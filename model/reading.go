package model

import "time"

// LocalReading показания локального датчика (BME680) центрального узла
type LocalReading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	// Сопротивление газового сенсора, Ом
	GasResistance float64 `json:"gas_resistance"`
	// Индекс качества воздуха (0-500)
	IAQ       int       `json:"iaq"`
	Timestamp time.Time `json:"timestamp"`
}
