package model

import "time"

// Source источник показаний в архиве
type Source string

const (
	SourceLocal    Source = "local"
	SourceInterior Source = "interior"
	SourceExterior Source = "exterior"
)

// Valid источник известен
func (m Source) Valid() bool {
	return m == SourceLocal || m == SourceInterior || m == SourceExterior
}

// ReadingMetric точка истории показаний. В сжатом виде Min/Max - экстремумы дня
type ReadingMetric struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	MinTemp     float64   `json:"min_temp"`
	MaxTemp     float64   `json:"max_temp"`
}
