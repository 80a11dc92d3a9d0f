package model

import (
	"strconv"
	"strings"
	"time"
)

// LogHeader заголовок файла журнала измерений
const LogHeader = "timestamp,temp_indoor,humidity_indoor,temp_outdoor,humidity_outdoor,pressure,light,iaq"

// LogRecord строка журнала измерений
type LogRecord struct {
	Timestamp       time.Time
	TempIndoor      float64
	HumidityIndoor  float64
	TempOutdoor     float64
	HumidityOutdoor float64
	Pressure        float64
	Light           float64
	IAQ             int
}

// Line строка журнала с завершающим переводом строки
func (m LogRecord) Line() string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(m.Timestamp.Format(time.RFC3339))
	for _, v := range []float64{m.TempIndoor, m.HumidityIndoor, m.TempOutdoor, m.HumidityOutdoor, m.Pressure, m.Light} {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'f', 2, 64))
	}
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(m.IAQ))
	b.WriteByte('\n')
	return b.String()
}
