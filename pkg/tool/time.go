package tool

import "time"

// DayKeyLayout формат ключа суток, используемый в именах файлов лога
const DayKeyLayout = "2006-01-02"

// RoundToDate округляет дату в t до круглого дня
func RoundToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayKey ключ календарных суток для t в зоне loc. Если loc не задана, используется зона самого t
func DayKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return RoundToDate(t).Format(DayKeyLayout)
}

// Millis переводит длительность в целые миллисекунды
func Millis(d time.Duration) int64 {
	return int64(d / time.Millisecond)
}
