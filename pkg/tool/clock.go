package tool

import (
	"sync"
	"time"
)

// Clock источник времени. Позволяет подменять время в тестах
type Clock interface {
	Now() time.Time
}

// SystemClock системные часы. Значения time.Now() несут монотонную составляющую,
// поэтому разности между ними не зависят от перевода настенных часов
type SystemClock struct{}

// Now текущее время
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock часы, которые двигаются только вручную. Инициализируется через NewManualClock
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock конструктор ManualClock, установленных на момент start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now текущее время часов
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance сдвигает часы вперёд на d
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set устанавливает часы на t
func (m *ManualClock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
