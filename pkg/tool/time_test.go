package tool

import (
	"testing"
	"time"
)

func TestDayKey(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	tests := []struct {
		name string
		t    time.Time
		loc  *time.Location
		want string
	}{
		{
			name: "зона самого времени",
			t:    time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC),
			want: "2026-10-18",
		},
		{
			name: "переход суток в другой зоне",
			t:    time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC),
			loc:  msk,
			want: "2026-10-19",
		},
		{
			name: "полночь",
			t:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: "2026-01-01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayKey(tt.t, tt.loc); got != tt.want {
				t.Errorf("DayKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	clock.Advance(599999 * time.Millisecond)
	if got := Millis(clock.Now().Sub(start)); got != 599999 {
		t.Errorf("Millis() = %v, want %v", got, 599999)
	}
}
