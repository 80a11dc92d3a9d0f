package trend

import (
	"math"
	"testing"

	"github.com/kirsrus/meteohub/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrend(t *testing.T) *Trend {
	t.Helper()
	trend, err := NewTrend(&ConfigTrend{})
	require.NoError(t, err)
	return trend
}

func TestNewTrend(t *testing.T) {
	if _, err := NewTrend(nil); err == nil {
		t.Errorf("NewTrend(nil) error = nil, want error")
	}
	if _, err := NewTrend(&ConfigTrend{Capacity: 10}); err == nil {
		t.Errorf("NewTrend() with window beyond capacity must fail")
	}
}

func TestPressureTrendNeedsHistory(t *testing.T) {
	trend := newTrend(t)
	for i := 0; i < 11; i++ {
		trend.AddSample(1013-float64(i), 20, 50)
		assert.Equal(t, model.TrendStable, trend.PressureTrend(), "filled %d", i+1)
		assert.Equal(t, 0.0, trend.RainProbability(), "filled %d", i+1)
	}
}

func TestPressureTrend(t *testing.T) {
	tests := []struct {
		name  string
		steps []float64
		want  model.Trend
	}{
		{"stable", []float64{1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013.5}, model.TrendStable},
		{"step down", []float64{1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1007}, model.TrendFalling},
		{"rapid drop", []float64{1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1000}, model.TrendFalling},
		{"rising", []float64{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1002}, model.TrendRising},
		{"exactly one", []float64{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000, 999}, model.TrendStable},
		{"twelve samples", []float64{1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1013, 1010}, model.TrendFalling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend := newTrend(t)
			for _, p := range tt.steps {
				trend.AddSample(p, 20, 50)
			}
			if got := trend.PressureTrend(); got != tt.want {
				t.Errorf("PressureTrend() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPressureTrendComparesTwelveSlotsBack(t *testing.T) {
	trend := newTrend(t)
	// Ступень -6 гПа ровно на 12 отсчётов назад, дальше давление постоянно
	for i := 0; i < 30; i++ {
		trend.AddSample(1013, 20, 50)
	}
	trend.AddSample(1019, 20, 50)
	for i := 0; i < 11; i++ {
		trend.AddSample(1013, 20, 50)
	}
	assert.Equal(t, model.TrendStable, trend.PressureTrend())
	trend.AddSample(1013, 20, 50)
	assert.Equal(t, model.TrendFalling, trend.PressureTrend())
	trend.AddSample(1013, 20, 50)
	assert.Equal(t, model.TrendStable, trend.PressureTrend())
}

func TestTemperatureTrend(t *testing.T) {
	tests := []struct {
		name  string
		temps []float64
		want  model.Trend
	}{
		{"short history", []float64{10, 20, 30, 40, 50}, model.TrendStable},
		{"rising", []float64{20, 20, 20, 20, 20, 20, 21}, model.TrendRising},
		{"falling", []float64{20, 20, 20, 20, 20, 20, 19.4}, model.TrendFalling},
		{"within threshold", []float64{20, 20, 20, 20, 20, 20, 20.5}, model.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend := newTrend(t)
			for _, v := range tt.temps {
				trend.AddSample(1013, v, 50)
			}
			if got := trend.TemperatureTrend(); got != tt.want {
				t.Errorf("TemperatureTrend() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThirteenSampleScenario(t *testing.T) {
	trend := newTrend(t)
	for i := 0; i < 12; i++ {
		trend.AddSample(1013, 15, 80)
	}
	trend.AddSample(1007, 15, 80)

	inf := trend.Infer()
	assert.Equal(t, model.TrendFalling, inf.PressureTrend)
	assert.Equal(t, model.TrendStable, inf.TemperatureTrend)
	assert.InDelta(t, 48.0, inf.RainProbability, 1e-9)
	assert.Equal(t, model.ConditionCloudy, inf.Condition)
	assert.InDelta(t, -6.0, inf.PressureDelta, 1e-9)
	assert.Equal(t, 13, inf.Samples)
}

func TestRainProbabilityClamp(t *testing.T) {
	tests := []struct {
		name     string
		humidity float64
		want     float64
	}{
		{"pathological humidity", 200, 100},
		{"negative humidity", -50, 60},
		{"nan humidity", math.NaN(), 60},
		{"infinite humidity", math.Inf(1), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend := newTrend(t)
			for i := 0; i < 12; i++ {
				trend.AddSample(1013, 15, tt.humidity)
			}
			// Падение давления и скачок температуры
			trend.AddSample(1005, 20, tt.humidity)
			got := trend.RainProbability()
			if got < 0 || got > 100 {
				t.Fatalf("RainProbability() = %v out of [0, 100]", got)
			}
			if got != tt.want {
				t.Errorf("RainProbability() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHistoryWraps(t *testing.T) {
	trend := newTrend(t)
	for i := 0; i < 200; i++ {
		trend.AddSample(float64(i), 0, 0)
	}
	history := trend.History()
	require.Len(t, history, 144)
	assert.Equal(t, 56.0, history[0].Pressure)
	assert.Equal(t, 199.0, history[143].Pressure)
	assert.Equal(t, 144, trend.Filled())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		rain float64
		want model.Condition
	}{
		{0, model.ConditionSunny},
		{10, model.ConditionSunny},
		{10.1, model.ConditionPartlyCloudy},
		{30, model.ConditionPartlyCloudy},
		{30.5, model.ConditionCloudy},
		{60, model.ConditionCloudy},
		{61, model.ConditionRainy},
		{100, model.ConditionRainy},
	}
	for _, tt := range tests {
		if got := Classify(tt.rain); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.rain, got, tt.want)
		}
	}
}
