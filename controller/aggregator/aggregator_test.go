package aggregator

import (
	"encoding/json"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kirsrus/meteohub/controller/peerlink"
	"github.com/kirsrus/meteohub/controller/trend"
	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/tool"
	"github.com/kirsrus/meteohub/service"
	"github.com/kirsrus/meteohub/store"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRadio struct {
	handler service.RadioHandler
}

func (f *fakeRadio) Bind(h service.RadioHandler) {
	f.handler = h
}

func (f *fakeRadio) Send(_ net.HardwareAddr, _ []byte) error {
	return nil
}

func (f *fakeRadio) deliver(t *testing.T, frame model.TelemetryFrame) {
	raw, err := frame.MarshalBinary()
	require.NoError(t, err)
	f.handler(net.HardwareAddr{1, 2, 3, 4, 5, 6}, raw)
}

type fakeLog struct {
	mu      sync.Mutex
	fail    bool
	records []model.LogRecord
}

func (f *fakeLog) WriteRecord(rec model.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("журнал недоступен")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeLog) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.fail
}

func (f *fakeLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeLog) Stats() store.LogStats {
	return store.LogStats{}
}

func (f *fakeLog) Flush() error {
	return nil
}

func (f *fakeLog) Files() ([]store.LogFile, error) {
	return nil, nil
}

func (f *fakeLog) FilePath(name string) (string, error) {
	return "", errors.NotFoundf("файл %s", name)
}

func (f *fakeLog) Close() error {
	return nil
}

// Каждое показание уходит в журнал и историю
const everyReading = -1

type fixture struct {
	clock *tool.ManualClock
	radio *fakeRadio
	log   *fakeLog
	agg   *Aggregator
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		clock: tool.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		radio: &fakeRadio{},
		log:   &fakeLog{},
	}
	link, err := peerlink.NewPeerLink(f.radio, &peerlink.ConfigPeerLink{Clock: f.clock})
	require.NoError(t, err)
	tr, err := trend.NewTrend(&trend.ConfigTrend{Clock: f.clock})
	require.NoError(t, err)
	f.agg, err = NewAggregator(link, tr, f.log, &ConfigAggregator{
		Clock:           f.clock,
		ReadingInterval: interval,
	})
	require.NoError(t, err)
	return f
}

func TestNewAggregator(t *testing.T) {
	if _, err := NewAggregator(nil, nil, nil, nil); err == nil {
		t.Errorf("NewAggregator() without config must fail")
	}
	f := newFixture(t, 0)
	snap := f.agg.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Version)
	assert.False(t, snap.Interior.Online)
	assert.False(t, snap.Exterior.Online)
}

func TestPeerGoesOffline(t *testing.T) {
	f := newFixture(t, 0)
	f.radio.deliver(t, model.TelemetryFrame{Peer: model.PeerInterior, Temperature: 22.5, Humidity: 55})

	snap := f.agg.IngestPeerUpdate()
	assert.True(t, snap.Interior.Online)
	assert.Equal(t, 22.5, snap.Interior.Frame.Temperature)
	assert.False(t, snap.Exterior.Online)

	f.clock.Advance(599999 * time.Millisecond)
	snap = f.agg.PublishSnapshot()
	assert.True(t, snap.Interior.Online)
	assert.False(t, snap.Exterior.Online)

	f.clock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(605000 * time.Millisecond))
	snap = f.agg.PublishSnapshot()
	assert.False(t, snap.Interior.Online)
	assert.False(t, snap.Exterior.Online)
	assert.Equal(t, int64(605000), snap.GeneratedAtMs)
	assert.Equal(t, int64(0), snap.Interior.LastUpdateMs)
}

func TestOnlineTimeoutFromPeerLink(t *testing.T) {
	clock := tool.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	radio := &fakeRadio{}
	link, err := peerlink.NewPeerLink(radio, &peerlink.ConfigPeerLink{Clock: clock, OnlineTimeout: time.Minute})
	require.NoError(t, err)
	tr, err := trend.NewTrend(&trend.ConfigTrend{Clock: clock})
	require.NoError(t, err)
	agg, err := NewAggregator(link, tr, &fakeLog{}, &ConfigAggregator{Clock: clock})
	require.NoError(t, err)

	radio.deliver(t, model.TelemetryFrame{Peer: model.PeerExterior, Temperature: 5, Pressure: 1000})
	assert.True(t, agg.IngestPeerUpdate().Exterior.Online)

	clock.Advance(time.Minute)
	assert.False(t, agg.IngestPeerUpdate().Exterior.Online)
}

func TestNonFiniteFrameIsDropped(t *testing.T) {
	f := newFixture(t, everyReading)
	f.radio.deliver(t, model.TelemetryFrame{Peer: model.PeerExterior, Temperature: 4, Humidity: 70, Pressure: 1005})
	f.agg.IngestPeerUpdate()

	for _, frame := range []model.TelemetryFrame{
		{Peer: model.PeerExterior, Temperature: math.NaN(), Humidity: 70, Pressure: 1005},
		{Peer: model.PeerExterior, Temperature: 4, Humidity: 70, Pressure: math.Inf(-1)},
	} {
		f.radio.deliver(t, frame)
		snap := f.agg.IngestPeerUpdate()
		assert.Equal(t, 4.0, snap.Exterior.Frame.Temperature)
		assert.Equal(t, 1005.0, snap.Exterior.Frame.Pressure)
		_, err := json.Marshal(snap)
		require.NoError(t, err)
	}

	f.clock.Advance(time.Hour)
	snap := f.agg.IngestPeerUpdate()
	assert.False(t, snap.Exterior.Online)
	_, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(snap.Inference.PressureDelta))
}

func TestPublishedSnapshotIsStable(t *testing.T) {
	f := newFixture(t, 0)
	first := f.agg.IngestLocalReading(model.LocalReading{Temperature: 20, Humidity: 40, Pressure: 1010})
	f.clock.Advance(time.Second)
	second := f.agg.IngestLocalReading(model.LocalReading{Temperature: 25, Humidity: 45, Pressure: 1011})

	assert.Equal(t, 20.0, first.Local.Temperature)
	assert.Equal(t, 25.0, second.Local.Temperature)
	assert.Greater(t, second.Version, first.Version)
	assert.Same(t, second, f.agg.Snapshot())
}

func TestStorageFailureDoesNotBlockPublish(t *testing.T) {
	f := newFixture(t, everyReading)
	f.log.fail = true

	before := f.agg.Snapshot().Version
	snap := f.agg.IngestLocalReading(model.LocalReading{Temperature: 20, Humidity: 40, Pressure: 1010})
	assert.Equal(t, before+1, snap.Version)
	assert.False(t, snap.StorageReady)
	assert.Equal(t, 1, snap.Inference.Samples, "история пополняется независимо от журнала")

	f.log.fail = false
	snap = f.agg.IngestLocalReading(model.LocalReading{Temperature: 20, Humidity: 40, Pressure: 1010})
	assert.True(t, snap.StorageReady)
	assert.Equal(t, 1, f.log.count())
}

func TestReadingCycle(t *testing.T) {
	f := newFixture(t, 5*time.Minute)
	reading := model.LocalReading{Temperature: 20, Humidity: 40, Pressure: 1010}

	for i := 0; i < 3; i++ {
		f.agg.IngestLocalReading(reading)
		f.clock.Advance(20 * time.Second)
	}
	assert.Equal(t, 1, f.log.count())

	f.clock.Advance(5 * time.Minute)
	f.agg.IngestLocalReading(reading)
	assert.Equal(t, 2, f.log.count())
	assert.Equal(t, 2, f.agg.Snapshot().Inference.Samples)
}

func TestNoCycleWithoutReadings(t *testing.T) {
	f := newFixture(t, 0)
	f.agg.IngestPeerUpdate()
	f.agg.IngestWeatherUpdate(model.Weather{Current: model.CurrentWeather{Temp: 3}})
	assert.Equal(t, 0, f.log.count())
	assert.Equal(t, 3.0, f.agg.Snapshot().Weather.Current.Temp)
}

func TestRecordComposition(t *testing.T) {
	f := newFixture(t, 0)
	f.radio.deliver(t, model.TelemetryFrame{Peer: model.PeerExterior, Temperature: -2, Humidity: 90, Pressure: 1001, Light: 15})
	f.agg.IngestLocalReading(model.LocalReading{Temperature: 21, Humidity: 35, Pressure: 1000, IAQ: 150})

	require.Equal(t, 1, f.log.count())
	rec := f.log.records[0]
	assert.Equal(t, 21.0, rec.TempIndoor)
	assert.Equal(t, 35.0, rec.HumidityIndoor)
	assert.Equal(t, -2.0, rec.TempOutdoor)
	assert.Equal(t, 90.0, rec.HumidityOutdoor)
	assert.Equal(t, 1001.0, rec.Pressure)
	assert.Equal(t, 15.0, rec.Light)
	assert.Equal(t, 150, rec.IAQ)
}

func TestTrendThroughAggregator(t *testing.T) {
	f := newFixture(t, 5*time.Minute)
	for i := 0; i < 13; i++ {
		pressure := 1013.0
		if i == 12 {
			pressure = 1007
		}
		f.radio.deliver(t, model.TelemetryFrame{Peer: model.PeerExterior, Temperature: 10, Humidity: 80, Pressure: pressure})
		f.agg.IngestPeerUpdate()
		f.clock.Advance(5 * time.Minute)
	}
	inf := f.agg.Snapshot().Inference
	assert.Equal(t, model.TrendFalling, inf.PressureTrend)
	assert.InDelta(t, 48.0, inf.RainProbability, 1e-9)
	assert.Equal(t, model.ConditionCloudy, inf.Condition)
	assert.True(t, f.agg.Snapshot().Alerts.PressureDrop)
}

func TestAlerts(t *testing.T) {
	f := newFixture(t, 0)
	snap := f.agg.IngestLocalReading(model.LocalReading{Temperature: 31, Humidity: 50, Pressure: 1010, IAQ: 250})
	assert.True(t, snap.Alerts.HighTemperature)
	assert.False(t, snap.Alerts.HighHumidity)
	assert.True(t, snap.Alerts.PoorAirQuality)
	assert.False(t, snap.Alerts.PressureDrop)

	f.radio.deliver(t, model.TelemetryFrame{Peer: model.PeerInterior, Temperature: 22, Humidity: 75})
	snap = f.agg.IngestLocalReading(model.LocalReading{Temperature: 22, Humidity: 50, Pressure: 1010})
	assert.False(t, snap.Alerts.HighTemperature)
	assert.True(t, snap.Alerts.HighHumidity)
	assert.True(t, snap.Alerts.Any())
}

func TestConcurrentIngest(t *testing.T) {
	f := newFixture(t, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				f.agg.IngestLocalReading(model.LocalReading{Temperature: float64(i), Pressure: 1000})
				_ = f.agg.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint64(1+8*50), f.agg.Snapshot().Version)
}
