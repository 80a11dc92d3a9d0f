package peerlink

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/tool"
	"github.com/kirsrus/meteohub/service"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	mac     string
	payload []byte
}

type fakeRadio struct {
	mu      sync.Mutex
	handler service.RadioHandler
	sent    []sent
	fail    bool
}

func (f *fakeRadio) Bind(h service.RadioHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeRadio) Send(mac net.HardwareAddr, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("радиоканал недоступен")
	}
	f.sent = append(f.sent, sent{mac.String(), append([]byte(nil), payload...)})
	return nil
}

func (f *fakeRadio) deliver(mac net.HardwareAddr, payload []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(mac, payload)
}

var (
	macInterior = net.HardwareAddr{0x24, 0x6f, 0x28, 0, 0, 1}
	macExterior = net.HardwareAddr{0x24, 0x6f, 0x28, 0, 0, 2}
)

func frame(t *testing.T, peer model.PeerID, temperature, humidity float64) []byte {
	t.Helper()
	raw, err := model.TelemetryFrame{Peer: peer, Temperature: temperature, Humidity: humidity}.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func newLink(t *testing.T) (*PeerLink, *fakeRadio, *tool.ManualClock) {
	t.Helper()
	radio := &fakeRadio{}
	clock := tool.NewManualClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	link, err := NewPeerLink(radio, &ConfigPeerLink{
		Clock: clock,
		Nodes: map[model.PeerID]net.HardwareAddr{
			model.PeerInterior: macInterior,
			model.PeerExterior: macExterior,
		},
	})
	require.NoError(t, err)
	return link, radio, clock
}

func TestNewPeerLink(t *testing.T) {
	if _, err := NewPeerLink(&fakeRadio{}, nil); err == nil {
		t.Errorf("NewPeerLink() without config must fail")
	}
	if _, err := NewPeerLink(nil, &ConfigPeerLink{}); err == nil {
		t.Errorf("NewPeerLink() without radio must fail")
	}
	if _, err := NewPeerLink(&fakeRadio{}, &ConfigPeerLink{Nodes: map[model.PeerID]net.HardwareAddr{7: macInterior}}); err == nil {
		t.Errorf("NewPeerLink() with unknown node must fail")
	}
}

func TestOnlineBoundary(t *testing.T) {
	link, radio, clock := newLink(t)

	assert.False(t, link.IsOnline(model.PeerInterior), "не на связи до первого кадра")

	radio.deliver(macInterior, frame(t, model.PeerInterior, 22.5, 55))
	assert.True(t, link.IsOnline(model.PeerInterior))

	clock.Advance(599999 * time.Millisecond)
	assert.True(t, link.IsOnline(model.PeerInterior))

	clock.Advance(time.Millisecond)
	assert.False(t, link.IsOnline(model.PeerInterior))
	assert.False(t, link.IsOnline(model.PeerExterior))
}

func TestMalformedFrameKeepsState(t *testing.T) {
	link, radio, clock := newLink(t)
	radio.deliver(macExterior, frame(t, model.PeerExterior, 5, 90))
	before := link.PeerState(model.PeerExterior)

	clock.Advance(time.Minute)
	bad := frame(t, model.PeerExterior, 40, 10)
	tests := []struct {
		name string
		raw  []byte
	}{
		{"short", bad[:model.FrameSize-1]},
		{"long", append(append([]byte(nil), bad...), 0)},
		{"unknown node", append([]byte("garage\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), bad[16:]...)},
	}
	for _, tt := range tests {
		err := link.OnFrameReceived(macExterior, tt.raw)
		if err == nil {
			t.Errorf("%s: OnFrameReceived() error = nil, want error", tt.name)
		}
	}

	after := link.PeerState(model.PeerExterior)
	assert.Equal(t, before.LastUpdate, after.LastUpdate)
	assert.Equal(t, 5.0, after.Frame.Temperature)
	assert.Equal(t, uint64(3), link.Dropped())
}

func TestPeerStateIsCopy(t *testing.T) {
	link, radio, _ := newLink(t)
	radio.deliver(macInterior, frame(t, model.PeerInterior, 21, 40))

	state := link.PeerState(model.PeerInterior)
	state.Frame.Temperature = 99
	state.MAC[0] = 0

	again := link.PeerState(model.PeerInterior)
	assert.Equal(t, 21.0, again.Frame.Temperature)
	assert.Equal(t, macInterior.String(), again.MAC.String())
}

func TestLastWriterWins(t *testing.T) {
	link, radio, clock := newLink(t)
	radio.deliver(macInterior, frame(t, model.PeerInterior, 20, 40))
	clock.Advance(time.Second)
	radio.deliver(macInterior, frame(t, model.PeerInterior, 18, 41))

	state := link.PeerState(model.PeerInterior)
	assert.Equal(t, 18.0, state.Frame.Temperature)
	assert.Equal(t, clock.Now(), state.LastUpdate)
}

func TestUpdatesCoalesce(t *testing.T) {
	link, radio, _ := newLink(t)
	for i := 0; i < 5; i++ {
		radio.deliver(macExterior, frame(t, model.PeerExterior, float64(i), 50))
	}
	select {
	case <-link.Updates():
	default:
		t.Fatalf("Updates() has no notification")
	}
	select {
	case <-link.Updates():
		t.Errorf("Updates() notifications must coalesce")
	default:
	}
}

func TestRequestUpdate(t *testing.T) {
	link, radio, _ := newLink(t)
	require.NoError(t, link.RequestUpdate())
	require.Len(t, radio.sent, 2)
	assert.Equal(t, macInterior.String(), radio.sent[0].mac)
	assert.Equal(t, macExterior.String(), radio.sent[1].mac)
	assert.Equal(t, []byte{0xAA, 0x55}, radio.sent[0].payload)

	radio.fail = true
	assert.Error(t, link.RequestUpdate())
}
