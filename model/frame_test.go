package model

import (
	"math"
	"testing"

	"github.com/juju/errors"
)

func testFrame(peer string) []byte {
	f := TelemetryFrame{
		Peer:        PeerExterior,
		Temperature: 21.5,
		Humidity:    48.25,
		Pressure:    1013.5,
		Light:       320,
		LinkQuality: -67,
		Timestamp:   123456,
	}
	raw, _ := f.MarshalBinary()
	for i := 0; i < nodeTypeLen; i++ {
		raw[i] = 0
	}
	copy(raw, peer)
	return raw
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		want     PeerID
		wantErr  bool
		wantCase error
	}{
		{"exterior", testFrame("exterior"), PeerExterior, false, nil},
		{"interior", testFrame("interior"), PeerInterior, false, nil},
		{"unknown node", testFrame("garage"), 0, true, ErrUnknownNode},
		{"empty node", testFrame(""), 0, true, ErrUnknownNode},
		{"short", make([]byte, FrameSize-1), 0, true, ErrFrameSize},
		{"long", make([]byte, FrameSize+1), 0, true, ErrFrameSize},
		{"nil", nil, 0, true, ErrFrameSize},
		{"max payload", make([]byte, MaxRadioPayload), 0, true, ErrFrameSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeFrame() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				if errors.Cause(err) != tt.wantCase {
					t.Errorf("DecodeFrame() cause = %v, want %v", errors.Cause(err), tt.wantCase)
				}
				return
			}
			if got.Peer != tt.want {
				t.Errorf("DecodeFrame() peer = %v, want %v", got.Peer, tt.want)
			}
			if got.Temperature != 21.5 || got.Humidity != 48.25 || got.Pressure != 1013.5 || got.Light != 320 {
				t.Errorf("DecodeFrame() values = %+v", got)
			}
			if got.LinkQuality != -67 || got.Timestamp != 123456 {
				t.Errorf("DecodeFrame() link = %d, ts = %d", got.LinkQuality, got.Timestamp)
			}
		})
	}
}

func TestDecodeFrameAllLengths(t *testing.T) {
	for n := 0; n <= MaxRadioPayload; n++ {
		if n == FrameSize {
			continue
		}
		if _, err := DecodeFrame(make([]byte, n)); errors.Cause(err) != ErrFrameSize {
			t.Errorf("DecodeFrame(len=%d) error = %v, want ErrFrameSize", n, err)
		}
	}
}

func TestParsePeerID(t *testing.T) {
	tests := []struct {
		name    string
		want    PeerID
		wantErr bool
	}{
		{"interior", PeerInterior, false},
		{"EXTERIOR", PeerExterior, false},
		{" exterior ", PeerExterior, false},
		{"attic", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePeerID(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePeerID(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePeerID(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPeerIDText(t *testing.T) {
	for _, id := range Peers {
		text, err := id.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var back PeerID
		if err := back.UnmarshalText(text); err != nil || back != id {
			t.Errorf("UnmarshalText(%s) = %v, %v", text, back, err)
		}
	}
	for _, id := range []PeerID{0, 9} {
		text, err := id.MarshalText()
		if err != nil || string(text) != "unknown" {
			t.Errorf("PeerID(%d).MarshalText() = %s, %v, want unknown", uint8(id), text, err)
		}
	}
}

func TestDecodeFrameNonFinite(t *testing.T) {
	tests := []struct {
		name  string
		frame TelemetryFrame
	}{
		{"nan temperature", TelemetryFrame{Peer: PeerExterior, Temperature: math.NaN()}},
		{"inf humidity", TelemetryFrame{Peer: PeerInterior, Humidity: math.Inf(1)}},
		{"-inf pressure", TelemetryFrame{Peer: PeerExterior, Pressure: math.Inf(-1)}},
		{"nan light", TelemetryFrame{Peer: PeerExterior, Light: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.frame.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}
			_, err = DecodeFrame(raw)
			if errors.Cause(err) != ErrFrameValue {
				t.Errorf("DecodeFrame() error = %v, want ErrFrameValue", err)
			}
		})
	}
}
