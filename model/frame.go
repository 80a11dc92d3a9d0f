package model

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"github.com/juju/errors"
)

const (
	// Длинна поля типа узла в кадре
	nodeTypeLen = 16
	// FrameSize точный размер кадра телеметрии в байтах
	FrameSize = nodeTypeLen + 4*4 + 4 + 4
	// MaxRadioPayload предел полезной нагрузки радиоканала
	MaxRadioPayload = 250
)

var (
	// ErrFrameSize длинна кадра не совпадает с FrameSize
	ErrFrameSize = errors.New("некорректная длинна кадра телеметрии")
	// ErrUnknownNode в кадре указан неизвестный тип узла
	ErrUnknownNode = errors.New("неизвестный тип узла")
	// ErrFrameValue в кадре NaN или бесконечность
	ErrFrameValue = errors.New("недопустимое значение в кадре телеметрии")
)

// PeerID идентификатор удалённого узла. Закрытое перечисление
type PeerID uint8

const (
	// PeerInterior внутренний узел (комната)
	PeerInterior PeerID = iota + 1
	// PeerExterior внешний узел (улица)
	PeerExterior
)

// Peers все известные узлы
var Peers = []PeerID{PeerInterior, PeerExterior}

// String имя узла, совпадающее с его именем в кадре
func (m PeerID) String() string {
	switch m {
	case PeerInterior:
		return "interior"
	case PeerExterior:
		return "exterior"
	}
	return "unknown"
}

// Valid узел входит в перечисление
func (m PeerID) Valid() bool {
	return m == PeerInterior || m == PeerExterior
}

// MarshalText кодирование в имя узла. Код вне перечисления кодируется как "unknown"
func (m PeerID) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText декодирование из имени узла. "unknown" и пустая строка дают нулевой код
func (m *PeerID) UnmarshalText(text []byte) error {
	if name := string(text); name == "" || name == PeerID(0).String() {
		*m = 0
		return nil
	}
	id, err := ParsePeerID(string(text))
	if err != nil {
		return errors.Trace(err)
	}
	*m = id
	return nil
}

// ParsePeerID разбор имени узла
func ParsePeerID(name string) (PeerID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "interior":
		return PeerInterior, nil
	case "exterior":
		return PeerExterior, nil
	}
	return 0, errors.Annotatef(ErrUnknownNode, "\"%s\"", name)
}

// TelemetryFrame кадр телеметрии от удалённого узла. После создания не изменяется.
// Давление и освещённость заполняет только внешний узел
type TelemetryFrame struct {
	Peer        PeerID  `json:"peer"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Light       float64 `json:"light"`
	// Уровень сигнала (RSSI), измеренный узлом
	LinkQuality int32 `json:"link_quality"`
	// Отметка времени узла (millis() узла)
	Timestamp uint32 `json:"timestamp"`
}

// DecodeFrame разбор кадра из сырых байт. Кадр принимается только при длинне ровно FrameSize
func DecodeFrame(raw []byte) (TelemetryFrame, error) {
	if len(raw) != FrameSize {
		return TelemetryFrame{}, errors.Annotatef(ErrFrameSize, "получено %d байт, ожидается %d", len(raw), FrameSize)
	}

	name := raw[:nodeTypeLen]
	if idx := bytes.IndexByte(name, 0); idx >= 0 {
		name = name[:idx]
	}
	peer, err := ParsePeerID(string(name))
	if err != nil {
		return TelemetryFrame{}, errors.Trace(err)
	}

	le := binary.LittleEndian
	body := raw[nodeTypeLen:]
	frame := TelemetryFrame{
		Peer:        peer,
		Temperature: float64(math.Float32frombits(le.Uint32(body[0:4]))),
		Humidity:    float64(math.Float32frombits(le.Uint32(body[4:8]))),
		Pressure:    float64(math.Float32frombits(le.Uint32(body[8:12]))),
		Light:       float64(math.Float32frombits(le.Uint32(body[12:16]))),
		LinkQuality: int32(le.Uint32(body[16:20])),
		Timestamp:   le.Uint32(body[20:24]),
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"temperature", frame.Temperature},
		{"humidity", frame.Humidity},
		{"pressure", frame.Pressure},
		{"light", frame.Light},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return TelemetryFrame{}, errors.Annotatef(ErrFrameValue, "%s = %v", f.name, f.value)
		}
	}
	return frame, nil
}

// MarshalBinary кодирование кадра в формат радиоканала
func (m TelemetryFrame) MarshalBinary() ([]byte, error) {
	if !m.Peer.Valid() {
		return nil, errors.Annotatef(ErrUnknownNode, "код %d", uint8(m.Peer))
	}
	raw := make([]byte, FrameSize)
	copy(raw[:nodeTypeLen], m.Peer.String())

	le := binary.LittleEndian
	body := raw[nodeTypeLen:]
	le.PutUint32(body[0:4], math.Float32bits(float32(m.Temperature)))
	le.PutUint32(body[4:8], math.Float32bits(float32(m.Humidity)))
	le.PutUint32(body[8:12], math.Float32bits(float32(m.Pressure)))
	le.PutUint32(body[12:16], math.Float32bits(float32(m.Light)))
	le.PutUint32(body[16:20], uint32(m.LinkQuality))
	le.PutUint32(body[20:24], m.Timestamp)
	return raw, nil
}
