package model

import (
	"net"
	"time"
)

// PeerState состояние узла: последний принятый кадр и время его приёма.
// Передаётся только копией
type PeerState struct {
	Peer PeerID
	// Кадр отсутствует до первого контакта
	Frame *TelemetryFrame
	// Монотонное время приёма последнего кадра
	LastUpdate time.Time
	// MAC-адрес отправителя последнего кадра
	MAC net.HardwareAddr
}

// HasFrame от узла был принят хотя бы один кадр
func (m PeerState) HasFrame() bool {
	return m.Frame != nil
}

// IsOnline узел на связи: с момента последнего кадра прошло строго меньше timeout
func (m PeerState) IsOnline(now time.Time, timeout time.Duration) bool {
	if m.Frame == nil {
		return false
	}
	return now.Sub(m.LastUpdate) < timeout
}

// Clone глубокая копия состояния
func (m PeerState) Clone() PeerState {
	res := m
	if m.Frame != nil {
		frame := *m.Frame
		res.Frame = &frame
	}
	if m.MAC != nil {
		res.MAC = append(net.HardwareAddr(nil), m.MAC...)
	}
	return res
}
