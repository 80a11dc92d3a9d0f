package model

import "time"

// PeerView данные узла в снимке состояния
type PeerView struct {
	Peer   PeerID          `json:"peer"`
	Online bool            `json:"online"`
	Frame  *TelemetryFrame `json:"frame,omitempty"`
	// Время последнего кадра, мс монотонного времени процесса. Ноль до первого контакта
	LastUpdateMs int64  `json:"last_update_ms"`
	MAC          string `json:"mac,omitempty"`
}

// Alerts флаги превышения порогов
type Alerts struct {
	HighTemperature bool `json:"high_temperature"`
	HighHumidity    bool `json:"high_humidity"`
	PressureDrop    bool `json:"pressure_drop"`
	PoorAirQuality  bool `json:"poor_air_quality"`
}

// Any установлен хотя бы один флаг
func (m Alerts) Any() bool {
	return m.HighTemperature || m.HighHumidity || m.PressureDrop || m.PoorAirQuality
}

// SystemSnapshot согласованное состояние системы на момент публикации.
// После публикации не изменяется
type SystemSnapshot struct {
	Version uint64 `json:"version"`
	// Монотонное время формирования, мс от старта процесса
	GeneratedAtMs int64     `json:"generated_at_ms"`
	GeneratedAt   time.Time `json:"generated_at"`

	Local    *LocalReading `json:"local,omitempty"`
	Interior PeerView      `json:"interior"`
	Exterior PeerView      `json:"exterior"`

	Inference Inference `json:"inference"`
	Weather   *Weather  `json:"weather,omitempty"`

	StorageReady bool   `json:"storage_ready"`
	Alerts       Alerts `json:"alerts"`
}

// Peer данные узла по идентификатору
func (m *SystemSnapshot) Peer(id PeerID) PeerView {
	if id == PeerExterior {
		return m.Exterior
	}
	return m.Interior
}
