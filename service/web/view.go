package web

import (
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/store"
)

// NodeView состояние удалённого узла для /api/nodes
type NodeView struct {
	Name   string `json:"name"`
	MAC    string `json:"mac"`
	Online bool   `json:"online"`
	RSSI   int32  `json:"rssi"`
	// Время последнего кадра, мс монотонного времени процесса
	LastPacketMs int64 `json:"last_packet"`
	// Последний кадр по данным архива
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// StatusView состояние узла для /api/status
type StatusView struct {
	UptimeMs     int64  `json:"uptime"`
	Version      uint64 `json:"snapshot_version"`
	Goroutines   int    `json:"goroutines"`
	Clients      int    `json:"ws_clients"`
	PeersOnline  int    `json:"peers_online"`
	StorageReady bool   `json:"storage_ready"`

	// Связь с радиошлюзом установлена
	GatewayConnected bool           `json:"gateway_connected"`
	Storage          store.LogStats `json:"storage"`
}

// ReadingView показания одного места для /api/sensors
type ReadingView struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Light       *float64 `json:"light,omitempty"`
	IAQ         *int     `json:"iaq,omitempty"`
}

// SensorsView текущие показания для /api/sensors. Узлы не на связи не выводятся
type SensorsView struct {
	IndoorMain      *ReadingView `json:"indoor_main,omitempty"`
	IndoorSecondary *ReadingView `json:"indoor_secondary,omitempty"`
	Outdoor         *ReadingView `json:"outdoor,omitempty"`
}

func sensorsView(snap *model.SystemSnapshot) SensorsView {
	var res SensorsView
	if local := snap.Local; local != nil {
		pressure, iaq := local.Pressure, local.IAQ
		res.IndoorMain = &ReadingView{
			Temperature: local.Temperature,
			Humidity:    local.Humidity,
			Pressure:    &pressure,
			IAQ:         &iaq,
		}
	}
	if view := snap.Interior; view.Online && view.Frame != nil {
		res.IndoorSecondary = &ReadingView{
			Temperature: view.Frame.Temperature,
			Humidity:    view.Frame.Humidity,
		}
	}
	if view := snap.Exterior; view.Online && view.Frame != nil {
		pressure, light := view.Frame.Pressure, view.Frame.Light
		res.Outdoor = &ReadingView{
			Temperature: view.Frame.Temperature,
			Humidity:    view.Frame.Humidity,
			Pressure:    &pressure,
			Light:       &light,
		}
	}
	return res
}
