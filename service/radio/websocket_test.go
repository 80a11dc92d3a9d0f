package radio

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebsocket(t *testing.T) {
	tests := []struct {
		name    string
		config  *ConfigWebsocket
		wantErr bool
	}{
		{"корректный", &ConfigWebsocket{URL: "ws://192.168.10.10:8000/radio"}, false},
		{"без конфигурации", nil, true},
		{"не корректный по URL", &ConfigWebsocket{URL: "http://192.168.10.10:8000/radio"}, true},
		{"пустой URL", &ConfigWebsocket{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_, err := NewWebsocket(ctx, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWebsocket() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Шлюз: отправляет кадр при подключении и возвращает принятые сообщения в канал
func gateway(t *testing.T, greeting []byte, received chan<- []byte) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		_ = conn.WriteMessage(websocket.BinaryMessage, greeting)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}))
}

func TestWebsocketExchange(t *testing.T) {
	mac := net.HardwareAddr{0x24, 0x6f, 0x28, 0, 0, 1}
	greeting := append(append([]byte(nil), mac...), []byte("frame")...)
	received := make(chan []byte, 4)
	srv := gateway(t, greeting, received)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type frame struct {
		mac     string
		payload string
	}
	frames := make(chan frame, 4)

	ws, err := NewWebsocket(ctx, &ConfigWebsocket{
		URL:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	ws.Bind(func(mac net.HardwareAddr, payload []byte) {
		frames <- frame{mac.String(), string(payload)}
	})

	select {
	case f := <-frames:
		assert.Equal(t, mac.String(), f.mac)
		assert.Equal(t, "frame", f.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("кадр от шлюза не получен")
	}

	require.Eventually(t, ws.Connected, time.Second, 5*time.Millisecond)
	require.NoError(t, ws.Send(mac, []byte{0xAA, 0x55}))
	select {
	case msg := <-received:
		assert.Equal(t, append(append([]byte(nil), mac...), 0xAA, 0x55), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("кадр до шлюза не дошёл")
	}

	assert.Error(t, ws.Send(net.HardwareAddr{1, 2}, []byte{1}))
	assert.Error(t, ws.Send(mac, nil))
	assert.Error(t, ws.Send(mac, make([]byte, 251)))
}

func TestSendWithoutConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws, err := NewWebsocket(ctx, &ConfigWebsocket{URL: "ws://127.0.0.1:1/radio", ReconnectTimeout: time.Hour})
	require.NoError(t, err)
	err = ws.Send(net.HardwareAddr{1, 2, 3, 4, 5, 6}, []byte{0xAA, 0x55})
	assert.Error(t, err)
}
