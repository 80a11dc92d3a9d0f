package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/kirsrus/meteohub/model"

	"github.com/eclipse/paho.golang/paho"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu           sync.Mutex
	published    []*paho.Publish
	failPublish  bool
	disconnected int
}

func (f *fakeClient) Connect(_ context.Context, _ *paho.Connect) (*paho.Connack, error) {
	return &paho.Connack{}, nil
}

func (f *fakeClient) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPublish {
		return nil, errors.New("соединение разорвано")
	}
	f.published = append(f.published, p)
	return &paho.PublishResponse{}, nil
}

func (f *fakeClient) Disconnect(_ *paho.Disconnect) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected++
	return nil
}

type factory struct {
	clients []*fakeClient
	configs []paho.ClientConfig
	fail    bool
}

func (f *factory) create(_ context.Context, config paho.ClientConfig) (PahoClient, error) {
	if f.fail {
		return nil, errors.New("брокер недоступен")
	}
	c := &fakeClient{}
	f.clients = append(f.clients, c)
	f.configs = append(f.configs, config)
	return c, nil
}

func TestNewMqtt(t *testing.T) {
	tests := []struct {
		name    string
		config  *ConfigMqtt
		wantErr bool
	}{
		{"корректный", &ConfigMqtt{Broker: "mqtt://127.0.0.1:1883"}, false},
		{"tls", &ConfigMqtt{Broker: " mqtts://broker.local "}, false},
		{"без конфигурации", nil, true},
		{"http", &ConfigMqtt{Broker: "http://127.0.0.1"}, true},
		{"пустой", &ConfigMqtt{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMqtt(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMqtt() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublish(t *testing.T) {
	f := &factory{}
	m, err := NewMqtt(&ConfigMqtt{Broker: "mqtt://127.0.0.1:1883", Topic: "home/weather", Factory: f.create})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(m.ClientID(), "meteohub-"))

	snap := &model.SystemSnapshot{Version: 5, StorageReady: true}
	require.NoError(t, m.Publish(context.Background(), snap))
	require.NoError(t, m.Publish(context.Background(), snap))

	require.Len(t, f.clients, 1, "подключение переиспользуется")
	assert.Equal(t, m.ClientID(), f.configs[0].ClientID)
	require.Len(t, f.clients[0].published, 2)

	p := f.clients[0].published[0]
	assert.Equal(t, "home/weather", p.Topic)
	assert.True(t, p.Retain)
	var got model.SystemSnapshot
	require.NoError(t, json.Unmarshal(p.Payload, &got))
	assert.Equal(t, uint64(5), got.Version)

	require.NoError(t, m.Close())
	assert.Equal(t, 1, f.clients[0].disconnected)
}

func TestPublishReconnect(t *testing.T) {
	f := &factory{}
	m, err := NewMqtt(&ConfigMqtt{Broker: "mqtt://127.0.0.1:1883", Factory: f.create})
	require.NoError(t, err)

	snap := &model.SystemSnapshot{Version: 1}
	require.NoError(t, m.Publish(context.Background(), snap))
	f.clients[0].failPublish = true
	assert.Error(t, m.Publish(context.Background(), snap))

	require.NoError(t, m.Publish(context.Background(), snap))
	assert.Len(t, f.clients, 2)

	// Потеря соединения, о которой сообщил клиент paho
	f.configs[1].OnClientError(errors.New("keepalive"))
	require.NoError(t, m.Publish(context.Background(), snap))
	assert.Len(t, f.clients, 3)

	f.fail = true
	f.configs[2].OnServerDisconnect(&paho.Disconnect{ReasonCode: 0x8b})
	assert.Error(t, m.Publish(context.Background(), snap))
}
