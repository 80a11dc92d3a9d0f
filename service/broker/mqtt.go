package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/validator"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	Topic          = "meteohub/snapshot"
	ClientPrefix   = "meteohub"
	DialTimeout    = 5 * time.Second
	KeepAlive      = 30 // Секунд
	ContentType    = "application/json"
	defaultPort    = "1883"
	defaultTLSPort = "8883"
)

// PahoClient используемая часть клиента paho
type PahoClient interface {
	Connect(ctx context.Context, cp *paho.Connect) (*paho.Connack, error)
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(d *paho.Disconnect) error
}

// Mqtt публикация снимков состояния в MQTT брокер. Инициализируется через NewMqtt.
// Подключение устанавливается при первой публикации и восстанавливается после ошибки
type Mqtt struct {
	log      *logrus.Entry
	url      *url.URL
	topic    string
	clientID string
	factory  func(context.Context, paho.ClientConfig) (PahoClient, error)

	mu     sync.Mutex
	client PahoClient
	// Соединение потеряно, клиент нужно пересоздать
	lost atomic.Bool
}

// ConfigMqtt конфигурация Mqtt
type ConfigMqtt struct {
	Log *logrus.Logger
	// Адрес брокера, например mqtt://127.0.0.1:1883
	Broker       string
	Topic        string
	ClientPrefix string
	// Создание клиента. По умолчанию подключение по TCP или TLS к Broker
	Factory func(context.Context, paho.ClientConfig) (PahoClient, error)
}

// Address адрес брокера
type Address struct {
	Broker string `conform:"trim" validate:"required,mqtturl"`
}

// NewMqtt конструктор Mqtt
func NewMqtt(config *ConfigMqtt) (*Mqtt, error) {
	if config == nil {
		return nil, errors.New("не задана конфигурация config")
	}
	address := Address{Broker: config.Broker}
	if err := validator.Get().ValidateWithConform(&address); err != nil {
		return nil, errors.Annotate(err, "некорректный адрес брокера")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	broker, err := url.Parse(address.Broker)
	if err != nil {
		return nil, errors.Trace(err)
	}

	prefix := ClientPrefix
	if config.ClientPrefix != "" {
		prefix = config.ClientPrefix
	}
	res := Mqtt{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "broker",
			"scope":  "service",
			"broker": broker.Host,
		}),
		url:      broker,
		topic:    Topic,
		clientID: prefix + "-" + uuid.NewString(),
	}
	res.factory = res.dial
	if config.Topic != "" {
		res.topic = config.Topic
	}
	if config.Factory != nil {
		res.factory = config.Factory
	}

	return &res, nil
}

// Name имя потребителя снимков
func (m *Mqtt) Name() string {
	return "mqtt"
}

// ClientID идентификатор клиента
func (m *Mqtt) ClientID() string {
	return m.clientID
}

// Publish публикует снимок в топик с флагом retain
func (m *Mqtt) Publish(ctx context.Context, snap *model.SystemSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Trace(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lost.Swap(false) {
		m.reset()
	}
	if m.client == nil {
		if err := m.connect(ctx); err != nil {
			return errors.Trace(err)
		}
	}

	_, err = m.client.Publish(ctx, &paho.Publish{
		QoS:     0,
		Retain:  true,
		Topic:   m.topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: ContentType,
		},
	})
	if err != nil {
		m.log.Warnf("публикация снимка %d не выполнена: %v", snap.Version, err)
		m.reset()
		return errors.Trace(err)
	}
	return nil
}

// Close отключается от брокера
func (m *Mqtt) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	m.client = nil
	return errors.Trace(err)
}

func (m *Mqtt) connect(ctx context.Context) error {
	client, err := m.factory(ctx, paho.ClientConfig{
		ClientID: m.clientID,
		OnClientError: func(err error) {
			m.log.Warnf("ошибка клиента: %v", err)
			m.lost.Store(true)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			m.log.Warnf("брокер разорвал соединение, код %d", d.ReasonCode)
			m.lost.Store(true)
		},
	})
	if err != nil {
		return errors.Annotate(err, "подключение к брокеру")
	}

	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   m.clientID,
		KeepAlive:  KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		_ = client.Disconnect(&paho.Disconnect{})
		return errors.Annotate(err, "подключение к брокеру")
	}
	if ack != nil && ack.ReasonCode != 0 {
		_ = client.Disconnect(&paho.Disconnect{})
		return errors.Errorf("брокер отклонил подключение, код %d", ack.ReasonCode)
	}
	m.client = client
	m.log.Infof("подключение к брокеру установлено, клиент %s", m.clientID)
	return nil
}

func (m *Mqtt) reset() {
	if m.client != nil {
		_ = m.client.Disconnect(&paho.Disconnect{})
	}
	m.client = nil
}

// Подключение по TCP или TLS
func (m *Mqtt) dial(ctx context.Context, config paho.ClientConfig) (PahoClient, error) {
	host := m.url.Host
	secure := m.url.Scheme == "mqtts" || m.url.Scheme == "ssl"
	if m.url.Port() == "" {
		port := defaultPort
		if secure {
			port = defaultTLSPort
		}
		host = net.JoinHostPort(m.url.Hostname(), port)
	}

	dialer := &net.Dialer{Timeout: DialTimeout}
	var conn net.Conn
	var err error
	if secure {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: m.url.Hostname()}}).DialContext(ctx, "tcp", host)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", host)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	config.Conn = conn
	return paho.NewClient(config), nil
}
