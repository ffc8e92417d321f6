// Package publish forwards accepted advertising packets to an MQTT broker.
package publish

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/blerx/internal/advdata"
	"github.com/banshee-data/blerx/internal/ble"
	"github.com/banshee-data/blerx/internal/monitoring"
)

// ErrNotConnected is returned when publishing while the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

// DefaultTimeout bounds how long Publish waits for the broker.
const DefaultTimeout = 2 * time.Second

// Config describes the broker connection.
type Config struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	Retain      bool
	Timeout     time.Duration
}

// Client is the subset of mqtt.Client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Message is the JSON document published per packet.
type Message struct {
	Address     ble.Address  `json:"address"`
	PDUType     ble.PDUType  `json:"pdu_type"`
	TxAdd       bool         `json:"tx_add"`
	Channel     uint8        `json:"channel"`
	Length      int          `json:"length"`
	Payload     string       `json:"payload"`
	SampleIndex uint64       `json:"sample_index"`
	Timestamp   time.Time    `json:"timestamp"`
	Adv         advdata.Info `json:"adv"`
}

// NewMessage builds the published document for r.
func NewMessage(r ble.Record, at time.Time) Message {
	info, _ := advdata.Decode(r.AdvData())
	return Message{
		Address:     r.Address,
		PDUType:     r.PDUType,
		TxAdd:       r.TxAdd,
		Channel:     r.Channel,
		Length:      r.Length,
		Payload:     hex.EncodeToString(r.Payload),
		SampleIndex: r.SampleIndex,
		Timestamp:   at,
		Adv:         info,
	}
}

// Publisher publishes one message per packet on <prefix>/<address>.
type Publisher struct {
	client Client
	cfg    Config
	sent   atomic.Uint64
	failed atomic.Uint64
}

// generateClientID creates a random MQTT client ID
func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "blerx_" + hex.EncodeToString(b)
}

// Connect dials the broker and returns a publisher using it.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID == "" {
		cfg.ClientID = generateClientID()
	}
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("mqtt: connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// With ConnectRetry the token only completes once connected; a timeout leaves the
	// client retrying in the background.
	if token.WaitTimeout(timeout) && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client Client, cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "blerx"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Publisher{client: client, cfg: cfg}
}

// Topic returns the topic a record for addr is published on.
func (p *Publisher) Topic(addr ble.Address) string {
	return p.cfg.TopicPrefix + "/" + addr.String()
}

// Publish sends r and waits up to the configured timeout for the broker.
func (p *Publisher) Publish(r ble.Record, at time.Time) error {
	if !p.client.IsConnected() {
		p.failed.Add(1)
		return ErrNotConnected
	}
	data, err := json.Marshal(NewMessage(r, at))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	topic := p.Topic(r.Address)
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, data)
	if !token.WaitTimeout(p.cfg.Timeout) {
		p.failed.Add(1)
		return fmt.Errorf("publish to %s: timed out after %s", topic, p.cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.sent.Add(1)
	return nil
}

// Counts returns the number of published and failed messages.
func (p *Publisher) Counts() (sent, failed uint64) {
	return p.sent.Load(), p.failed.Load()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		monitoring.Logf("mqtt: disconnected from %s", p.cfg.Broker)
	}
}
