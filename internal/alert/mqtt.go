package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig selects the broker and topic prefix.
type MQTTConfig struct {
	Broker   string // host:port
	ClientID string
	Username string
	Password string
	// TopicPrefix defaults to "motionguard"; alerts go to <prefix>/alerts.
	TopicPrefix string
	QoS         byte
}

// Publisher publishes one payload. The paho client satisfies it through
// pahoPublisher.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// MQTTChannel publishes a JSON alert event for home automation.
type MQTTChannel struct {
	cfg MQTTConfig

	mu  sync.Mutex
	pub Publisher
}

var _ Channel = (*MQTTChannel)(nil)

// NewMQTTChannel returns a channel that connects lazily on first send.
func NewMQTTChannel(cfg MQTTConfig) *MQTTChannel {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "motionguard"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "motionguard-" + uuid.NewString()[:8]
	}
	return &MQTTChannel{cfg: cfg}
}

// WithPublisher replaces the broker connection.
func (c *MQTTChannel) WithPublisher(p Publisher) *MQTTChannel {
	c.mu.Lock()
	c.pub = p
	c.mu.Unlock()
	return c
}

func (c *MQTTChannel) Name() string { return "mqtt" }

func (c *MQTTChannel) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Broker != "" || c.pub != nil
}

// Topic returns the alert topic.
func (c *MQTTChannel) Topic() string {
	return strings.TrimRight(c.cfg.TopicPrefix, "/") + "/alerts"
}

// alertEvent is the published payload.
type alertEvent struct {
	Type       string  `json:"type"`
	Identity   string  `json:"identity,omitempty"`
	Score      float64 `json:"score"`
	Image      string  `json:"image"`
	DetectedAt string  `json:"detected_at"`
}

func buildAlertEvent(a Alert) ([]byte, error) {
	return json.Marshal(alertEvent{
		Type:       "intruder",
		Identity:   a.Identity,
		Score:      a.Score,
		Image:      a.ImagePath,
		DetectedAt: a.DetectedAt.UTC().Format(time.RFC3339),
	})
}

func (c *MQTTChannel) Send(ctx context.Context, a Alert) error {
	payload, err := buildAlertEvent(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	pub, err := c.publisher()
	if err != nil {
		return err
	}
	return pub.Publish(ctx, c.Topic(), c.cfg.QoS, payload)
}

// Close disconnects from the broker if connected.
func (c *MQTTChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pub.(*pahoPublisher); ok {
		p.client.Disconnect(250)
		c.pub = nil
	}
}

func (c *MQTTChannel) publisher() (Publisher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pub != nil {
		return c.pub, nil
	}
	p, err := connectPaho(c.cfg)
	if err != nil {
		return nil, err
	}
	c.pub = p
	return p, nil
}

type pahoPublisher struct {
	client mqtt.Client
}

func connectPaho(cfg MQTTConfig) (*pahoPublisher, error) {
	opts := mqtt.NewClientOptions()
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	slog.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return errors.New("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}
