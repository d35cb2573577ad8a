// Package mqtt mirrors telemetry batches to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"substation-sim/internal/config"
	"substation-sim/internal/sensor"
	"substation-sim/internal/transmit"
)

const publishTimeout = 5 * time.Second

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

type Client struct {
	client    paho.Client
	cfg       config.Config
	logger    *slog.Logger
	now       func() time.Time
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Status is the retained device presence message. LastSeen is absent from
// the last will, which the broker sends on our behalf.
type Status struct {
	Device   string     `json:"device"`
	Location string     `json:"location"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// The broker flips the retained status to offline if we vanish.
	if will, err := willPayload(cfg); err == nil {
		opts.SetWill(StatusTopic(cfg.MQTTTopic), string(will), 1, true)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect waits for the initial broker connection. It returns early when ctx
// is done or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish sends one tick's readings to the telemetry topic using the same
// batch document the collector receives.
func (c *Client) Publish(_ context.Context, readings []sensor.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	batch := transmit.NewBatch(c.cfg.DeviceID, c.cfg.DeviceLocation, c.now(), readings)
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	topic := c.cfg.MQTTTopic
	if err := c.publish(topic, false, data); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	c.logger.Debug("published telemetry", "topic", topic, "readings", len(readings))
	return nil
}

// PublishStatus updates the retained presence message.
func (c *Client) PublishStatus(online bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	seen := c.now().UTC()
	st := Status{
		Device:   c.cfg.DeviceID,
		Location: c.cfg.DeviceLocation,
		Online:   online,
		LastSeen: &seen,
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	topic := StatusTopic(c.cfg.MQTTTopic)
	if err := c.publish(topic, true, data); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	c.logger.Debug("published status", "topic", topic, "online", online)
	return nil
}

// onConnect runs on every successful (re)connect, on its own goroutine. A
// reconnect usually follows the broker publishing our will, so presence is
// republished each time.
func (c *Client) onConnect(_ paho.Client) {
	c.setConnected(true)
	c.logger.Info("mqtt connected", "broker", c.cfg.MQTTBroker, "port", c.cfg.MQTTPort)

	if err := c.PublishStatus(true); err != nil {
		c.logger.Warn("mqtt status publish failed", "error", err)
	}
}

func willPayload(cfg config.Config) ([]byte, error) {
	return json.Marshal(Status{Device: cfg.DeviceID, Location: cfg.DeviceLocation})
}

func (c *Client) publish(topic string, retained bool, data []byte) error {
	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		c.logger.Error("mqtt publish failed", "topic", topic, "error", err)
		return err
	}
	return nil
}

// StatusTopic derives the presence topic from the telemetry topic by
// replacing its last level with "status".
func StatusTopic(telemetryTopic string) string {
	if i := strings.LastIndex(telemetryTopic, "/"); i >= 0 {
		return telemetryTopic[:i] + "/status"
	}
	return telemetryTopic + "/status"
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the broker connection. Idempotent;
// Connect returns ErrStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
