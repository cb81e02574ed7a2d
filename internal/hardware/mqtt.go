package hardware

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"locker-reservation-backend/internal/model"
)

// Publisher is the part of an MQTT client the unlocker needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// MQTTUnlocker sends unlock commands to BLE bridges over MQTT.
type MQTTUnlocker struct {
	client Publisher
	qos    byte
}

// NewMQTTUnlocker creates an unlocker publishing with the given QoS.
func NewMQTTUnlocker(client Publisher, qos byte) *MQTTUnlocker {
	return &MQTTUnlocker{client: client, qos: qos}
}

// Unlock refuses devices whose last reported lock status is offline: the
// bridge would never deliver the command.
func (u *MQTTUnlocker) Unlock(ctx context.Context, device *model.Device) error {
	if device.LockStatus == model.LockOffline {
		return ErrOffline
	}
	addr, err := address[model.MQTTHardware](device)
	if err != nil {
		return err
	}
	payload, err := unlockPayload(device)
	if err != nil {
		return err
	}
	if err := u.client.Publish(ctx, addr.Topic, u.qos, payload); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", model.ErrHardwareFailed, addr.Topic, err)
	}
	return nil
}

// MQTTConfig holds the broker settings of MQTTClient.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// MQTTClient is a paho client that satisfies Publisher.
type MQTTClient struct {
	client  mqtt.Client
	timeout time.Duration
	log     *zap.Logger
}

// NewMQTTClient configures a reconnecting paho client. Call Connect before use.
func NewMQTTClient(cfg MQTTConfig, log *zap.Logger) *MQTTClient {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt client connected", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	return &MQTTClient{client: mqtt.NewClient(opts), timeout: cfg.Timeout, log: log}
}

// Connect establishes a connection to the MQTT broker.
func (c *MQTTClient) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Publish publishes payload and waits for the broker to acknowledge it or
// for ctx to end.
func (c *MQTTClient) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrOffline
	}
	token := c.client.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect disconnects from the MQTT broker.
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}
