package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
)

// DeviceIDPlaceholder is replaced by the device ID in a topic template.
const DeviceIDPlaceholder = "{device_id}"

const (
	commandQoS            = 1
	defaultPublishTimeout = 10 * time.Second
)

// MQTTConfig configures the command channel connection.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicTemplate  string
	PublishTimeout time.Duration
}

// CommandPayload is the message body devices receive.
type CommandPayload struct {
	Command domain.Command `json:"command"`
}

// mqttClient is the subset of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes device commands with QoS 1.
type MQTTPublisher struct {
	client        mqttClient
	topicTemplate string
	timeout       time.Duration
	logger        *zap.Logger
}

// NewMQTTPublisher connects to the broker. The connection reconnects
// automatically after it is established.
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	connLog := logger.Named("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if cfg.PublishTimeout > 0 {
		opts.SetConnectTimeout(cfg.PublishTimeout)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		connLog.Warn("connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		connLog.Info("connected", zap.String("broker", cfg.Broker))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, token.Error())
	}

	return newMQTTPublisher(client, cfg.TopicTemplate, cfg.PublishTimeout, logger), nil
}

func newMQTTPublisher(client mqttClient, topicTemplate string, timeout time.Duration, logger *zap.Logger) *MQTTPublisher {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTPublisher{
		client:        client,
		topicTemplate: topicTemplate,
		timeout:       timeout,
		logger:        logger.Named("mqtt"),
	}
}

// Topic returns the command topic for deviceID.
func (p *MQTTPublisher) Topic(deviceID string) string {
	return CommandTopic(p.topicTemplate, deviceID)
}

// CommandTopic expands a topic template for deviceID.
func CommandTopic(template, deviceID string) string {
	return strings.ReplaceAll(template, DeviceIDPlaceholder, deviceID)
}

// Publish waits for the broker to acknowledge the message, the publish
// timeout, or ctx, whichever comes first.
func (p *MQTTPublisher) Publish(ctx context.Context, deviceID string, cmd domain.Command) error {
	body, err := json.Marshal(CommandPayload{Command: cmd})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	topic := p.Topic(deviceID)
	token := p.client.Publish(topic, commandQoS, false, body)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
	case <-timer.C:
		return fmt.Errorf("publish to %s: timed out after %s", topic, p.timeout)
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}

	p.logger.Debug("published", zap.String("topic", topic), zap.String("command", string(cmd)))
	return nil
}

// Connected reports whether the broker connection is currently up.
func (p *MQTTPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects, waiting up to 250ms for in-flight work.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
