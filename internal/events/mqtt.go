package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const publishQoS byte = 1

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTNotifier publishes events as JSON to <prefix>/tasks/<id> or <prefix>/orders/<id>.
type MQTTNotifier struct {
	client  mqttPublisher
	prefix  string
	timeout time.Duration
	logger  logrus.FieldLogger
}

// NewMQTTNotifier wraps a connected MQTT client.
func NewMQTTNotifier(client mqttPublisher, prefix string, logger logrus.FieldLogger) *MQTTNotifier {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "fleet"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MQTTNotifier{
		client:  client,
		prefix:  prefix,
		timeout: 5 * time.Second,
		logger:  logger.WithField("component", "mqtt"),
	}
}

// ConnectMQTT dials the broker and waits for the connection to complete.
func ConnectMQTT(brokerURL, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", brokerURL, err)
	}
	return client, nil
}

// Topic returns the topic an event is published on.
func (n *MQTTNotifier) Topic(evt Event) string {
	kind := "tasks"
	if strings.HasPrefix(evt.Type, "order.") {
		kind = "orders"
	}
	return fmt.Sprintf("%s/%s/%s", n.prefix, kind, evt.SubjectID)
}

// Publish implements Notifier.
func (n *MQTTNotifier) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", evt.Type, err)
	}

	topic := n.Topic(evt)
	token := n.client.Publish(topic, publishQoS, false, payload)

	timeout := n.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s to %s timed out", evt.Type, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Type, topic, err)
	}

	n.logger.WithFields(logrus.Fields{"topic": topic, "type": evt.Type}).Debug("event published")
	return nil
}
