package broker

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one delivered message.
type Handler func(topic string, message mqtt.Message) error

// Consumer holds the client, topic and handler for one subscription.
type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
	logger  *zap.Logger
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{client: client, topic: topic, qos: qos, handler: handler, logger: logger}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// Subscribe (re)registers the subscription. Safe to call from an OnConnect hook.
func (c *Consumer) Subscribe() error {
	token := c.client.Subscribe(c.topic, c.qos, c.dispatch)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, token.Error())
	}
	c.logger.Info("subscribed", zap.String("topic", c.topic), zap.Uint8("qos", c.qos))
	return nil
}

func (c *Consumer) dispatch(_ mqtt.Client, message mqtt.Message) {
	if c.handler == nil {
		c.logger.Warn("no handler set", zap.String("topic", c.topic))
		return
	}
	if err := c.handler(c.topic, message); err != nil {
		c.logger.Warn("error handling message", zap.String("topic", message.Topic()), zap.Error(err))
	}
}

// ConsumeMessage blocks until ctx is cancelled, then unsubscribes.
// The subscription itself is made by Subscribe.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	<-ctx.Done()
	if c.client.IsConnectionOpen() {
		c.client.Unsubscribe(c.topic).Wait()
	}
}
