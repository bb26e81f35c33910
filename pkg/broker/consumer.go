package broker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/LeonardoBeccarini/soilwatch/pkg/dedup"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one delivery. Errors are logged by the consumer.
type Handler func(topic string, message mqtt.Message) error

// IConsumer defines the subscription side of the link.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
	Resubscribe()
}

// Consumer holds the client and topic for subscribing
type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
	dedup   *dedup.Deduper

	mu     sync.Mutex
	active bool
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// WithDeduper drops broker redeliveries (DUP flag) already seen within the deduper TTL.
func (c *Consumer) WithDeduper(d *dedup.Deduper) *Consumer {
	c.dedup = d
	return c
}

func (c *Consumer) onMessage(_ mqtt.Client, message mqtt.Message) {
	if c.handler == nil {
		log.Printf("broker: no handler set for topic %s", c.topic)
		return
	}
	if c.dedup != nil && message.Duplicate() {
		key := fmt.Sprintf("%s|%d", message.Topic(), message.MessageID())
		if !c.dedup.ShouldProcess(key) {
			return
		}
	}
	if err := c.handler(c.topic, message); err != nil {
		log.Printf("broker: error handling message on %s: %v", c.topic, err)
	}
}

func (c *Consumer) subscribe() error {
	token := c.client.Subscribe(c.topic, c.qos, c.onMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, token.Error())
	}
	log.Printf("broker: subscribed to topic %s", c.topic)
	return nil
}

// ConsumeMessage subscribes to the topic and blocks until ctx is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	if err := c.subscribe(); err != nil {
		return err
	}
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	<-ctx.Done()

	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	if c.client.IsConnectionOpen() {
		c.client.Unsubscribe(c.topic).Wait()
	}
	return nil
}

// Resubscribe re-issues the subscription after a reconnect with a clean session.
// It is a no-op until ConsumeMessage has subscribed once.
func (c *Consumer) Resubscribe() {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}
	go func() {
		if err := c.subscribe(); err != nil {
			log.Printf("broker: resubscribe failed: %v", err)
		}
	}()
}
