package broker

import (
	"errors"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("publish timed out")

// IPublisher defines the outbound side of the link.
type IPublisher interface {
	PublishMessage(message string) error
	PublishAsync(message string, onErr func(error))
}

// Publisher holds the client and topic for publishing messages
type Publisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: 5 * time.Second,
	}
}

// PublishMessage publishes and waits for the token, bounded by the publisher timeout.
func (p *Publisher) PublishMessage(message string) error {
	token := p.client.Publish(p.topic, p.qos, false, message)
	if !token.WaitTimeout(p.timeout) {
		return ErrPublishTimeout
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}
	log.Printf("broker: message '%s' published to topic '%s'", message, p.topic)
	return nil
}

// PublishAsync hands the message to the client and returns immediately.
// onErr, when set, is called from a background goroutine if delivery to the
// broker fails or times out.
func (p *Publisher) PublishAsync(message string, onErr func(error)) {
	token := p.client.Publish(p.topic, p.qos, false, message)
	go func() {
		var err error
		if !token.WaitTimeout(p.timeout) {
			err = ErrPublishTimeout
		} else if token.Error() != nil {
			err = token.Error()
		}
		if err == nil {
			log.Printf("broker: message '%s' published to topic '%s'", message, p.topic)
			return
		}
		log.Printf("broker: publish '%s' to '%s' failed: %v", message, p.topic, err)
		if onErr != nil {
			onErr(err)
		}
	}()
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string { return p.topic }
