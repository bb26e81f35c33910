package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	KeepAlive      time.Duration
	MaxReconnect   time.Duration // intervallo massimo tra tentativi di riconnessione
	ConnectRetries int
}

// Hooks receives link transitions. Every callback is optional and runs on a
// paho goroutine, so it must not block.
type Hooks struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnReconnecting   func()
}

// BrokerURL returns the tcp:// address for cfg.
func (cfg *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
}

func NewConn(ctx context.Context, cfg *Config, hooks Hooks) (mqtt.Client, error) {
	connAddr := cfg.BrokerURL()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.MaxReconnect > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxReconnect)
	} else {
		opts.SetMaxReconnectInterval(30 * time.Second)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("broker: connected to %s", connAddr)
		if hooks.OnConnect != nil {
			hooks.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("broker: connection lost: %v", err)
		if hooks.OnConnectionLost != nil {
			hooks.OnConnectionLost(err)
		}
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Printf("broker: reconnecting to %s", connAddr)
		if hooks.OnReconnecting != nil {
			hooks.OnReconnecting()
		}
	})

	// Exponential backoff per le retry in caso di fail
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	maxRetries := cfg.ConnectRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("broker: failed to connect to %s: %v", connAddr, token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	go func() {
		<-ctx.Done()
		CloseConn(client)
	}()

	return client, nil
}

func CloseConn(client mqtt.Client) {
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Println("broker: MQTT connection closed")
	}
}
