package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agrosmart/internal/log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrPublishTimeout is returned when the broker does not confirm in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// ClientOptions configures the broker connection.
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	Logger         log.Logger

	// OnConnect runs after every (re)connect; subscriptions belong here.
	OnConnect func(mqtt.Client)
}

// NewMQTTClient creates an MQTT client with auto reconnect and connects it.
func NewMQTTClient(o ClientOptions) (mqtt.Client, error) {
	logger := o.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(o.ConnectTimeout).
		SetCleanSession(false).
		SetOrderMatters(false)
	if o.Username != "" {
		opts.SetUsername(o.Username).SetPassword(o.Password)
	}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("connected to mqtt broker", "broker", o.Broker)
		if o.OnConnect != nil {
			o.OnConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(o.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to %s", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.Broker, err)
	}
	return client, nil
}

// TokenPublisher is the part of mqtt.Client used for downlinks.
type TokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends downlinks at a fixed QoS, never retained.
//
// With a persistent session paho keeps a QoS 1 message queued after our
// local wait gives up, so it may still reach the broker after a reconnect.
// PublishKeyed remembers such tokens and MayHaveSent reports them.
type Publisher struct {
	client  TokenPublisher
	qos     byte
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]pendingPublish
}

type pendingPublish struct {
	token mqtt.Token
	at    time.Time
}

// pendingRetention bounds how long an abandoned token is remembered.
const pendingRetention = 15 * time.Minute

func NewPublisher(client TokenPublisher, qos byte, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		client:  client,
		qos:     qos,
		timeout: timeout,
		now:     time.Now,
		pending: make(map[string]pendingPublish),
	}
}

// Publish waits for the broker acknowledgment, the timeout or ctx,
// whichever comes first.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.PublishKeyed(ctx, "", topic, payload)
}

// PublishKeyed is Publish that remembers an unconfirmed token under key.
func (p *Publisher) PublishKeyed(ctx context.Context, key, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
		return nil
	case <-timer.C:
		p.remember(key, token)
		return fmt.Errorf("%w after %s on %s", ErrPublishTimeout, p.timeout, topic)
	case <-ctx.Done():
		p.remember(key, token)
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

// MayHaveSent reports whether an earlier publish under key is still queued
// in the client or was confirmed after the caller stopped waiting.
func (p *Publisher) MayHaveSent(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.pending[key]
	if !ok {
		return false
	}
	select {
	case <-pp.token.Done():
		if pp.token.Error() != nil {
			delete(p.pending, key)
			return false
		}
		return true
	default:
		return true
	}
}

func (p *Publisher) remember(key string, token mqtt.Token) {
	if key == "" {
		return
	}
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, pp := range p.pending {
		if now.Sub(pp.at) > pendingRetention {
			delete(p.pending, k)
		}
	}
	p.pending[key] = pendingPublish{token: token, at: now}
}
