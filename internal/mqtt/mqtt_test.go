package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeClient struct {
	token    mqtt.Token
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic, c.qos, c.retained = topic, qos, retained
	c.payload, _ = payload.([]byte)
	return c.token
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{token: completedToken(nil)}
	p := NewPublisher(client, 1, time.Second)

	require.NoError(t, p.Publish(context.Background(), "agrosmart/v5/d1/command", []byte(`{"action":"on"}`)))
	assert.Equal(t, "agrosmart/v5/d1/command", client.topic)
	assert.Equal(t, byte(1), client.qos)
	assert.False(t, client.retained)
	assert.JSONEq(t, `{"action":"on"}`, string(client.payload))
}

func TestPublisher_BrokerError(t *testing.T) {
	p := NewPublisher(&fakeClient{token: completedToken(errors.New("not connected"))}, 1, time.Second)
	err := p.Publish(context.Background(), "t", nil)
	assert.ErrorContains(t, err, "not connected")
}

func TestPublisher_Timeout(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	p := NewPublisher(&fakeClient{token: pending}, 1, 20*time.Millisecond)
	err := p.Publish(context.Background(), "t", nil)
	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestPublisher_ContextCancelled(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	p := NewPublisher(&fakeClient{token: pending}, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, "t", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_MayHaveSent(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	client := &fakeClient{token: pending}
	p := NewPublisher(client, 1, 20*time.Millisecond)

	err := p.PublishKeyed(context.Background(), "d1/man-1", "t", nil)
	require.ErrorIs(t, err, ErrPublishTimeout)
	assert.True(t, p.MayHaveSent("d1/man-1"), "token still queued in the client")
	assert.False(t, p.MayHaveSent("d1/other"))

	pending.err = errors.New("connection lost")
	close(pending.done)
	assert.False(t, p.MayHaveSent("d1/man-1"), "failed token cannot deliver")
	assert.False(t, p.MayHaveSent("d1/man-1"))
}

func TestPublisher_MayHaveSentAfterLateConfirm(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	p := NewPublisher(&fakeClient{token: pending}, 1, 20*time.Millisecond)

	require.Error(t, p.PublishKeyed(context.Background(), "d1/man-2", "t", nil))
	close(pending.done)
	assert.True(t, p.MayHaveSent("d1/man-2"), "broker confirmed after the wait gave up")

	// Unkeyed publishes are not tracked.
	other := &fakeToken{done: make(chan struct{})}
	p2 := NewPublisher(&fakeClient{token: other}, 1, 20*time.Millisecond)
	require.Error(t, p2.Publish(context.Background(), "t", nil))
	assert.False(t, p2.MayHaveSent(""))
}

func TestPublisher_ForgetsOldTokens(t *testing.T) {
	now := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	p := NewPublisher(&fakeClient{token: &fakeToken{done: make(chan struct{})}}, 1, 10*time.Millisecond)
	p.now = func() time.Time { return now }

	require.Error(t, p.PublishKeyed(context.Background(), "old", "t", nil))
	now = now.Add(pendingRetention + time.Minute)
	require.Error(t, p.PublishKeyed(context.Background(), "new", "t", nil))

	assert.False(t, p.MayHaveSent("old"))
	assert.True(t, p.MayHaveSent("new"))
}

func TestTopics(t *testing.T) {
	topics := NewTopics("/agrosmart/v5/")
	assert.Equal(t, "agrosmart/v5/esp32-01/command", topics.Command("esp32-01"))
	assert.Equal(t, "agrosmart/v5/esp32-01/ack", topics.Ack("esp32-01"))
	assert.Equal(t, "agrosmart/v5/+/ack", topics.AckWildcard())
	assert.Equal(t, []string{"agrosmart/v5/telemetry", "agrosmart/v5/+/telemetry"}, topics.TelemetryTopics())

	tests := map[string]string{
		"agrosmart/v5/esp32-01/ack":       "esp32-01",
		"agrosmart/v5/esp32-01/telemetry": "esp32-01",
		"agrosmart/v5/telemetry":          "",
		"other/esp32-01/ack":              "",
	}
	for topic, want := range tests {
		assert.Equal(t, want, topics.DeviceFromTopic(topic), topic)
	}
}
