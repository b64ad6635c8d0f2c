package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chanBus delivers published payloads straight to subscribers.
type chanBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{subs: make(map[string][]chan []byte)}
}

func (b *chanBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
			return fmt.Errorf("subscriber full")
		}
	}
	return nil
}

func (b *chanBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	return ch, nil
}

func newTestClient(hub *Hub) *client {
	c := &client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}
	return c
}

func TestSubscriptionManagement(t *testing.T) {
	c := newTestClient(NewHub(newChanBus(), testLogger()))

	for _, ch := range defaultChannels {
		assert.True(t, c.isSubscribed(ch))
	}
	assert.False(t, c.isSubscribed("ch:other"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:cost"}})
	assert.False(t, c.isSubscribed("ch:cost"))
	assert.True(t, c.isSubscribed("ch:metrics"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:cost", "ch:other"}})
	assert.True(t, c.isSubscribed("ch:cost"))
	assert.True(t, c.isSubscribed("ch:other"))

	// Unknown actions are ignored.
	c.handleSubscription(subscribeMsg{Action: "mute", Channels: []string{"ch:cost"}})
	assert.True(t, c.isSubscribed("ch:cost"))
}

func TestRunFansOutBusMessages(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	c := newTestClient(hub)
	hub.register <- c

	// Wait until the hub picked up the bus subscriptions.
	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.subs)
		bus.mu.Unlock()
		if n == len(defaultChannels) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed to the bus channels")
		}
		time.Sleep(time.Millisecond)
	}

	payload := []byte(`{"net_cost_bps":12.5}`)
	require.NoError(t, bus.Publish(ctx, "ch:cost", payload))

	select {
	case frame := <-c.send:
		var env envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, "ch:cost", env.Channel)
		assert.JSONEq(t, string(payload), string(env.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("no frame reached the client")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// Shutdown closes every client send channel.
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestRunSkipsUnsubscribedClients(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := newTestClient(hub)
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:metrics"}})
	hub.register <- c

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.subs)
		bus.mu.Unlock()
		if n == len(defaultChannels) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed to the bus channels")
		}
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, bus.Publish(ctx, "ch:metrics", []byte(`{}`)))
	require.NoError(t, bus.Publish(ctx, "ch:cost", []byte(`{"id":"r1"}`)))

	// Only the cost frame arrives; the metrics frame is filtered out.
	select {
	case frame := <-c.send:
		var env envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, "ch:cost", env.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame reached the client")
	}
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected extra frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendWelcome(t *testing.T) {
	hub := NewHub(newChanBus(), testLogger())
	c := newTestClient(hub)

	c.sendWelcome()

	select {
	case frame := <-c.send:
		var env envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, "ch:status", env.Channel)

		var body struct {
			Connected     bool     `json:"connected"`
			UptimeSeconds int64    `json:"uptime_seconds"`
			Channels      []string `json:"channels"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &body))
		assert.True(t, body.Connected)
		assert.GreaterOrEqual(t, body.UptimeSeconds, int64(0))
		assert.Equal(t, defaultChannels, body.Channels)
	default:
		t.Fatal("welcome frame was not queued")
	}
}
