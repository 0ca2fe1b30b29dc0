package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	topics []string
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	r.topics = append(r.topics, topic)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return nil
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	a := &Client{ID: "a", UserID: "u1", Events: make(chan Message, 4)}
	b := &Client{ID: "b", UserID: "u2", Events: make(chan Message, 4)}
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, hub.ClientCount())

	ev := Event{Topic: TopicOrderUpdated, EntityType: "order", EntityID: "o-1", ToStatus: "In Transit", At: time.Now()}
	require.NoError(t, hub.Publish(context.Background(), TopicOrderUpdated, ev))

	for _, c := range []*Client{a, b} {
		msg := <-c.Events
		assert.Equal(t, TopicOrderUpdated, msg.EventType)
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Data), &got))
		assert.Equal(t, "o-1", got.EntityID)
	}

	hub.Unregister("a")
	_, ok := <-a.Events
	assert.False(t, ok)
	assert.Equal(t, 1, hub.ClientCount())
	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubSkipsFullClient(t *testing.T) {
	hub := NewHub(nil)
	c := &Client{ID: "slow", Events: make(chan Message, 1)}
	hub.Register(c)
	hub.Broadcast(Message{EventType: "x", Data: "1"})
	hub.Broadcast(Message{EventType: "x", Data: "2"})
	assert.Len(t, c.Events, 1)
}

func TestFanout(t *testing.T) {
	first := &recordingPublisher{err: errors.New("down")}
	second := &recordingPublisher{}
	f := Fanout{first, second, &NoopPublisher{}}

	err := f.Publish(context.Background(), TopicBatchCompleted, Event{})
	assert.EqualError(t, err, "down")
	assert.Equal(t, []string{TopicBatchCompleted}, second.topics)

	require.NoError(t, f.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}
