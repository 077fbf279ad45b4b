package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "subscriber closed")
		return event
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func assertSilent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event %s", event.Type)
	default:
	}
}

func TestHubFiltersDashboardByProject(t *testing.T) {
	hub := NewHub(nil)
	owner := hub.Subscribe(ChannelDashboard, []uint64{1, 2}, 4)
	other := hub.Subscribe(ChannelDashboard, []uint64{3}, 4)

	hub.Publish(NewEvent(EventNewMessage, ChannelDashboard, 2, "s1", map[string]string{"content": "hi"}))

	event := receive(t, owner)
	assert.Equal(t, EventNewMessage, event.Type)
	assert.Equal(t, "s1", event.SessionID)
	assert.JSONEq(t, `{"content":"hi"}`, string(event.Payload))
	assertSilent(t, other)
}

func TestHubRoutesWidgetChannels(t *testing.T) {
	hub := NewHub(nil)
	mine := hub.Subscribe(WidgetChannel("s1"), nil, 4)
	theirs := hub.Subscribe(WidgetChannel("s2"), nil, 4)
	dashboard := hub.Subscribe(ChannelDashboard, []uint64{1}, 4)

	hub.Publish(NewEvent(EventAgentJoined, WidgetChannel("s1"), 1, "s1", nil))

	assert.Equal(t, EventAgentJoined, receive(t, mine).Type)
	assertSilent(t, theirs)
	assertSilent(t, dashboard)
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub(nil)
	slow := hub.Subscribe(WidgetChannel("s1"), nil, 1)

	hub.Publish(NewEvent(EventNewMessage, WidgetChannel("s1"), 1, "s1", nil))
	hub.Publish(NewEvent(EventNewMessage, WidgetChannel("s1"), 1, "s1", nil))

	assert.Equal(t, 0, hub.SubscriberCount())
	_, ok := <-slow.Events()
	assert.True(t, ok, "buffered event is still readable")
	_, ok = <-slow.Events()
	assert.False(t, ok)

	hub.Unsubscribe(slow)
}

func TestHubRelayIgnoresOwnEvents(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe(ChannelDashboard, []uint64{1}, 4)
	event := NewEvent(EventChatEnded, ChannelDashboard, 1, "s1", nil)

	own, err := json.Marshal(envelope{Origin: hub.nodeID, Event: event})
	require.NoError(t, err)
	hub.relay(own)
	assertSilent(t, sub)

	foreign, err := json.Marshal(envelope{Origin: "another-node", Event: event})
	require.NoError(t, err)
	hub.relay(foreign)
	assert.Equal(t, EventChatEnded, receive(t, sub).Type)

	hub.relay([]byte("not json"))
	assertSilent(t, sub)
}

func TestHubsRelayThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return client
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	first, second := NewHub(newClient()), NewHub(newClient())
	for _, hub := range []*Hub{first, second} {
		go func(hub *Hub) { _ = hub.Run(ctx) }(hub)
	}
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(redisChannel)[redisChannel] == 2
	}, time.Second, 10*time.Millisecond)

	local := first.Subscribe(WidgetChannel("s1"), nil, 4)
	remote := second.Subscribe(WidgetChannel("s1"), nil, 4)

	first.Publish(NewEvent(EventAgentJoined, WidgetChannel("s1"), 1, "s1", nil))

	assert.Equal(t, EventAgentJoined, receive(t, local).Type)
	assert.Equal(t, EventAgentJoined, receive(t, remote).Type)

	// Give a duplicate relay time to arrive before checking nothing else came through.
	time.Sleep(50 * time.Millisecond)
	assertSilent(t, local)
	assertSilent(t, remote)
}
