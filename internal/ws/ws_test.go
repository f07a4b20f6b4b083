package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/address"
	"github.com/lucra/lucra-backend/internal/store"
	memkv "github.com/lucra/lucra-backend/pkg/kv/memory"
)

func newCache() *store.Cache {
	return store.NewCache(memkv.New(0), nil, zap.NewNop().Sugar(), nil)
}

func TestTopicChannels(t *testing.T) {
	loan := address.FromSeed("loan").String()

	got := TopicChannels([]string{"events", "peg", "originate", "bogus", "lcr:custom", "peg"}, loan)
	assert.Equal(t, []string{
		"lcr:events:*",
		store.ChannelPeg,
		"lcr:events:ORIGINATE",
		"lcr:custom",
		store.ChannelLoanPrefix + loan,
	}, got)

	assert.Empty(t, TopicChannels(nil, "not-an-address!"))
}

func TestChannelToEventType(t *testing.T) {
	assert.Equal(t, "peg_update", channelToEventType(store.ChannelPeg))
	assert.Equal(t, "harvest_penalty_event", channelToEventType(store.EventChannel("HARVEST_PENALTY")))
	assert.Equal(t, "loan_update", channelToEventType(store.ChannelLoanPrefix+"x"))
	assert.Equal(t, "update", channelToEventType("other"))
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubFiltersByTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(newCache(), zap.NewNop().Sugar(), nil, nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv, "?topic=peg")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(store.EventChannel("CLOSE"), json.RawMessage(`{"kind":"CLOSE"}`))
	hub.Broadcast(store.ChannelPeg, json.RawMessage(`{"pegBroken":true}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, store.ChannelPeg, msg.Topic)
	assert.JSONEq(t, `{"pegBroken":true}`, string(msg.Data))
}

func TestHubRelaysPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := newCache()
	hub := NewHub(cache, zap.NewNop().Sugar(), nil, nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "subscribe", Topics: []string{"events"}}))

	received := make(chan Message, 16)
	go func() {
		for {
			var m Message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			received <- m
		}
	}()

	channel := store.EventChannel("ORIGINATE")
	require.Eventually(t, func() bool {
		_ = cache.Publish(ctx, channel, map[string]string{"kind": "ORIGINATE"})
		select {
		case m := <-received:
			return m.Topic == channel
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(newCache(), zap.NewNop().Sugar(), nil, []string{"http://app.local"})
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"http://evil.local"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSSEStreamsUpdates(t *testing.T) {
	cache := newCache()
	h := NewSSEHandler(cache, zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?topics=peg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	eventsSeen := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				eventsSeen <- name
			}
		}
	}()

	select {
	case name := <-eventsSeen:
		assert.Equal(t, "connected", name)
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	require.Eventually(t, func() bool {
		_ = cache.Publish(context.Background(), store.ChannelPeg, map[string]bool{"pegBroken": false})
		select {
		case name := <-eventsSeen:
			return name == "peg_update"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
}
