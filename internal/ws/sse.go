package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucra/lucra-backend/internal/store"
)

const heartbeatInterval = 30 * time.Second

type SSEHandler struct {
	cache     *store.Cache
	logger    *zap.SugaredLogger
	heartbeat time.Duration
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger) *SSEHandler {
	return &SSEHandler{
		cache:     cache,
		logger:    logger,
		heartbeat: heartbeatInterval,
	}
}

// HandleSSE streams updates for ?topics=events,peg,oracle and ?loan=<addr>.
// CORS headers come from the router middleware.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topics := parseTopics(r)
	loan := r.URL.Query().Get("loan")
	channels := TopicChannels(topics, loan)
	if len(channels) == 0 {
		// Default to peg updates if no specific topics requested
		channels = []string{store.ChannelPeg}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, closeFeed := feed(ctx, h.cache, channels)
	defer closeFeed()

	if updates == nil {
		h.logger.Warnw("No PubSub available; SSE updates disabled for this connection")
		h.sendEvent(w, flusher, "connected", "0", map[string]interface{}{"channels": channels, "live": false})
		return
	}

	h.logger.Debugw("SSE connection established", "channels", channels, "inMemory", h.cache.IsInMemoryMode())
	h.sendEvent(w, flusher, "connected", "0", map[string]interface{}{"channels": channels, "live": true})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, flusher, "heartbeat", "ping", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			})

		case u, ok := <-updates:
			if !ok {
				return
			}
			if !json.Valid([]byte(u.Payload)) {
				h.logger.Warnw("Dropping non-JSON payload", "channel", u.Channel)
				continue
			}
			h.sendEvent(w, flusher, channelToEventType(u.Channel), u.Channel, json.RawMessage(u.Payload))
		}
	}
}

func parseTopics(r *http.Request) []string {
	topicsParam := r.URL.Query().Get("topics")
	if topicsParam == "" {
		return nil
	}
	return strings.Split(topicsParam, ",")
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType, id string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("Failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", dataBytes)
	flusher.Flush()
}
