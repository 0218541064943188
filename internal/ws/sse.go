package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/store"
)

// SSEHandler streams market events as server-sent events. The optional
// "market" query parameter narrows the stream to one market.
type SSEHandler struct {
	cache          *store.Cache
	logger         *zap.SugaredLogger
	allowedOrigins map[string]bool
	heartbeat      time.Duration
}

func NewSSEHandler(cache *store.Cache, logger *zap.SugaredLogger, allowedOrigins []string) *SSEHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &SSEHandler{
		cache:          cache,
		logger:         logger,
		allowedOrigins: allowed,
		heartbeat:      30 * time.Second,
	}
}

func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	channel := markets.ChannelMarkets
	if raw := r.URL.Query().Get("market"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid market id", http.StatusBadRequest)
			return
		}
		channel = markets.MarketChannel(id)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if origin := r.Header.Get("Origin"); h.allowedOrigins[origin] {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.cache.Subscribe(ctx, channel)
	defer sub.Close()

	h.logger.Debugw("SSE connection established", "channel", channel)
	h.sendEvent(w, "connected", channel, map[string]string{"channel": channel})
	h.stream(ctx, w, sub)
}

func (h *SSEHandler) stream(ctx context.Context, w http.ResponseWriter, sub *store.Subscription) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, "heartbeat", "ping", map[string]int64{"timestamp": time.Now().Unix()})

		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event markets.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Warnw("Failed to parse market event", "error", err)
				continue
			}
			h.sendRaw(w, event.Type, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType, id string, data interface{}) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("Failed to marshal SSE data", "error", err)
		return
	}
	h.sendRaw(w, eventType, id, dataBytes)
}

func (h *SSEHandler) sendRaw(w http.ResponseWriter, eventType, id string, data []byte) {
	fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", eventType, id, data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
