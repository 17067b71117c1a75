package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatrelay/pkg/logger"
)

const defaultHeartbeat = 15 * time.Second

// SSEHandler bridges the broker to browsers over server-sent events. Every
// completion event on the default topic is written as one SSE message;
// clients filter by session id. The subscription is closed when the client
// disconnects.
func SSEHandler(b *Broker, heartbeat time.Duration) http.Handler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := b.Subscribe(DefaultTopic)
		defer sub.Close()
		logger.Info("sse_subscribed", "remote", r.RemoteAddr)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				logger.Info("sse_disconnected", "remote", r.RemoteAddr)
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case n, ok := <-sub.C:
				if !ok {
					return
				}
				data, err := json.Marshal(n)
				if err != nil {
					logger.Error("sse_marshal_failed", "id", n.ID, "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: completion\ndata: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
