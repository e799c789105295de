package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/spokelab/airtime/internal/observe"
	"github.com/spokelab/airtime/internal/session"
)

// subscriberBuffer is the per-connection queue depth. Every snapshot is
// complete, so a subscriber that falls behind only misses intermediate
// states, never accumulated time.
const subscriberBuffer = 8

// streamHub fans speaker snapshots out to websocket subscribers. Writes to
// slow subscribers are skipped rather than blocking the broadcaster.
type streamHub struct {
	session *session.Session
	metrics *observe.Metrics

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newStreamHub(sess *session.Session, m *observe.Metrics) *streamHub {
	return &streamHub{
		session: sess,
		metrics: m,
		subs:    make(map[chan []byte]struct{}),
	}
}

func (h *streamHub) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *streamHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// broadcast marshals the current snapshot once and queues it to every
// subscriber.
func (h *streamHub) broadcast() {
	h.mu.Lock()
	subs := make([]chan []byte, 0, len(h.subs))
	for ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	data, err := json.Marshal(h.session.Speakers())
	if err != nil {
		slog.Warn("failed to marshal snapshot for stream", "error", err)
		return
	}

	for _, ch := range subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// handleStream upgrades the request to a websocket and pushes a snapshot on
// connect and after every subsequent state change. The client never sends
// application frames; the connection closes when the client disconnects.
func (h *streamHub) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	h.metrics.StreamSubscribers.Add(r.Context(), 1)
	defer h.metrics.StreamSubscribers.Add(context.Background(), -1)

	// CloseRead keeps control frames flowing and cancels ctx when the peer
	// goes away.
	ctx := conn.CloseRead(r.Context())

	// Prime the connection so a freshly opened dashboard renders without
	// waiting for the next state change.
	snapshot, err := json.Marshal(h.session.Speakers())
	if err != nil {
		slog.Warn("failed to marshal snapshot for stream", "error", err)
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, snapshot); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-sub:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				slog.Debug("stream write failed", "error", err)
				return
			}
		}
	}
}
