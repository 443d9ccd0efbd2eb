package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard and this service share an origin behind the same
	// proxy; cross-origin browser clients are not a supported surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
)

type liveEvent struct {
	Version uint64 `json:"version"`
}

// handleLive pushes a history-version event to the client whenever the
// buffer changes. Clients re-fetch /api/v1/history on receipt; the
// event itself carries no series data.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.metrics.AddLiveConnection(1)
	defer h.metrics.AddLiveConnection(-1)

	versions, cancel := h.history.Subscribe()
	defer cancel()

	// Read pump: we expect nothing from the client, but reading is
	// what surfaces close frames and dead peers.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Current version first so late joiners know where they stand.
	if err := h.writeLive(conn, h.history.Version()); err != nil {
		return
	}

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case v := <-versions:
			if err := h.writeLive(conn, v); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeLive(conn *websocket.Conn, version uint64) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return conn.WriteJSON(liveEvent{Version: version})
}
