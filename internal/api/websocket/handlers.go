// Package websocket streams listing events to browsers. Each connection
// bridges one hub subscription; the hub's slow-subscriber eviction closes
// the socket of any client that stops reading.
package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/service/auction"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades HTTP requests into event streams.
type Handler struct {
	engine   *auction.Engine
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the websocket handler.
func NewHandler(engine *auction.Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// origin policy is enforced at the proxy
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleListing streams one listing's events: GET /ws/listings/{id}.
func (h *Handler) HandleListing(w http.ResponseWriter, r *http.Request) {
	listingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "malformed listing id", http.StatusBadRequest)
		return
	}

	// reject unknown listings before upgrading
	if _, err := h.engine.Snapshot(r.Context(), listingID); err != nil {
		http.Error(w, "listing not found", http.StatusNotFound)
		return
	}

	h.serve(w, r, func() *auction.Subscription {
		return h.engine.Subscribe(listingID)
	})
}

// HandleTicker streams recent activity across all listings: GET /ws/ticker.
func (h *Handler) HandleTicker(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.engine.SubscribeTicker)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, subscribe func() *auction.Subscription) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := subscribe()
	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// writePump forwards subscription events and keeps the connection alive
// with pings. It exits when the subscription channel closes.
func (h *Handler) writePump(conn *websocket.Conn, sub *auction.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and tears the subscription down when the
// peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, sub *auction.Subscription) {
	defer func() {
		sub.Cancel()
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
