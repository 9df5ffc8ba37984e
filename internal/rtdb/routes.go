package rtdb

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Browser origins are not checked; access control sits in front of the store.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs upgrades the request and registers the connection with hub.
func ServeWs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "err", err)
			return
		}

		c := newConn(hub, ws)
		select {
		case hub.Register <- c:
		case <-hub.quit:
			ws.Close()
			return
		}

		go c.WritePump()
		go c.ReadPump()
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling store is healthy."))
}

// NewServeMux returns the store's HTTP routes: /ws and /health.
func NewServeMux(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/ws", ServeWs(hub))
	return mux
}
