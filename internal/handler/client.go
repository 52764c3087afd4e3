package handler

import (
	"net/http"

	"diginetra/internal/logger"

	"github.com/gorilla/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientRegistry tracks status clients.
type ClientRegistry interface {
	Register(conn *websocket.Conn) bool
	Unregister(conn *websocket.Conn)
}

// StatusWebsocketHandler registers status clients in the hub so they receive
// camera, detection and alert events. Incoming messages are ignored.
func StatusWebsocketHandler(hub ClientRegistry, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		if !hub.Register(connection) {
			connection.Close()
			return
		}
		defer hub.Unregister(connection)

		logger.Info("Status client connected from %s", r.RemoteAddr)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Status client disconnected normally")
				} else {
					logger.Warning("Status client disconnected: %v", err)
				}
				break
			}
		}
	}
}
