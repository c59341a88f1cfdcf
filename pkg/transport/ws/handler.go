package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/socketd-go/socketd/pkg/protocol"
	"github.com/socketd-go/socketd/pkg/server"
)

// Handler upgrades HTTP requests to WebSocket and serves them on a
// server.Server. Mount it on any router.
type Handler struct {
	srv      *server.Server
	upgrader websocket.Upgrader
	codec    protocol.Codec
	logger   *slog.Logger
}

// NewHandler creates a handler for srv. checkOrigin may be nil to accept
// all origins.
func NewHandler(srv *server.Server, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		srv: srv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin,
		},
		codec:  srv.Processor().Config().Codec(),
		logger: srv.Config().Logger.With("transport", "ws"),
	}
}

// ServeHTTP upgrades the request and blocks until the channel closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.srv.ServeTransport(New(conn, h.codec))
}
