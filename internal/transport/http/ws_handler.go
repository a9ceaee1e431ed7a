package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(service *app.QuizService, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "ws"),
	}
}

// ServeWS upgrades HTTP requests to websockets and hands each socket to the
// quiz service. When roomCode, userId and username are given as query
// parameters the socket joins that room right away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	join, autoJoin, err := joinFromQuery(r)
	if err != nil {
		http.Error(w, "invalid userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := newClient(uuid.NewString(), conn, h.service, h.logger)
	handle := h.service.Connect(client)
	// the request context ends with the handler; disconnect cleanup must still run
	defer h.service.Disconnect(context.Background(), handle)

	if autoJoin {
		_ = h.service.HandleMessage(r.Context(), handle, join)
	}
	client.Run(r.Context())
}

func joinFromQuery(r *http.Request) (domain.ClientMessage, bool, error) {
	q := r.URL.Query()
	roomCode, username, rawID := q.Get("roomCode"), q.Get("username"), q.Get("userId")
	if roomCode == "" || username == "" || rawID == "" {
		return domain.ClientMessage{}, false, nil
	}
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return domain.ClientMessage{}, false, err
	}
	return domain.ClientMessage{
		Type:     domain.InboundJoinRoom,
		RoomCode: roomCode,
		Username: username,
		UserID:   userID,
	}, true, nil
}
