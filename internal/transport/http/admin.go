package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// AdminHandler exposes room administration and service stats over HTTP. It
// goes through the same membership operations as socket traffic.
type AdminHandler struct {
	service *app.QuizService
	logger  *slog.Logger
}

func NewAdminHandler(service *app.QuizService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger.With("component", "admin")}
}

// NewRouter mounts the websocket endpoint, admin routes and health checks.
func NewRouter(service *app.QuizService, logger *slog.Logger) http.Handler {
	ws := NewWSHandler(service, logger)
	admin := NewAdminHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	mux.HandleFunc("GET /stats", admin.Stats)
	mux.HandleFunc("GET /admin/rooms/{code}", admin.GetRoom)
	mux.HandleFunc("DELETE /admin/rooms/{code}", admin.DeleteRoom)
	mux.HandleFunc("DELETE /admin/rooms/{code}/players/{userID}", admin.RemovePlayer)
	return mux
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Stats())
}

type roomResponse struct {
	Code            string              `json:"code"`
	State           domain.GameState    `json:"state"`
	Players         []domain.PlayerInfo `json:"players"`
	CurrentQuestion int                 `json:"currentQuestion"`
	TotalQuestions  int                 `json:"totalQuestions"`
	HostHistory     []string            `json:"hostHistory"`
	HostActions     []domain.HostAction `json:"hostActions"`
}

func (h *AdminHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.service.Room(r.PathValue("code"))
	if !ok {
		h.writeError(w, domain.ErrRoomNotFound)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{
		Code:            room.Code,
		State:           room.State,
		Players:         domain.PlayerInfos(room.Players),
		CurrentQuestion: room.CurrentQuestion,
		TotalQuestions:  room.TotalQuestions,
		HostHistory:     h.service.Host().History(room.Code),
		HostActions:     h.service.Host().Actions(room.Code),
	})
}

func (h *AdminHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	evicted, err := h.service.DeleteRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evicted": domain.PlayerInfos(evicted)})
}

func (h *AdminHandler) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userID"), 10, 64)
	if err != nil || userID <= 0 {
		h.writeError(w, domain.ErrInvalidUserID)
		return
	}
	removed, err := h.service.RemovePlayer(r.Context(), r.PathValue("code"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed.Info()})
}

func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	ev := domain.NewErrorEvent(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrPlayerNotFound):
		status = http.StatusNotFound
	case ev.Kind == domain.KindValidation:
		status = http.StatusBadRequest
	case ev.Kind == domain.KindAuthorization:
		status = http.StatusForbidden
	case ev.Kind == domain.KindStateConflict:
		status = http.StatusConflict
	default:
		h.logger.Error("admin request failed", "error", err)
	}
	writeJSON(w, status, ev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
