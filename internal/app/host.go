package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

// Host actions, as recorded in the action log and checked against the room state.
const (
	ActionStartGame    = "start-game"
	ActionNextQuestion = "next-question"
	ActionPauseGame    = "pause-game"
	ActionResumeGame   = "resume-game"
	ActionEndGame      = "end-game"
	ActionRestartGame  = "restart-game"
	ActionNewGame      = "new-game"
	ActionKickPlayer   = "kick-player"
	ActionTransferHost = "transfer-host"
	ActionSuccession   = "host-succession"
)

// allowedStates lists the room states each host action may run in. Actions
// missing from the table are allowed in any state.
var allowedStates = map[string][]domain.GameState{
	ActionStartGame:    {domain.StateLobby, domain.StateWaiting},
	ActionNextQuestion: {domain.StatePlaying, domain.StateQuestion},
	ActionPauseGame:    {domain.StatePlaying, domain.StateQuestion},
	ActionResumeGame:   {domain.StatePaused},
	ActionEndGame:      {domain.StatePlaying, domain.StateQuestion, domain.StatePaused},
	ActionRestartGame:  {domain.StateFinished},
	ActionNewGame:      {domain.StateFinished},
}

// ActionAllowed reports whether action may run while the room is in state.
func ActionAllowed(action string, state domain.GameState) bool {
	states, ok := allowedStates[action]
	if !ok {
		return true
	}
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

type hostSession struct {
	current string
	history []string
	actions *ActionLog
}

func (s *hostSession) remember(username string) {
	for _, h := range s.history {
		if h == username {
			return
		}
	}
	s.history = append(s.history, username)
}

// HostController enforces host-only actions and keeps each room's host
// history and action log in step with the roster's host flag.
type HostController struct {
	mu       sync.Mutex
	sessions map[string]*hostSession

	rooms      *RoomManager
	games      *GameService
	scoring    *ScoringEngine
	fanout     *Broadcaster
	logSize    int
	now        func() time.Time
	onFinished func(domain.GameRecord)
	logger     *slog.Logger
}

// HostOption customises a HostController.
type HostOption func(*HostController)

// WithActionLogSize overrides the per-room action log capacity.
func WithActionLogSize(n int) HostOption {
	return func(h *HostController) {
		if n > 0 {
			h.logSize = n
		}
	}
}

// WithHostClock is used by tests for deterministic action timestamps.
func WithHostClock(now func() time.Time) HostOption {
	return func(h *HostController) { h.now = now }
}

func NewHostController(rooms *RoomManager, games *GameService, scoring *ScoringEngine, fanout *Broadcaster, logger *slog.Logger, opts ...HostOption) *HostController {
	h := &HostController{
		sessions: make(map[string]*hostSession),
		rooms:    rooms,
		games:    games,
		scoring:  scoring,
		fanout:   fanout,
		logSize:  DefaultActionLogSize,
		now:      time.Now,
		logger:   logger.With("component", "host"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnGameFinished registers the callback receiving the archive record of every
// finished game.
func (h *HostController) OnGameFinished(fn func(domain.GameRecord)) {
	h.mu.Lock()
	h.onFinished = fn
	h.mu.Unlock()
}

// IsHost reports whether username currently holds host authority in code.
func (h *HostController) IsHost(code, username string) bool {
	host, ok := h.rooms.Host(code)
	return ok && host.Username == username
}

// Authorize checks that username is the host of code and that action is
// allowed in the room's current state.
func (h *HostController) Authorize(code, username, action string) error {
	state, err := h.rooms.GameState(code)
	if err != nil {
		return err
	}
	if !h.IsHost(code, username) {
		return domain.ErrNotHost
	}
	if !ActionAllowed(action, state) {
		return domain.ErrInvalidGameState
	}
	return nil
}

func (h *HostController) session(code string) *hostSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[code]
	if !ok {
		s = &hostSession{actions: NewActionLog(h.logSize)}
		if host, ok := h.rooms.Host(code); ok {
			s.current = host.Username
			s.remember(host.Username)
		}
		h.sessions[code] = s
	}
	return s
}

func (h *HostController) record(ctx context.Context, code, host, action string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	s := h.session(code)
	h.mu.Lock()
	s.actions.Append(domain.HostAction{Action: action, Host: host, Timestamp: h.now(), Payload: raw})
	h.mu.Unlock()
	h.logger.InfoContext(ctx, "host action", "room", code, "host", host, "action", action)
}

// TransferHost hands host authority from one member to another.
func (h *HostController) TransferHost(ctx context.Context, code, from, to string) error {
	if err := h.Authorize(code, from, ActionTransferHost); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if err := h.rooms.TransferHostFlag(code, from, to); err != nil {
		return err
	}
	s := h.session(code)
	h.mu.Lock()
	s.current = to
	s.remember(from)
	s.remember(to)
	h.mu.Unlock()
	h.record(ctx, code, from, ActionTransferHost, map[string]string{"newHost": to})

	h.fanout.BroadcastToRoom(code, domain.HostTransferredEvent{PreviousHost: from, NewHost: to, Reason: "transferred"})
	h.fanout.SendToPlayer(code, to, domain.YouAreHostEvent{RoomCode: code, Message: "You are now the host"})
	h.fanout.BroadcastRoster(code)
	return nil
}

// Claim opens the room's control session for its first host.
func (h *HostController) Claim(code, username string) {
	s := h.session(code)
	h.mu.Lock()
	s.current = username
	s.remember(username)
	h.mu.Unlock()
}

// SyncHost records a host change caused by the previous host leaving.
func (h *HostController) SyncHost(ctx context.Context, code, previous string, newHost domain.Player) {
	h.succeed(ctx, code, previous, newHost, "previous host left")
}

// HandOffHost passes host authority on when the host lost its connection
// mid-game, so pause, next-question and end stay available.
func (h *HostController) HandOffHost(ctx context.Context, code string) bool {
	previous, next, ok := h.rooms.HandOffHost(code)
	if !ok {
		return false
	}
	h.succeed(ctx, code, previous, next, "previous host disconnected")
	return true
}

func (h *HostController) succeed(ctx context.Context, code, previous string, newHost domain.Player, reason string) {
	s := h.session(code)
	h.mu.Lock()
	s.current = newHost.Username
	s.remember(newHost.Username)
	h.mu.Unlock()
	h.record(ctx, code, newHost.Username, ActionSuccession, map[string]string{"previousHost": previous, "reason": reason})

	h.fanout.BroadcastToRoom(code, domain.HostTransferredEvent{PreviousHost: previous, NewHost: newHost.Username, Reason: reason})
	h.fanout.SendToPlayer(code, newHost.Username, domain.YouAreHostEvent{RoomCode: code, Message: "The " + reason + ", you are now the host"})
}

// KickPlayer removes target from the room. The target is told before removal.
func (h *HostController) KickPlayer(ctx context.Context, code, host, target, reason string) error {
	if err := h.Authorize(code, host, ActionKickPlayer); err != nil {
		return err
	}
	if target == host {
		return domain.ErrCannotKickSelf
	}
	if _, ok := h.rooms.FindPlayer(code, target); !ok {
		return domain.ErrPlayerNotFound
	}

	h.fanout.SendToPlayer(code, target, domain.KickedEvent{RoomCode: code, KickedBy: host, Reason: reason})
	result, err := h.rooms.RemovePlayerByUsername(target, code)
	if err != nil {
		return err
	}
	h.record(ctx, code, host, ActionKickPlayer, map[string]string{"target": target, "reason": reason})

	h.fanout.BroadcastToRoom(code, domain.PlayerKickedEvent{
		Username:    result.Removed.Username,
		KickedBy:    host,
		PlayerCount: len(result.Remaining),
	})
	h.fanout.BroadcastRoster(code)
	return nil
}

// StartGame starts a session with set. The caller loads the questions.
func (h *HostController) StartGame(ctx context.Context, code, host string, set domain.QuestionSet, timeLimit time.Duration) (string, error) {
	if err := h.Authorize(code, host, ActionStartGame); err != nil {
		return "", err
	}
	id, err := h.games.StartSession(code, set, timeLimit)
	if err != nil {
		return "", err
	}
	h.record(ctx, code, host, ActionStartGame, map[string]any{"questions": len(set.Questions), "sessionId": id})
	return id, nil
}

// RequestNextQuestion advances the game, ending it once the questions run out.
func (h *HostController) RequestNextQuestion(ctx context.Context, code, host string) error {
	if err := h.Authorize(code, host, ActionNextQuestion); err != nil {
		return err
	}
	h.record(ctx, code, host, ActionNextQuestion, nil)
	_, exhausted, err := h.games.NextQuestion(code)
	if err != nil {
		return err
	}
	if exhausted {
		_, err = h.FinishGame(ctx, code, "questions exhausted")
	}
	return err
}

func (h *HostController) PauseGame(ctx context.Context, code, host string) error {
	if err := h.Authorize(code, host, ActionPauseGame); err != nil {
		return err
	}
	if err := h.rooms.SetGameState(code, domain.StatePaused); err != nil {
		return err
	}
	h.record(ctx, code, host, ActionPauseGame, nil)
	h.fanout.BroadcastToRoom(code, domain.GamePausedEvent{By: host})
	return nil
}

func (h *HostController) ResumeGame(ctx context.Context, code, host string) error {
	if err := h.Authorize(code, host, ActionResumeGame); err != nil {
		return err
	}
	if err := h.rooms.SetGameState(code, domain.StatePlaying); err != nil {
		return err
	}
	h.record(ctx, code, host, ActionResumeGame, nil)
	h.fanout.BroadcastToRoom(code, domain.GameResumedEvent{By: host})
	return nil
}

// EndGame ends the running game on the host's request.
func (h *HostController) EndGame(ctx context.Context, code, host string) (domain.FinalResults, error) {
	if err := h.Authorize(code, host, ActionEndGame); err != nil {
		return domain.FinalResults{}, err
	}
	h.record(ctx, code, host, ActionEndGame, nil)
	return h.FinishGame(ctx, code, "ended by host")
}

// FinishGame closes the room's game session, publishes the final results and
// hands the archive record to the finished-game callback. It performs no
// authorization and is used for host requests, question exhaustion, every
// player finishing and time-limit expiry alike.
func (h *HostController) FinishGame(ctx context.Context, code, reason string) (domain.FinalResults, error) {
	if !h.rooms.RoomExists(code) {
		return domain.FinalResults{}, domain.ErrRoomNotFound
	}
	if err := h.games.EndSession(code); err != nil {
		h.logger.WarnContext(ctx, "end session", "room", code, "error", err)
	}
	h.scoring.End(code)
	results := h.scoring.ComputeFinalResults(code)

	if err := h.rooms.SetGameState(code, domain.StateFinished); err != nil {
		return domain.FinalResults{}, err
	}
	if err := h.rooms.SetAllStatuses(code, domain.StatusFinished); err != nil {
		h.logger.DebugContext(ctx, "set statuses", "room", code, "error", err)
	}
	h.logger.InfoContext(ctx, "game finished", "room", code, "reason", reason, "players", results.Statistics.PlayerCount)
	h.fanout.BroadcastToRoom(code, domain.GameEndedEvent{Results: results})
	h.releaseVacantSeats(ctx, code)

	h.mu.Lock()
	onFinished := h.onFinished
	h.mu.Unlock()
	if rec, ok := h.games.Record(code); ok && onFinished != nil {
		rec.Results = results
		onFinished(rec)
	}
	return results, nil
}

// releaseVacantSeats drops the seats kept for players who never reconnected
// before the game ended.
func (h *HostController) releaseVacantSeats(ctx context.Context, code string) {
	removed, newHost, err := h.rooms.PruneDisconnected(code)
	if err != nil {
		h.logger.DebugContext(ctx, "prune disconnected", "room", code, "error", err)
		return
	}
	if len(removed) == 0 {
		return
	}
	remaining := len(h.rooms.ListPlayers(code))
	previousHost := ""
	for _, p := range removed {
		ev := domain.PlayerLeftEvent{Player: p.Info(), PlayerCount: remaining}
		if p.IsHost && newHost != nil {
			info := newHost.Info()
			ev.NewHost = &info
			previousHost = p.Username
		}
		h.fanout.BroadcastToRoom(code, ev)
	}
	if newHost != nil {
		h.SyncHost(ctx, code, previousHost, *newHost)
	}
	h.fanout.BroadcastRoster(code)
}

// RestartGame returns a finished room to the pre-game state.
func (h *HostController) RestartGame(ctx context.Context, code, host, action string) error {
	if action != ActionNewGame {
		action = ActionRestartGame
	}
	if err := h.Authorize(code, host, action); err != nil {
		return err
	}
	h.games.Drop(code)
	h.scoring.Drop(code)
	if err := h.rooms.ResetForNewGame(code); err != nil {
		return err
	}
	h.record(ctx, code, host, action, nil)
	h.fanout.BroadcastToRoom(code, domain.GameRestartedEvent{
		By:      host,
		Players: domain.PlayerInfos(h.rooms.ListPlayers(code)),
	})
	h.fanout.BroadcastRoster(code)
	return nil
}

// CurrentHost returns the host recorded in the room's control session.
func (h *HostController) CurrentHost(code string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[code]; ok {
		return s.current
	}
	return ""
}

// History returns every member that has held host authority, in order.
func (h *HostController) History(code string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[code]; ok {
		return append([]string(nil), s.history...)
	}
	return nil
}

// Actions returns the room's action log, oldest first.
func (h *HostController) Actions(code string) []domain.HostAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[code]; ok {
		return s.actions.Entries()
	}
	return nil
}

// Drop discards the room's control session.
func (h *HostController) Drop(code string) {
	h.mu.Lock()
	delete(h.sessions, code)
	h.mu.Unlock()
}
