package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

// QuestionRepository loads a room's question set (from cache/backing store).
type QuestionRepository interface {
	GetQuestions(ctx context.Context, roomCode string) (domain.QuestionSet, error)
}

// GameRecorder archives finished games (Postgres, NATS, etc).
type GameRecorder interface {
	RecordGame(ctx context.Context, rec domain.GameRecord) error
}

// Recorders fans a record out to several recorders and joins their errors.
type Recorders []GameRecorder

func (rs Recorders) RecordGame(ctx context.Context, rec domain.GameRecord) error {
	var errs []error
	for _, r := range rs {
		if err := r.RecordGame(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServiceConfig tunes the components owned by QuizService.
type ServiceConfig struct {
	MaxPlayers        int
	Scoring           ScoringConfig
	RosterDedupWindow time.Duration
	ActionLogSize     int
	// TimeLimit bounds a whole game; zero disables the timer.
	TimeLimit         time.Duration
	RecordTimeout     time.Duration
	ArchiveQueue      int
	Observer          RoomObserver
	Now               func() time.Time
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxPlayers:        DefaultMaxPlayers,
		Scoring:           DefaultScoringConfig(),
		RosterDedupWindow: DefaultRosterDedupWindow,
		ActionLogSize:     DefaultActionLogSize,
		RecordTimeout:     5 * time.Second,
		ArchiveQueue:      64,
	}
}

// Stats is a point-in-time view of the service's load.
type Stats struct {
	Rooms       int `json:"rooms"`
	Players     int `json:"players"`
	Connections int `json:"connections"`
}

// QuizService is the entry point for socket and admin traffic. Every
// operation touching a room runs under that room's lock, so the component
// calls it makes form one transaction.
type QuizService struct {
	registry *Registry
	rooms    *RoomManager
	host     *HostController
	games    *GameService
	scoring  *ScoringEngine
	fanout   *Broadcaster
	locks    *roomLocks

	questions QuestionRepository
	recorder  GameRecorder
	cfg       ServiceConfig
	now       func() time.Time
	logger    *slog.Logger

	archiveMu sync.Mutex
	archive   chan domain.GameRecord
	archiveWG sync.WaitGroup
	closed    bool
}

// NewQuizService wires the registry, room manager, host controller, game
// service, scoring engine and broadcaster. recorder may be nil.
func NewQuizService(questions QuestionRepository, recorder GameRecorder, cfg ServiceConfig, logger *slog.Logger) *QuizService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ArchiveQueue <= 0 {
		cfg.ArchiveQueue = 64
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 5 * time.Second
	}

	registry := NewRegistry()
	roomOpts := []RoomOption{WithMaxPlayers(cfg.MaxPlayers), WithRoomClock(cfg.Now)}
	if cfg.Observer != nil {
		roomOpts = append(roomOpts, WithRoomObserver(cfg.Observer))
	}
	rooms := NewRoomManager(registry, logger, roomOpts...)
	fanout := NewBroadcaster(registry, rooms, logger, WithRosterDedupWindow(cfg.RosterDedupWindow), WithBroadcastClock(cfg.Now))
	scoring := NewScoringEngineWithClock(logger, cfg.Now)
	games := NewGameServiceWithClock(rooms, scoring, fanout, cfg.Scoring, logger, cfg.Now)
	host := NewHostController(rooms, games, scoring, fanout, logger, WithActionLogSize(cfg.ActionLogSize), WithHostClock(cfg.Now))

	s := &QuizService{
		registry:  registry,
		rooms:     rooms,
		host:      host,
		games:     games,
		scoring:   scoring,
		fanout:    fanout,
		locks:     newRoomLocks(),
		questions: questions,
		recorder:  recorder,
		cfg:       cfg,
		now:       cfg.Now,
		logger:    logger.With("component", "service"),
		archive:   make(chan domain.GameRecord, cfg.ArchiveQueue),
	}
	games.OnExpiry(s.expire)
	host.OnGameFinished(s.enqueueRecord)

	s.archiveWG.Add(1)
	go s.archiveLoop()
	return s
}

func (s *QuizService) Registry() *Registry { return s.registry }
func (s *QuizService) Rooms() *RoomManager { return s.rooms }
func (s *QuizService) Host() *HostController { return s.host }
func (s *QuizService) Games() *GameService { return s.games }
func (s *QuizService) Scoring() *ScoringEngine { return s.scoring }
func (s *QuizService) Broadcaster() *Broadcaster { return s.fanout }

// Close stops accepting archive records and waits for queued ones to be written.
func (s *QuizService) Close() {
	s.archiveMu.Lock()
	if s.closed {
		s.archiveMu.Unlock()
		return
	}
	s.closed = true
	close(s.archive)
	s.archiveMu.Unlock()
	s.archiveWG.Wait()
}

// Connect registers a socket and returns its handle.
func (s *QuizService) Connect(conn Conn) string {
	handle := s.registry.Register(conn)
	s.logger.Debug("connection registered", "conn", handle)
	return handle
}

// Disconnect forgets a socket. A player disconnected mid-game keeps their
// seat for a reconnect, handing host authority to a connected member if they
// held it; otherwise they leave the room.
func (s *QuizService) Disconnect(ctx context.Context, handle string) {
	binding, ok := s.registry.Unregister(handle)
	if !ok {
		s.logger.DebugContext(ctx, "connection closed", "conn", handle)
		return
	}
	code := binding.RoomCode
	unlock := s.locks.Lock(code)
	defer unlock()

	state, err := s.rooms.GameState(code)
	if err != nil {
		return
	}
	if state == domain.StatePlaying || state == domain.StatePaused {
		player, err := s.rooms.DisconnectPlayer(handle, code)
		if err != nil {
			return
		}
		s.logger.InfoContext(ctx, "player disconnected", "room", code, "user", player.Username)
		if !anyConnected(s.rooms.ListPlayers(code)) {
			s.closeRoomLocked(ctx, code, "")
			return
		}
		s.fanout.BroadcastToRoom(code, domain.PlayerDisconnectedEvent{Username: player.Username})
		if player.IsHost {
			s.host.HandOffHost(ctx, code)
		}
		s.fanout.BroadcastRoster(code)
		return
	}

	result, err := s.rooms.RemovePlayer(handle, code)
	if err != nil {
		return
	}
	s.afterRemovalLocked(ctx, code, result)
}

func anyConnected(players []domain.Player) bool {
	for _, p := range players {
		if p.Connected() {
			return true
		}
	}
	return false
}

// HandleMessage runs one inbound client event. A failure is reported to the
// originating connection as an error event and returned.
func (s *QuizService) HandleMessage(ctx context.Context, handle string, msg domain.ClientMessage) error {
	err := s.dispatch(ctx, handle, msg)
	if err != nil {
		kind, code := domain.Classify(err)
		if kind == domain.KindInternal {
			s.logger.ErrorContext(ctx, "handle message", "conn", handle, "type", msg.Type, "error", err)
		} else {
			s.logger.DebugContext(ctx, "message rejected", "conn", handle, "type", msg.Type, "code", code)
		}
		s.fanout.SendToConnection(handle, domain.NewErrorEvent(err))
	}
	return err
}

func (s *QuizService) dispatch(ctx context.Context, handle string, msg domain.ClientMessage) error {
	if msg.Type == domain.InboundJoinRoom {
		return s.join(ctx, handle, msg)
	}

	code, actor, err := s.actor(handle)
	if err != nil {
		return err
	}
	if msg.Type == domain.InboundStartGame {
		return s.startGame(ctx, code, actor)
	}

	unlock := s.locks.Lock(code)
	defer unlock()
	// Membership may have changed while waiting for the lock.
	if p, ok := s.rooms.FindPlayer(code, actor.Username); !ok || p.UserID != actor.UserID {
		return domain.ErrNotInRoom
	}

	switch msg.Type {
	case domain.InboundLeaveRoom:
		result, err := s.rooms.RemovePlayer(handle, code)
		if err != nil {
			return err
		}
		s.afterRemovalLocked(ctx, code, result)
		return nil

	case domain.InboundTransferHost:
		var p domain.TransferHostPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return s.host.TransferHost(ctx, code, actor.Username, p.NewHost)

	case domain.InboundKickPlayer:
		var p domain.KickPlayerPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		if err := s.host.KickPlayer(ctx, code, actor.Username, p.Target, p.Reason); err != nil {
			return err
		}
		return s.finishIfDoneLocked(ctx, code)

	case domain.InboundNextQuestion:
		return s.host.RequestNextQuestion(ctx, code, actor.Username)

	case domain.InboundSubmitAnswer:
		var p domain.SubmitAnswerPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		outcome, err := s.games.SubmitAnswer(code, actor.Username, p.Submission(s.now()))
		if err != nil {
			return err
		}
		if outcome.AllFinished {
			_, err = s.host.FinishGame(ctx, code, "all players finished")
		}
		return err

	case domain.InboundUpdateStatus:
		var p domain.UpdateStatusPayload
		if err := decode(msg.Payload, &p); err != nil {
			return err
		}
		return s.games.UpdateStatus(code, actor.Username, p.Status)

	case domain.InboundPauseGame:
		return s.host.PauseGame(ctx, code, actor.Username)

	case domain.InboundResumeGame:
		return s.host.ResumeGame(ctx, code, actor.Username)

	case domain.InboundEndGame:
		_, err := s.host.EndGame(ctx, code, actor.Username)
		return err

	case domain.InboundRestartGame:
		return s.host.RestartGame(ctx, code, actor.Username, ActionRestartGame)

	case domain.InboundNewGame:
		return s.host.RestartGame(ctx, code, actor.Username, ActionNewGame)

	case domain.InboundScoreboard:
		s.fanout.SendToConnection(handle, domain.ScoreboardEvent{Scoreboard: s.scoring.ComputeScoreboard(code)})
		return nil
	}
	return domain.ErrUnknownEvent
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.ErrMalformedMessage
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.ErrMalformedMessage
	}
	return nil
}

// actor resolves the room and player behind a joined connection.
func (s *QuizService) actor(handle string) (string, domain.Player, error) {
	binding, ok := s.registry.Binding(handle)
	if !ok {
		return "", domain.Player{}, domain.ErrNotInRoom
	}
	player, ok := s.rooms.FindPlayerByUserID(binding.RoomCode, binding.UserID)
	if !ok {
		return "", domain.Player{}, domain.ErrNotInRoom
	}
	return binding.RoomCode, player, nil
}

func (s *QuizService) join(ctx context.Context, handle string, msg domain.ClientMessage) error {
	code := NormalizeRoomCode(msg.RoomCode)
	if err := ValidateRoomCode(code); err != nil {
		return err
	}
	if _, ok := s.registry.Lookup(handle); !ok {
		return domain.ErrInvalidConnection
	}
	// A socket sits in at most one room; leave the old one first.
	if binding, ok := s.registry.Binding(handle); ok && binding.RoomCode != code {
		s.leave(ctx, handle, binding.RoomCode)
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	result, err := s.rooms.AddPlayer(code, handle, msg.Username, msg.UserID)
	if err != nil {
		return err
	}
	player := result.Player
	if player.IsHost && !result.Reconnected {
		s.host.Claim(code, player.Username)
	}

	s.fanout.SendToConnection(handle, domain.RoomJoinedEvent{
		RoomCode:    code,
		Player:      player.Info(),
		Players:     domain.PlayerInfos(result.Room.Players),
		IsHost:      player.IsHost,
		Reconnected: result.Reconnected,
		GameState:   result.Room.State,
	})
	s.fanout.BroadcastToOthers(code, player.UserID, domain.PlayerJoinedEvent{
		Player:      player.Info(),
		PlayerCount: len(result.Room.Players),
		Reconnected: result.Reconnected,
	})
	if result.Reconnected {
		s.games.Resync(code, player.Username)
	}
	s.fanout.BroadcastRoster(code)
	return nil
}

func (s *QuizService) leave(ctx context.Context, handle, code string) {
	unlock := s.locks.Lock(code)
	defer unlock()
	result, err := s.rooms.RemovePlayer(handle, code)
	if err != nil {
		return
	}
	s.afterRemovalLocked(ctx, code, result)
}

// startGame loads the question set before taking the room lock; the host
// check is repeated under the lock.
func (s *QuizService) startGame(ctx context.Context, code string, actor domain.Player) error {
	if err := s.host.Authorize(code, actor.Username, ActionStartGame); err != nil {
		return err
	}
	if s.questions == nil {
		return domain.ErrNoQuestions
	}
	set, err := s.questions.GetQuestions(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrQuestionsNotFound) {
			return domain.ErrNoQuestions
		}
		return err
	}

	unlock := s.locks.Lock(code)
	defer unlock()
	_, err = s.host.StartGame(ctx, code, actor.Username, set, s.cfg.TimeLimit)
	return err
}

func (s *QuizService) afterRemovalLocked(ctx context.Context, code string, result RemoveResult) {
	if result.RoomDeleted {
		s.cleanupLocked(code)
		return
	}
	// Only seats kept for a reconnect are left.
	if !anyConnected(result.Remaining) {
		if _, err := s.closeRoomLocked(ctx, code, ""); err != nil {
			s.logger.WarnContext(ctx, "close abandoned room", "room", code, "error", err)
		}
		return
	}
	var newHost *domain.PlayerInfo
	if result.NewHost != nil {
		info := result.NewHost.Info()
		newHost = &info
	}
	s.fanout.BroadcastToRoom(code, domain.PlayerLeftEvent{
		Player:      result.Removed.Info(),
		PlayerCount: len(result.Remaining),
		NewHost:     newHost,
	})
	if result.NewHost != nil {
		s.host.SyncHost(ctx, code, result.Removed.Username, *result.NewHost)
	}
	s.fanout.BroadcastRoster(code)
	if err := s.finishIfDoneLocked(ctx, code); err != nil {
		s.logger.WarnContext(ctx, "finish game", "room", code, "error", err)
	}
}

// finishIfDoneLocked ends a running game once every remaining player is finished.
func (s *QuizService) finishIfDoneLocked(ctx context.Context, code string) error {
	state, err := s.rooms.GameState(code)
	if err != nil || state != domain.StatePlaying {
		return nil
	}
	if !s.games.CheckAllFinished(code) {
		return nil
	}
	_, err = s.host.FinishGame(ctx, code, "all players finished")
	return err
}

func (s *QuizService) expire(code, sessionID string) {
	unlock := s.locks.Lock(code)
	defer unlock()
	if !s.games.Active(code, sessionID) {
		return
	}
	if _, err := s.host.FinishGame(context.Background(), code, "time limit reached"); err != nil {
		s.logger.Warn("expire game", "room", code, "error", err)
	}
}

// cleanupLocked drops every per-room structure once the room is gone.
func (s *QuizService) cleanupLocked(code string) {
	s.host.Drop(code)
	s.games.Drop(code)
	s.scoring.Drop(code)
	s.fanout.Forget(code)
}

func (s *QuizService) closeRoomLocked(ctx context.Context, code, reason string) ([]domain.Player, error) {
	if reason != "" {
		s.fanout.BroadcastToRoom(code, domain.RoomClosedEvent{RoomCode: code, Reason: reason})
	}
	evicted, err := s.rooms.DeleteRoom(code)
	if err != nil {
		return nil, err
	}
	s.cleanupLocked(code)
	s.logger.InfoContext(ctx, "room closed", "room", code, "evicted", len(evicted))
	return evicted, nil
}

// DeleteRoom closes a room from the admin surface, notifying its members.
func (s *QuizService) DeleteRoom(ctx context.Context, code string) ([]domain.Player, error) {
	code = NormalizeRoomCode(code)
	unlock := s.locks.Lock(code)
	defer unlock()
	return s.closeRoomLocked(ctx, code, "closed by administrator")
}

// RemovePlayer removes a member from the admin surface.
func (s *QuizService) RemovePlayer(ctx context.Context, code string, userID int64) (domain.Player, error) {
	code = NormalizeRoomCode(code)
	unlock := s.locks.Lock(code)
	defer unlock()

	player, ok := s.rooms.FindPlayerByUserID(code, userID)
	if !ok {
		if !s.rooms.RoomExists(code) {
			return domain.Player{}, domain.ErrRoomNotFound
		}
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	s.fanout.SendToPlayer(code, player.Username, domain.KickedEvent{RoomCode: code, KickedBy: "admin", Reason: "removed by administrator"})
	result, err := s.rooms.RemovePlayerByUserID(userID, code)
	if err != nil {
		return domain.Player{}, err
	}
	s.afterRemovalLocked(ctx, code, result)
	return result.Removed, nil
}

// Room returns a snapshot of a room for the admin surface.
func (s *QuizService) Room(code string) (domain.Room, bool) {
	return s.rooms.Snapshot(NormalizeRoomCode(code))
}

func (s *QuizService) Stats() Stats {
	return Stats{
		Rooms:       s.rooms.RoomCount(),
		Players:     s.rooms.PlayerCount(),
		Connections: s.registry.Count(),
	}
}

func (s *QuizService) enqueueRecord(rec domain.GameRecord) {
	if s.recorder == nil {
		return
	}
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()
	if s.closed {
		s.logger.Warn("service closed, dropping game record", "room", rec.RoomCode)
		return
	}
	select {
	case s.archive <- rec:
	default:
		s.logger.Warn("archive queue full, dropping game record", "room", rec.RoomCode)
	}
}

// archiveLoop writes finished games outside any room lock.
func (s *QuizService) archiveLoop() {
	defer s.archiveWG.Done()
	for rec := range s.archive {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RecordTimeout)
		if err := s.recorder.RecordGame(ctx, rec); err != nil {
			s.logger.Error("record game", "room", rec.RoomCode, "error", err)
		} else {
			s.logger.Info("game recorded", "room", rec.RoomCode, "players", len(rec.Players))
		}
		cancel()
	}
}
