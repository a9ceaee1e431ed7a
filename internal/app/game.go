package app

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-room-service/internal/domain"
)

// ScoringConfig holds the answer scoring constants.
type ScoringConfig struct {
	BasePoints           int
	MaxTimePerQuestion   time.Duration
	SpeedBonusMultiplier int
	// MaxAnswerBytes caps the serialized answer payload.
	MaxAnswerBytes int
}

// DefaultScoringConfig returns 100 base points, a 30s window and a 2x speed bonus.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		BasePoints:           100,
		MaxTimePerQuestion:   30 * time.Second,
		SpeedBonusMultiplier: 2,
		MaxAnswerBytes:       1024,
	}
}

// Points applies the base + speed bonus formula to a whole-second answer time.
func (c ScoringConfig) Points(correct bool, timeToAnswer time.Duration) int {
	if !correct {
		return 0
	}
	remaining := int(c.MaxTimePerQuestion/time.Second) - int(timeToAnswer/time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return c.BasePoints + remaining*c.SpeedBonusMultiplier
}

// AnswerOutcome is returned from SubmitAnswer.
type AnswerOutcome struct {
	Answer           domain.Answer
	TotalScore       int
	QuestionComplete bool
	AllFinished      bool
}

type gameSession struct {
	id        string
	roomCode  string
	topic     string
	questions []domain.Question
	results   map[string]*domain.PlayerResult
	order     []string
	active    bool
	startedAt time.Time
	timeLimit time.Duration
	current   int
	timer     *time.Timer
}

func (s *gameSession) result(username string) *domain.PlayerResult {
	if r, ok := s.results[username]; ok {
		return r
	}
	r := &domain.PlayerResult{Username: username, Status: domain.StatusAnswering}
	s.results[username] = r
	s.order = append(s.order, username)
	return r
}

// ExpiryFunc is invoked when a session's overall time budget runs out.
type ExpiryFunc func(roomCode, sessionID string)

// GameService owns game sessions and processes answer submissions.
type GameService struct {
	mu       sync.RWMutex
	sessions map[string]*gameSession

	rooms    *RoomManager
	scoring  *ScoringEngine
	fanout   *Broadcaster
	cfg      ScoringConfig
	now      func() time.Time
	onExpiry ExpiryFunc
	logger   *slog.Logger
}

func NewGameService(rooms *RoomManager, scoring *ScoringEngine, fanout *Broadcaster, cfg ScoringConfig, logger *slog.Logger) *GameService {
	return NewGameServiceWithClock(rooms, scoring, fanout, cfg, logger, time.Now)
}

// NewGameServiceWithClock is used by tests for deterministic answer times.
func NewGameServiceWithClock(rooms *RoomManager, scoring *ScoringEngine, fanout *Broadcaster, cfg ScoringConfig, logger *slog.Logger, now func() time.Time) *GameService {
	return &GameService{
		sessions: make(map[string]*gameSession),
		rooms:    rooms,
		scoring:  scoring,
		fanout:   fanout,
		cfg:      cfg,
		now:      now,
		logger:   logger.With("component", "game"),
	}
}

// OnExpiry registers the callback fired when a session's time limit elapses.
func (g *GameService) OnExpiry(fn ExpiryFunc) {
	g.mu.Lock()
	g.onExpiry = fn
	g.mu.Unlock()
}

// StartSession creates the game session, moves the room to playing and
// announces the game and its first question.
func (g *GameService) StartSession(code string, set domain.QuestionSet, timeLimit time.Duration) (string, error) {
	if len(set.Questions) == 0 {
		return "", domain.ErrNoQuestions
	}
	snap, ok := g.rooms.Snapshot(code)
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	now := g.now()
	session := &gameSession{
		id:        uuid.NewString(),
		roomCode:  code,
		topic:     set.Topic,
		questions: set.Questions,
		results:   make(map[string]*domain.PlayerResult),
		active:    true,
		startedAt: now,
		timeLimit: timeLimit,
	}
	usernames := make([]string, 0, len(snap.Players))
	for _, p := range snap.Players {
		session.result(p.Username)
		usernames = append(usernames, p.Username)
		g.roomUpdate(code, "reset score", g.rooms.SetPlayerScore(code, p.Username, 0))
	}

	g.mu.Lock()
	if prev, ok := g.sessions[code]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	if timeLimit > 0 && g.onExpiry != nil {
		expire, id := g.onExpiry, session.id
		session.timer = time.AfterFunc(timeLimit, func() { expire(code, id) })
	}
	g.sessions[code] = session
	g.mu.Unlock()

	if err := g.rooms.SetGameState(code, domain.StatePlaying); err != nil {
		return "", err
	}
	g.roomUpdate(code, "set question", g.rooms.SetQuestion(code, 0, len(set.Questions), now))
	g.roomUpdate(code, "set statuses", g.rooms.SetAllStatuses(code, domain.StatusAnswering))
	g.scoring.Begin(code, usernames)

	g.logger.Info("game started", "room", code, "questions", len(set.Questions), "players", len(usernames))
	g.fanout.BroadcastToRoom(code, domain.GameStartedEvent{
		Topic:          set.Topic,
		Players:        domain.PlayerInfos(g.rooms.ListPlayers(code)),
		TotalQuestions: len(set.Questions),
		TimeLimit:      timeLimit.Seconds(),
		StartedAt:      now,
	})
	g.announceQuestion(code, 0, set.Questions[0], len(set.Questions))
	return session.id, nil
}

func (g *GameService) announceQuestion(code string, index int, q domain.Question, total int) {
	g.fanout.BroadcastToRoom(code, domain.NewQuestionEvent{
		Index:          index,
		TotalQuestions: total,
		Question:       q.View(),
		TimePerAnswer:  g.cfg.MaxTimePerQuestion.Seconds(),
	})
}

// SubmitAnswer validates, scores and stores one answer, then notifies the
// player, the room and the scoring engine.
func (g *GameService) SubmitAnswer(code, username string, sub domain.Submission) (AnswerOutcome, error) {
	if _, ok := g.rooms.FindPlayer(code, username); !ok {
		return AnswerOutcome{}, domain.ErrPlayerNotFound
	}
	state, err := g.rooms.GameState(code)
	if err != nil {
		return AnswerOutcome{}, err
	}

	g.mu.Lock()
	session, ok := g.sessions[code]
	if !ok {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrSessionNotFound
	}
	if !session.active {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrSessionInactive
	}
	if state != domain.StatePlaying {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrInvalidGameState
	}
	if sub.QuestionIndex < 0 || sub.QuestionIndex >= len(session.questions) {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrQuestionOutOfRange
	}
	if sub.QuestionIndex > session.current {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrQuestionNotOpen
	}
	if g.cfg.MaxAnswerBytes > 0 && len(sub.Value) > g.cfg.MaxAnswerBytes {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrSubmissionTooLarge
	}
	value, ok := answerText(sub.Value)
	if !ok {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrMalformedMessage
	}
	result := session.result(username)
	if result.Answered(sub.QuestionIndex) {
		g.mu.Unlock()
		return AnswerOutcome{}, domain.ErrAlreadyAnswered
	}

	question := session.questions[sub.QuestionIndex]
	correct := strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(question.CorrectAnswer))
	timeToAnswer := g.timeToAnswer(session, sub)
	answer := domain.Answer{
		QuestionIndex: sub.QuestionIndex,
		Value:         value,
		SubmittedAt:   sub.SubmittedAt,
		IsCorrect:     correct,
		TimeToAnswer:  timeToAnswer,
		PointsEarned:  g.cfg.Points(correct, timeToAnswer),
	}
	result.Answers = append(result.Answers, answer)
	result.Score += answer.PointsEarned
	result.Status = domain.StatusAnswered
	if len(result.Answers) >= len(session.questions) || sub.QuestionIndex == len(session.questions)-1 {
		result.Status = domain.StatusFinished
	}
	total, status := result.Score, result.Status
	g.mu.Unlock()

	g.roomUpdate(code, "set score", g.rooms.SetPlayerScore(code, username, total))
	g.roomUpdate(code, "set status", g.rooms.SetPlayerStatus(code, username, status))

	before := g.scoring.ComputeScoreboard(code)
	g.scoring.UpdateScores(code, []domain.ScoreDelta{{
		Username:      username,
		QuestionIndex: sub.QuestionIndex,
		Points:        answer.PointsEarned,
		Correct:       correct,
		TimeToAnswer:  timeToAnswer,
	}})
	after := g.scoring.ComputeScoreboard(code)

	g.fanout.SendToPlayer(code, username, domain.AnswerResultEvent{
		QuestionIndex: answer.QuestionIndex,
		Answer:        answer.Value,
		IsCorrect:     answer.IsCorrect,
		TimeToAnswer:  answer.TimeToAnswer.Seconds(),
		PointsEarned:  answer.PointsEarned,
		TotalScore:    total,
	})
	players := g.rooms.ListPlayers(code)
	g.fanout.BroadcastToRoom(code, domain.PlayerAnsweredEvent{
		Username:      username,
		QuestionIndex: sub.QuestionIndex,
		AnsweredCount: g.answeredCount(code, sub.QuestionIndex, players),
		PlayerCount:   len(players),
	})
	g.fanout.BroadcastToRoom(code, domain.ScoreboardEvent{Scoreboard: after})
	if changes := DetectRankChanges(before, after); len(changes) > 0 {
		g.fanout.BroadcastToRoom(code, domain.RankChangedEvent{Changes: changes})
	}

	outcome := AnswerOutcome{
		Answer:           answer,
		TotalScore:       total,
		QuestionComplete: g.CheckQuestionComplete(code, sub.QuestionIndex),
		AllFinished:      g.CheckAllFinished(code),
	}
	if outcome.QuestionComplete {
		g.fanout.BroadcastToRoom(code, domain.QuestionCompleteEvent{
			Index:         sub.QuestionIndex,
			CorrectAnswer: question.CorrectAnswer,
		})
	}
	return outcome, nil
}

// timeToAnswer measures from the session start in whole seconds, never below one.
func (g *GameService) timeToAnswer(session *gameSession, sub domain.Submission) time.Duration {
	now := g.now()
	submitted := sub.SubmittedAt
	if submitted.IsZero() || submitted.After(now) {
		submitted = now
	}
	seconds := int(submitted.Sub(session.startedAt) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// roomUpdate logs a roster write that failed, typically because the room or
// player went away while the game was being updated.
func (g *GameService) roomUpdate(code, op string, err error) {
	if err != nil {
		g.logger.Debug("room update failed", "room", code, "op", op, "error", err)
	}
}

// answerText renders a raw JSON answer: strings unquoted, anything else verbatim.
func answerText(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	if !json.Valid(raw) {
		return "", false
	}
	return trimmed, true
}

func (g *GameService) answeredCount(code string, index int, players []domain.Player) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	session, ok := g.sessions[code]
	if !ok {
		return 0
	}
	count := 0
	for _, p := range players {
		if r, ok := session.results[p.Username]; ok && r.Answered(index) {
			count++
		}
	}
	return count
}

// CheckQuestionComplete reports whether every current member answered index.
func (g *GameService) CheckQuestionComplete(code string, index int) bool {
	players := g.rooms.ListPlayers(code)
	if len(players) == 0 {
		return false
	}
	return g.answeredCount(code, index, players) >= len(players)
}

// CheckAllFinished reports whether every current member has finished.
func (g *GameService) CheckAllFinished(code string) bool {
	players := g.rooms.ListPlayers(code)
	if len(players) == 0 {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	session, ok := g.sessions[code]
	if !ok {
		return false
	}
	finished := 0
	for _, p := range players {
		if r, ok := session.results[p.Username]; ok && r.Status == domain.StatusFinished {
			finished++
		}
	}
	return finished >= len(players)
}

// NextQuestion advances the session. It reports exhausted when there is no
// further question; the caller is expected to end the game.
func (g *GameService) NextQuestion(code string) (index int, exhausted bool, err error) {
	now := g.now()
	g.mu.Lock()
	session, ok := g.sessions[code]
	if !ok {
		g.mu.Unlock()
		return 0, false, domain.ErrSessionNotFound
	}
	if !session.active {
		g.mu.Unlock()
		return 0, false, domain.ErrSessionInactive
	}
	next := session.current + 1
	if next >= len(session.questions) {
		g.mu.Unlock()
		return session.current, true, nil
	}
	session.current = next
	for _, r := range session.results {
		if r.Status != domain.StatusFinished {
			r.Status = domain.StatusAnswering
		}
	}
	question, total := session.questions[next], len(session.questions)
	g.mu.Unlock()

	g.roomUpdate(code, "set question", g.rooms.SetQuestion(code, next, total, now))
	for _, p := range g.rooms.ListPlayers(code) {
		if p.Status != domain.StatusFinished {
			g.roomUpdate(code, "set status", g.rooms.SetPlayerStatus(code, p.Username, domain.StatusAnswering))
		}
	}
	g.logger.Info("next question", "room", code, "index", next)
	g.announceQuestion(code, next, question, total)
	return next, false, nil
}

// Resync sends the active question and the scoreboard to one player, used
// after a reconnect.
func (g *GameService) Resync(code, username string) {
	g.mu.RLock()
	session, ok := g.sessions[code]
	if !ok || !session.active {
		g.mu.RUnlock()
		return
	}
	index, question, total := session.current, session.questions[session.current], len(session.questions)
	g.mu.RUnlock()

	g.fanout.SendToPlayer(code, username, domain.NewQuestionEvent{
		Index:          index,
		TotalQuestions: total,
		Question:       question.View(),
		TimePerAnswer:  g.cfg.MaxTimePerQuestion.Seconds(),
	})
	g.fanout.SendToPlayer(code, username, domain.ScoreboardEvent{Scoreboard: g.scoring.ComputeScoreboard(code)})
}

// UpdateStatus sets a player's self-reported status and tells the room.
func (g *GameService) UpdateStatus(code, username string, status domain.PlayerStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	if err := g.rooms.SetPlayerStatus(code, username, status); err != nil {
		return err
	}
	g.mu.Lock()
	if session, ok := g.sessions[code]; ok {
		if r, ok := session.results[username]; ok {
			r.Status = status
		}
	}
	g.mu.Unlock()
	g.fanout.BroadcastToRoom(code, domain.PlayerStatusEvent{Username: username, Status: status})
	return nil
}

// EndSession marks the session inactive. Results remain readable.
func (g *GameService) EndSession(code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[code]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.timer != nil {
		session.timer.Stop()
	}
	session.active = false
	return nil
}

// Active reports whether the room has a live session, optionally matching id.
func (g *GameService) Active(code, sessionID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	session, ok := g.sessions[code]
	if !ok || !session.active {
		return false
	}
	return sessionID == "" || session.id == sessionID
}

// Results returns every player's result in first-seen order.
func (g *GameService) Results(code string) []domain.PlayerResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	session, ok := g.sessions[code]
	if !ok {
		return nil
	}
	out := make([]domain.PlayerResult, 0, len(session.order))
	for _, u := range session.order {
		r := session.results[u]
		cp := *r
		cp.Answers = append([]domain.Answer(nil), r.Answers...)
		out = append(out, cp)
	}
	return out
}

// Record builds the archive entry for the room's session.
func (g *GameService) Record(code string) (domain.GameRecord, bool) {
	results := g.Results(code)
	g.mu.RLock()
	defer g.mu.RUnlock()
	session, ok := g.sessions[code]
	if !ok {
		return domain.GameRecord{}, false
	}
	return domain.GameRecord{
		RoomCode:  code,
		Topic:     session.topic,
		StartedAt: session.startedAt,
		EndedAt:   g.now(),
		Questions: append([]domain.Question(nil), session.questions...),
		Players:   results,
	}, true
}

// Drop discards the room's session.
func (g *GameService) Drop(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if session, ok := g.sessions[code]; ok {
		if session.timer != nil {
			session.timer.Stop()
		}
		delete(g.sessions, code)
	}
}
