package domain

import (
	"encoding/json"
	"time"
)

// GameState gates which host actions are valid for a room.
type GameState string

const (
	StateLobby    GameState = "lobby"
	StateWaiting  GameState = "waiting"
	StatePlaying  GameState = "playing"
	StatePaused   GameState = "paused"
	StateFinished GameState = "finished"
	// StateQuestion is accepted by the host action table as an alias of playing.
	// Rooms never enter it.
	StateQuestion GameState = "question"
)

// PlayerStatus tracks where a player is within the current question.
type PlayerStatus string

const (
	StatusWaiting   PlayerStatus = "waiting"
	StatusReady     PlayerStatus = "ready"
	StatusAnswering PlayerStatus = "answering"
	StatusAnswered  PlayerStatus = "answered"
	StatusFinished  PlayerStatus = "finished"
)

// Valid reports whether s is one of the known statuses.
func (s PlayerStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusReady, StatusAnswering, StatusAnswered, StatusFinished:
		return true
	}
	return false
}

// Player is a room-scoped participant. ConnectionID is empty while disconnected.
type Player struct {
	UserID       int64        `json:"userId"`
	Username     string       `json:"username"`
	ConnectionID string       `json:"-"`
	Score        int          `json:"score"`
	Status       PlayerStatus `json:"status"`
	IsHost       bool         `json:"isHost"`
	JoinedAt     time.Time    `json:"joinedAt"`
}

// Connected reports whether the player currently has a live connection handle.
func (p Player) Connected() bool {
	return p.ConnectionID != ""
}

// PlayerInfo is the wire view of a player.
type PlayerInfo struct {
	UserID    int64        `json:"userId"`
	Username  string       `json:"username"`
	Score     int          `json:"score"`
	Status    PlayerStatus `json:"status"`
	IsHost    bool         `json:"isHost"`
	Connected bool         `json:"connected"`
	JoinedAt  time.Time    `json:"joinedAt"`
}

// Info converts a player to its wire view.
func (p Player) Info() PlayerInfo {
	return PlayerInfo{
		UserID:    p.UserID,
		Username:  p.Username,
		Score:     p.Score,
		Status:    p.Status,
		IsHost:    p.IsHost,
		Connected: p.Connected(),
		JoinedAt:  p.JoinedAt,
	}
}

// PlayerInfos converts a roster to wire views, preserving order.
func PlayerInfos(players []Player) []PlayerInfo {
	infos := make([]PlayerInfo, 0, len(players))
	for _, p := range players {
		infos = append(infos, p.Info())
	}
	return infos
}

// Room is a snapshot of a room's roster and game progress.
type Room struct {
	Code              string    `json:"code"`
	Players           []Player  `json:"players"`
	State             GameState `json:"state"`
	CurrentQuestion   int       `json:"currentQuestion"`
	TotalQuestions    int       `json:"totalQuestions"`
	QuestionStartedAt time.Time `json:"questionStartedAt"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Host returns the room's current host, if any.
func (r Room) Host() (Player, bool) {
	for _, p := range r.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

// Question is one entry of a room's question set.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// QuestionView is a question as shown to players, without its answer.
type QuestionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// View hides the correct answer.
func (q Question) View() QuestionView {
	return QuestionView{ID: q.ID, Prompt: q.Prompt, Options: q.Options}
}

// QuestionSet is the ordered question list configured for a room.
type QuestionSet struct {
	RoomCode  string     `json:"roomCode"`
	Topic     string     `json:"topic"`
	Questions []Question `json:"questions"`
}

// Submission is a decoded answer submission from a client.
type Submission struct {
	QuestionIndex int
	Value         json.RawMessage
	SubmittedAt   time.Time
}

// Answer is a stored, scored submission.
type Answer struct {
	QuestionIndex int           `json:"questionIndex"`
	Value         string        `json:"value"`
	SubmittedAt   time.Time     `json:"submittedAt"`
	IsCorrect     bool          `json:"isCorrect"`
	TimeToAnswer  time.Duration `json:"timeToAnswer"`
	PointsEarned  int           `json:"pointsEarned"`
}

// PlayerResult holds one player's answers within a game session.
type PlayerResult struct {
	Username string       `json:"username"`
	Answers  []Answer     `json:"answers"`
	Score    int          `json:"score"`
	Status   PlayerStatus `json:"status"`
}

// Answered reports whether the player already answered question index.
func (r PlayerResult) Answered(index int) bool {
	for _, a := range r.Answers {
		if a.QuestionIndex == index {
			return true
		}
	}
	return false
}

// ScoreDelta is one scored answer fed to the scoring engine.
type ScoreDelta struct {
	Username      string
	QuestionIndex int
	Points        int
	Correct       bool
	TimeToAnswer  time.Duration
}

// PlayerScore aggregates a player's scoring across a session.
type PlayerScore struct {
	Username       string        `json:"username"`
	TotalScore     int           `json:"totalScore"`
	CorrectAnswers int           `json:"correctAnswers"`
	TotalAnswers   int           `json:"totalAnswers"`
	TimedAnswers   int           `json:"timedAnswers"`
	AverageTime    time.Duration `json:"averageTime"`
	CurrentStreak  int           `json:"currentStreak"`
	MaxStreak      int           `json:"maxStreak"`
	QuestionPoints []int         `json:"questionPoints"`
	LastUpdated    time.Time     `json:"lastUpdated"`
}

// Accuracy returns the share of correct answers in [0, 1].
func (s PlayerScore) Accuracy() float64 {
	if s.TotalAnswers == 0 {
		return 0
	}
	return float64(s.CorrectAnswers) / float64(s.TotalAnswers)
}

// ScoreboardEntry is one ranked row of a scoreboard.
type ScoreboardEntry struct {
	Username       string        `json:"username"`
	Score          int           `json:"score"`
	CorrectAnswers int           `json:"correctAnswers"`
	AverageTime    time.Duration `json:"averageTime"`
	Rank           int           `json:"rank"`
}

// RankDirection tells whether a player moved up or down.
type RankDirection string

const (
	RankUp   RankDirection = "up"
	RankDown RankDirection = "down"
)

// RankChange records a player's movement between two scoreboards.
type RankChange struct {
	Username  string        `json:"username"`
	OldRank   int           `json:"oldRank"`
	NewRank   int           `json:"newRank"`
	Direction RankDirection `json:"direction"`
}

// Achievement names.
const (
	AchievementPerfectScore = "Perfect Score"
	AchievementSpeedDemon   = "Speed Demon"
	AchievementStreakMaster = "Streak Master"
)

// Achievement is awarded at game end.
type Achievement struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

// GameStatistics aggregates a finished game.
type GameStatistics struct {
	PlayerCount     int           `json:"playerCount"`
	AverageScore    float64       `json:"averageScore"`
	HighestScore    int           `json:"highestScore"`
	LowestScore     int           `json:"lowestScore"`
	AverageAccuracy float64       `json:"averageAccuracy"`
	AverageTime     time.Duration `json:"averageTime"`
}

// FinalResults is the end-of-game summary.
type FinalResults struct {
	RoomCode     string            `json:"roomCode"`
	Rankings     []ScoreboardEntry `json:"rankings"`
	Statistics   GameStatistics    `json:"statistics"`
	Achievements []Achievement     `json:"achievements"`
}

// HostAction is one entry of a room's host action log.
type HostAction struct {
	Action    string          `json:"action"`
	Host      string          `json:"host"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// GameRecord is what gets archived once a game finishes.
type GameRecord struct {
	RoomCode  string         `json:"roomCode"`
	Topic     string         `json:"topic"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	Questions []Question     `json:"questions"`
	Players   []PlayerResult `json:"players"`
	Results   FinalResults   `json:"results"`
}
