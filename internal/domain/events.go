package domain

import "time"

// EventType names an outbound event.
type EventType string

const (
	EventRoomJoined         EventType = "room-joined"
	EventPlayerJoined       EventType = "player-joined"
	EventPlayerLeft         EventType = "player-left"
	EventPlayerDisconnected EventType = "player-disconnected"
	EventRoomPlayers        EventType = "room-players-updated"
	EventRoomClosed         EventType = "room-closed"
	EventHostTransferred    EventType = "host-transferred"
	EventYouAreHost         EventType = "you-are-host"
	EventKicked             EventType = "kicked"
	EventPlayerKicked       EventType = "player-kicked"
	EventGameStarted        EventType = "game-started"
	EventNewQuestion        EventType = "new-question"
	EventAnswerResult       EventType = "answer-result"
	EventPlayerAnswered     EventType = "player-answered"
	EventQuestionComplete   EventType = "question-complete"
	EventScoreboard         EventType = "scoreboard-updated"
	EventRankChanged        EventType = "rank-changed"
	EventPlayerStatus       EventType = "player-status-updated"
	EventGamePaused         EventType = "game-paused"
	EventGameResumed        EventType = "game-resumed"
	EventGameRestarted      EventType = "game-restarted"
	EventGameEnded          EventType = "game-ended"
	EventError              EventType = "error"
)

// Event is implemented by every outbound payload. The set is closed: each
// EventType has exactly one payload struct below.
type Event interface {
	EventType() EventType
}

// Envelope is the uniform wire form of an outbound event.
type Envelope struct {
	Type      EventType `json:"type"`
	Data      Event     `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope wraps an event with its type tag and a server timestamp.
func NewEnvelope(ev Event, now time.Time) Envelope {
	return Envelope{Type: ev.EventType(), Data: ev, Timestamp: now.UTC()}
}

// RoomJoinedEvent is sent privately to the player who joined.
type RoomJoinedEvent struct {
	RoomCode    string       `json:"roomCode"`
	Player      PlayerInfo   `json:"player"`
	Players     []PlayerInfo `json:"players"`
	IsHost      bool         `json:"isHost"`
	Reconnected bool         `json:"reconnected"`
	GameState   GameState    `json:"gameState"`
}

// PlayerJoinedEvent is sent to everyone else in the room.
type PlayerJoinedEvent struct {
	Player      PlayerInfo `json:"player"`
	PlayerCount int        `json:"playerCount"`
	Reconnected bool       `json:"reconnected"`
}

// PlayerLeftEvent announces a departure and, if it happened, host succession.
type PlayerLeftEvent struct {
	Player      PlayerInfo  `json:"player"`
	PlayerCount int         `json:"playerCount"`
	NewHost     *PlayerInfo `json:"newHost,omitempty"`
}

type PlayerDisconnectedEvent struct {
	Username string `json:"username"`
}

// RoomPlayersEvent carries the full roster.
type RoomPlayersEvent struct {
	Players      []PlayerInfo `json:"players"`
	PlayerCount  int          `json:"playerCount"`
	HostUsername string       `json:"hostUsername"`
}

type RoomClosedEvent struct {
	RoomCode string `json:"roomCode"`
	Reason   string `json:"reason"`
}

type HostTransferredEvent struct {
	PreviousHost string `json:"previousHost"`
	NewHost      string `json:"newHost"`
	Reason       string `json:"reason"`
}

type YouAreHostEvent struct {
	RoomCode string `json:"roomCode"`
	Message  string `json:"message"`
}

// KickedEvent is sent to the removed player before removal.
type KickedEvent struct {
	RoomCode string `json:"roomCode"`
	KickedBy string `json:"kickedBy"`
	Reason   string `json:"reason,omitempty"`
}

// PlayerKickedEvent is sent to the remaining roster.
type PlayerKickedEvent struct {
	Username    string `json:"username"`
	KickedBy    string `json:"kickedBy"`
	PlayerCount int    `json:"playerCount"`
}

type GameStartedEvent struct {
	Topic          string       `json:"topic,omitempty"`
	Players        []PlayerInfo `json:"players"`
	TotalQuestions int          `json:"totalQuestions"`
	TimeLimit      float64      `json:"timeLimitSeconds"`
	StartedAt      time.Time    `json:"startedAt"`
}

type NewQuestionEvent struct {
	Index          int          `json:"index"`
	TotalQuestions int          `json:"totalQuestions"`
	Question       QuestionView `json:"question"`
	TimePerAnswer  float64      `json:"timePerAnswerSeconds"`
}

// AnswerResultEvent is sent privately to the submitting player.
type AnswerResultEvent struct {
	QuestionIndex int     `json:"questionIndex"`
	Answer        string  `json:"answer"`
	IsCorrect     bool    `json:"isCorrect"`
	TimeToAnswer  float64 `json:"timeToAnswerSeconds"`
	PointsEarned  int     `json:"pointsEarned"`
	TotalScore    int     `json:"totalScore"`
}

type PlayerAnsweredEvent struct {
	Username      string `json:"username"`
	QuestionIndex int    `json:"questionIndex"`
	AnsweredCount int    `json:"answeredCount"`
	PlayerCount   int    `json:"playerCount"`
}

type QuestionCompleteEvent struct {
	Index         int    `json:"index"`
	CorrectAnswer string `json:"correctAnswer"`
}

type ScoreboardEvent struct {
	Scoreboard []ScoreboardEntry `json:"scoreboard"`
}

type RankChangedEvent struct {
	Changes []RankChange `json:"changes"`
}

type PlayerStatusEvent struct {
	Username string       `json:"username"`
	Status   PlayerStatus `json:"status"`
}

type GamePausedEvent struct {
	By string `json:"by"`
}

type GameResumedEvent struct {
	By string `json:"by"`
}

type GameRestartedEvent struct {
	By      string       `json:"by"`
	Players []PlayerInfo `json:"players"`
}

type GameEndedEvent struct {
	Results FinalResults `json:"results"`
}

// ErrorEvent is only ever sent to the originating connection.
type ErrorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// NewErrorEvent classifies err for the wire.
func NewErrorEvent(err error) ErrorEvent {
	kind, code := Classify(err)
	msg := err.Error()
	if kind == KindInternal {
		msg = "internal error"
	}
	return ErrorEvent{Kind: kind, Code: code, Message: msg}
}

func (RoomJoinedEvent) EventType() EventType         { return EventRoomJoined }
func (PlayerJoinedEvent) EventType() EventType       { return EventPlayerJoined }
func (PlayerLeftEvent) EventType() EventType         { return EventPlayerLeft }
func (PlayerDisconnectedEvent) EventType() EventType { return EventPlayerDisconnected }
func (RoomPlayersEvent) EventType() EventType        { return EventRoomPlayers }
func (RoomClosedEvent) EventType() EventType         { return EventRoomClosed }
func (HostTransferredEvent) EventType() EventType    { return EventHostTransferred }
func (YouAreHostEvent) EventType() EventType         { return EventYouAreHost }
func (KickedEvent) EventType() EventType             { return EventKicked }
func (PlayerKickedEvent) EventType() EventType       { return EventPlayerKicked }
func (GameStartedEvent) EventType() EventType        { return EventGameStarted }
func (NewQuestionEvent) EventType() EventType        { return EventNewQuestion }
func (AnswerResultEvent) EventType() EventType       { return EventAnswerResult }
func (PlayerAnsweredEvent) EventType() EventType     { return EventPlayerAnswered }
func (QuestionCompleteEvent) EventType() EventType   { return EventQuestionComplete }
func (ScoreboardEvent) EventType() EventType         { return EventScoreboard }
func (RankChangedEvent) EventType() EventType        { return EventRankChanged }
func (PlayerStatusEvent) EventType() EventType       { return EventPlayerStatus }
func (GamePausedEvent) EventType() EventType         { return EventGamePaused }
func (GameResumedEvent) EventType() EventType        { return EventGameResumed }
func (GameRestartedEvent) EventType() EventType      { return EventGameRestarted }
func (GameEndedEvent) EventType() EventType          { return EventGameEnded }
func (ErrorEvent) EventType() EventType              { return EventError }
