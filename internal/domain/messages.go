package domain

import (
	"encoding/json"
	"time"
)

// InboundType names a client-originated event.
type InboundType string

const (
	InboundJoinRoom     InboundType = "join-room"
	InboundLeaveRoom    InboundType = "leave-room"
	InboundTransferHost InboundType = "transfer-host"
	InboundKickPlayer   InboundType = "kick-player"
	InboundNextQuestion InboundType = "next-question-request"
	InboundStartGame    InboundType = "start-game"
	InboundSubmitAnswer InboundType = "submit-answer"
	InboundUpdateStatus InboundType = "update-status"
	InboundPauseGame    InboundType = "pause-game"
	InboundResumeGame   InboundType = "resume-game"
	InboundEndGame      InboundType = "end-game"
	InboundRestartGame  InboundType = "restart-game"
	InboundNewGame      InboundType = "new-game"
	InboundScoreboard   InboundType = "get-scoreboard"
)

// ClientMessage is a decoded message arriving on an identified connection.
type ClientMessage struct {
	Type     InboundType     `json:"type"`
	RoomCode string          `json:"roomCode"`
	Username string          `json:"username"`
	UserID   int64           `json:"userId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// TransferHostPayload is the payload of transfer-host.
type TransferHostPayload struct {
	NewHost string `json:"newHost"`
}

// KickPlayerPayload is the payload of kick-player.
type KickPlayerPayload struct {
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

// SubmitAnswerPayload is the payload of submit-answer. SubmitTime is the
// client clock in unix milliseconds and may be omitted.
type SubmitAnswerPayload struct {
	QuestionIndex int             `json:"questionIndex"`
	Answer        json.RawMessage `json:"answer"`
	SubmitTime    int64           `json:"submitTime,omitempty"`
}

// Submission converts the payload, falling back to now when no client time was sent.
func (p SubmitAnswerPayload) Submission(now time.Time) Submission {
	at := now
	if p.SubmitTime > 0 {
		at = time.UnixMilli(p.SubmitTime)
	}
	return Submission{QuestionIndex: p.QuestionIndex, Value: p.Answer, SubmittedAt: at}
}

// UpdateStatusPayload is the payload of update-status.
type UpdateStatusPayload struct {
	Status PlayerStatus `json:"status"`
}
