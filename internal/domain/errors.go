package domain

import "errors"

var (
	// ErrInvalidRoomCode is returned for codes that are not 4-10 alphanumeric characters.
	ErrInvalidRoomCode = errors.New("room code must be 4-10 alphanumeric characters")
	// ErrInvalidUsername is returned for usernames outside 2-50 characters.
	ErrInvalidUsername = errors.New("username must be 2-50 characters")
	// ErrInvalidUserID is returned for non-positive user IDs.
	ErrInvalidUserID = errors.New("user id must be positive")
	// ErrInvalidConnection is returned when no connection handle is supplied.
	ErrInvalidConnection = errors.New("connection handle is required")
	// ErrMalformedMessage indicates an inbound payload could not be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownEvent indicates an inbound event type the server does not handle.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrSubmissionTooLarge indicates an answer payload above the configured ceiling.
	ErrSubmissionTooLarge = errors.New("answer payload too large")
	// ErrQuestionOutOfRange indicates a question index outside the session.
	ErrQuestionOutOfRange = errors.New("question index out of range")
	// ErrInvalidStatus indicates an unknown player status.
	ErrInvalidStatus = errors.New("invalid player status")

	// ErrNotHost is returned when a non-host attempts a host-only action.
	ErrNotHost = errors.New("only the host can perform this action")
	// ErrNotInRoom is returned when a connection acts before joining a room.
	ErrNotInRoom = errors.New("connection has not joined a room")

	// ErrRoomNotFound is returned for unknown room codes.
	ErrRoomNotFound = errors.New("room not found")
	// ErrPlayerNotFound is returned when a user is not a member of the room.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrRoomFull is returned when the roster is at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrGameInProgress is returned when a new player joins a running game.
	ErrGameInProgress = errors.New("game already in progress")
	// ErrUsernameTaken is returned when another member already uses the username.
	ErrUsernameTaken = errors.New("username already taken in room")
	// ErrInvalidGameState is returned when an action is not valid in the current state.
	ErrInvalidGameState = errors.New("action not allowed in current game state")
	// ErrPlayerDisconnected is returned when host authority targets a member with no live connection.
	ErrPlayerDisconnected = errors.New("player is not connected")
	// ErrQuestionNotOpen is returned for answers to a question the room has not reached.
	ErrQuestionNotOpen = errors.New("question is not open yet")
	// ErrCannotKickSelf is returned when the host targets itself.
	ErrCannotKickSelf = errors.New("host cannot kick themselves")
	// ErrAlreadyAnswered is returned for a second answer to the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrSessionNotFound is returned when no game session exists for the room.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrSessionInactive is returned when the game session has ended.
	ErrSessionInactive = errors.New("game session is not active")
	// ErrNoQuestions is returned when a room has no questions configured.
	ErrNoQuestions = errors.New("no questions configured for room")
	// ErrQuestionsNotFound indicates the question source has nothing for a room.
	ErrQuestionsNotFound = errors.New("question set not found")
)

// ErrorKind groups errors by how they are reported.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindStateConflict ErrorKind = "state_conflict"
	KindInternal      ErrorKind = "internal"
)

type classification struct {
	err  error
	kind ErrorKind
	code string
}

var classifications = []classification{
	{ErrInvalidRoomCode, KindValidation, "INVALID_ROOM_CODE"},
	{ErrInvalidUsername, KindValidation, "INVALID_USERNAME"},
	{ErrInvalidUserID, KindValidation, "INVALID_USER_ID"},
	{ErrInvalidConnection, KindValidation, "INVALID_CONNECTION"},
	{ErrMalformedMessage, KindValidation, "MALFORMED_MESSAGE"},
	{ErrUnknownEvent, KindValidation, "UNKNOWN_EVENT"},
	{ErrSubmissionTooLarge, KindValidation, "SUBMISSION_TOO_LARGE"},
	{ErrQuestionOutOfRange, KindValidation, "QUESTION_OUT_OF_RANGE"},
	{ErrInvalidStatus, KindValidation, "INVALID_STATUS"},
	{ErrNotHost, KindAuthorization, "NOT_HOST"},
	{ErrNotInRoom, KindAuthorization, "NOT_IN_ROOM"},
	{ErrRoomNotFound, KindStateConflict, "ROOM_NOT_FOUND"},
	{ErrPlayerNotFound, KindStateConflict, "PLAYER_NOT_FOUND"},
	{ErrRoomFull, KindStateConflict, "ROOM_FULL"},
	{ErrGameInProgress, KindStateConflict, "GAME_IN_PROGRESS"},
	{ErrUsernameTaken, KindStateConflict, "USERNAME_TAKEN"},
	{ErrInvalidGameState, KindStateConflict, "INVALID_GAME_STATE"},
	{ErrPlayerDisconnected, KindStateConflict, "PLAYER_DISCONNECTED"},
	{ErrQuestionNotOpen, KindStateConflict, "QUESTION_NOT_OPEN"},
	{ErrCannotKickSelf, KindStateConflict, "CANNOT_KICK_SELF"},
	{ErrAlreadyAnswered, KindStateConflict, "ALREADY_ANSWERED"},
	{ErrSessionNotFound, KindStateConflict, "SESSION_NOT_FOUND"},
	{ErrSessionInactive, KindStateConflict, "SESSION_INACTIVE"},
	{ErrNoQuestions, KindStateConflict, "NO_QUESTIONS"},
	{ErrQuestionsNotFound, KindStateConflict, "NO_QUESTIONS"},
}

// Classify maps an error to its reporting kind and a stable client-facing code.
func Classify(err error) (ErrorKind, string) {
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c.kind, c.code
		}
	}
	return KindInternal, "INTERNAL_ERROR"
}
