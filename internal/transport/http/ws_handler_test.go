package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.QuizService, *memory.GameRecorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(nil).WithFallback(sampleQuestions()), time.Minute)
	recorder := memory.NewGameRecorder()
	service := app.NewQuizService(questions, recorder, app.DefaultServiceConfig(), logger)

	server := httptest.NewServer(NewRouter(service, logger))
	t.Cleanup(func() {
		server.Close()
		service.Close()
	})
	return server, service, recorder
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// readUntil skips events until one of type expect arrives and decodes its data into v.
func readUntil(t *testing.T, conn *websocket.Conn, expect string, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read %s: %v", expect, err)
		}
		if env.Timestamp.IsZero() {
			t.Fatalf("event %s without timestamp", env.Type)
		}
		if env.Type != expect {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(env.Data, v); err != nil {
				t.Fatalf("decode %s: %v", expect, err)
			}
		}
		return
	}
}

func write(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %v: %v", msg["type"], err)
	}
}

func TestWebSocketGameFlow(t *testing.T) {
	server, service, recorder := newTestServer(t)

	alice := dial(t, server, "roomCode=quiz1&username=alice&userId=1")
	var joined domain.RoomJoinedEvent
	readUntil(t, alice, "room-joined", &joined)
	if !joined.IsHost || joined.RoomCode != "QUIZ1" {
		t.Fatalf("expected alice to host QUIZ1, got %+v", joined)
	}

	bob := dial(t, server, "")
	write(t, bob, map[string]any{"type": "join-room", "roomCode": "QUIZ1", "username": "bob", "userId": 2})
	readUntil(t, bob, "room-joined", &joined)
	if joined.IsHost || len(joined.Players) != 2 {
		t.Fatalf("unexpected join for bob: %+v", joined)
	}
	readUntil(t, alice, "player-joined", nil)

	write(t, alice, map[string]any{"type": "start-game"})
	var question domain.NewQuestionEvent
	readUntil(t, bob, "new-question", &question)
	if question.Question.Prompt != "What is 2 + 2?" {
		t.Fatalf("unexpected question: %+v", question)
	}
	readUntil(t, alice, "new-question", nil)

	write(t, bob, map[string]any{
		"type":    "submit-answer",
		"payload": map[string]any{"questionIndex": 0, "answer": "4"},
	})
	var result domain.AnswerResultEvent
	readUntil(t, bob, "answer-result", &result)
	if !result.IsCorrect || result.PointsEarned < 100 {
		t.Fatalf("expected a correct scored answer, got %+v", result)
	}

	write(t, alice, map[string]any{
		"type":    "submit-answer",
		"payload": map[string]any{"questionIndex": 0, "answer": 5},
	})
	var ended domain.GameEndedEvent
	readUntil(t, alice, "game-ended", &ended)
	if len(ended.Results.Rankings) != 2 || ended.Results.Rankings[0].Username != "bob" {
		t.Fatalf("expected bob to win, got %+v", ended.Results.Rankings)
	}
	readUntil(t, bob, "game-ended", nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := recorder.Latest("QUIZ1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("game was not archived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if stats := service.Stats(); stats.Rooms != 1 || stats.Players != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestWebSocketRejectsMalformedMessages(t *testing.T) {
	server, _, _ := newTestServer(t)
	conn := dial(t, server, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ev domain.ErrorEvent
	readUntil(t, conn, "error", &ev)
	if ev.Code != "MALFORMED_MESSAGE" {
		t.Fatalf("expected MALFORMED_MESSAGE, got %+v", ev)
	}

	write(t, conn, map[string]any{"type": "next-question-request"})
	readUntil(t, conn, "error", &ev)
	if ev.Code != "NOT_IN_ROOM" || ev.Kind != domain.KindAuthorization {
		t.Fatalf("expected NOT_IN_ROOM, got %+v", ev)
	}
}

func TestWebSocketBadUserID(t *testing.T) {
	server, _, _ := newTestServer(t)
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?roomCode=QUIZ1&username=alice&userId=abc"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestDisconnectLeavesLobby(t *testing.T) {
	server, service, _ := newTestServer(t)
	alice := dial(t, server, "roomCode=QUIZ1&username=alice&userId=1")
	readUntil(t, alice, "room-joined", nil)
	bob := dial(t, server, "roomCode=QUIZ1&username=bob&userId=2")
	readUntil(t, bob, "room-joined", nil)

	alice.Close()
	var ev domain.HostTransferredEvent
	readUntil(t, bob, "host-transferred", &ev)
	if ev.NewHost != "bob" || ev.PreviousHost != "alice" {
		t.Fatalf("unexpected host transfer: %+v", ev)
	}
	readUntil(t, bob, "you-are-host", nil)
	if players := service.Rooms().ListPlayers("QUIZ1"); len(players) != 1 {
		t.Fatalf("expected one player left, got %d", len(players))
	}
}

func TestAdminRoutes(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", err, resp)
	}
	resp.Body.Close()

	alice := dial(t, server, "roomCode=QUIZ1&username=alice&userId=1")
	readUntil(t, alice, "room-joined", nil)
	bob := dial(t, server, "roomCode=QUIZ1&username=bob&userId=2")
	readUntil(t, bob, "room-joined", nil)

	var room roomResponse
	getJSON(t, server.URL+"/admin/rooms/quiz1", http.StatusOK, &room)
	if room.Code != "QUIZ1" || len(room.Players) != 2 || room.State != domain.StateWaiting {
		t.Fatalf("unexpected room: %+v", room)
	}
	if len(room.HostHistory) != 1 || room.HostHistory[0] != "alice" {
		t.Fatalf("unexpected host history: %v", room.HostHistory)
	}

	var stats app.Stats
	getJSON(t, server.URL+"/stats", http.StatusOK, &stats)
	if stats.Rooms != 1 || stats.Players != 2 || stats.Connections != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	doDelete(t, server.URL+"/admin/rooms/QUIZ1/players/abc", http.StatusBadRequest)
	doDelete(t, server.URL+"/admin/rooms/QUIZ1/players/42", http.StatusNotFound)
	doDelete(t, server.URL+"/admin/rooms/QUIZ1/players/2", http.StatusOK)

	var kicked domain.KickedEvent
	readUntil(t, bob, "kicked", &kicked)
	if kicked.KickedBy != "admin" {
		t.Fatalf("expected admin kick, got %+v", kicked)
	}

	doDelete(t, server.URL+"/admin/rooms/QUIZ1", http.StatusOK)
	var closed domain.RoomClosedEvent
	readUntil(t, alice, "room-closed", &closed)
	if closed.RoomCode != "QUIZ1" {
		t.Fatalf("unexpected close: %+v", closed)
	}

	var apiErr domain.ErrorEvent
	getJSON(t, server.URL+"/admin/rooms/QUIZ1", http.StatusNotFound, &apiErr)
	if apiErr.Code != "ROOM_NOT_FOUND" {
		t.Fatalf("unexpected error body: %+v", apiErr)
	}
	doDelete(t, server.URL+"/admin/rooms/QUIZ1", http.StatusNotFound)
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("get %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func doDelete(t *testing.T, url string, wantStatus int) {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete %s: %v", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("delete %s: expected %d, got %d", url, wantStatus, resp.StatusCode)
	}
}

func sampleQuestions() domain.QuestionSet {
	return domain.QuestionSet{
		Topic: "arithmetic",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectAnswer: "4"},
		},
	}
}
