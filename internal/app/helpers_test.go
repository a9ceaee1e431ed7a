package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type received struct {
	Type      domain.EventType `json:"type"`
	Data      json.RawMessage  `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// fakeConn records every envelope it is sent.
type fakeConn struct {
	id string

	mu     sync.Mutex
	events []received
	broken bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("broken pipe")
	}
	var env received
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.events = append(c.events, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) breakPipe() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func (c *fakeConn) types() []domain.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func (c *fakeConn) count(typ domain.EventType) int {
	n := 0
	for _, t := range c.types() {
		if t == typ {
			n++
		}
	}
	return n
}

// last decodes the most recent event of typ into v.
func (c *fakeConn) last(t *testing.T, typ domain.EventType, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == typ {
			require.NoError(t, json.Unmarshal(c.events[i].Data, v))
			return
		}
	}
	t.Fatalf("%s: no %q event among %d received", c.id, typ, len(c.events))
}

func (c *fakeConn) rawLast(t *testing.T, typ domain.EventType) string {
	t.Helper()
	var raw json.RawMessage
	c.last(t, typ, &raw)
	return string(raw)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// harness wires the room components without the QuizService façade.
type harness struct {
	clock    *fakeClock
	registry *Registry
	rooms    *RoomManager
	fanout   *Broadcaster
	scoring  *ScoringEngine
	games    *GameService
	host     *HostController
}

func newHarness(opts ...HostOption) *harness {
	logger := discardLogger()
	clock := newFakeClock()
	registry := NewRegistry()
	rooms := NewRoomManager(registry, logger, WithRoomClock(clock.Now))
	fanout := NewBroadcaster(registry, rooms, logger, WithRosterDedupWindow(0), WithBroadcastClock(clock.Now))
	scoring := NewScoringEngineWithClock(logger, clock.Now)
	games := NewGameServiceWithClock(rooms, scoring, fanout, DefaultScoringConfig(), logger, clock.Now)
	opts = append([]HostOption{WithHostClock(clock.Now)}, opts...)
	return &harness{
		clock:    clock,
		registry: registry,
		rooms:    rooms,
		fanout:   fanout,
		scoring:  scoring,
		games:    games,
		host:     NewHostController(rooms, games, scoring, fanout, logger, opts...),
	}
}

// join registers a fresh socket and adds username to code through it.
func (h *harness) join(t *testing.T, code, username string, userID int64) *fakeConn {
	t.Helper()
	conn := newFakeConn(username + "-conn")
	h.registry.Register(conn)
	res, err := h.rooms.AddPlayer(code, conn.ID(), username, userID)
	require.NoError(t, err)
	if res.Player.IsHost {
		h.host.Claim(code, username)
	}
	// keep each member's join time distinct
	h.clock.Advance(time.Millisecond)
	return conn
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		Topic: "space",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars"}, CorrectAnswer: "Mars"},
			{ID: "q2", Prompt: "How many moons does Mars have?", Options: []string{"1", "2"}, CorrectAnswer: "2"},
		},
	}
}

func answer(index int, value string) domain.Submission {
	raw, _ := json.Marshal(value)
	return domain.Submission{QuestionIndex: index, Value: raw}
}
