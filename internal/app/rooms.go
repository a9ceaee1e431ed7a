package app

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"quiz-room-service/internal/domain"
)

const (
	// DefaultMaxPlayers is the roster cap when none is configured.
	DefaultMaxPlayers = 10

	minRoomCodeLen = 4
	maxRoomCodeLen = 10
	minUsernameLen = 2
	maxUsernameLen = 50
)

// RoomObserver is notified when rooms appear and disappear (presence markers, metrics).
type RoomObserver interface {
	RoomCreated(code string)
	RoomDeleted(code string)
}

// JoinResult describes the outcome of AddPlayer.
type JoinResult struct {
	Player      domain.Player
	Room        domain.Room
	Reconnected bool
	// PreviousConnection is the handle replaced by a reconnect.
	PreviousConnection string
}

// RemoveResult describes the outcome of a removal.
type RemoveResult struct {
	Removed     domain.Player
	NewHost     *domain.Player
	RoomDeleted bool
	Remaining   []domain.Player
}

type room struct {
	code              string
	players           []*domain.Player
	state             domain.GameState
	currentQuestion   int
	totalQuestions    int
	questionStartedAt time.Time
	createdAt         time.Time
}

func (r *room) snapshot() domain.Room {
	players := make([]domain.Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	return domain.Room{
		Code:              r.code,
		Players:           players,
		State:             r.state,
		CurrentQuestion:   r.currentQuestion,
		TotalQuestions:    r.totalQuestions,
		QuestionStartedAt: r.questionStartedAt,
		CreatedAt:         r.createdAt,
	}
}

func (r *room) find(match func(*domain.Player) bool) (int, *domain.Player) {
	for i, p := range r.players {
		if match(p) {
			return i, p
		}
	}
	return -1, nil
}

func (r *room) byUsername(username string) (int, *domain.Player) {
	return r.find(func(p *domain.Player) bool { return p.Username == username })
}

// successor returns the earliest joiner, preferring members with a live
// connection over seats kept for a reconnect.
func (r *room) successor() *domain.Player {
	var best *domain.Player
	for _, p := range r.players {
		switch {
		case best == nil:
			best = p
		case p.Connected() != best.Connected():
			if p.Connected() {
				best = p
			}
		case p.JoinedAt.Before(best.JoinedAt):
			best = p
		}
	}
	return best
}

// RoomManager owns rosters, host flags and room lifecycle. It performs no I/O;
// callers broadcast the outcome of each mutation.
type RoomManager struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	registry   *Registry
	maxPlayers int
	now        func() time.Time
	observer   RoomObserver
	logger     *slog.Logger
}

// RoomOption customises a RoomManager.
type RoomOption func(*RoomManager)

// WithMaxPlayers overrides the roster cap.
func WithMaxPlayers(n int) RoomOption {
	return func(m *RoomManager) {
		if n > 0 {
			m.maxPlayers = n
		}
	}
}

// WithRoomClock is used by tests for deterministic join times.
func WithRoomClock(now func() time.Time) RoomOption {
	return func(m *RoomManager) { m.now = now }
}

// WithRoomObserver registers a lifecycle observer.
func WithRoomObserver(o RoomObserver) RoomOption {
	return func(m *RoomManager) { m.observer = o }
}

func NewRoomManager(registry *Registry, logger *slog.Logger, opts ...RoomOption) *RoomManager {
	m := &RoomManager{
		rooms:      make(map[string]*room),
		registry:   registry,
		maxPlayers: DefaultMaxPlayers,
		now:        time.Now,
		logger:     logger.With("component", "rooms"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateRoomCode checks the 4-10 alphanumeric rule.
func ValidateRoomCode(code string) error {
	if len(code) < minRoomCodeLen || len(code) > maxRoomCodeLen {
		return domain.ErrInvalidRoomCode
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return domain.ErrInvalidRoomCode
		}
	}
	return nil
}

// NormalizeRoomCode upper-cases a code so "abcd" and "ABCD" name the same room.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return "", domain.ErrInvalidUsername
	}
	return username, nil
}

// GetOrCreateRoom returns the room, creating an empty lobby if needed.
func (m *RoomManager) GetOrCreateRoom(code string) (domain.Room, error) {
	if err := ValidateRoomCode(code); err != nil {
		return domain.Room{}, err
	}
	m.mu.Lock()
	r, created := m.getOrCreateLocked(code)
	snap := r.snapshot()
	m.mu.Unlock()
	if created {
		m.notifyCreated(code)
	}
	return snap, nil
}

func (m *RoomManager) getOrCreateLocked(code string) (*room, bool) {
	if r, ok := m.rooms[code]; ok {
		return r, false
	}
	r := &room{code: code, state: domain.StateLobby, createdAt: m.now()}
	m.rooms[code] = r
	m.logger.Info("room created", "room", code)
	return r, true
}

// AddPlayer joins or reconnects a user.
func (m *RoomManager) AddPlayer(code, handle, username string, userID int64) (JoinResult, error) {
	if err := ValidateRoomCode(code); err != nil {
		return JoinResult{}, err
	}
	username, err := validateUsername(username)
	if err != nil {
		return JoinResult{}, err
	}
	if userID <= 0 {
		return JoinResult{}, domain.ErrInvalidUserID
	}
	if handle == "" {
		return JoinResult{}, domain.ErrInvalidConnection
	}

	m.mu.Lock()
	r, existed := m.rooms[code]
	if existed {
		if _, p := r.find(func(p *domain.Player) bool { return p.UserID == userID }); p != nil {
			previous := p.ConnectionID
			p.ConnectionID = handle
			result := JoinResult{Player: *p, Room: r.snapshot(), Reconnected: true, PreviousConnection: previous}
			m.mu.Unlock()
			if previous != "" && previous != handle {
				m.registry.Release(previous)
			}
			m.registry.Bind(handle, code, userID)
			m.logger.Info("player reconnected", "room", code, "user", result.Player.Username)
			return result, nil
		}
		if len(r.players) >= m.maxPlayers {
			m.mu.Unlock()
			return JoinResult{}, domain.ErrRoomFull
		}
		if r.state == domain.StatePlaying {
			m.mu.Unlock()
			return JoinResult{}, domain.ErrGameInProgress
		}
		if _, p := r.byUsername(username); p != nil {
			m.mu.Unlock()
			return JoinResult{}, domain.ErrUsernameTaken
		}
	}
	r, created := m.getOrCreateLocked(code)
	player := &domain.Player{
		UserID:       userID,
		Username:     username,
		ConnectionID: handle,
		Status:       domain.StatusWaiting,
		IsHost:       len(r.players) == 0,
		JoinedAt:     m.now(),
	}
	r.players = append(r.players, player)
	if r.state == domain.StateLobby && len(r.players) > 1 {
		r.state = domain.StateWaiting
	}
	result := JoinResult{Player: *player, Room: r.snapshot()}
	m.mu.Unlock()

	if created {
		m.notifyCreated(code)
	}
	m.registry.Bind(handle, code, userID)
	m.logger.Info("player joined", "room", code, "user", username, "host", player.IsHost)
	return result, nil
}

// RemovePlayer removes the player owning handle.
func (m *RoomManager) RemovePlayer(handle, code string) (RemoveResult, error) {
	if handle == "" {
		return RemoveResult{}, domain.ErrInvalidConnection
	}
	return m.remove(code, func(p *domain.Player) bool { return p.ConnectionID == handle })
}

// RemovePlayerByUserID removes the player with userID.
func (m *RoomManager) RemovePlayerByUserID(userID int64, code string) (RemoveResult, error) {
	return m.remove(code, func(p *domain.Player) bool { return p.UserID == userID })
}

// RemovePlayerByUsername removes the player with username.
func (m *RoomManager) RemovePlayerByUsername(username, code string) (RemoveResult, error) {
	return m.remove(code, func(p *domain.Player) bool { return p.Username == username })
}

func (m *RoomManager) remove(code string, match func(*domain.Player) bool) (RemoveResult, error) {
	m.mu.Lock()
	r, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return RemoveResult{}, domain.ErrRoomNotFound
	}
	idx, p := r.find(match)
	if p == nil {
		m.mu.Unlock()
		return RemoveResult{}, domain.ErrPlayerNotFound
	}
	r.players = append(r.players[:idx], r.players[idx+1:]...)
	result := RemoveResult{Removed: *p}

	if p.IsHost && len(r.players) > 0 {
		successor := r.successor()
		successor.IsHost = true
		promoted := *successor
		result.NewHost = &promoted
	}
	if len(r.players) == 0 {
		delete(m.rooms, code)
		result.RoomDeleted = true
	} else {
		result.Remaining = r.snapshot().Players
	}
	m.mu.Unlock()

	if p.ConnectionID != "" {
		m.registry.Release(p.ConnectionID)
	}
	m.logger.Info("player removed", "room", code, "user", p.Username, "roomDeleted", result.RoomDeleted)
	if result.RoomDeleted {
		m.notifyDeleted(code)
	}
	return result, nil
}

// DisconnectPlayer clears the handle of whoever holds it, keeping the player.
func (m *RoomManager) DisconnectPlayer(handle, code string) (domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return domain.Player{}, domain.ErrRoomNotFound
	}
	_, p := r.find(func(p *domain.Player) bool { return p.ConnectionID == handle })
	if p == nil {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	p.ConnectionID = ""
	return *p, nil
}

// DeleteRoom drops a room regardless of its roster and returns the evicted players.
func (m *RoomManager) DeleteRoom(code string) ([]domain.Player, error) {
	m.mu.Lock()
	r, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return nil, domain.ErrRoomNotFound
	}
	evicted := r.snapshot().Players
	delete(m.rooms, code)
	m.mu.Unlock()

	for _, p := range evicted {
		if p.ConnectionID != "" {
			m.registry.Release(p.ConnectionID)
		}
	}
	m.notifyDeleted(code)
	return evicted, nil
}

// ListPlayers returns the roster in join order.
func (m *RoomManager) ListPlayers(code string) []domain.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return nil
	}
	return r.snapshot().Players
}

// Snapshot returns a copy of the room.
func (m *RoomManager) Snapshot(code string) (domain.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return domain.Room{}, false
	}
	return r.snapshot(), true
}

// FindPlayer returns a member by username.
func (m *RoomManager) FindPlayer(code, username string) (domain.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return domain.Player{}, false
	}
	_, p := r.byUsername(username)
	if p == nil {
		return domain.Player{}, false
	}
	return *p, true
}

// FindPlayerByUserID returns a member by user ID.
func (m *RoomManager) FindPlayerByUserID(code string, userID int64) (domain.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return domain.Player{}, false
	}
	_, p := r.find(func(p *domain.Player) bool { return p.UserID == userID })
	if p == nil {
		return domain.Player{}, false
	}
	return *p, true
}

// Host returns the room's current host.
func (m *RoomManager) Host(code string) (domain.Player, bool) {
	snap, ok := m.Snapshot(code)
	if !ok {
		return domain.Player{}, false
	}
	return snap.Host()
}

// TransferHostFlag moves isHost from one member to another.
func (m *RoomManager) TransferHostFlag(code, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	_, src := r.byUsername(from)
	_, dst := r.byUsername(to)
	if src == nil || dst == nil {
		return domain.ErrPlayerNotFound
	}
	if !src.IsHost {
		return domain.ErrNotHost
	}
	if !dst.Connected() {
		return domain.ErrPlayerDisconnected
	}
	src.IsHost = false
	dst.IsHost = true
	return nil
}

// HandOffHost moves the host flag from a host without a live connection to
// the earliest-joined connected member. It reports false when the host is
// connected or nobody else is.
func (m *RoomManager) HandOffHost(code string) (string, domain.Player, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return "", domain.Player{}, false
	}
	_, current := r.find(func(p *domain.Player) bool { return p.IsHost })
	if current == nil || current.Connected() {
		return "", domain.Player{}, false
	}
	next := r.successor()
	if next == nil || !next.Connected() {
		return "", domain.Player{}, false
	}
	current.IsHost = false
	next.IsHost = true
	return current.Username, *next, true
}

// PruneDisconnected drops every member without a live connection and
// returns them along with the promoted host, if the host was among them.
// A room where nobody is connected is left as is.
func (m *RoomManager) PruneDisconnected(code string) ([]domain.Player, *domain.Player, error) {
	m.mu.Lock()
	r, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return nil, nil, domain.ErrRoomNotFound
	}
	kept := make([]*domain.Player, 0, len(r.players))
	var removed []domain.Player
	hostGone := false
	for _, p := range r.players {
		if p.Connected() {
			kept = append(kept, p)
			continue
		}
		removed = append(removed, *p)
		hostGone = hostGone || p.IsHost
	}
	if len(removed) == 0 || len(kept) == 0 {
		m.mu.Unlock()
		return nil, nil, nil
	}
	r.players = kept
	var newHost *domain.Player
	if hostGone {
		successor := r.successor()
		successor.IsHost = true
		promoted := *successor
		newHost = &promoted
	}
	m.mu.Unlock()

	for _, p := range removed {
		m.logger.Info("player removed", "room", code, "user", p.Username, "reason", "not connected")
	}
	return removed, newHost, nil
}

// RoomExists reports whether code names a live room.
func (m *RoomManager) RoomExists(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[code]
	return ok
}

// RoomCount returns the number of live rooms.
func (m *RoomManager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// PlayerCount returns the number of players across all rooms.
func (m *RoomManager) PlayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, r := range m.rooms {
		total += len(r.players)
	}
	return total
}

// GameState returns the room's state.
func (m *RoomManager) GameState(code string) (domain.GameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	return r.state, nil
}

// SetGameState moves the room to state.
func (m *RoomManager) SetGameState(code string, state domain.GameState) error {
	return m.mutate(code, func(r *room) { r.state = state })
}

// SetQuestion records the active question and when it was presented.
func (m *RoomManager) SetQuestion(code string, index, total int, startedAt time.Time) error {
	return m.mutate(code, func(r *room) {
		r.currentQuestion = index
		r.totalQuestions = total
		r.questionStartedAt = startedAt
	})
}

// SetPlayerStatus updates one member's status.
func (m *RoomManager) SetPlayerStatus(code, username string, status domain.PlayerStatus) error {
	var err error
	mutErr := m.mutate(code, func(r *room) {
		_, p := r.byUsername(username)
		if p == nil {
			err = domain.ErrPlayerNotFound
			return
		}
		p.Status = status
	})
	if mutErr != nil {
		return mutErr
	}
	return err
}

// SetAllStatuses updates every member's status.
func (m *RoomManager) SetAllStatuses(code string, status domain.PlayerStatus) error {
	return m.mutate(code, func(r *room) {
		for _, p := range r.players {
			p.Status = status
		}
	})
}

// SetPlayerScore updates one member's running score.
func (m *RoomManager) SetPlayerScore(code, username string, score int) error {
	var err error
	mutErr := m.mutate(code, func(r *room) {
		_, p := r.byUsername(username)
		if p == nil {
			err = domain.ErrPlayerNotFound
			return
		}
		p.Score = score
	})
	if mutErr != nil {
		return mutErr
	}
	return err
}

// ResetForNewGame clears scores, statuses and question progress.
func (m *RoomManager) ResetForNewGame(code string) error {
	return m.mutate(code, func(r *room) {
		for _, p := range r.players {
			p.Score = 0
			p.Status = domain.StatusWaiting
		}
		r.currentQuestion = 0
		r.totalQuestions = 0
		r.questionStartedAt = time.Time{}
		if len(r.players) > 1 {
			r.state = domain.StateWaiting
		} else {
			r.state = domain.StateLobby
		}
	})
}

func (m *RoomManager) mutate(code string, fn func(*room)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	fn(r)
	return nil
}

func (m *RoomManager) notifyCreated(code string) {
	if m.observer != nil {
		m.observer.RoomCreated(code)
	}
}

func (m *RoomManager) notifyDeleted(code string) {
	if m.observer != nil {
		m.observer.RoomDeleted(code)
	}
}
