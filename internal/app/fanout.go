package app

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quiz-room-service/internal/domain"
)

// DefaultRosterDedupWindow suppresses repeated roster broadcasts for a room.
const DefaultRosterDedupWindow = time.Second

// Broadcaster delivers events to players, rooms or every connection.
//
// Delivery is best-effort and at-most-once: each recipient is sent to
// concurrently, a failed send is logged and skipped, nothing is retried and
// there is no ordering guarantee across recipients of the same event. Callers
// never see delivery errors.
type Broadcaster struct {
	registry    *Registry
	rooms       *RoomManager
	now         func() time.Time
	dedupWindow time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	lastRoster map[string]time.Time
}

// BroadcasterOption customises a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithRosterDedupWindow overrides the roster suppression window.
func WithRosterDedupWindow(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) { b.dedupWindow = d }
}

// WithBroadcastClock is used by tests for deterministic timestamps.
func WithBroadcastClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) { b.now = now }
}

func NewBroadcaster(registry *Registry, rooms *RoomManager, logger *slog.Logger, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		registry:    registry,
		rooms:       rooms,
		now:         time.Now,
		dedupWindow: DefaultRosterDedupWindow,
		logger:      logger.With("component", "fanout"),
		lastRoster:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type recipient struct {
	name string
	conn Conn
}

// BroadcastToRoom sends ev to every connected member of code. It returns the
// number of successful sends.
func (b *Broadcaster) BroadcastToRoom(code string, ev domain.Event) int {
	return b.deliver(ev, b.roomRecipients(code, func(domain.Player) bool { return true }))
}

// BroadcastToOthers sends ev to every connected member except excludeUserID.
func (b *Broadcaster) BroadcastToOthers(code string, excludeUserID int64, ev domain.Event) int {
	return b.deliver(ev, b.roomRecipients(code, func(p domain.Player) bool { return p.UserID != excludeUserID }))
}

// SendToPlayer sends ev to one member; no-op when the member has no live connection.
func (b *Broadcaster) SendToPlayer(code, username string, ev domain.Event) bool {
	return b.deliver(ev, b.roomRecipients(code, func(p domain.Player) bool { return p.Username == username })) == 1
}

// SendToConnection sends ev to a single handle, joined or not.
func (b *Broadcaster) SendToConnection(handle string, ev domain.Event) bool {
	conn, ok := b.registry.Lookup(handle)
	if !ok {
		return false
	}
	return b.deliver(ev, []recipient{{name: handle, conn: conn}}) == 1
}

// BroadcastAll sends ev to every registered connection.
func (b *Broadcaster) BroadcastAll(ev domain.Event) int {
	conns := b.registry.Connections()
	targets := make([]recipient, 0, len(conns))
	for _, c := range conns {
		targets = append(targets, recipient{name: c.ID(), conn: c})
	}
	return b.deliver(ev, targets)
}

// BroadcastRoster sends the current roster to the room unless one was sent
// within the dedup window. It reports whether a broadcast happened.
func (b *Broadcaster) BroadcastRoster(code string) bool {
	now := b.now()
	b.mu.Lock()
	if last, ok := b.lastRoster[code]; ok && now.Sub(last) < b.dedupWindow {
		b.mu.Unlock()
		b.logger.Debug("roster broadcast suppressed", "room", code)
		return false
	}
	b.lastRoster[code] = now
	b.mu.Unlock()

	players := b.rooms.ListPlayers(code)
	host := ""
	for _, p := range players {
		if p.IsHost {
			host = p.Username
		}
	}
	b.BroadcastToRoom(code, domain.RoomPlayersEvent{
		Players:      domain.PlayerInfos(players),
		PlayerCount:  len(players),
		HostUsername: host,
	})
	return true
}

// Forget drops dedup bookkeeping for a deleted room.
func (b *Broadcaster) Forget(code string) {
	b.mu.Lock()
	delete(b.lastRoster, code)
	b.mu.Unlock()
}

func (b *Broadcaster) roomRecipients(code string, include func(domain.Player) bool) []recipient {
	players := b.rooms.ListPlayers(code)
	targets := make([]recipient, 0, len(players))
	for _, p := range players {
		if !p.Connected() || !include(p) {
			continue
		}
		conn, ok := b.registry.Lookup(p.ConnectionID)
		if !ok {
			continue
		}
		targets = append(targets, recipient{name: p.Username, conn: conn})
	}
	return targets
}

func (b *Broadcaster) deliver(ev domain.Event, targets []recipient) int {
	if len(targets) == 0 {
		return 0
	}
	data, err := json.Marshal(domain.NewEnvelope(ev, b.now()))
	if err != nil {
		b.logger.Error("encode event", "type", ev.EventType(), "error", err)
		return 0
	}

	var (
		g         errgroup.Group
		mu        sync.Mutex
		delivered int
	)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := t.conn.Send(data); err != nil {
				b.logger.Debug("send failed", "recipient", t.name, "type", ev.EventType(), "error", err)
				return nil
			}
			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return delivered
}
