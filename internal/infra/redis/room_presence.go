package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTimeout = 2 * time.Second

// RoomPresence mirrors live rooms into Redis as marker keys so other tooling
// can see which rooms this instance hosts. It implements app.RoomObserver.
//
//	SET quiz:room:{roomCode} {instance} EX ttl
//
// Markers are best-effort: a Redis failure is logged and never reaches the caller.
type RoomPresence struct {
	client   *redis.Client
	instance string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewRoomPresence builds a presence writer. A zero ttl keeps markers until
// the room is deleted.
func NewRoomPresence(client *redis.Client, instance string, ttl time.Duration, logger *slog.Logger) *RoomPresence {
	return &RoomPresence{
		client:   client,
		instance: instance,
		ttl:      ttl,
		logger:   logger.With("component", "presence"),
	}
}

func (p *RoomPresence) RoomCreated(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := p.client.Set(ctx, roomKey(code), p.instance, p.ttl).Err(); err != nil {
		p.logger.Warn("set room marker", "room", code, "error", err)
	}
}

func (p *RoomPresence) RoomDeleted(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := p.client.Del(ctx, roomKey(code)).Err(); err != nil {
		p.logger.Warn("clear room marker", "room", code, "error", err)
	}
}

// Owner returns the instance that holds code, if any.
func (p *RoomPresence) Owner(ctx context.Context, code string) (string, bool, error) {
	owner, err := p.client.Get(ctx, roomKey(code)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

func roomKey(code string) string {
	return "quiz:room:" + code
}
