package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"quiz-room-service/internal/domain"
)

// DefaultGamesSubject carries one message per finished game.
const DefaultGamesSubject = "quiz.games.finished"

// GamePublisher publishes finished games to NATS so downstream consumers
// (stats, history) can pick them up.
type GamePublisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func NewGamePublisher(conn *nats.Conn, subject string) *GamePublisher {
	if subject == "" {
		subject = DefaultGamesSubject
	}
	return &GamePublisher{conn: conn, subject: subject}
}

// RecordGame publishes rec and waits for the server to acknowledge the flush.
func (p *GamePublisher) RecordGame(ctx context.Context, rec domain.GameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal game record: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Room-Code", rec.RoomCode)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish game record: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush game record: %w", err)
	}
	return nil
}

// Subject returns the subject records are published on.
func (p *GamePublisher) Subject() string { return p.subject }
