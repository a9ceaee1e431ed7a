package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-room-service/internal/domain"
)

// GameRecorder archives finished games in one transaction: the session row,
// its questions, then one row per player.
type GameRecorder struct {
	pool *pgxpool.Pool
}

func NewGameRecorder(pool *pgxpool.Pool) *GameRecorder {
	return &GameRecorder{pool: pool}
}

func (r *GameRecorder) RecordGame(ctx context.Context, rec domain.GameRecord) error {
	return r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		id, err := createGameSession(ctx, tx, rec)
		if err != nil {
			return err
		}
		if err := addQuestionsToSession(ctx, tx, id, rec.Questions); err != nil {
			return err
		}
		return addPlayersToSession(ctx, tx, id, rec)
	})
}

func createGameSession(ctx context.Context, tx pgx.Tx, rec domain.GameRecord) (int64, error) {
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return 0, fmt.Errorf("marshal results: %w", err)
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO game_sessions (room_code, topic, started_at, ended_at, player_count, results)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.RoomCode, rec.Topic, rec.StartedAt, rec.EndedAt, len(rec.Players), results,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create game session: %w", err)
	}
	return id, nil
}

func addQuestionsToSession(ctx context.Context, tx pgx.Tx, sessionID int64, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, q := range questions {
		batch.Queue(`
			INSERT INTO game_session_questions (session_id, position, question_id, prompt, correct_answer)
			VALUES ($1, $2, $3, $4, $5)`,
			sessionID, i, q.ID, q.Prompt, q.CorrectAnswer)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("add questions to session: %w", err)
	}
	return nil
}

func addPlayersToSession(ctx context.Context, tx pgx.Tx, sessionID int64, rec domain.GameRecord) error {
	if len(rec.Players) == 0 {
		return nil
	}
	ranks := make(map[string]domain.ScoreboardEntry, len(rec.Results.Rankings))
	for _, e := range rec.Results.Rankings {
		ranks[e.Username] = e
	}
	batch := &pgx.Batch{}
	for _, p := range rec.Players {
		answers, err := json.Marshal(p.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers: %w", err)
		}
		entry := ranks[p.Username]
		batch.Queue(`
			INSERT INTO game_session_players (session_id, username, score, rank, correct_answers, answers)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, p.Username, p.Score, entry.Rank, entry.CorrectAnswers, answers)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("add players to session: %w", err)
	}
	return nil
}
