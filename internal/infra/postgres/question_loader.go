package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-room-service/internal/domain"
)

// QuestionLoader loads a room's topic and ordered questions from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, roomCode string) (domain.QuestionSet, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT r.topic, q.id, q.prompt, q.options, q.correct_answer
		FROM rooms r
		LEFT JOIN questions q ON q.room_code = r.code
		WHERE r.code = $1
		ORDER BY q.position`, roomCode)
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	set := domain.QuestionSet{RoomCode: roomCode}
	found := false
	for rows.Next() {
		var (
			topic   string
			id      *int64
			prompt  *string
			options []byte
			correct *string
		)
		if err := rows.Scan(&topic, &id, &prompt, &options, &correct); err != nil {
			return domain.QuestionSet{}, fmt.Errorf("scan question: %w", err)
		}
		found = true
		set.Topic = topic
		if id == nil {
			continue
		}
		q := domain.Question{ID: strconv.FormatInt(*id, 10)}
		if prompt != nil {
			q.Prompt = *prompt
		}
		if correct != nil {
			q.CorrectAnswer = *correct
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return domain.QuestionSet{}, fmt.Errorf("unmarshal options: %w", err)
			}
		}
		set.Questions = append(set.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load questions: %w", err)
	}
	if !found || len(set.Questions) == 0 {
		return domain.QuestionSet{}, domain.ErrQuestionsNotFound
	}
	return set, nil
}
