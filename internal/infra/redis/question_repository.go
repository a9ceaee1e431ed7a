package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

// QuestionRepository caches question sets in Redis as JSON and falls back to
// a loader on cache miss.
//
//	SET quiz:questions:{roomCode} {json}  EX ttl
type QuestionRepository struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, roomCode string) (domain.QuestionSet, error) {
	if set, ok := r.cached(ctx, roomCode); ok {
		return set, nil
	}

	result, err, _ := r.sf.Do(roomCode, func() (interface{}, error) {
		// Re-check cache in case another caller filled it.
		if set, ok := r.cached(ctx, roomCode); ok {
			return set, nil
		}
		set, err := r.loader.LoadQuestions(ctx, roomCode)
		if err != nil {
			return domain.QuestionSet{}, err
		}
		if raw, err := json.Marshal(set); err == nil {
			_ = r.client.Set(ctx, questionsKey(roomCode), raw, r.ttlWithJitter()).Err()
		}
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// Invalidate drops the cached set for roomCode.
func (r *QuestionRepository) Invalidate(ctx context.Context, roomCode string) error {
	return r.client.Del(ctx, questionsKey(roomCode)).Err()
}

func (r *QuestionRepository) cached(ctx context.Context, roomCode string) (domain.QuestionSet, bool) {
	raw, err := r.client.Get(ctx, questionsKey(roomCode)).Bytes()
	if err != nil {
		// any error, redis.Nil included, degrades to the loader
		return domain.QuestionSet{}, false
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil || len(set.Questions) == 0 {
		return domain.QuestionSet{}, false
	}
	return set, true
}

func questionsKey(roomCode string) string {
	return "quiz:questions:" + roomCode
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
