package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-room-service/internal/domain"
)

// QuestionLoader fetches a room's question set from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, roomCode string) (domain.QuestionSet, error)
}

// QuestionRepository caches question sets with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedSet
}

type cachedSet struct {
	set       domain.QuestionSet
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSet),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, roomCode string) (domain.QuestionSet, error) {
	if set, ok := r.cached(roomCode); ok {
		return set, nil
	}

	result, err, _ := r.sf.Do(roomCode, func() (interface{}, error) {
		if set, ok := r.cached(roomCode); ok {
			return set, nil
		}
		set, err := r.loader.LoadQuestions(ctx, roomCode)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		r.mu.Lock()
		r.cache[roomCode] = cachedSet{set: set, expiresAt: r.clock().Add(r.ttlWithJitterLocked())}
		r.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

// Invalidate drops a cached set so the next lookup reloads it.
func (r *QuestionRepository) Invalidate(roomCode string) {
	r.mu.Lock()
	delete(r.cache, roomCode)
	r.mu.Unlock()
}

func (r *QuestionRepository) cached(roomCode string) (domain.QuestionSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[roomCode]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.QuestionSet{}, false
	}
	return entry.set, true
}

func (r *QuestionRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader serves question sets from a map (tests, demos, rooms
// without a database).
type StaticQuestionLoader struct {
	sets     map[string]domain.QuestionSet
	fallback *domain.QuestionSet
}

func NewStaticQuestionLoader(sets map[string]domain.QuestionSet) *StaticQuestionLoader {
	return &StaticQuestionLoader{sets: sets}
}

// WithFallback serves set to every room without its own entry.
func (l *StaticQuestionLoader) WithFallback(set domain.QuestionSet) *StaticQuestionLoader {
	l.fallback = &set
	return l
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, roomCode string) (domain.QuestionSet, error) {
	if set, ok := l.sets[roomCode]; ok {
		return set, nil
	}
	if l.fallback != nil {
		set := *l.fallback
		set.RoomCode = roomCode
		return set, nil
	}
	return domain.QuestionSet{}, domain.ErrQuestionsNotFound
}
