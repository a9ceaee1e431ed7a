package memory

import (
	"context"
	"sync"

	"quiz-room-service/internal/domain"
)

// GameRecorder keeps finished games in memory.
type GameRecorder struct {
	mu      sync.RWMutex
	records []domain.GameRecord
}

func NewGameRecorder() *GameRecorder {
	return &GameRecorder{}
}

func (r *GameRecorder) RecordGame(_ context.Context, rec domain.GameRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// Records returns every recorded game, oldest first.
func (r *GameRecorder) Records() []domain.GameRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.GameRecord(nil), r.records...)
}

// Latest returns the most recent record for roomCode.
func (r *GameRecorder) Latest(roomCode string) (domain.GameRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].RoomCode == roomCode {
			return r.records[i], true
		}
	}
	return domain.GameRecord{}, false
}
