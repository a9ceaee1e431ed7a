package app

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quiz-room-service/internal/domain"
)

// StreakMasterThreshold is the minimum max-streak for the Streak Master award.
const StreakMasterThreshold = 5

type scoringSession struct {
	scores     map[string]*domain.PlayerScore
	order      []string
	lastUpdate time.Time
	active     bool
}

func (s *scoringSession) entry(username string) *domain.PlayerScore {
	if ps, ok := s.scores[username]; ok {
		return ps
	}
	ps := &domain.PlayerScore{Username: username}
	s.scores[username] = ps
	s.order = append(s.order, username)
	return ps
}

// ScoringEngine aggregates per-player totals and ranks them. It never returns
// errors: unknown rooms yield empty results.
type ScoringEngine struct {
	mu       sync.RWMutex
	sessions map[string]*scoringSession
	now      func() time.Time
	logger   *slog.Logger
}

func NewScoringEngine(logger *slog.Logger) *ScoringEngine {
	return NewScoringEngineWithClock(logger, time.Now)
}

// NewScoringEngineWithClock is used by tests for deterministic timestamps.
func NewScoringEngineWithClock(logger *slog.Logger, now func() time.Time) *ScoringEngine {
	return &ScoringEngine{
		sessions: make(map[string]*scoringSession),
		now:      now,
		logger:   logger.With("component", "scoring"),
	}
}

// Begin starts a fresh scoring session seeded with usernames in roster order.
func (e *ScoringEngine) Begin(code string, usernames []string) {
	s := &scoringSession{scores: make(map[string]*domain.PlayerScore), active: true, lastUpdate: e.now()}
	for _, u := range usernames {
		s.entry(u)
	}
	e.mu.Lock()
	e.sessions[code] = s
	e.mu.Unlock()
}

// UpdateScores upserts each player's aggregate with one scored answer.
func (e *ScoringEngine) UpdateScores(code string, deltas []domain.ScoreDelta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[code]
	if !ok {
		s = &scoringSession{scores: make(map[string]*domain.PlayerScore), active: true}
		e.sessions[code] = s
	}
	now := e.now()
	for _, d := range deltas {
		ps := s.entry(d.Username)
		ps.TotalScore += d.Points
		ps.TotalAnswers++
		ps.QuestionPoints = append(ps.QuestionPoints, d.Points)
		if d.Correct {
			ps.CorrectAnswers++
			ps.CurrentStreak++
			if ps.CurrentStreak > ps.MaxStreak {
				ps.MaxStreak = ps.CurrentStreak
			}
		} else {
			ps.CurrentStreak = 0
		}
		if d.TimeToAnswer > 0 {
			ps.TimedAnswers++
			ps.AverageTime += (d.TimeToAnswer - ps.AverageTime) / time.Duration(ps.TimedAnswers)
		}
		ps.LastUpdated = now
	}
	s.lastUpdate = now
}

// Score returns one player's aggregate.
func (e *ScoringEngine) Score(code, username string) (domain.PlayerScore, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[code]
	if !ok {
		return domain.PlayerScore{}, false
	}
	ps, ok := s.scores[username]
	if !ok {
		return domain.PlayerScore{}, false
	}
	out := *ps
	out.QuestionPoints = append([]int(nil), ps.QuestionPoints...)
	return out, true
}

// ComputeScoreboard ranks players by score descending, then average time
// ascending, then first-seen order. Ranks are positions, never shared.
func (e *ScoringEngine) ComputeScoreboard(code string) []domain.ScoreboardEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[code]
	if !ok {
		return []domain.ScoreboardEntry{}
	}
	return scoreboardLocked(s)
}

func scoreboardLocked(s *scoringSession) []domain.ScoreboardEntry {
	board := make([]domain.ScoreboardEntry, 0, len(s.order))
	for _, u := range s.order {
		ps := s.scores[u]
		board = append(board, domain.ScoreboardEntry{
			Username:       ps.Username,
			Score:          ps.TotalScore,
			CorrectAnswers: ps.CorrectAnswers,
			AverageTime:    ps.AverageTime,
		})
	}
	sort.SliceStable(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			return board[i].Score > board[j].Score
		}
		return board[i].AverageTime < board[j].AverageTime
	})
	for i := range board {
		board[i].Rank = i + 1
	}
	return board
}

// DetectRankChanges reports up/down moves for players present in both boards.
func DetectRankChanges(previous, current []domain.ScoreboardEntry) []domain.RankChange {
	old := make(map[string]int, len(previous))
	for _, e := range previous {
		old[e.Username] = e.Rank
	}
	var changes []domain.RankChange
	for _, e := range current {
		before, ok := old[e.Username]
		if !ok || before == e.Rank {
			continue
		}
		dir := domain.RankDown
		if e.Rank < before {
			dir = domain.RankUp
		}
		changes = append(changes, domain.RankChange{
			Username:  e.Username,
			OldRank:   before,
			NewRank:   e.Rank,
			Direction: dir,
		})
	}
	return changes
}

// ComputeFinalResults returns rankings, aggregate statistics and achievements.
func (e *ScoringEngine) ComputeFinalResults(code string) domain.FinalResults {
	e.mu.RLock()
	defer e.mu.RUnlock()
	results := domain.FinalResults{
		RoomCode:     code,
		Rankings:     []domain.ScoreboardEntry{},
		Achievements: []domain.Achievement{},
	}
	s, ok := e.sessions[code]
	if !ok || len(s.order) == 0 {
		return results
	}
	results.Rankings = scoreboardLocked(s)
	results.Statistics = statisticsLocked(s)
	results.Achievements = achievementsLocked(s)
	return results
}

func statisticsLocked(s *scoringSession) domain.GameStatistics {
	stats := domain.GameStatistics{PlayerCount: len(s.order)}
	var (
		totalScore    int
		totalAccuracy float64
		totalTime     time.Duration
		timedPlayers  int
	)
	for i, u := range s.order {
		ps := s.scores[u]
		totalScore += ps.TotalScore
		totalAccuracy += ps.Accuracy()
		if i == 0 || ps.TotalScore > stats.HighestScore {
			stats.HighestScore = ps.TotalScore
		}
		if i == 0 || ps.TotalScore < stats.LowestScore {
			stats.LowestScore = ps.TotalScore
		}
		if ps.TimedAnswers > 0 {
			totalTime += ps.AverageTime
			timedPlayers++
		}
	}
	n := float64(len(s.order))
	stats.AverageScore = float64(totalScore) / n
	stats.AverageAccuracy = totalAccuracy / n
	if timedPlayers > 0 {
		stats.AverageTime = totalTime / time.Duration(timedPlayers)
	}
	return stats
}

func achievementsLocked(s *scoringSession) []domain.Achievement {
	awards := []domain.Achievement{}
	for _, u := range s.order {
		ps := s.scores[u]
		if ps.TotalAnswers > 0 && ps.CorrectAnswers == ps.TotalAnswers {
			awards = append(awards, domain.Achievement{
				Name:        domain.AchievementPerfectScore,
				Username:    u,
				Description: fmt.Sprintf("answered all %d questions correctly", ps.TotalAnswers),
			})
		}
	}

	var fastest *domain.PlayerScore
	for _, u := range s.order {
		ps := s.scores[u]
		if ps.TimedAnswers == 0 {
			continue
		}
		if fastest == nil || ps.AverageTime < fastest.AverageTime {
			fastest = ps
		}
	}
	if fastest != nil {
		awards = append(awards, domain.Achievement{
			Name:        domain.AchievementSpeedDemon,
			Username:    fastest.Username,
			Description: fmt.Sprintf("fastest average answer: %.1fs", fastest.AverageTime.Seconds()),
		})
	}

	var streaker *domain.PlayerScore
	for _, u := range s.order {
		ps := s.scores[u]
		if streaker == nil || ps.MaxStreak > streaker.MaxStreak {
			streaker = ps
		}
	}
	if streaker != nil && streaker.MaxStreak >= StreakMasterThreshold {
		awards = append(awards, domain.Achievement{
			Name:        domain.AchievementStreakMaster,
			Username:    streaker.Username,
			Description: fmt.Sprintf("%d correct answers in a row", streaker.MaxStreak),
		})
	}
	return awards
}

// End marks the session inactive; results stay readable.
func (e *ScoringEngine) End(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[code]; ok {
		s.active = false
		s.lastUpdate = e.now()
		e.logger.Debug("scoring session ended", "room", code, "players", len(s.order))
	}
}

// Active reports whether the room's scoring session is live.
func (e *ScoringEngine) Active(code string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[code]
	return ok && s.active
}

// Drop discards the room's scoring session.
func (e *ScoringEngine) Drop(code string) {
	e.mu.Lock()
	delete(e.sessions, code)
	e.mu.Unlock()
}
