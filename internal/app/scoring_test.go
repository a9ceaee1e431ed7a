package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/domain"
)

func delta(username string, q, points int, correct bool, secs int) domain.ScoreDelta {
	return domain.ScoreDelta{
		Username:      username,
		QuestionIndex: q,
		Points:        points,
		Correct:       correct,
		TimeToAnswer:  time.Duration(secs) * time.Second,
	}
}

func TestScoreboardOrdering(t *testing.T) {
	e := NewScoringEngine(discardLogger())
	e.Begin("ROOM1", []string{"alice", "bob", "carol", "dave"})
	e.UpdateScores("ROOM1", []domain.ScoreDelta{
		delta("alice", 0, 150, true, 5),
		delta("bob", 0, 150, true, 3),
		delta("carol", 0, 0, false, 10),
		delta("dave", 0, 0, false, 10),
	})

	board := e.ComputeScoreboard("ROOM1")
	require.Len(t, board, 4)
	// equal score: faster average first; full tie: first seen first
	assert.Equal(t, []string{"bob", "alice", "carol", "dave"}, usernames(board))
	for i, entry := range board {
		assert.Equal(t, i+1, entry.Rank)
	}
	assert.Equal(t, 3*time.Second, board[0].AverageTime)
	assert.Equal(t, 1, board[0].CorrectAnswers)
}

func TestScoreboardUnknownRoom(t *testing.T) {
	e := NewScoringEngine(discardLogger())
	assert.Empty(t, e.ComputeScoreboard("NOPE1"))
	results := e.ComputeFinalResults("NOPE1")
	assert.Empty(t, results.Rankings)
	assert.Empty(t, results.Achievements)
	assert.Zero(t, results.Statistics.PlayerCount)
}

func TestScoreAggregates(t *testing.T) {
	e := NewScoringEngine(discardLogger())
	e.UpdateScores("ROOM1", []domain.ScoreDelta{delta("alice", 0, 150, true, 4)})
	e.UpdateScores("ROOM1", []domain.ScoreDelta{delta("alice", 1, 140, true, 6)})
	e.UpdateScores("ROOM1", []domain.ScoreDelta{delta("alice", 2, 0, false, 8)})

	ps, ok := e.Score("ROOM1", "alice")
	require.True(t, ok)
	assert.Equal(t, 290, ps.TotalScore)
	assert.Equal(t, 2, ps.CorrectAnswers)
	assert.Equal(t, 3, ps.TotalAnswers)
	assert.Equal(t, 6*time.Second, ps.AverageTime)
	assert.Equal(t, 0, ps.CurrentStreak)
	assert.Equal(t, 2, ps.MaxStreak)
	assert.Equal(t, []int{150, 140, 0}, ps.QuestionPoints)
	assert.InDelta(t, 2.0/3.0, ps.Accuracy(), 0.0001)
}

func TestDetectRankChanges(t *testing.T) {
	before := []domain.ScoreboardEntry{{Username: "alice", Rank: 1}, {Username: "bob", Rank: 2}}
	after := []domain.ScoreboardEntry{{Username: "bob", Rank: 1}, {Username: "alice", Rank: 2}, {Username: "carol", Rank: 3}}

	changes := DetectRankChanges(before, after)
	require.Len(t, changes, 2)
	assert.Equal(t, domain.RankChange{Username: "bob", OldRank: 2, NewRank: 1, Direction: domain.RankUp}, changes[0])
	assert.Equal(t, domain.RankChange{Username: "alice", OldRank: 1, NewRank: 2, Direction: domain.RankDown}, changes[1])

	assert.Empty(t, DetectRankChanges(after, after))
}

func TestFinalResultsAchievements(t *testing.T) {
	e := NewScoringEngine(discardLogger())
	e.Begin("ROOM1", []string{"alice", "bob", "idle"})
	for q := 0; q < StreakMasterThreshold; q++ {
		e.UpdateScores("ROOM1", []domain.ScoreDelta{
			delta("alice", q, 150, true, 5),
			delta("bob", q, 0, q%2 == 0, 2),
		})
	}

	results := e.ComputeFinalResults("ROOM1")
	assert.Equal(t, "ROOM1", results.RoomCode)
	require.Len(t, results.Rankings, 3)
	assert.Equal(t, "alice", results.Rankings[0].Username)

	stats := results.Statistics
	assert.Equal(t, 3, stats.PlayerCount)
	assert.Equal(t, 750, stats.HighestScore)
	assert.Equal(t, 0, stats.LowestScore)
	assert.InDelta(t, 250.0, stats.AverageScore, 0.001)
	assert.InDelta(t, (1.0+0.6+0)/3, stats.AverageAccuracy, 0.001)
	assert.Equal(t, 3500*time.Millisecond, stats.AverageTime)

	awarded := map[string]string{}
	for _, a := range results.Achievements {
		awarded[a.Name] = a.Username
	}
	assert.Equal(t, map[string]string{
		domain.AchievementPerfectScore: "alice",
		domain.AchievementSpeedDemon:   "bob",
		domain.AchievementStreakMaster: "alice",
	}, awarded, "a player with no answers earns nothing")
}

func TestEndKeepsResultsReadable(t *testing.T) {
	e := NewScoringEngine(discardLogger())
	e.Begin("ROOM1", []string{"alice"})
	assert.True(t, e.Active("ROOM1"))
	e.End("ROOM1")
	assert.False(t, e.Active("ROOM1"))
	assert.Len(t, e.ComputeScoreboard("ROOM1"), 1)
	e.Drop("ROOM1")
	assert.Empty(t, e.ComputeScoreboard("ROOM1"))
}

func usernames(board []domain.ScoreboardEntry) []string {
	out := make([]string, 0, len(board))
	for _, e := range board {
		out = append(out, e.Username)
	}
	return out
}
