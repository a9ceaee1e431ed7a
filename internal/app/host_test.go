package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/domain"
)

func TestActionAllowed(t *testing.T) {
	cases := []struct {
		action string
		state  domain.GameState
		want   bool
	}{
		{ActionStartGame, domain.StateLobby, true},
		{ActionStartGame, domain.StateWaiting, true},
		{ActionStartGame, domain.StatePlaying, false},
		{ActionNextQuestion, domain.StatePlaying, true},
		{ActionNextQuestion, domain.StateQuestion, true},
		{ActionNextQuestion, domain.StatePaused, false},
		{ActionPauseGame, domain.StatePlaying, true},
		{ActionPauseGame, domain.StateFinished, false},
		{ActionResumeGame, domain.StatePaused, true},
		{ActionResumeGame, domain.StatePlaying, false},
		{ActionEndGame, domain.StatePaused, true},
		{ActionEndGame, domain.StateWaiting, false},
		{ActionRestartGame, domain.StateFinished, true},
		{ActionNewGame, domain.StatePlaying, false},
		{ActionKickPlayer, domain.StatePlaying, true},
		{ActionTransferHost, domain.StateFinished, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ActionAllowed(tc.action, tc.state), "%s in %s", tc.action, tc.state)
	}
}

func TestAuthorize(t *testing.T) {
	h := newHarness()
	h.join(t, "ROOM1", "alice", 1)
	h.join(t, "ROOM1", "bob", 2)

	assert.NoError(t, h.host.Authorize("ROOM1", "alice", ActionStartGame))
	assert.ErrorIs(t, h.host.Authorize("ROOM1", "bob", ActionStartGame), domain.ErrNotHost)
	assert.ErrorIs(t, h.host.Authorize("ROOM1", "alice", ActionPauseGame), domain.ErrInvalidGameState)
	assert.ErrorIs(t, h.host.Authorize("NOPE1", "alice", ActionStartGame), domain.ErrRoomNotFound)
}

func TestTransferHost(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	alice := h.join(t, "ROOM1", "alice", 1)
	bob := h.join(t, "ROOM1", "bob", 2)

	assert.ErrorIs(t, h.host.TransferHost(ctx, "ROOM1", "bob", "alice"), domain.ErrNotHost)
	require.NoError(t, h.host.TransferHost(ctx, "ROOM1", "alice", "bob"))

	assert.True(t, h.host.IsHost("ROOM1", "bob"))
	assert.False(t, h.host.IsHost("ROOM1", "alice"))
	assert.Equal(t, "bob", h.host.CurrentHost("ROOM1"))
	assert.Equal(t, []string{"alice", "bob"}, h.host.History("ROOM1"))

	var ev domain.HostTransferredEvent
	alice.last(t, domain.EventHostTransferred, &ev)
	assert.Equal(t, domain.HostTransferredEvent{PreviousHost: "alice", NewHost: "bob", Reason: "transferred"}, ev)
	assert.Equal(t, 1, bob.count(domain.EventYouAreHost))
	assert.Zero(t, alice.count(domain.EventYouAreHost))

	actions := h.host.Actions("ROOM1")
	require.Len(t, actions, 1)
	assert.Equal(t, ActionTransferHost, actions[0].Action)
	assert.Equal(t, "alice", actions[0].Host)
	assert.JSONEq(t, `{"newHost":"bob"}`, string(actions[0].Payload))

	require.NoError(t, h.host.TransferHost(ctx, "ROOM1", "bob", "bob"))
	assert.Len(t, h.host.Actions("ROOM1"), 1, "self transfer is a no-op")
	assert.ErrorIs(t, h.host.TransferHost(ctx, "ROOM1", "bob", "zed"), domain.ErrPlayerNotFound)

	h.join(t, "ROOM1", "carol", 3)
	_, err := h.rooms.DisconnectPlayer("carol-conn", "ROOM1")
	require.NoError(t, err)
	assert.ErrorIs(t, h.host.TransferHost(ctx, "ROOM1", "bob", "carol"), domain.ErrPlayerDisconnected)
	assert.Equal(t, "bob", h.host.CurrentHost("ROOM1"))
}

func TestKickPlayer(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	alice := h.join(t, "ROOM1", "alice", 1)
	bob := h.join(t, "ROOM1", "bob", 2)
	carol := h.join(t, "ROOM1", "carol", 3)

	assert.ErrorIs(t, h.host.KickPlayer(ctx, "ROOM1", "alice", "alice", ""), domain.ErrCannotKickSelf)
	assert.ErrorIs(t, h.host.KickPlayer(ctx, "ROOM1", "alice", "zed", ""), domain.ErrPlayerNotFound)
	assert.ErrorIs(t, h.host.KickPlayer(ctx, "ROOM1", "bob", "carol", ""), domain.ErrNotHost)

	require.NoError(t, h.host.KickPlayer(ctx, "ROOM1", "alice", "bob", "spamming"))

	var kicked domain.KickedEvent
	bob.last(t, domain.EventKicked, &kicked)
	assert.Equal(t, domain.KickedEvent{RoomCode: "ROOM1", KickedBy: "alice", Reason: "spamming"}, kicked)
	assert.Zero(t, bob.count(domain.EventPlayerKicked), "kicked player is gone before the room is told")

	var announced domain.PlayerKickedEvent
	carol.last(t, domain.EventPlayerKicked, &announced)
	assert.Equal(t, domain.PlayerKickedEvent{Username: "bob", KickedBy: "alice", PlayerCount: 2}, announced)
	assert.Equal(t, 1, alice.count(domain.EventPlayerKicked))

	_, ok := h.rooms.FindPlayer("ROOM1", "bob")
	assert.False(t, ok)
	_, ok = h.registry.Binding("bob-conn")
	assert.False(t, ok)
}

func TestPauseResumeAndEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	alice := h.join(t, "ROOM1", "alice", 1)
	h.join(t, "ROOM1", "bob", 2)

	var records []domain.GameRecord
	h.host.OnGameFinished(func(rec domain.GameRecord) { records = append(records, rec) })

	_, err := h.host.StartGame(ctx, "ROOM1", "bob", sampleSet(), 0)
	assert.ErrorIs(t, err, domain.ErrNotHost)
	id, err := h.host.StartGame(ctx, "ROOM1", "alice", sampleSet(), 0)
	require.NoError(t, err)
	assert.True(t, h.games.Active("ROOM1", id))

	assert.ErrorIs(t, h.host.ResumeGame(ctx, "ROOM1", "alice"), domain.ErrInvalidGameState)
	require.NoError(t, h.host.PauseGame(ctx, "ROOM1", "alice"))
	state, _ := h.rooms.GameState("ROOM1")
	assert.Equal(t, domain.StatePaused, state)
	assert.ErrorIs(t, h.host.RequestNextQuestion(ctx, "ROOM1", "alice"), domain.ErrInvalidGameState)

	require.NoError(t, h.host.ResumeGame(ctx, "ROOM1", "alice"))
	var resumed domain.GameResumedEvent
	alice.last(t, domain.EventGameResumed, &resumed)
	assert.Equal(t, "alice", resumed.By)

	_, err = h.games.SubmitAnswer("ROOM1", "bob", answer(0, "Mars"))
	require.NoError(t, err)

	results, err := h.host.EndGame(ctx, "ROOM1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", results.Rankings[0].Username)
	assert.False(t, h.games.Active("ROOM1", id))

	snap, _ := h.rooms.Snapshot("ROOM1")
	assert.Equal(t, domain.StateFinished, snap.State)
	for _, p := range snap.Players {
		assert.Equal(t, domain.StatusFinished, p.Status)
	}

	var ended domain.GameEndedEvent
	alice.last(t, domain.EventGameEnded, &ended)
	assert.Equal(t, results.Rankings, ended.Results.Rankings)

	require.Len(t, records, 1)
	assert.Equal(t, "ROOM1", records[0].RoomCode)
	assert.Equal(t, results.Rankings, records[0].Results.Rankings)

	var logged []string
	for _, a := range h.host.Actions("ROOM1") {
		logged = append(logged, a.Action)
	}
	assert.Equal(t, []string{ActionStartGame, ActionPauseGame, ActionResumeGame, ActionEndGame}, logged)
}

func TestNextQuestionExhaustionFinishesGame(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	alice := h.join(t, "ROOM1", "alice", 1)

	_, err := h.host.StartGame(ctx, "ROOM1", "alice", sampleSet(), 0)
	require.NoError(t, err)
	require.NoError(t, h.host.RequestNextQuestion(ctx, "ROOM1", "alice"))
	state, _ := h.rooms.GameState("ROOM1")
	assert.Equal(t, domain.StatePlaying, state)

	require.NoError(t, h.host.RequestNextQuestion(ctx, "ROOM1", "alice"))
	state, _ = h.rooms.GameState("ROOM1")
	assert.Equal(t, domain.StateFinished, state)
	assert.Equal(t, 1, alice.count(domain.EventGameEnded))
}

func TestRestartGame(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	alice := h.join(t, "ROOM1", "alice", 1)
	h.join(t, "ROOM1", "bob", 2)

	_, err := h.host.StartGame(ctx, "ROOM1", "alice", sampleSet(), 0)
	require.NoError(t, err)
	assert.ErrorIs(t, h.host.RestartGame(ctx, "ROOM1", "alice", ActionRestartGame), domain.ErrInvalidGameState)

	_, err = h.games.SubmitAnswer("ROOM1", "alice", answer(0, "Mars"))
	require.NoError(t, err)
	_, err = h.host.EndGame(ctx, "ROOM1", "alice")
	require.NoError(t, err)

	require.NoError(t, h.host.RestartGame(ctx, "ROOM1", "alice", ActionNewGame))
	snap, _ := h.rooms.Snapshot("ROOM1")
	assert.Equal(t, domain.StateWaiting, snap.State)
	for _, p := range snap.Players {
		assert.Zero(t, p.Score)
	}
	assert.Empty(t, h.scoring.ComputeScoreboard("ROOM1"))
	assert.Empty(t, h.games.Results("ROOM1"))

	var restarted domain.GameRestartedEvent
	alice.last(t, domain.EventGameRestarted, &restarted)
	assert.Equal(t, "alice", restarted.By)
	assert.Len(t, restarted.Players, 2)

	_, err = h.host.StartGame(ctx, "ROOM1", "alice", sampleSet(), 0)
	assert.NoError(t, err, "a restarted room can start again")
}

func TestActionLogIsBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(WithActionLogSize(3))
	h.join(t, "ROOM1", "alice", 1)
	h.join(t, "ROOM1", "bob", 2)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.host.TransferHost(ctx, "ROOM1", "alice", "bob"))
		require.NoError(t, h.host.TransferHost(ctx, "ROOM1", "bob", "alice"))
	}
	actions := h.host.Actions("ROOM1")
	require.Len(t, actions, 3)
	assert.Equal(t, "bob", actions[0].Host)
	assert.Equal(t, "alice", actions[1].Host)
	assert.Equal(t, "bob", actions[2].Host)
	assert.Equal(t, []string{"alice", "bob"}, h.host.History("ROOM1"))

	h.host.Drop("ROOM1")
	assert.Empty(t, h.host.Actions("ROOM1"))
	assert.Empty(t, h.host.CurrentHost("ROOM1"))
}

func TestSyncHostAfterDeparture(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.join(t, "ROOM1", "alice", 1)
	bob := h.join(t, "ROOM1", "bob", 2)

	res, err := h.rooms.RemovePlayer("alice-conn", "ROOM1")
	require.NoError(t, err)
	require.NotNil(t, res.NewHost)
	h.host.SyncHost(ctx, "ROOM1", "alice", *res.NewHost)

	assert.Equal(t, "bob", h.host.CurrentHost("ROOM1"))
	var ev domain.HostTransferredEvent
	bob.last(t, domain.EventHostTransferred, &ev)
	assert.Equal(t, "previous host left", ev.Reason)
	assert.Equal(t, 1, bob.count(domain.EventYouAreHost))
	assert.Equal(t, ActionSuccession, h.host.Actions("ROOM1")[0].Action)
}

func TestHandOffHostAfterHostDisconnects(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.join(t, "ROOM1", "alice", 1)
	bob := h.join(t, "ROOM1", "bob", 2)
	_, err := h.host.StartGame(ctx, "ROOM1", "alice", sampleSet(), 0)
	require.NoError(t, err)

	assert.False(t, h.host.HandOffHost(ctx, "ROOM1"))
	_, err = h.rooms.DisconnectPlayer("alice-conn", "ROOM1")
	require.NoError(t, err)
	require.True(t, h.host.HandOffHost(ctx, "ROOM1"))

	assert.Equal(t, "bob", h.host.CurrentHost("ROOM1"))
	var ev domain.HostTransferredEvent
	bob.last(t, domain.EventHostTransferred, &ev)
	assert.Equal(t, domain.HostTransferredEvent{PreviousHost: "alice", NewHost: "bob", Reason: "previous host disconnected"}, ev)
	assert.Equal(t, 1, bob.count(domain.EventYouAreHost))

	require.NoError(t, h.host.PauseGame(ctx, "ROOM1", "bob"))
	require.NoError(t, h.host.ResumeGame(ctx, "ROOM1", "bob"))
	_, err = h.host.EndGame(ctx, "ROOM1", "bob")
	require.NoError(t, err)
}

func TestFinishGameReleasesVacantSeats(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	alice := h.join(t, "ROOM1", "alice", 1)
	h.join(t, "ROOM1", "bob", 2)
	h.join(t, "ROOM1", "carol", 3)

	var records []domain.GameRecord
	h.host.OnGameFinished(func(rec domain.GameRecord) { records = append(records, rec) })
	_, err := h.host.StartGame(ctx, "ROOM1", "alice", sampleSet(), 0)
	require.NoError(t, err)
	_, err = h.rooms.DisconnectPlayer("bob-conn", "ROOM1")
	require.NoError(t, err)

	_, err = h.host.EndGame(ctx, "ROOM1", "alice")
	require.NoError(t, err)

	_, ok := h.rooms.FindPlayer("ROOM1", "bob")
	assert.False(t, ok, "a seat nobody reclaimed is released once the game is over")
	var left domain.PlayerLeftEvent
	alice.last(t, domain.EventPlayerLeft, &left)
	assert.Equal(t, "bob", left.Player.Username)
	assert.Equal(t, 2, left.PlayerCount)
	assert.Nil(t, left.NewHost)

	require.Len(t, records, 1)
	assert.Len(t, records[0].Players, 3, "the archive still has every player who took part")
}
