package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_FirstParticipantBecomesAdmin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)

	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))

	s := h.coord.State()
	assert.Equal(t, Joined, s.Phase)
	assert.Equal(t, "demo", s.RoomID)
	assert.True(t, s.IsAdmin)
	require.Len(t, s.Roster, 1)
	assert.Equal(t, "alice", s.Self.Username)
	assert.Equal(t, 1, h.sink.len())
	assert.Equal(t, []string{"join-room:demo:alice"}, h.signal.events())
}

func TestJoin_AdminTieBrokenByUsername(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.tick = 0 // одинаковый joined_at у всех

	zoe := startCoordinator(t, store)
	adam := startCoordinator(t, store)

	require.NoError(t, zoe.coord.Join(ctx, "demo", "zoe"))
	require.NoError(t, adam.coord.Join(ctx, "demo", "adam"))
	store.flush(t, zoe.coord, adam.coord)

	assert.True(t, adam.coord.State().IsAdmin)
	assert.False(t, zoe.coord.State().IsAdmin)
}

func TestJoin_CaptureFailureWritesNoRow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store, func(h *harness, _ *Config) {
		h.capture.userErr = errors.New("camera busy")
	})

	err := h.coord.Join(ctx, "demo", "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCapture))

	assert.Equal(t, Idle, h.coord.State().Phase)
	assert.Zero(t, store.count("insert_participant"))
	assert.Empty(t, store.roster("demo"))
	assert.Empty(t, h.signal.events())
}

func TestJoin_ConflictStopsCamera(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	first := startCoordinator(t, store)
	dup := startCoordinator(t, store)

	require.NoError(t, first.coord.Join(ctx, "demo", "alice"))

	err := dup.coord.Join(ctx, "demo", "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPersistence))
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, Idle, dup.coord.State().Phase)

	streams := dup.capture.all()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].isStopped())
	assert.Len(t, store.roster("demo"), 1)
}

func TestJoin_SignalFailureRollsBackRow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store, func(h *harness, _ *Config) {
		h.signal.joinErr = errors.New("socket closed")
	})

	require.Error(t, h.coord.Join(ctx, "demo", "alice"))

	assert.Equal(t, Idle, h.coord.State().Phase)
	assert.Empty(t, store.roster("demo"))
	streams := h.capture.all()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].isStopped())
	assert.Zero(t, h.sink.len())
}

func TestJoin_TimeoutAbortsJoin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store, func(h *harness, cfg *Config) {
		h.signal.block = true
		cfg.JoinTimeout = 50 * time.Millisecond
	})

	err := h.coord.Join(ctx, "demo", "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, Idle, h.coord.State().Phase)
	assert.Empty(t, store.roster("demo"))
}

func TestJoin_RejectedWhileJoined(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)

	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))
	err := h.coord.Join(ctx, "other", "alice")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	s := h.coord.State()
	assert.Equal(t, Joined, s.Phase)
	assert.Equal(t, "demo", s.RoomID)
	assert.Equal(t, 1, store.count("insert_participant"))
}

func TestJoin_RequiresRoomAndUsername(t *testing.T) {
	h := startCoordinator(t, newMemStore())

	err := h.coord.Join(context.Background(), "", "alice")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	assert.Equal(t, Idle, h.coord.State().Phase)
}

func TestJoin_NormalizesPaddedKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)

	require.NoError(t, h.coord.Join(ctx, " demo ", " bob"))
	s := h.coord.State()
	assert.Equal(t, "demo", s.RoomID)
	assert.Equal(t, "bob", s.Username)
	assert.True(t, s.IsAdmin)
	require.Len(t, store.roster("demo"), 1)
	assert.Equal(t, "bob", store.roster("demo")[0].Username)

	require.NoError(t, h.coord.Leave(ctx))
	assert.Empty(t, store.roster("demo"))
}

func TestLeave_StopsTracksEvenWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)

	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))
	require.NoError(t, h.coord.ToggleScreenShare(ctx))
	require.True(t, h.coord.State().Sharing)

	store.mu.Lock()
	store.deleteErr = domain.ErrTransport
	store.mu.Unlock()

	err := h.coord.Leave(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPersistence))

	s := h.coord.State()
	assert.Equal(t, Idle, s.Phase)
	assert.False(t, s.Sharing)
	assert.Empty(t, s.RoomID)

	streams := h.capture.all()
	require.Len(t, streams, 2)
	for _, st := range streams {
		assert.True(t, st.isStopped(), st.id)
	}
	assert.Zero(t, h.sink.len())
	assert.Contains(t, h.signal.events(), "leave-room:demo:alice")
}

func TestLeave_RejectedWhenIdle(t *testing.T) {
	h := startCoordinator(t, newMemStore())

	err := h.coord.Leave(context.Background())
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestLeave_WaitsForInFlightJoin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store, func(h *harness, _ *Config) {
		h.signal.gate = make(chan struct{})
		h.signal.entered = make(chan struct{}, 1)
	})

	joinErr := make(chan error, 1)
	go func() { joinErr <- h.coord.Join(ctx, "demo", "alice") }()

	select {
	case <-h.signal.entered:
	case <-time.After(time.Second):
		t.Fatal("join never reached signaling")
	}
	require.Equal(t, Joining, h.coord.State().Phase)

	leaveErr := make(chan error, 1)
	go func() { leaveErr <- h.coord.Leave(ctx) }()
	require.Never(t, func() bool { return len(leaveErr) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"leave must queue behind the join")

	close(h.signal.gate)
	require.NoError(t, <-joinErr)
	require.NoError(t, <-leaveErr)

	s := h.coord.State()
	assert.Equal(t, Idle, s.Phase)
	assert.Empty(t, s.RoomID)
	assert.Empty(t, store.roster("demo"))

	streams := h.capture.all()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].isStopped())
	assert.Zero(t, h.sink.len())
	assert.Equal(t, []string{"join-room:demo:alice", "leave-room:demo:alice"}, h.signal.events())
}

func TestRejoinAfterLeave_SingleRow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)

	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))
	require.NoError(t, h.coord.Leave(ctx))
	assert.Empty(t, store.roster("demo"))

	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))
	assert.Len(t, store.roster("demo"), 1)
	assert.Len(t, h.coord.State().Roster, 1)
}

func TestAdminHandOver(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := startCoordinator(t, store)
	b := startCoordinator(t, store)

	require.NoError(t, a.coord.Join(ctx, "demo", "A"))
	require.NoError(t, b.coord.Join(ctx, "demo", "B"))
	store.flush(t, a.coord, b.coord)

	assert.True(t, a.coord.State().IsAdmin)
	assert.False(t, b.coord.State().IsAdmin)
	assert.Len(t, a.coord.State().Roster, 2)
	assert.Len(t, b.coord.State().Roster, 2)

	require.NoError(t, a.coord.Leave(ctx))
	store.flush(t, b.coord)

	s := b.coord.State()
	assert.True(t, s.IsAdmin)
	require.Len(t, s.Roster, 1)
	assert.Equal(t, "B", s.Roster[0].Username)
}

func TestHandleEvent_IgnoresOtherRooms(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)
	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))
	store.takePending()

	before := store.count("list_participants")
	other := domain.Participant{RoomID: "other", Username: "bob", JoinedAt: time.Now()}
	require.NoError(t, h.coord.HandleEvent(ctx, domain.ParticipantInserted(other)))
	require.NoError(t, h.coord.HandleEvent(ctx, domain.MessageInserted(domain.ChatMessage{
		ID: "x", RoomID: "other", Sender: "bob", Message: "hi", Timestamp: time.Now(),
	})))
	require.NoError(t, h.coord.HandleEvent(ctx, domain.BreakoutInserted(domain.BreakoutRoom{
		ID: "b1", MainRoomID: "other", Name: "g", CreatedBy: "bob",
	})))

	s := h.coord.State()
	assert.Equal(t, before, store.count("list_participants"))
	assert.Empty(t, s.Chat)
	assert.Empty(t, s.Breakouts)
}

func TestHandleEvent_IgnoredWhenIdle(t *testing.T) {
	store := newMemStore()
	h := startCoordinator(t, store)

	p := domain.Participant{RoomID: "demo", Username: "bob", JoinedAt: time.Now()}
	require.NoError(t, h.coord.HandleEvent(context.Background(), domain.ParticipantInserted(p)))
	assert.Zero(t, store.count("list_participants"))
	assert.Equal(t, Idle, h.coord.State().Phase)
}

func TestChat_AppearsOnlyAfterEcho(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := startCoordinator(t, store)
	b := startCoordinator(t, store)
	require.NoError(t, a.coord.Join(ctx, "demo", "A"))
	require.NoError(t, b.coord.Join(ctx, "demo", "B"))
	store.flush(t, a.coord, b.coord)

	require.NoError(t, a.coord.SendChat(ctx, "  hello  "))
	assert.Empty(t, a.coord.State().Chat)

	evs := store.takePending()
	require.Len(t, evs, 1)
	for _, c := range []*Coordinator{a.coord, b.coord} {
		require.NoError(t, c.HandleEvent(ctx, evs[0]))
		// повторная доставка не дублирует
		require.NoError(t, c.HandleEvent(ctx, evs[0]))
	}

	for _, h := range []*harness{a, b} {
		chat := h.coord.State().Chat
		require.Len(t, chat, 1)
		assert.Equal(t, "hello", chat[0].Message)
		assert.Equal(t, "A", chat[0].Sender)
		assert.Len(t, h.msgs, 1)
	}
}

func TestChat_EmptyRejectedLocally(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)
	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))

	assert.True(t, errors.Is(h.coord.SendChat(ctx, "   "), domain.ErrEmptyMessage))
	assert.Zero(t, store.count("insert_message"))
}

func TestChat_RequiresJoin(t *testing.T) {
	store := newMemStore()
	h := startCoordinator(t, store)

	assert.True(t, errors.Is(h.coord.SendChat(context.Background(), "hi"), domain.ErrNotJoined))
	assert.Zero(t, store.count("insert_message"))
}

func TestChat_HistoryLoadedOnJoin(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := startCoordinator(t, store)
	require.NoError(t, a.coord.Join(ctx, "demo", "A"))
	require.NoError(t, a.coord.SendChat(ctx, "first"))
	require.NoError(t, a.coord.SendChat(ctx, "second"))

	b := startCoordinator(t, store)
	require.NoError(t, b.coord.Join(ctx, "demo", "B"))

	chat := b.coord.State().Chat
	require.Len(t, chat, 2)
	assert.Equal(t, "first", chat[0].Message)
	assert.Equal(t, "second", chat[1].Message)
}

func TestBreakout_NonAdminRejectedWithoutStoreCall(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := startCoordinator(t, store)
	b := startCoordinator(t, store)
	require.NoError(t, a.coord.Join(ctx, "demo", "A"))
	require.NoError(t, b.coord.Join(ctx, "demo", "B"))
	store.flush(t, a.coord, b.coord)

	_, err := NewBreakoutManager(b.coord).Create(ctx, "demo", "Group1", "B")
	assert.True(t, errors.Is(err, domain.ErrPermission))

	// админ, но не от своего имени
	_, err = NewBreakoutManager(a.coord).Create(ctx, "demo", "Group1", "B")
	assert.True(t, errors.Is(err, domain.ErrPermission))

	_, err = NewBreakoutManager(a.coord).Create(ctx, "demo", "  ", "A")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	assert.Zero(t, store.count("insert_breakout"))
}

func TestBreakout_CreateJoinAndReturn(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := startCoordinator(t, store)
	b := startCoordinator(t, store)
	require.NoError(t, a.coord.Join(ctx, "demo", "A"))
	require.NoError(t, b.coord.Join(ctx, "demo", "B"))
	store.flush(t, a.coord, b.coord)

	id, err := NewBreakoutManager(a.coord).Create(ctx, "demo", "Group1", "A")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	store.flush(t, a.coord, b.coord)

	for _, h := range []*harness{a, b} {
		list := h.coord.State().Breakouts
		require.Len(t, list, 1)
		assert.Equal(t, id, list[0].ID)
		assert.Equal(t, "Group1", list[0].Name)
	}

	mgr := NewBreakoutManager(b.coord)
	listed, err := mgr.List(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, mgr.Join(ctx, id))
	s := b.coord.State()
	assert.Equal(t, Joined, s.Phase)
	assert.Equal(t, id, s.RoomID)
	assert.Equal(t, "demo", s.ParentRoomID)
	assert.True(t, s.InBreakout())
	// первый в breakout'е: его админ
	assert.True(t, s.IsAdmin)
	// список breakout'ов основной комнаты виден и изнутри
	assert.Len(t, s.Breakouts, 1)
	assert.Len(t, store.roster(id), 1)

	store.flush(t, a.coord, b.coord)
	ra := a.coord.State().Roster
	require.Len(t, ra, 1)
	assert.Equal(t, "A", ra[0].Username)

	// старая камера остановлена при переходе
	streams := b.capture.all()
	require.Len(t, streams, 2)
	assert.True(t, streams[0].isStopped())
	assert.False(t, streams[1].isStopped())

	require.NoError(t, b.coord.ReturnToMain(ctx))
	s = b.coord.State()
	assert.Equal(t, "demo", s.RoomID)
	assert.Empty(t, s.ParentRoomID)
	assert.False(t, s.IsAdmin)
	assert.Empty(t, store.roster(id))
	assert.Len(t, store.roster("demo"), 2)
}

func TestReturnToMain_RejectedOutsideBreakout(t *testing.T) {
	ctx := context.Background()
	h := startCoordinator(t, newMemStore())
	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))

	err := h.coord.ReturnToMain(ctx)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Equal(t, "demo", h.coord.State().RoomID)
}

func TestBreakout_UnknownIDRejected(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)
	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))

	err := NewBreakoutManager(h.coord).Join(ctx, "no-such-breakout")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	err = NewBreakoutManager(h.coord).Join(ctx, " ")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	s := h.coord.State()
	assert.Equal(t, Joined, s.Phase)
	assert.Equal(t, "demo", s.RoomID)
	assert.Empty(t, store.roster("no-such-breakout"))
	assert.Len(t, store.roster("demo"), 1)
	assert.Equal(t, 1, store.count("insert_participant"))
}

func TestBreakout_JoinFoundInStoreBeforeEvent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := startCoordinator(t, store)
	b := startCoordinator(t, store)
	require.NoError(t, a.coord.Join(ctx, "demo", "A"))
	require.NoError(t, b.coord.Join(ctx, "demo", "B"))
	store.flush(t, a.coord, b.coord)

	id, err := NewBreakoutManager(a.coord).Create(ctx, "demo", "Group1", "A")
	require.NoError(t, err)
	// событие о создании b ещё не получил
	require.Empty(t, b.coord.State().Breakouts)

	require.NoError(t, NewBreakoutManager(b.coord).Join(ctx, id))
	s := b.coord.State()
	assert.Equal(t, id, s.RoomID)
	assert.Equal(t, "demo", s.ParentRoomID)
}

func TestSwitchRoom_SameRoomIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)
	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))

	require.NoError(t, h.coord.SwitchRoom(ctx, "demo"))
	assert.Equal(t, 1, store.count("insert_participant"))
	assert.Zero(t, store.count("delete_participant"))
}

func TestSwitchRoom_MovesRow(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	h := startCoordinator(t, store)
	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))

	require.NoError(t, h.coord.SwitchRoom(ctx, "other"))
	assert.Empty(t, store.roster("demo"))
	assert.Len(t, store.roster("other"), 1)
	assert.Equal(t, []string{
		"join-room:demo:alice",
		"leave-room:demo:alice",
		"join-room:other:alice",
	}, h.signal.events())
}

func TestResync_PicksUpMissedChanges(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	a := startCoordinator(t, store)
	b := startCoordinator(t, store)
	require.NoError(t, a.coord.Join(ctx, "demo", "A"))
	require.NoError(t, b.coord.Join(ctx, "demo", "B"))
	require.NoError(t, b.coord.SendChat(ctx, "missed"))

	// события потеряны при разрыве фида
	store.takePending()
	assert.Len(t, a.coord.State().Roster, 1)

	require.NoError(t, a.coord.Resync(ctx))
	s := a.coord.State()
	assert.Len(t, s.Roster, 2)
	require.Len(t, s.Chat, 1)
	assert.Equal(t, "missed", s.Chat[0].Message)
}

func TestToggles(t *testing.T) {
	ctx := context.Background()
	h := startCoordinator(t, newMemStore())

	// вне комнаты: no-op
	require.NoError(t, h.coord.ToggleAudio(ctx))
	assert.False(t, h.coord.State().IsMuted)
	assert.True(t, errors.Is(h.coord.ToggleScreenShare(ctx), domain.ErrNotJoined))

	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))
	cam := h.capture.all()[0]

	require.NoError(t, h.coord.ToggleAudio(ctx))
	require.NoError(t, h.coord.ToggleVideo(ctx))
	s := h.coord.State()
	assert.True(t, s.IsMuted)
	assert.True(t, s.IsVideoOff)
	cam.mu.Lock()
	assert.False(t, cam.audio)
	assert.False(t, cam.video)
	cam.mu.Unlock()

	require.NoError(t, h.coord.ToggleAudio(ctx))
	assert.False(t, h.coord.State().IsMuted)

	require.NoError(t, h.coord.ToggleScreenShare(ctx))
	assert.True(t, h.coord.State().Sharing)
	screen := h.capture.all()[1]

	require.NoError(t, h.coord.ToggleScreenShare(ctx))
	assert.False(t, h.coord.State().Sharing)
	assert.True(t, screen.isStopped())
	assert.False(t, cam.isStopped())

	// Start дважды открывает только один поток
	require.NoError(t, h.coord.StartScreenShare(ctx))
	require.NoError(t, h.coord.StartScreenShare(ctx))
	assert.Len(t, h.capture.all(), 3)
	require.NoError(t, h.coord.StopScreenShare(ctx))
	assert.True(t, h.capture.all()[2].isStopped())
	assert.False(t, h.coord.State().Sharing)
}

func TestStateChanges_ObserveJoining(t *testing.T) {
	ctx := context.Background()
	phases := make(chan Phase, 16)
	h := startCoordinator(t, newMemStore(), func(_ *harness, cfg *Config) {
		cfg.OnChange = func(s State) { phases <- s.Phase }
	})

	require.NoError(t, h.coord.Join(ctx, "demo", "alice"))
	require.NoError(t, h.coord.Leave(ctx))

	var seen []Phase
	for len(phases) > 0 {
		seen = append(seen, <-phases)
	}
	assert.Contains(t, seen, Joining)
	assert.Contains(t, seen, Leaving)
	assert.Equal(t, Idle, seen[len(seen)-1])
}

func TestRun_StopLeavesRoom(t *testing.T) {
	store := newMemStore()
	sig := &fakeSignaler{}
	capt := &fakeCapturer{}
	c := New(store, sig, capt, Config{JoinTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.Join(context.Background(), "demo", "alice"))
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	assert.Empty(t, store.roster("demo"))
	assert.True(t, capt.all()[0].isStopped())
	assert.True(t, errors.Is(c.Leave(context.Background()), ErrStopped))
}
