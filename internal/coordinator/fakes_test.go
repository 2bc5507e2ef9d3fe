package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/media"

	"github.com/stretchr/testify/require"
)

// memStore: хранилище в памяти, копящее события фида до явного flush.
type memStore struct {
	mu sync.Mutex

	clock     time.Time
	tick      time.Duration
	rows      map[string][]domain.Participant
	messages  []domain.ChatMessage
	breakouts []domain.BreakoutRoom
	pending   []domain.ChangeEvent
	seq       int

	insertErr error
	deleteErr error
	listErr   error

	calls map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		clock: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		tick:  time.Second,
		rows:  make(map[string][]domain.Participant),
		calls: make(map[string]int),
	}
}

func (s *memStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) now() time.Time {
	s.clock = s.clock.Add(s.tick)
	return s.clock
}

func (s *memStore) roster(roomID string) []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Participant(nil), s.rows[roomID]...)
}

func (s *memStore) InsertParticipant(_ context.Context, roomID, username string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["insert_participant"]++
	if s.insertErr != nil {
		return domain.Participant{}, domain.Persistence("insert participant", s.insertErr)
	}
	for _, p := range s.rows[roomID] {
		if p.Username == username {
			return domain.Participant{}, domain.Persistence("insert participant", domain.ErrConflict)
		}
	}
	p := domain.Participant{RoomID: roomID, Username: username, JoinedAt: s.now()}
	s.rows[roomID] = append(s.rows[roomID], p)
	s.pending = append(s.pending, domain.ParticipantInserted(p))
	return p, nil
}

func (s *memStore) ListParticipants(_ context.Context, roomID string) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_participants"]++
	if s.listErr != nil {
		return nil, domain.Persistence("list participants", s.listErr)
	}
	out := append([]domain.Participant(nil), s.rows[roomID]...)
	domain.SortRoster(out)
	return out, nil
}

func (s *memStore) DeleteParticipant(_ context.Context, roomID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["delete_participant"]++
	if s.deleteErr != nil {
		return domain.Persistence("delete participant", s.deleteErr)
	}
	rows := s.rows[roomID]
	for i, p := range rows {
		if p.Username == username {
			s.rows[roomID] = append(rows[:i:i], rows[i+1:]...)
			s.pending = append(s.pending, domain.ParticipantDeleted(p))
			return nil
		}
	}
	return domain.Persistence("delete participant", domain.ErrNotFound)
}

func (s *memStore) InsertMessage(_ context.Context, roomID, sender, message string) (domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["insert_message"]++
	s.seq++
	m := domain.ChatMessage{ID: fmt.Sprintf("m%03d", s.seq), RoomID: roomID, Sender: sender, Message: message, Timestamp: s.now()}
	s.messages = append(s.messages, m)
	s.pending = append(s.pending, domain.MessageInserted(m))
	return m, nil
}

func (s *memStore) ListMessages(_ context.Context, roomID string) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChatMessage
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) InsertBreakoutRoom(_ context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["insert_breakout"]++
	if !domain.IsAdmin(s.rows[b.MainRoomID], b.CreatedBy) {
		return domain.BreakoutRoom{}, domain.Persistence("insert breakout room", domain.ErrPermission)
	}
	s.breakouts = append(s.breakouts, b)
	s.pending = append(s.pending, domain.BreakoutInserted(b))
	return b, nil
}

func (s *memStore) ListBreakoutRooms(_ context.Context, mainRoomID string) ([]domain.BreakoutRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BreakoutRoom
	for _, b := range s.breakouts {
		if b.MainRoomID == mainRoomID {
			out = append(out, b)
		}
	}
	return out, nil
}

// takePending забирает накопленные события, не доставляя их.
func (s *memStore) takePending() []domain.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.pending
	s.pending = nil
	return evs
}

// flush доставляет накопленные события всем координаторам, как это делает фид.
func (s *memStore) flush(t *testing.T, coords ...*Coordinator) {
	t.Helper()
	for _, ev := range s.takePending() {
		for _, c := range coords {
			require.NoError(t, c.HandleEvent(context.Background(), ev))
		}
	}
}

type fakeSignaler struct {
	mu      sync.Mutex
	sent    []string
	joinErr error
	block   bool
	// gate != nil: JoinRoom сообщает в entered и ждёт закрытия gate
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSignaler) JoinRoom(ctx context.Context, roomID, username string) error {
	f.mu.Lock()
	f.sent = append(f.sent, "join-room:"+roomID+":"+username)
	block, err := f.block, f.joinErr
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeSignaler) LeaveRoom(_ context.Context, roomID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, "leave-room:"+roomID+":"+username)
	return nil
}

func (f *fakeSignaler) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeStream struct {
	mu      sync.Mutex
	id      string
	kind    media.Kind
	stopped bool
	audio   bool
	video   bool
}

func (s *fakeStream) ID() string       { return s.id }
func (s *fakeStream) Kind() media.Kind { return s.kind }

func (s *fakeStream) SetAudioEnabled(v bool) { s.mu.Lock(); s.audio = v; s.mu.Unlock() }
func (s *fakeStream) SetVideoEnabled(v bool) { s.mu.Lock(); s.video = v; s.mu.Unlock() }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeCapturer struct {
	mu      sync.Mutex
	userErr error
	streams []*fakeStream
}

func (c *fakeCapturer) open(kind media.Kind, err error) (media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	st := &fakeStream{id: fmt.Sprintf("%s-%d", kind, len(c.streams)), kind: kind, audio: true, video: true}
	c.streams = append(c.streams, st)
	return st, nil
}

func (c *fakeCapturer) CaptureUser(context.Context) (media.Stream, error) {
	return c.open(media.KindUser, c.userErr)
}

func (c *fakeCapturer) CaptureDisplay(context.Context) (media.Stream, error) {
	return c.open(media.KindDisplay, nil)
}

func (c *fakeCapturer) all() []*fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeStream(nil), c.streams...)
}

type recordingSink struct {
	mu       sync.Mutex
	attached map[string]string
}

func (s *recordingSink) Attach(roomID string, st media.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached == nil {
		s.attached = make(map[string]string)
	}
	s.attached[st.ID()] = roomID
}

func (s *recordingSink) Detach(st media.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, st.ID())
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

type harness struct {
	coord   *Coordinator
	signal  *fakeSignaler
	capture *fakeCapturer
	sink    *recordingSink
	msgs    chan domain.ChatMessage
}

func startCoordinator(t *testing.T, store *memStore, mutate ...func(*harness, *Config)) *harness {
	t.Helper()
	h := &harness{
		signal:  &fakeSignaler{},
		capture: &fakeCapturer{},
		sink:    &recordingSink{},
		msgs:    make(chan domain.ChatMessage, 64),
	}
	cfg := Config{
		JoinTimeout: time.Second,
		Sink:        h.sink,
		OnMessage:   func(m domain.ChatMessage) { h.msgs <- m },
	}
	for _, m := range mutate {
		m(h, &cfg)
	}
	h.coord = New(store, h.signal, h.capture, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		err := <-done
		if !errors.Is(err, context.Canceled) {
			t.Errorf("run: %v", err)
		}
	})
	return h
}
