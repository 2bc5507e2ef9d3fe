package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/gorilla/websocket"
)

var errSignalClosed = errors.New("signaling closed")

const (
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"
)

type SignalData struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type SignalMessage struct {
	Event string     `json:"event"`
	Data  SignalData `json:"data"`
}

// Signaler шлёт join-room/leave-room по websocket. Соединение поднимается
// лениво и переустанавливается один раз при ошибке записи.
type Signaler struct {
	url   string
	token string

	mu     sync.Mutex
	w      *threadSafeWriter
	closed bool
	log    *slog.Logger
}

func NewSignaler(url, token string) *Signaler {
	return &Signaler{
		url:   wsURL(url),
		token: token,
		log:   slog.Default().With("component", "signaling"),
	}
}

func (s *Signaler) JoinRoom(ctx context.Context, roomID, username string) error {
	return s.send(ctx, SignalMessage{Event: EventJoinRoom, Data: SignalData{RoomID: roomID, Username: username}})
}

func (s *Signaler) LeaveRoom(ctx context.Context, roomID, username string) error {
	return s.send(ctx, SignalMessage{Event: EventLeaveRoom, Data: SignalData{RoomID: roomID, Username: username}})
}

func (s *Signaler) send(ctx context.Context, msg SignalMessage) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		w, err := s.writer(ctx)
		if err != nil {
			return fmt.Errorf("%w: dial signaling: %v", domain.ErrTransport, err)
		}
		if err := w.WriteJSONContext(ctx, msg); err != nil {
			lastErr = err
			s.drop(w)
			continue
		}
		s.log.Debug("signal sent", "event", msg.Event, "room", msg.Data.RoomID)
		return nil
	}
	return fmt.Errorf("%w: send %s: %v", domain.ErrTransport, msg.Event, lastErr)
}

func (s *Signaler) writer(ctx context.Context) (*threadSafeWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errSignalClosed
	}
	if s.w != nil {
		return s.w, nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, authHeader(s.token))
	if err != nil {
		return nil, err
	}
	s.w = newThreadSafeWriter(conn)
	go s.drain(s.w)
	return s.w, nil
}

// drain читает входящие кадры (сервер может слать offer/answer, здесь они не нужны),
// чтобы обрабатывались control-кадры и замечался разрыв.
func (s *Signaler) drain(w *threadSafeWriter) {
	for {
		if _, _, err := w.NextReader(); err != nil {
			s.drop(w)
			return
		}
	}
}

func (s *Signaler) drop(w *threadSafeWriter) {
	s.mu.Lock()
	if s.w == w {
		s.w = nil
	}
	s.mu.Unlock()
	_ = w.Close()
}

func (s *Signaler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
