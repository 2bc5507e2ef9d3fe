package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errSendBufferFull = errors.New("send buffer full")

const sendBuffer = 256

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	log      *slog.Logger

	pingEvery time.Duration
}

func NewServer(hub *Hub) *Server {
	return &Server{
		hub: hub,
		log: slog.Default().With("component", "ws_feed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS endpoint: GET /ws/feed[?room=...]
func (s *Server) HandleFeed(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.URL.Query().Get("room"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, room)
	hello, _ := NewMessage(TypeHello, HelloPayload{ConnID: c.id, Room: room})
	_ = c.Send(hello)

	s.hub.Add(c)
	s.log.Debug("feed subscriber connected", "conn", c.id, "room", room)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writeLoop(ctx, c)
	s.readLoop(c)
	cancel()

	s.hub.Remove(c)
	if err := c.Close(); err != nil {
		s.log.Debug("ws close failed", "conn", c.id, "err", err)
	}
	s.log.Debug("feed subscriber disconnected", "conn", c.id)
}

// readLoop только держит соединение: входящие кадры фида не несут данных.
func (s *Server) readLoop(c *wsConn) {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				_ = c.Close()
				return
			}
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

type wsConn struct {
	conn *websocket.Conn
	id   string
	room string

	send      chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(c *websocket.Conn, room string) *wsConn {
	return &wsConn{
		conn:   c,
		id:     uuid.NewString(),
		room:   room,
		send:   make(chan Message, sendBuffer),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Message) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) ID() string   { return c.id }
func (c *wsConn) Room() string { return c.room }
