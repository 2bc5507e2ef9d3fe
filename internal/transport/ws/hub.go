package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/realtime"
)

type Conn interface {
	// Send не блокируется; ошибка означает, что подписчик не успевает.
	Send(msg Message) error
	Close() error
	ID() string
	// Room: фильтр подписки; пусто для глобального фида.
	Room() string
}

type Hub struct {
	mu    sync.RWMutex
	conns map[Conn]struct{}
	log   *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[Conn]struct{}),
		log:   slog.Default().With("component", "ws_hub"),
	}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast рассылает событие всем подходящим подключениям. Отстающие
// закрываются: клиент переподключится и сделает resync.
func (h *Hub) Broadcast(ev domain.ChangeEvent) {
	msg, err := NewMessage(TypeChange, ev)
	if err != nil {
		h.log.Error("encode change event", "err", err)
		return
	}

	var slow []Conn
	h.mu.RLock()
	for c := range h.conns {
		if room := c.Room(); room != "" && room != ev.RoomID() {
			continue
		}
		if err := c.Send(msg); err != nil {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("drop slow feed subscriber", "conn", c.ID())
		h.Remove(c)
		_ = c.Close()
	}
}

// DisconnectAll закрывает все фиды. Вызывается, когда шина могла потерять
// события: клиенты переподключатся и сделают resync.
func (h *Hub) DisconnectAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[Conn]struct{})
	h.mu.Unlock()

	if len(conns) > 0 {
		h.log.Warn("change stream gap, disconnecting feeds", "conns", len(conns))
	}
	for _, c := range conns {
		_ = c.Close()
	}
}

// Subscribe подписывает хаб на шину: события в Broadcast, разрывы в DisconnectAll.
func (h *Hub) Subscribe(ctx context.Context, bus realtime.Bus) (realtime.Subscription, error) {
	return bus.Subscribe(ctx, h.Broadcast, h.DisconnectAll)
}

// Run подписывает хаб на шину и держит подписку до отмены ctx.
func (h *Hub) Run(ctx context.Context, bus realtime.Bus) error {
	sub, err := h.Subscribe(ctx, bus)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Close()
}
