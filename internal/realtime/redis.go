package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisBus публикует в канал "<prefix>:<room_id>" и слушает "<prefix>:*".
// Порядок сохраняется в пределах канала, т.е. в пределах комнаты.
type RedisBus struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

func NewRedisBus(client *redis.Client, prefix string) *RedisBus {
	return &RedisBus{
		client: client,
		prefix: prefix,
		log:    slog.Default().With("component", "redis_bus"),
	}
}

func (b *RedisBus) channel(roomID string) string { return b.prefix + ":" + roomID }

func (b *RedisBus) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(ev.RoomID()), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler, onGap GapHandler) (Subscription, error) {
	ps := b.client.PSubscribe(ctx, b.prefix+":*")
	// ждём подтверждения, иначе ранние публикации теряются
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{}), closing: make(chan struct{})}
	go b.receive(sub, h, onGap)
	return sub, nil
}

// receive читает pubsub вручную, а не через Channel(): go-redis сам
// переподписывается после обрыва, и только здесь видно новое подтверждение
// psubscribe. Всё, что публиковалось между обрывом и ним, потеряно.
func (b *RedisBus) receive(sub *redisSub, h Handler, onGap GapHandler) {
	defer close(sub.done)

	broken := false
	for {
		msg, err := sub.ps.Receive(context.Background())
		if err != nil {
			if sub.isClosing() {
				return
			}
			if !broken {
				b.log.Warn("pubsub connection lost, reconnecting", "err", err)
				broken = true
			}
			select {
			case <-sub.closing:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind != "psubscribe" {
				continue
			}
			broken = false
			b.log.Info("pubsub resubscribed", "pattern", m.Channel)
			if onGap != nil {
				onGap()
			}
		case *redis.Message:
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				b.log.Warn("drop malformed change event", "channel", m.Channel, "err", err)
				continue
			}
			h(ev)
			b.log.Debug("pubsub message", "channel", m.Channel, "table", ev.Table, "op", ev.Op)
		}
	}
}

const reconnectDelay = 200 * time.Millisecond

type redisSub struct {
	ps      *redis.PubSub
	done    chan struct{}
	closing chan struct{}
	once    sync.Once
	err     error
}

func (s *redisSub) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *redisSub) Close() error {
	s.once.Do(func() {
		close(s.closing)
		s.err = s.ps.Close()
		<-s.done
	})
	return s.err
}
