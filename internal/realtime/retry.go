package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
)

// RetryBus повторяет неудачный Publish. Если все попытки исчерпаны, событие
// потеряно и для подписчиков этого процесса: им уходит onGap.
type RetryBus struct {
	inner    Bus
	attempts int
	backoff  time.Duration
	log      *slog.Logger

	mu   sync.RWMutex
	next int
	gaps map[int]GapHandler
}

func NewRetryBus(inner Bus, attempts int, backoff time.Duration) *RetryBus {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryBus{
		inner:    inner,
		attempts: attempts,
		backoff:  backoff,
		log:      slog.Default().With("component", "retry_bus"),
		gaps:     make(map[int]GapHandler),
	}
}

func (b *RetryBus) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	var err error
	for i := 0; i < b.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				b.reportGap()
				return ctx.Err()
			case <-time.After(b.backoff * time.Duration(i)):
			}
		}
		if err = b.inner.Publish(ctx, ev); err == nil {
			return nil
		}
		b.log.Debug("publish attempt failed", "attempt", i+1, "room", ev.RoomID(), "err", err)
	}
	b.reportGap()
	return err
}

func (b *RetryBus) Subscribe(ctx context.Context, h Handler, onGap GapHandler) (Subscription, error) {
	b.mu.Lock()
	id := b.next
	b.next++
	if onGap != nil {
		b.gaps[id] = onGap
	}
	b.mu.Unlock()

	sub, err := b.inner.Subscribe(ctx, h, onGap)
	if err != nil {
		b.forget(id)
		return nil, err
	}
	return &retrySub{Subscription: sub, forget: func() { b.forget(id) }}, nil
}

func (b *RetryBus) forget(id int) {
	b.mu.Lock()
	delete(b.gaps, id)
	b.mu.Unlock()
}

func (b *RetryBus) reportGap() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.log.Warn("change event lost, asking subscribers to resync", "subscribers", len(b.gaps))
	for _, g := range b.gaps {
		g()
	}
}

type retrySub struct {
	Subscription
	forget func()
	once   sync.Once
}

func (s *retrySub) Close() error {
	s.once.Do(s.forget)
	return s.Subscription.Close()
}
