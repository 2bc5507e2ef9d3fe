// Package realtime разносит события изменений (insert/delete) по подписчикам.
// LocalBus: в пределах процесса, RedisBus: между инстансами шлюза.
package realtime

import (
	"context"
	"sync"

	"github.com/cwrk-planet/vidcon/internal/domain"
)

type Handler func(ev domain.ChangeEvent)

// GapHandler вызывается, когда подписка могла пропустить события: повторная
// подписка после обрыва pubsub или неудачный Publish. Подписчик должен
// пересинхронизироваться.
type GapHandler func()

type Subscription interface {
	Close() error
}

type Bus interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
	// Subscribe возвращается после того, как подписка активна. onGap может быть nil.
	Subscribe(ctx context.Context, h Handler, onGap GapHandler) (Subscription, error)
}

// LocalBus доставляет события синхронно, в порядке Publish.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler)}
}

func (b *LocalBus) Publish(_ context.Context, ev domain.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

// Subscribe: LocalBus не теряет событий, onGap не вызывается.
func (b *LocalBus) Subscribe(_ context.Context, h Handler, _ GapHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.handlers[id] = h
	return &localSub{bus: b, id: id}, nil
}

type localSub struct {
	bus  *LocalBus
	id   int
	once sync.Once
}

func (s *localSub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.handlers, s.id)
		s.bus.mu.Unlock()
	})
	return nil
}
