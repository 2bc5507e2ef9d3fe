package service

import (
	"context"
	"log/slog"

	"github.com/cwrk-planet/vidcon/internal/domain"
)

// Store: долговременное хранилище шлюза (postgres.Store или sqlite.Store).
type Store interface {
	InsertParticipant(ctx context.Context, roomID, username string) (domain.Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)
	DeleteParticipant(ctx context.Context, roomID, username string) (domain.Participant, error)

	InsertMessage(ctx context.Context, roomID, sender, text string) (domain.ChatMessage, error)
	ListMessages(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error)

	CreateBreakout(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error)
	ListBreakouts(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

// publish вызывается только после коммита. Ошибка шины не откатывает запись.
// Повторы и разрыв фидов (клиенты переподключаются и делают resync) на стороне
// realtime.RetryBus.
func publish(ctx context.Context, pub Publisher, log *slog.Logger, ev domain.ChangeEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn("publish change event failed", "table", ev.Table, "op", ev.Op, "room", ev.RoomID(), "err", err)
	}
}
