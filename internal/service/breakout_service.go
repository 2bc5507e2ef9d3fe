package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/google/uuid"
)

type BreakoutService struct {
	store Store
	pub   Publisher
	log   *slog.Logger
}

func NewBreakoutService(store Store, pub Publisher) *BreakoutService {
	return &BreakoutService{
		store: store,
		pub:   pub,
		log:   slog.Default().With("component", "breakout_service"),
	}
}

// Create: права проверяет хранилище в той же транзакции, что и вставку.
// Пустой id заполняется uuid.
func (s *BreakoutService) Create(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error) {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" || b.MainRoomID == "" || b.CreatedBy == "" {
		return domain.BreakoutRoom{}, fmt.Errorf("%w: name, main room and creator are required", domain.ErrInvalidArgument)
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	out, err := s.store.CreateBreakout(ctx, b)
	if err != nil {
		return domain.BreakoutRoom{}, err
	}
	s.log.Info("breakout room created", "room", out.MainRoomID, "breakout", out.ID, "by", out.CreatedBy)
	publish(ctx, s.pub, s.log, domain.BreakoutInserted(out))
	return out, nil
}

func (s *BreakoutService) List(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error) {
	return s.store.ListBreakouts(ctx, mainRoomID)
}
