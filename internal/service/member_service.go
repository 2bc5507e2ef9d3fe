package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwrk-planet/vidcon/internal/domain"
)

type MemberService struct {
	store Store
	pub   Publisher
	log   *slog.Logger
}

func NewMemberService(store Store, pub Publisher) *MemberService {
	return &MemberService{
		store: store,
		pub:   pub,
		log:   slog.Default().With("component", "member_service"),
	}
}

// JoinRoom: ErrConflict, если (room, username) уже занят.
func (s *MemberService) JoinRoom(ctx context.Context, roomID, username string) (domain.Participant, error) {
	if !domain.ValidKey(roomID) || !domain.ValidKey(username) {
		return domain.Participant{}, fmt.Errorf("%w: room id and username must be non-empty without surrounding spaces", domain.ErrInvalidArgument)
	}

	p, err := s.store.InsertParticipant(ctx, roomID, username)
	if err != nil {
		return domain.Participant{}, err
	}
	s.log.Info("participant joined", "room", roomID, "user", username)
	publish(ctx, s.pub, s.log, domain.ParticipantInserted(p))
	return p, nil
}

// LeaveRoom: ErrNotFound, если строки не было; событие шлётся только при реальном удалении.
func (s *MemberService) LeaveRoom(ctx context.Context, roomID, username string) error {
	p, err := s.store.DeleteParticipant(ctx, roomID, username)
	if err != nil {
		return err
	}
	s.log.Info("participant left", "room", roomID, "user", username)
	publish(ctx, s.pub, s.log, domain.ParticipantDeleted(p))
	return nil
}

func (s *MemberService) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return s.store.ListParticipants(ctx, roomID)
}
