package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store: серверная реализация хранилища сессий поверх pgxpool.
type Store struct {
	pool *pgxpool.Pool

	participants *ParticipantRepository
	chat         *ChatRepository
	breakouts    *BreakoutRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:         pool,
		participants: NewParticipantRepository(pool),
		chat:         NewChatRepository(pool),
		breakouts:    NewBreakoutRepository(pool),
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, querySchema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return Ping(ctx, s.pool) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) InsertParticipant(ctx context.Context, roomID, username string) (domain.Participant, error) {
	return s.participants.Insert(ctx, roomID, username)
}

func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return s.participants.ListByRoom(ctx, roomID)
}

func (s *Store) DeleteParticipant(ctx context.Context, roomID, username string) (domain.Participant, error) {
	return s.participants.Delete(ctx, roomID, username)
}

func (s *Store) InsertMessage(ctx context.Context, roomID, sender, text string) (domain.ChatMessage, error) {
	return s.chat.Save(ctx, roomID, sender, text)
}

func (s *Store) ListMessages(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error) {
	msgs, next, err := s.chat.History(ctx, roomID, after, limit)
	if errors.Is(err, ErrInvalidCursor) {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return msgs, next, err
}

// CreateBreakout вставляет комнату только если created_by: самый ранний участник
// основной комнаты. Проверка и вставка в одной транзакции.
func (s *Store) CreateBreakout(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.BreakoutRoom{}, err
	}
	defer tx.Rollback(ctx)

	admin, err := NewParticipantRepositoryFromTx(tx).Earliest(ctx, b.MainRoomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BreakoutRoom{}, fmt.Errorf("%w: room %s is empty", domain.ErrPermission, b.MainRoomID)
		}
		return domain.BreakoutRoom{}, err
	}
	if admin.Username != b.CreatedBy {
		return domain.BreakoutRoom{}, fmt.Errorf("%w: %s is not the admin of %s", domain.ErrPermission, b.CreatedBy, b.MainRoomID)
	}

	out, err := NewBreakoutRepositoryFromTx(tx).Insert(ctx, b)
	if err != nil {
		return domain.BreakoutRoom{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.BreakoutRoom{}, err
	}
	return out, nil
}

func (s *Store) ListBreakouts(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error) {
	return s.breakouts.ListByMainRoom(ctx, mainRoomID)
}
