package postgres

import (
	"context"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/jackc/pgx/v5"
)

type ParticipantRepository struct {
	q querier
}

func NewParticipantRepository(q querier) *ParticipantRepository {
	return &ParticipantRepository{q: q}
}

// NewParticipantRepositoryFromTx: для составных операций (проверка админа при создании breakout).
func NewParticipantRepositoryFromTx(tx pgx.Tx) *ParticipantRepository {
	return &ParticipantRepository{q: tx}
}

// Insert: joined_at назначает БД (clock_timestamp), а не клиент.
func (r *ParticipantRepository) Insert(ctx context.Context, roomID, username string) (domain.Participant, error) {
	var p domain.Participant
	err := r.q.QueryRow(ctx, queryInsertParticipant, roomID, username).
		Scan(&p.RoomID, &p.Username, &p.JoinedAt)
	if err != nil {
		return domain.Participant{}, mapPgError(err)
	}
	return p, nil
}

func (r *ParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	rows, err := r.q.Query(ctx, queryListParticipants, roomID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	list := make([]domain.Participant, 0, 8)
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.RoomID, &p.Username, &p.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Delete возвращает удалённую строку; ErrNotFound, если её не было.
func (r *ParticipantRepository) Delete(ctx context.Context, roomID, username string) (domain.Participant, error) {
	var p domain.Participant
	err := r.q.QueryRow(ctx, queryDeleteParticipant, roomID, username).
		Scan(&p.RoomID, &p.Username, &p.JoinedAt)
	if err != nil {
		return domain.Participant{}, mapPgError(err)
	}
	return p, nil
}

// Earliest: текущий админ комнаты; ErrNotFound для пустой комнаты.
func (r *ParticipantRepository) Earliest(ctx context.Context, roomID string) (domain.Participant, error) {
	var p domain.Participant
	err := r.q.QueryRow(ctx, queryEarliestParticipant, roomID).
		Scan(&p.RoomID, &p.Username, &p.JoinedAt)
	if err != nil {
		return domain.Participant{}, mapPgError(err)
	}
	return p, nil
}
