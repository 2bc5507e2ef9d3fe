package postgres

import (
	"context"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/jackc/pgx/v5"
)

type BreakoutRepository struct {
	q querier
}

func NewBreakoutRepository(q querier) *BreakoutRepository {
	return &BreakoutRepository{q: q}
}

func NewBreakoutRepositoryFromTx(tx pgx.Tx) *BreakoutRepository {
	return &BreakoutRepository{q: tx}
}

func (r *BreakoutRepository) Insert(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error) {
	var out domain.BreakoutRoom
	err := r.q.QueryRow(ctx, queryInsertBreakout, b.ID, b.MainRoomID, b.Name, b.CreatedBy).
		Scan(&out.ID, &out.MainRoomID, &out.Name, &out.CreatedBy)
	if err != nil {
		return domain.BreakoutRoom{}, mapPgError(err)
	}
	return out, nil
}

func (r *BreakoutRepository) ListByMainRoom(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error) {
	rows, err := r.q.Query(ctx, queryListBreakouts, mainRoomID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	list := make([]domain.BreakoutRoom, 0, 4)
	for rows.Next() {
		var b domain.BreakoutRoom
		if err := rows.Scan(&b.ID, &b.MainRoomID, &b.Name, &b.CreatedBy); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}
