package postgres

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/oklog/ulid/v2"
)

type ChatRepository struct {
	q querier
}

func NewChatRepository(q querier) *ChatRepository {
	return &ChatRepository{q: q}
}

// Save: id генерируется здесь (ULID, монотонный в пределах процесса), timestamp ставит БД.
func (r *ChatRepository) Save(ctx context.Context, roomID, sender, text string) (domain.ChatMessage, error) {
	var m domain.ChatMessage
	err := r.q.QueryRow(ctx, queryInsertMessage, ulid.Make().String(), roomID, sender, text).
		Scan(&m.ID, &m.RoomID, &m.Sender, &m.Message, &m.Timestamp)
	if err != nil {
		return domain.ChatMessage{}, mapPgError(err)
	}
	return m, nil
}

// History возвращает историю комнаты по возрастанию (timestamp, id) с курсорной пагинацией.
func (r *ChatRepository) History(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error) {
	limit = ClampLimit(limit)
	cur, err := DecodeCursor(after)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}

	var ts, id any
	if cur != nil {
		ts, id = cur.Timestamp, cur.ID
	}

	rows, err := r.q.Query(ctx, queryListMessages, roomID, ts, id, limit)
	if err != nil {
		return nil, "", mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.ChatMessage, 0, limit)
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Message, &m.Timestamp); err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) == limit {
		last := out[len(out)-1]
		if c, e := EncodeCursor(Cursor{Timestamp: last.Timestamp, ID: last.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}
