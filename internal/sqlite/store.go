// Package sqlite: однонодовое хранилище сессий для dev и локального запуска.
// Семантика та же, что у internal/postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/postgres"

	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

const driverName = "sqlite3_vidcon"

var registerOnce sync.Once

func register() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				_, err := conn.Exec("PRAGMA busy_timeout = 5000;", nil)
				return err
			},
		})
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS room_participants (
	room_id   TEXT    NOT NULL,
	username  TEXT    NOT NULL,
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, username)
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id        TEXT    PRIMARY KEY,
	room_id   TEXT    NOT NULL,
	sender    TEXT    NOT NULL,
	message   TEXT    NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_messages_room_ts ON chat_messages (room_id, timestamp, id);
CREATE TABLE IF NOT EXISTS breakout_rooms (
	id           TEXT    PRIMARY KEY,
	main_room_id TEXT    NOT NULL,
	name         TEXT    NOT NULL,
	created_by   TEXT    NOT NULL,
	created_at   INTEGER NOT NULL
);
`

// Store хранит время как unix-наносекунды UTC.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open открывает базу по пути; ":memory:": in-memory база одного соединения.
func Open(ctx context.Context, path string) (*Store, error) {
	register()

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = "file:" + path + "?_txlock=immediate"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *Store) Close() error                   { return s.db.Close() }

func mapSQLiteError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return domain.ErrConflict
	}
	return err
}

func toTime(nanos int64) time.Time { return time.Unix(0, nanos).UTC() }

func (s *Store) InsertParticipant(ctx context.Context, roomID, username string) (domain.Participant, error) {
	p := domain.Participant{RoomID: roomID, Username: username, JoinedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_participants (room_id, username, joined_at) VALUES (?, ?, ?)`,
		p.RoomID, p.Username, p.JoinedAt.UnixNano())
	if err != nil {
		return domain.Participant{}, mapSQLiteError(err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, username, joined_at FROM room_participants
		 WHERE room_id = ? ORDER BY joined_at ASC, username ASC`, roomID)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	list := make([]domain.Participant, 0, 8)
	for rows.Next() {
		var (
			p  domain.Participant
			ts int64
		)
		if err := rows.Scan(&p.RoomID, &p.Username, &ts); err != nil {
			return nil, err
		}
		p.JoinedAt = toTime(ts)
		list = append(list, p)
	}
	return list, rows.Err()
}

func (s *Store) DeleteParticipant(ctx context.Context, roomID, username string) (domain.Participant, error) {
	var (
		p  domain.Participant
		ts int64
	)
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM room_participants WHERE room_id = ? AND username = ?
		 RETURNING room_id, username, joined_at`, roomID, username).
		Scan(&p.RoomID, &p.Username, &ts)
	if err != nil {
		return domain.Participant{}, mapSQLiteError(err)
	}
	p.JoinedAt = toTime(ts)
	return p, nil
}

func (s *Store) InsertMessage(ctx context.Context, roomID, sender, text string) (domain.ChatMessage, error) {
	m := domain.ChatMessage{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Sender:    sender,
		Message:   text,
		Timestamp: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, room_id, sender, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.RoomID, m.Sender, m.Message, m.Timestamp.UnixNano())
	if err != nil {
		return domain.ChatMessage{}, mapSQLiteError(err)
	}
	return m, nil
}

// ListMessages: тот же курсор, что и в postgres, по возрастанию (timestamp, id).
func (s *Store) ListMessages(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error) {
	limit = postgres.ClampLimit(limit)
	cur, err := postgres.DecodeCursor(after)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	query := `SELECT id, room_id, sender, message, timestamp FROM chat_messages WHERE room_id = ?`
	args := []any{roomID}
	if cur != nil {
		query += ` AND (timestamp > ? OR (timestamp = ? AND id > ?))`
		n := cur.Timestamp.UnixNano()
		args = append(args, n, n, cur.ID)
	}
	query += ` ORDER BY timestamp ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", mapSQLiteError(err)
	}
	defer rows.Close()

	out := make([]domain.ChatMessage, 0, limit)
	for rows.Next() {
		var (
			m  domain.ChatMessage
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Message, &ts); err != nil {
			return nil, "", err
		}
		m.Timestamp = toTime(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) == limit {
		last := out[len(out)-1]
		if c, e := postgres.EncodeCursor(postgres.Cursor{Timestamp: last.Timestamp, ID: last.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}

// CreateBreakout: проверка админа и вставка в одной (immediate) транзакции.
func (s *Store) CreateBreakout(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.BreakoutRoom{}, err
	}
	defer tx.Rollback()

	var admin string
	err = tx.QueryRowContext(ctx,
		`SELECT username FROM room_participants WHERE room_id = ?
		 ORDER BY joined_at ASC, username ASC LIMIT 1`, b.MainRoomID).Scan(&admin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BreakoutRoom{}, fmt.Errorf("%w: room %s is empty", domain.ErrPermission, b.MainRoomID)
		}
		return domain.BreakoutRoom{}, err
	}
	if admin != b.CreatedBy {
		return domain.BreakoutRoom{}, fmt.Errorf("%w: %s is not the admin of %s", domain.ErrPermission, b.CreatedBy, b.MainRoomID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO breakout_rooms (id, main_room_id, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.MainRoomID, b.Name, b.CreatedBy, s.now().UnixNano()); err != nil {
		return domain.BreakoutRoom{}, mapSQLiteError(err)
	}
	if err := tx.Commit(); err != nil {
		return domain.BreakoutRoom{}, err
	}
	return b, nil
}

func (s *Store) ListBreakouts(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, main_room_id, name, created_by FROM breakout_rooms
		 WHERE main_room_id = ? ORDER BY created_at ASC, id ASC`, mainRoomID)
	if err != nil {
		return nil, mapSQLiteError(err)
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
