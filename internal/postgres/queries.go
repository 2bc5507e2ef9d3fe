package postgres

const (
	querySchema = `
		CREATE TABLE IF NOT EXISTS room_participants (
			room_id   TEXT        NOT NULL,
			username  TEXT        NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			PRIMARY KEY (room_id, username)
		);
		CREATE INDEX IF NOT EXISTS room_participants_order
			ON room_participants (room_id, joined_at, username);

		CREATE TABLE IF NOT EXISTS chat_messages (
			id        TEXT        PRIMARY KEY,
			room_id   TEXT        NOT NULL,
			sender    TEXT        NOT NULL,
			message   TEXT        NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);
		CREATE INDEX IF NOT EXISTS chat_messages_room_ts
			ON chat_messages (room_id, timestamp, id);

		CREATE TABLE IF NOT EXISTS breakout_rooms (
			id           TEXT        PRIMARY KEY,
			main_room_id TEXT        NOT NULL,
			name         TEXT        NOT NULL,
			created_by   TEXT        NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS breakout_rooms_main
			ON breakout_rooms (main_room_id, created_at);
	`

	queryInsertParticipant = `
		INSERT INTO room_participants (room_id, username)
		VALUES ($1, $2)
		RETURNING room_id, username, joined_at;
	`
	queryListParticipants = `
		SELECT room_id, username, joined_at
		FROM room_participants
		WHERE room_id = $1
		ORDER BY joined_at ASC, username ASC;
	`
	queryDeleteParticipant = `
		DELETE FROM room_participants
		WHERE room_id = $1 AND username = $2
		RETURNING room_id, username, joined_at;
	`
	// FOR SHARE держит строку админа до конца транзакции создания breakout.
	queryEarliestParticipant = `
		SELECT room_id, username, joined_at
		FROM room_participants
		WHERE room_id = $1
		ORDER BY joined_at ASC, username ASC
		LIMIT 1
		FOR SHARE;
	`

	queryInsertMessage = `
		INSERT INTO chat_messages (id, room_id, sender, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, room_id, sender, message, timestamp;
	`
	queryListMessages = `
		SELECT id, room_id, sender, message, timestamp
		FROM chat_messages
		WHERE room_id = $1
		  AND (
		    $2::timestamptz IS NULL
		    OR timestamp > $2
		    OR (timestamp = $2 AND id > $3::text)
		  )
		ORDER BY timestamp ASC, id ASC
		LIMIT $4;
	`

	queryInsertBreakout = `
		INSERT INTO breakout_rooms (id, main_room_id, name, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, main_room_id, name, created_by;
	`
	queryListBreakouts = `
		SELECT id, main_room_id, name, created_by
		FROM breakout_rooms
		WHERE main_room_id = $1
		ORDER BY created_at ASC, id ASC;
	`
)
