package domain

import "time"

// ChatMessage: append-only запись chat_messages.
// ID назначает хранилище (ULID); нужен только для дедупликации доставок фида.
type ChatMessage struct {
	ID        string    `json:"id" db:"id"`
	RoomID    string    `json:"room_id" db:"room_id"`
	Sender    string    `json:"sender" db:"sender"`
	Message   string    `json:"message" db:"message"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
