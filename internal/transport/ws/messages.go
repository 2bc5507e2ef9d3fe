package ws

import "encoding/json"

// Типы кадров фида изменений
const (
	TypeChange = "change" // payload: domain.ChangeEvent
	TypeHello  = "hello"  // первый кадр после апгрейда, payload: HelloPayload
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type HelloPayload struct {
	ConnID string `json:"conn_id"`
	Room   string `json:"room,omitempty"` // пусто: глобальный фид
}

func NewMessage(typ string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Payload: raw}, nil
}
