package http

import (
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type JoinRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

type ParticipantItem struct {
	RoomID   string    `json:"room_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

type ParticipantsResponse struct {
	Items []ParticipantItem `json:"items"`
}

type SendMessageRequest struct {
	Sender  string `json:"sender" validate:"required,max=64"`
	Message string `json:"message" validate:"required"`
}

type ChatMessageItem struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatHistoryResponse struct {
	Items      []ChatMessageItem `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type CreateBreakoutRequest struct {
	ID        string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name      string `json:"name" validate:"required,max=128"`
	CreatedBy string `json:"created_by" validate:"required,max=64"`
}

type BreakoutItem struct {
	ID         string `json:"id"`
	MainRoomID string `json:"main_room_id"`
	Name       string `json:"name"`
	CreatedBy  string `json:"created_by"`
}

type BreakoutsResponse struct {
	Items []BreakoutItem `json:"items"`
}

func toParticipantItem(p domain.Participant) ParticipantItem {
	return ParticipantItem{RoomID: p.RoomID, Username: p.Username, JoinedAt: p.JoinedAt}
}

func toChatMessageItem(m domain.ChatMessage) ChatMessageItem {
	return ChatMessageItem{ID: m.ID, RoomID: m.RoomID, Sender: m.Sender, Message: m.Message, Timestamp: m.Timestamp}
}

func toBreakoutItem(b domain.BreakoutRoom) BreakoutItem {
	return BreakoutItem{ID: b.ID, MainRoomID: b.MainRoomID, Name: b.Name, CreatedBy: b.CreatedBy}
}
