package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cwrk-planet/vidcon/internal/domain"
)

const DefaultMaxMessageLength = 4000

type ChatService struct {
	store  Store
	pub    Publisher
	maxLen int
	log    *slog.Logger
}

func NewChatService(store Store, pub Publisher, maxLen int) *ChatService {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &ChatService{
		store:  store,
		pub:    pub,
		maxLen: maxLen,
		log:    slog.Default().With("component", "chat_service"),
	}
}

func (s *ChatService) Save(ctx context.Context, roomID, sender, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > s.maxLen {
		return domain.ChatMessage{}, fmt.Errorf("%w: limit is %d characters", domain.ErrMessageTooLong, s.maxLen)
	}
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(sender) == "" {
		return domain.ChatMessage{}, fmt.Errorf("%w: room id and sender are required", domain.ErrInvalidArgument)
	}

	msg, err := s.store.InsertMessage(ctx, roomID, sender, text)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	publish(ctx, s.pub, s.log, domain.MessageInserted(msg))
	return msg, nil
}

func (s *ChatService) History(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error) {
	return s.store.ListMessages(ctx, roomID, after, limit)
}
