package coordinator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cwrk-planet/vidcon/internal/domain"
)

const DefaultMaxMessageLength = 4000

// ChatRelay отправляет сообщения в хранилище и сливает доставки фида в журнал.
// Отправленное сообщение появляется в журнале только через фид.
type ChatRelay struct {
	store  SessionStore
	maxLen int
}

func NewChatRelay(store SessionStore, maxLen int) *ChatRelay {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	return &ChatRelay{store: store, maxLen: maxLen}
}

// Send: пустой (после trim) текст отклоняется без сетевого вызова.
func (r *ChatRelay) Send(ctx context.Context, roomID, sender, message string) error {
	text := strings.TrimSpace(message)
	if text == "" {
		return domain.ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > r.maxLen {
		return fmt.Errorf("%w: limit is %d characters", domain.ErrMessageTooLong, r.maxLen)
	}
	_, err := r.store.InsertMessage(ctx, roomID, sender, text)
	return domain.Persistence("insert message", err)
}

func (r *ChatRelay) History(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	msgs, err := r.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, domain.Persistence("list messages", err)
	}
	log := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		log, _ = mergeMessage(log, m)
	}
	return log, nil
}

// mergeMessage вставляет m в журнал, упорядоченный по timestamp; при равных
// timestamp: в порядке прихода. Повторная доставка того же ID игнорируется.
func mergeMessage(log []domain.ChatMessage, m domain.ChatMessage) ([]domain.ChatMessage, bool) {
	if m.ID != "" {
		for i := len(log) - 1; i >= 0; i-- {
			if log[i].ID == m.ID {
				return log, false
			}
		}
	}

	i := len(log)
	for i > 0 && log[i-1].Timestamp.After(m.Timestamp) {
		i--
	}
	log = append(log, domain.ChatMessage{})
	copy(log[i+1:], log[i:])
	log[i] = m
	return log, true
}
