// Package client содержит сетевые адаптеры координатора: хранилище сессий (REST шлюза),
// фид изменений и сигнализация (websocket).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
	httpx "github.com/cwrk-planet/vidcon/internal/transport/http"
)

// maxHistoryPages ограничивает выкачку истории чата при join/resync.
const maxHistoryPages = 50

// HTTPStore реализует SessionStore поверх REST шлюза. Любая ошибка -
// *domain.PersistenceError с видом ErrConflict/ErrNotFound/ErrPermission/ErrInvalidArgument/ErrTransport.
type HTTPStore struct {
	base   string
	token  string
	client *http.Client
}

func NewHTTPStore(baseURL, token string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStore{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func roomPath(roomID string, parts ...string) string {
	p := "/rooms/" + url.PathEscape(roomID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (s *HTTPStore) do(ctx context.Context, op, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return domain.Persistence(op, fmt.Errorf("%w: encode: %v", domain.ErrInvalidArgument, err))
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, rdr)
	if err != nil {
		return domain.Persistence(op, fmt.Errorf("%w: %v", domain.ErrTransport, err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Persistence(op, fmt.Errorf("%w: %v", domain.ErrTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpx.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return domain.Persistence(op, fmt.Errorf("%w: %s (%d)", kindForStatus(resp.StatusCode), e.Error, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Persistence(op, fmt.Errorf("%w: decode: %v", domain.ErrTransport, err))
	}
	return nil
}

func kindForStatus(code int) error {
	switch code {
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		return domain.ErrPermission
	case http.StatusBadRequest:
		return domain.ErrInvalidArgument
	default:
		return domain.ErrTransport
	}
}

func (s *HTTPStore) InsertParticipant(ctx context.Context, roomID, username string) (domain.Participant, error) {
	var out httpx.ParticipantItem
	err := s.do(ctx, "insert participant", http.MethodPost, roomPath(roomID, "participants"),
		httpx.JoinRequest{Username: username}, &out)
	if err != nil {
		return domain.Participant{}, err
	}
	return domain.Participant{RoomID: out.RoomID, Username: out.Username, JoinedAt: out.JoinedAt}, nil
}

func (s *HTTPStore) ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var out httpx.ParticipantsResponse
	if err := s.do(ctx, "list participants", http.MethodGet, roomPath(roomID, "participants"), nil, &out); err != nil {
		return nil, err
	}
	list := make([]domain.Participant, 0, len(out.Items))
	for _, it := range out.Items {
		list = append(list, domain.Participant{RoomID: it.RoomID, Username: it.Username, JoinedAt: it.JoinedAt})
	}
	return list, nil
}

func (s *HTTPStore) DeleteParticipant(ctx context.Context, roomID, username string) error {
	return s.do(ctx, "delete participant", http.MethodDelete,
		roomPath(roomID, "participants", url.PathEscape(username)), nil, nil)
}

func (s *HTTPStore) InsertMessage(ctx context.Context, roomID, sender, message string) (domain.ChatMessage, error) {
	var out httpx.ChatMessageItem
	err := s.do(ctx, "insert message", http.MethodPost, roomPath(roomID, "messages"),
		httpx.SendMessageRequest{Sender: sender, Message: message}, &out)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return toMessage(out), nil
}

// ListMessages выкачивает историю комнаты постранично, по возрастанию времени.
func (s *HTTPStore) ListMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error) {
	var (
		all   []domain.ChatMessage
		after string
	)
	for page := 0; page < maxHistoryPages; page++ {
		path := roomPath(roomID, "messages")
		if after != "" {
			path += "?after=" + url.QueryEscape(after)
		}
		var out httpx.ChatHistoryResponse
		if err := s.do(ctx, "list messages", http.MethodGet, path, nil, &out); err != nil {
			return nil, err
		}
		for _, it := range out.Items {
			all = append(all, toMessage(it))
		}
		if out.NextCursor == "" {
			break
		}
		after = out.NextCursor
	}
	return all, nil
}

func (s *HTTPStore) InsertBreakoutRoom(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error) {
	var out httpx.BreakoutItem
	err := s.do(ctx, "insert breakout room", http.MethodPost, roomPath(b.MainRoomID, "breakouts"),
		httpx.CreateBreakoutRequest{ID: b.ID, Name: b.Name, CreatedBy: b.CreatedBy}, &out)
	if err != nil {
		return domain.BreakoutRoom{}, err
	}
	return domain.BreakoutRoom{ID: out.ID, MainRoomID: out.MainRoomID, Name: out.Name, CreatedBy: out.CreatedBy}, nil
}

func (s *HTTPStore) ListBreakoutRooms(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error) {
	var out httpx.BreakoutsResponse
	if err := s.do(ctx, "list breakout rooms", http.MethodGet, roomPath(mainRoomID, "breakouts"), nil, &out); err != nil {
		return nil, err
	}
	list := make([]domain.BreakoutRoom, 0, len(out.Items))
	for _, it := range out.Items {
		list = append(list, domain.BreakoutRoom{ID: it.ID, MainRoomID: it.MainRoomID, Name: it.Name, CreatedBy: it.CreatedBy})
	}
	return list, nil
}

func toMessage(it httpx.ChatMessageItem) domain.ChatMessage {
	return domain.ChatMessage{ID: it.ID, RoomID: it.RoomID, Sender: it.Sender, Message: it.Message, Timestamp: it.Timestamp}
}
