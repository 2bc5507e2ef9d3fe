package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cwrk-planet/vidcon/internal/domain"
	httpmw "github.com/cwrk-planet/vidcon/internal/transport/http/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type MemberSvc interface {
	JoinRoom(ctx context.Context, roomID, username string) (domain.Participant, error)
	LeaveRoom(ctx context.Context, roomID, username string) error
	ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)
}

type ChatSvc interface {
	Save(ctx context.Context, roomID, sender, text string) (domain.ChatMessage, error)
	History(ctx context.Context, roomID, after string, limit int) ([]domain.ChatMessage, string, error)
}

type BreakoutSvc interface {
	Create(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error)
	List(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error)
}

type Handler struct {
	memberSvc   MemberSvc
	chatSvc     ChatSvc
	breakoutSvc BreakoutSvc
	validate    *validator.Validate
}

func NewHandler(member MemberSvc, chat ChatSvc, breakout BreakoutSvc) *Handler {
	return &Handler{
		memberSvc:   member,
		chatSvc:     chat,
		breakoutSvc: breakout,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("handler."+op, slog.Any("err", err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// pathParam возвращает сегмент пути без экранирования. Если RawPath задан
// (клиент экранировал ';', ',' или '/'), chi маршрутизирует по нему и отдаёт
// параметр как есть.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return raw
	}
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// actingAs: при включённой авторизации действовать можно только от своего имени.
func actingAs(w http.ResponseWriter, r *http.Request, username string) bool {
	if sub, ok := httpmw.UsernameFromCtx(r.Context()); ok && sub != username {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "token subject does not match " + username})
		return false
	}
	return true
}

// POST /rooms/{id}/participants
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := pathParam(r, "id")
	var req JoinRequest
	if !h.decode(w, r, &req) || !actingAs(w, r, req.Username) {
		return
	}

	p, err := h.memberSvc.JoinRoom(r.Context(), roomID, req.Username)
	if err != nil {
		h.fail(w, "JoinRoom", err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantItem(p))
}

// DELETE /rooms/{id}/participants/{username}
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := pathParam(r, "id")
	username := pathParam(r, "username")
	if !actingAs(w, r, username) {
		return
	}

	if err := h.memberSvc.LeaveRoom(r.Context(), roomID, username); err != nil {
		h.fail(w, "LeaveRoom", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	items, err := h.memberSvc.ListParticipants(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.fail(w, "GetParticipants", err)
		return
	}

	resp := ParticipantsResponse{Items: make([]ParticipantItem, 0, len(items))}
	for _, p := range items {
		resp.Items = append(resp.Items, toParticipantItem(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /rooms/{id}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	roomID := pathParam(r, "id")
	var req SendMessageRequest
	if !h.decode(w, r, &req) || !actingAs(w, r, req.Sender) {
		return
	}

	msg, err := h.chatSvc.Save(r.Context(), roomID, req.Sender, req.Message)
	if err != nil {
		h.fail(w, "SendMessage", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChatMessageItem(msg))
}

// GET /rooms/{id}/messages?after=&limit=
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	roomID := pathParam(r, "id")
	after := r.URL.Query().Get("after")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	items, next, err := h.chatSvc.History(r.Context(), roomID, after, limit)
	if err != nil {
		h.fail(w, "GetChatHistory", err)
		return
	}
	resp := ChatHistoryResponse{Items: make([]ChatMessageItem, 0, len(items)), NextCursor: next}
	for _, m := range items {
		resp.Items = append(resp.Items, toChatMessageItem(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /rooms/{id}/breakouts
func (h *Handler) CreateBreakout(w http.ResponseWriter, r *http.Request) {
	mainRoomID := pathParam(r, "id")
	var req CreateBreakoutRequest
	if !h.decode(w, r, &req) || !actingAs(w, r, req.CreatedBy) {
		return
	}

	b, err := h.breakoutSvc.Create(r.Context(), domain.BreakoutRoom{
		ID:         req.ID,
		MainRoomID: mainRoomID,
		Name:       req.Name,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		h.fail(w, "CreateBreakout", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBreakoutItem(b))
}

// GET /rooms/{id}/breakouts
func (h *Handler) ListBreakouts(w http.ResponseWriter, r *http.Request) {
	items, err := h.breakoutSvc.List(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.fail(w, "ListBreakouts", err)
		return
	}
	resp := BreakoutsResponse{Items: make([]BreakoutItem, 0, len(items))}
	for _, b := range items {
		resp.Items = append(resp.Items, toBreakoutItem(b))
	}
	writeJSON(w, http.StatusOK, resp)
}
