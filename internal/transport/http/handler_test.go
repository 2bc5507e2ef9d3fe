package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/realtime"
	"github.com/cwrk-planet/vidcon/internal/service"
	"github.com/cwrk-planet/vidcon/internal/sqlite"
	httpmw "github.com/cwrk-planet/vidcon/internal/transport/http/middleware"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, secret []byte, limiter *httpmw.RateLimit) http.Handler {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := realtime.NewLocalBus()
	h := NewHandler(
		service.NewMemberService(store, bus),
		service.NewChatService(store, bus, 20),
		service.NewBreakoutService(store, bus),
	)
	return NewRouter(RouterDeps{
		Handler:        h,
		Feed:           func(w http.ResponseWriter, r *http.Request) {},
		JWTSecret:      secret,
		AllowedOrigins: []string{"*"},
		ChatLimiter:    limiter,
		Ready:          store.Ping,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParticipantsLifecycle(t *testing.T) {
	h := newTestRouter(t, nil, nil)

	rec := do(t, h, http.MethodPost, "/rooms/demo/participants", JoinRequest{Username: "alice"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p ParticipantItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "alice", p.Username)
	assert.False(t, p.JoinedAt.IsZero())

	rec = do(t, h, http.MethodPost, "/rooms/demo/participants", JoinRequest{Username: "alice"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/rooms/demo/participants", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/rooms/demo/participants", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ParticipantsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)

	rec = do(t, h, http.MethodDelete, "/rooms/demo/participants/alice", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/rooms/demo/participants/alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessages(t *testing.T) {
	h := newTestRouter(t, nil, nil)

	rec := do(t, h, http.MethodPost, "/rooms/demo/messages", SendMessageRequest{Sender: "alice", Message: "   "}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/rooms/demo/messages", SendMessageRequest{Sender: "alice", Message: strings.Repeat("x", 21)}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, text := range []string{"one", "two", "three"} {
		rec = do(t, h, http.MethodPost, "/rooms/demo/messages", SendMessageRequest{Sender: "alice", Message: text}, "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/rooms/demo/messages?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page ChatHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "one", page.Items[0].Message)

	rec = do(t, h, http.MethodGet, "/rooms/demo/messages?after="+page.NextCursor, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rest ChatHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rest))
	require.Len(t, rest.Items, 1)
	assert.Equal(t, "three", rest.Items[0].Message)

	rec = do(t, h, http.MethodGet, "/rooms/demo/messages?after=garbage!", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessages_RateLimited(t *testing.T) {
	h := newTestRouter(t, nil, httpmw.NewRateLimit(0.001, 1))

	rec := do(t, h, http.MethodPost, "/rooms/demo/messages", SendMessageRequest{Sender: "alice", Message: "a"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/rooms/demo/messages", SendMessageRequest{Sender: "alice", Message: "b"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestBreakouts_AdminOnly(t *testing.T) {
	h := newTestRouter(t, nil, nil)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/rooms/demo/participants", JoinRequest{Username: "alice"}, "").Code)
	time.Sleep(time.Millisecond)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/rooms/demo/participants", JoinRequest{Username: "bob"}, "").Code)

	rec := do(t, h, http.MethodPost, "/rooms/demo/breakouts", CreateBreakoutRequest{Name: "G1", CreatedBy: "bob"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/rooms/demo/breakouts", CreateBreakoutRequest{Name: "G1", CreatedBy: "alice"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/rooms/demo/breakouts", nil, "")
	var list BreakoutsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "demo", list.Items[0].MainRoomID)
}

func TestAuth_SubjectMustMatchActor(t *testing.T) {
	secret := []byte("s3cret")
	h := newTestRouter(t, secret, nil)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString(secret)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/rooms/demo/participants", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/rooms/demo/participants", JoinRequest{Username: "mallory"}, tok).Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/rooms/demo/participants", JoinRequest{Username: "alice"}, tok).Code)
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, nil, nil)
	rec := do(t, h, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrConflict))
	assert.Equal(t, http.StatusForbidden, statusFor(errors.Join(errors.New("ctx"), domain.ErrPermission)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
