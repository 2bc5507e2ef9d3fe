package client

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// threadSafeWriter сериализует запись в websocket; чтение: из одной горутины.
type threadSafeWriter struct {
	*websocket.Conn
	mu sync.Mutex
}

// defaultWriteWait: дедлайн записи, если у ctx его нет.
const defaultWriteWait = 10 * time.Second

// WriteJSONContext пишет с дедлайном из ctx, а без него с defaultWriteWait.
func (t *threadSafeWriter) WriteJSONContext(ctx context.Context, val any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}
	if err := t.Conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.Conn.WriteJSON(val)
}

func newThreadSafeWriter(conn *websocket.Conn) *threadSafeWriter {
	return &threadSafeWriter{Conn: conn}
}

// wsURL переводит http(s) адрес в ws(s).
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func authHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}
