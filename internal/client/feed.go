package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/transport/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

type FeedConfig struct {
	URL          string // http(s)://gateway или ws(s)://gateway
	Token        string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Feed: подписка на глобальный фид изменений с переподключением.
// После каждого (пере)подключения вызывается onResync: события за время
// разрыва потеряны и состояние нужно перечитать.
type Feed struct {
	cfg       FeedConfig
	dialer    *websocket.Dialer
	connected *atomic.Bool
	reconnect *atomic.Int64
	log       *slog.Logger
}

func NewFeed(cfg FeedConfig) *Feed {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Feed{
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		connected: atomic.NewBool(false),
		reconnect: atomic.NewInt64(0),
		log:       slog.Default().With("component", "feed"),
	}
}

func (f *Feed) Connected() bool  { return f.connected.Load() }
func (f *Feed) Reconnects() int64 { return f.reconnect.Load() }

func (f *Feed) endpoint() string {
	return strings.TrimRight(wsURL(f.cfg.URL), "/") + "/ws/feed"
}

// Run блокируется до отмены ctx.
func (f *Feed) Run(ctx context.Context, onEvent func(domain.ChangeEvent), onResync func()) error {
	backoff := f.cfg.ReconnectMin
	first := true
	for {
		err := f.session(ctx, onEvent, func() {
			backoff = f.cfg.ReconnectMin
			if !first {
				f.reconnect.Inc()
			}
			first = false
			if onResync != nil {
				onResync()
			}
		})
		f.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("feed disrupted", "err", fmt.Errorf("%w: %v", domain.ErrFeedDisrupted, err), "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.cfg.ReconnectMax {
			backoff = f.cfg.ReconnectMax
		}
	}
}

func (f *Feed) session(ctx context.Context, onEvent func(domain.ChangeEvent), onConnected func()) error {
	conn, _, err := f.dialer.DialContext(ctx, f.endpoint(), authHeader(f.cfg.Token))
	if err != nil {
		return err
	}
	defer conn.Close()

	// закрываем соединение при отмене, чтобы разблокировать ReadJSON
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	f.connected.Store(true)
	f.log.Info("feed connected", "url", f.endpoint())
	onConnected()

	for {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case ws.TypeChange:
			var ev domain.ChangeEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				f.log.Warn("drop malformed change event", "err", err)
				continue
			}
			onEvent(ev)
		case ws.TypeHello:
		default:
			f.log.Debug("unknown feed frame", "type", msg.Type)
		}
	}
}
