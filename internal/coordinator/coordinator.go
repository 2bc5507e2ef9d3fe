// Package coordinator ведёт клиентскую сессию: вход/выход из комнаты,
// вычисление админа, чат и breakout-комнаты поверх хранилища, фида и сигнализации.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"log/slog"
	"time"

	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/media"

	"go.uber.org/atomic"
)

const DefaultJoinTimeout = 10 * time.Second

var ErrStopped = errors.New("coordinator stopped")

// SessionStore: долговременное хранилище сессий. Ошибки приходят как *domain.PersistenceError.
type SessionStore interface {
	InsertParticipant(ctx context.Context, roomID, username string) (domain.Participant, error)
	ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)
	DeleteParticipant(ctx context.Context, roomID, username string) error

	InsertMessage(ctx context.Context, roomID, sender, message string) (domain.ChatMessage, error)
	ListMessages(ctx context.Context, roomID string) ([]domain.ChatMessage, error)

	InsertBreakoutRoom(ctx context.Context, b domain.BreakoutRoom) (domain.BreakoutRoom, error)
	ListBreakoutRooms(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error)
}

// Signaler: канал сигнализации; ответов не ждём.
type Signaler interface {
	JoinRoom(ctx context.Context, roomID, username string) error
	LeaveRoom(ctx context.Context, roomID, username string) error
}

type Config struct {
	JoinTimeout      time.Duration
	MaxMessageLength int
	Sink             media.Sink
	// OnChange и OnMessage вызываются из цикла координатора; вызывать из них
	// методы Coordinator синхронно нельзя.
	OnChange  func(State)
	OnMessage func(domain.ChatMessage)
	Logger    *slog.Logger
}

type command struct {
	name string
	ctx  context.Context
	run  func(ctx context.Context, s State) (State, error)
	done chan error
}

type Coordinator struct {
	store   SessionStore
	signal  Signaler
	capture media.Capturer
	chat    *ChatRelay
	cfg     Config
	log     *slog.Logger

	cmds    chan command
	stopped chan struct{}
	snap    *atomic.Pointer[State]

	// state принадлежит циклу Run
	state State
}

func New(store SessionStore, signal Signaler, capture media.Capturer, cfg Config) *Coordinator {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Sink == nil {
		cfg.Sink = media.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Coordinator{
		store:   store,
		signal:  signal,
		capture: capture,
		chat:    NewChatRelay(store, cfg.MaxMessageLength),
		cfg:     cfg,
		log:     cfg.Logger.With("component", "coordinator"),
		cmds:    make(chan command),
		stopped: make(chan struct{}),
		snap:    atomic.NewPointer(&State{}),
	}
	return c
}

func (c *Coordinator) Chat() *ChatRelay { return c.chat }

// State: последний опубликованный снапшот.
func (c *Coordinator) State() State { return *c.snap.Load() }

// Run обрабатывает команды и события фида по одной. При отмене ctx
// выполняет best-effort выход из комнаты.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case cmd := <-c.cmds:
			next, err := cmd.run(cmd.ctx, c.state)
			c.state = next
			c.publish(next)
			if err != nil {
				c.log.Debug("command failed", "cmd", cmd.name, "phase", next.Phase, "err", err)
			}
			cmd.done <- err
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.state.Phase != Joined {
		c.releaseMedia(c.state)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JoinTimeout)
	defer cancel()
	next, err := c.leave(ctx, c.state)
	c.state = next
	c.publish(next)
	if err != nil {
		c.log.Warn("leave on shutdown", "err", err)
	}
}

// exec ставит команду в очередь. Отмена ctx перестаёт ждать результат, но
// уже начатая команда доводится до конца.
func (c *Coordinator) exec(ctx context.Context, name string, run func(ctx context.Context, s State) (State, error)) error {
	cmd := command{name: name, ctx: context.WithoutCancel(ctx), run: run, done: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) publish(s State) {
	cp := s.clone()
	c.snap.Store(&cp)
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(cp.clone())
	}
}

func (c *Coordinator) Join(ctx context.Context, roomID, username string) error {
	return c.exec(ctx, "join", func(ctx context.Context, s State) (State, error) {
		return c.join(ctx, s, roomID, username, "")
	})
}

func (c *Coordinator) Leave(ctx context.Context) error {
	return c.exec(ctx, "leave", c.leave)
}

// SwitchRoom: выход из текущей комнаты и вход в roomID тем же username.
func (c *Coordinator) SwitchRoom(ctx context.Context, roomID string) error {
	return c.exec(ctx, "switch", func(ctx context.Context, s State) (State, error) {
		return c.switchRoom(ctx, s, roomID, "")
	})
}

// JoinBreakout: переход в breakout с запоминанием основной комнаты.
func (c *Coordinator) JoinBreakout(ctx context.Context, breakoutID string) error {
	return c.exec(ctx, "join breakout", func(ctx context.Context, s State) (State, error) {
		if s.Phase != Joined {
			return s, transitionError(s.Phase, "join breakout")
		}
		b, err := c.findBreakout(ctx, s, strings.TrimSpace(breakoutID))
		if err != nil {
			return s, err
		}
		return c.switchRoom(ctx, s, b.ID, b.MainRoomID)
	})
}

// findBreakout ищет breakout основной комнаты: сначала в снимке, потом в
// хранилище (событие о создании могло ещё не дойти).
func (c *Coordinator) findBreakout(ctx context.Context, s State, id string) (domain.BreakoutRoom, error) {
	if id == "" {
		return domain.BreakoutRoom{}, fmt.Errorf("%w: breakout id is required", domain.ErrInvalidArgument)
	}
	for _, b := range s.Breakouts {
		if b.ID == id {
			return b, nil
		}
	}

	lctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()
	list, err := c.store.ListBreakoutRooms(lctx, s.MainRoomID())
	if err != nil {
		return domain.BreakoutRoom{}, domain.Persistence("list breakout rooms", err)
	}
	for _, b := range list {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.BreakoutRoom{}, fmt.Errorf("%w: breakout %q of room %q", domain.ErrNotFound, id, s.MainRoomID())
}

func (c *Coordinator) ReturnToMain(ctx context.Context) error {
	return c.exec(ctx, "return to main", func(ctx context.Context, s State) (State, error) {
		if s.Phase != Joined || !s.InBreakout() {
			return s, fmt.Errorf("%w: not in a breakout room", domain.ErrInvalidTransition)
		}
		return c.switchRoom(ctx, s, s.ParentRoomID, "")
	})
}

func (c *Coordinator) join(ctx context.Context, s State, roomID, username, parent string) (State, error) {
	s, err := s.beginJoin(roomID, username)
	if err != nil {
		return s, err
	}
	roomID, username = s.RoomID, s.Username
	c.publish(s)
	log := c.log.With("room", roomID, "user", username)

	camera, err := c.capture.CaptureUser(ctx)
	if err != nil {
		log.Warn("capture failed, join aborted", "err", err)
		return s.abortJoin(), domain.CaptureError(err)
	}

	jctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()

	self, err := c.store.InsertParticipant(jctx, roomID, username)
	if err != nil {
		c.stopStream(camera)
		log.Warn("insert participant failed, join aborted", "err", err)
		return s.abortJoin(), domain.Persistence("insert participant", err)
	}

	if err := c.signal.JoinRoom(jctx, roomID, username); err != nil {
		c.stopStream(camera)
		// строка уже записана: убираем, чтобы не висеть в ростере
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.JoinTimeout)
		if derr := c.store.DeleteParticipant(dctx, roomID, username); derr != nil {
			log.Warn("rollback participant row failed", "err", derr)
		}
		dcancel()
		log.Warn("signal join-room failed, join aborted", "err", err)
		return s.abortJoin(), fmt.Errorf("signal join-room: %w", err)
	}

	s = s.completeJoin(self, camera)
	s.ParentRoomID = parent
	c.cfg.Sink.Attach(roomID, camera)
	log.Info("joined room", "parent", parent)

	fctx, fcancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer fcancel()
	return c.refresh(fctx, s), nil
}

// refresh перечитывает ростер, историю чата и breakout'ы. Ошибки логируются:
// мы уже в комнате, следующие события/resync догонят состояние.
func (c *Coordinator) refresh(ctx context.Context, s State) State {
	s, err := c.refreshAll(ctx, s)
	if err != nil {
		c.log.Warn("refresh after join incomplete", "room", s.RoomID, "err", err)
	}
	return s
}

func (c *Coordinator) refreshAll(ctx context.Context, s State) (State, error) {
	var errs []error

	if roster, err := c.store.ListParticipants(ctx, s.RoomID); err != nil {
		errs = append(errs, domain.Persistence("list participants", err))
	} else {
		s = s.withRoster(roster)
	}

	if log, err := c.chat.History(ctx, s.RoomID); err != nil {
		errs = append(errs, err)
	} else {
		s.Chat = log
	}

	if list, err := c.store.ListBreakoutRooms(ctx, s.MainRoomID()); err != nil {
		errs = append(errs, domain.Persistence("list breakout rooms", err))
	} else {
		s.Breakouts = list
	}
	return s, errors.Join(errs...)
}

func (c *Coordinator) leave(ctx context.Context, s State) (State, error) {
	s, err := s.beginLeave()
	if err != nil {
		return s, err
	}
	c.publish(s)
	log := c.log.With("room", s.RoomID, "user", s.Username)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()

	// треки останавливаются первыми и безусловно
	s = c.releaseMedia(s)

	var errs []error
	if err := c.store.DeleteParticipant(ctx, s.RoomID, s.Username); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Warn("delete participant failed", "err", err)
		errs = append(errs, domain.Persistence("delete participant", err))
	}
	if err := c.signal.LeaveRoom(ctx, s.RoomID, s.Username); err != nil {
		log.Warn("signal leave-room failed", "err", err)
		errs = append(errs, fmt.Errorf("signal leave-room: %w", err))
	}

	log.Info("left room")
	return s.completeLeave(), errors.Join(errs...)
}

func (c *Coordinator) switchRoom(ctx context.Context, s State, roomID, parent string) (State, error) {
	if s.Phase != Joined {
		return s, transitionError(s.Phase, "switch")
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return s, fmt.Errorf("%w: room id is required", domain.ErrInvalidArgument)
	}
	if roomID == s.RoomID {
		return s, nil
	}
	username := s.Username

	s, err := c.leave(ctx, s)
	if err != nil {
		c.log.Warn("leave leg of switch had errors", "err", err)
	}
	c.publish(s)
	return c.join(ctx, s, roomID, username, parent)
}

// releaseMedia останавливает камеру и демонстрацию экрана.
func (c *Coordinator) releaseMedia(s State) State {
	if s.screen != nil {
		c.stopStream(s.screen)
		s.screen = nil
	}
	if s.camera != nil {
		c.stopStream(s.camera)
		s.camera = nil
	}
	s.Sharing = false
	return s
}

func (c *Coordinator) stopStream(st media.Stream) {
	c.cfg.Sink.Detach(st)
	if err := st.Stop(); err != nil {
		c.log.Warn("stop media stream", "stream", st.ID(), "kind", st.Kind(), "err", err)
	}
}

// ToggleAudio: вне комнаты ничего не делает.
func (c *Coordinator) ToggleAudio(ctx context.Context) error {
	return c.exec(ctx, "toggle audio", func(_ context.Context, s State) (State, error) {
		if s.Phase != Joined || s.camera == nil {
			return s, nil
		}
		s.IsMuted = !s.IsMuted
		s.camera.SetAudioEnabled(!s.IsMuted)
		return s, nil
	})
}

func (c *Coordinator) ToggleVideo(ctx context.Context) error {
	return c.exec(ctx, "toggle video", func(_ context.Context, s State) (State, error) {
		if s.Phase != Joined || s.camera == nil {
			return s, nil
		}
		s.IsVideoOff = !s.IsVideoOff
		s.camera.SetVideoEnabled(!s.IsVideoOff)
		return s, nil
	})
}

// ToggleScreenShare открывает демонстрацию экрана или закрывает текущую.
func (c *Coordinator) ToggleScreenShare(ctx context.Context) error {
	return c.exec(ctx, "toggle screen share", func(ctx context.Context, s State) (State, error) {
		if s.screen != nil {
			return c.stopShare(s), nil
		}
		return c.startShare(ctx, s)
	})
}

// StartScreenShare: не больше одного display-потока; повторный вызов ничего не делает.
func (c *Coordinator) StartScreenShare(ctx context.Context) error {
	return c.exec(ctx, "start screen share", func(ctx context.Context, s State) (State, error) {
		if s.screen != nil {
			return s, nil
		}
		return c.startShare(ctx, s)
	})
}

func (c *Coordinator) startShare(ctx context.Context, s State) (State, error) {
	if s.Phase != Joined {
		return s, domain.ErrNotJoined
	}
	screen, err := c.capture.CaptureDisplay(ctx)
	if err != nil {
		return s, domain.CaptureError(err)
	}
	s.screen = screen
	s.Sharing = true
	c.cfg.Sink.Attach(s.RoomID, screen)
	return s, nil
}

func (c *Coordinator) StopScreenShare(ctx context.Context) error {
	return c.exec(ctx, "stop screen share", func(_ context.Context, s State) (State, error) {
		return c.stopShare(s), nil
	})
}

func (c *Coordinator) stopShare(s State) State {
	if s.screen != nil {
		c.stopStream(s.screen)
		s.screen = nil
	}
	s.Sharing = false
	return s
}

// SendChat отправляет сообщение в текущую комнату. В журнал оно попадёт
// только с эхом фида.
func (c *Coordinator) SendChat(ctx context.Context, message string) error {
	s := c.State()
	if s.Phase != Joined {
		return domain.ErrNotJoined
	}
	return c.chat.Send(ctx, s.RoomID, s.Username, message)
}

// HandleEvent применяет событие фида. Чужие комнаты и события вне Joined игнорируются.
func (c *Coordinator) HandleEvent(ctx context.Context, ev domain.ChangeEvent) error {
	return c.exec(ctx, "event", func(ctx context.Context, s State) (State, error) {
		return c.applyEvent(ctx, s, ev), nil
	})
}

func (c *Coordinator) applyEvent(ctx context.Context, s State, ev domain.ChangeEvent) State {
	if s.Phase != Joined {
		return s
	}

	switch ev.Table {
	case domain.TableParticipants:
		if ev.RoomID() != s.RoomID {
			return s
		}
		roster, err := c.store.ListParticipants(ctx, s.RoomID)
		if err != nil {
			c.log.Warn("roster refresh failed", "room", s.RoomID, "err", err)
			return s
		}
		wasAdmin := s.IsAdmin
		s = s.withRoster(roster)
		if s.IsAdmin && !wasAdmin {
			c.log.Info("became room admin", "room", s.RoomID, "user", s.Username)
		}

	case domain.TableMessages:
		if ev.Message == nil || ev.RoomID() != s.RoomID || ev.Op != domain.OpInsert {
			return s
		}
		var added bool
		s.Chat, added = mergeMessage(s.Chat, *ev.Message)
		if added && c.cfg.OnMessage != nil {
			c.cfg.OnMessage(*ev.Message)
		}

	case domain.TableBreakouts:
		if ev.Breakout == nil || ev.RoomID() != s.MainRoomID() || ev.Op != domain.OpInsert {
			return s
		}
		for _, b := range s.Breakouts {
			if b.ID == ev.Breakout.ID {
				return s
			}
		}
		s.Breakouts = append(append([]domain.BreakoutRoom(nil), s.Breakouts...), *ev.Breakout)
	}
	return s
}

// Resync вызывается после разрыва фида: события за разрыв потеряны, перечитываем всё.
func (c *Coordinator) Resync(ctx context.Context) error {
	return c.exec(ctx, "resync", func(ctx context.Context, s State) (State, error) {
		if s.Phase != Joined {
			return s, nil
		}
		rctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
		defer cancel()
		return c.refreshAll(rctx, s)
	})
}
