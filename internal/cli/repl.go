package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cwrk-planet/vidcon/internal/coordinator"
	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/mattn/go-shellwords"
)

var errQuit = errors.New("quit")

// Controller: часть координатора, которой управляет REPL.
type Controller interface {
	State() coordinator.State
	Leave(ctx context.Context) error
	ToggleAudio(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	SendChat(ctx context.Context, message string) error
	ReturnToMain(ctx context.Context) error
}

type Breakouts interface {
	Create(ctx context.Context, mainRoomID, name, createdBy string) (string, error)
	Join(ctx context.Context, breakoutID string) error
	List(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error)
}

type REPL struct {
	ctl Controller
	br  Breakouts
	out io.Writer
}

func NewREPL(ctl Controller, br Breakouts, out io.Writer) *REPL {
	return &REPL{ctl: ctl, br: br, out: out}
}

// Run читает строки до /quit, EOF или отмены ctx. Ошибки отдельных команд
// печатаются и не прерывают сессию.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return err
			}
			return errQuit
		case line := <-lines:
			if err := r.Exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				fmt.Fprintf(r.out, "! %v\n", err)
			}
		}
	}
}

// Exec выполняет одну строку: команду со слешем или сообщение в чат.
func (r *REPL) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.ctl.SendChat(ctx, line)
	}

	args, err := shellwords.Parse(line)
	if err != nil {
		return fmt.Errorf("parse %q: %w", line, err)
	}
	name, args := args[0], args[1:]

	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/leave":
		if err := r.ctl.Leave(ctx); err != nil {
			fmt.Fprintf(r.out, "! leave: %v\n", err)
		}
		return errQuit
	case "/mute":
		return r.ctl.ToggleAudio(ctx)
	case "/video":
		return r.ctl.ToggleVideo(ctx)
	case "/share":
		return r.ctl.ToggleScreenShare(ctx)
	case "/who":
		r.who()
		return nil
	case "/main":
		return r.ctl.ReturnToMain(ctx)
	case "/breakout":
		return r.breakout(ctx, args)
	case "/help":
		fmt.Fprintln(r.out, helpText)
		return nil
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
}

func (r *REPL) breakout(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: /breakout create <name> | list | join <id>")
	}
	s := r.ctl.State()
	switch args[0] {
	case "create":
		if len(args) < 2 {
			return errors.New("usage: /breakout create <name>")
		}
		if s.InBreakout() {
			return errors.New("breakout rooms are created from the main room, use /main first")
		}
		id, err := r.br.Create(ctx, s.RoomID, strings.Join(args[1:], " "), s.Username)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "* breakout created: %s\n", id)
		return nil
	case "list":
		list, err := r.br.List(ctx, s.MainRoomID())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(r.out, "* no breakout rooms")
		}
		for _, b := range list {
			fmt.Fprintf(r.out, "* %s  %s (by %s)\n", b.ID, b.Name, b.CreatedBy)
		}
		return nil
	case "join":
		if len(args) != 2 {
			return errors.New("usage: /breakout join <id>")
		}
		return r.br.Join(ctx, args[1])
	default:
		return fmt.Errorf("unknown breakout command %q", args[0])
	}
}

func (r *REPL) who() {
	s := r.ctl.State()
	fmt.Fprintf(r.out, "* %s: %d participant(s)\n", s.RoomID, len(s.Roster))
	for i, p := range s.Roster {
		mark := ""
		if i == 0 {
			mark = " (admin)"
		}
		if p.Username == s.Username {
			mark += " (you)"
		}
		fmt.Fprintf(r.out, "  %s%s\n", p.Username, mark)
	}
}

const helpText = `commands:
  /who                     participants of the current room
  /mute /video /share      toggle microphone, camera, screen share
  /breakout create <name>  create a breakout room (admin only)
  /breakout list           list breakout rooms
  /breakout join <id>      move into a breakout room
  /main                    return to the main room
  /leave /quit             leave the room and exit
anything else is sent to the chat`
