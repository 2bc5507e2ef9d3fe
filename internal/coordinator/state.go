package coordinator

import (
	"fmt"
	"strings"

	"github.com/cwrk-planet/vidcon/internal/domain"
	"github.com/cwrk-planet/vidcon/internal/media"
)

type Phase int

const (
	Idle Phase = iota
	Joining
	Joined
	Leaving
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Leaving:
		return "leaving"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State: единственный владелец состояния сессии. Меняется только в цикле
// координатора; наружу отдаются копии.
type State struct {
	Phase    Phase
	RoomID   string
	Username string
	// ParentRoomID: основная комната, если сейчас мы в breakout.
	ParentRoomID string

	Self    domain.Participant
	Roster  []domain.Participant
	IsAdmin bool

	IsMuted    bool
	IsVideoOff bool
	Sharing    bool

	Breakouts []domain.BreakoutRoom
	Chat      []domain.ChatMessage

	camera media.Stream
	screen media.Stream
}

// MainRoomID: комната, чьи breakout'ы показываются.
func (s State) MainRoomID() string {
	if s.ParentRoomID != "" {
		return s.ParentRoomID
	}
	return s.RoomID
}

func (s State) InBreakout() bool { return s.ParentRoomID != "" }

// clone отвязывает слайсы, чтобы снапшот не разделял память с циклом.
func (s State) clone() State {
	s.Roster = append([]domain.Participant(nil), s.Roster...)
	s.Breakouts = append([]domain.BreakoutRoom(nil), s.Breakouts...)
	s.Chat = append([]domain.ChatMessage(nil), s.Chat...)
	return s
}

func transitionError(from Phase, op string) error {
	return fmt.Errorf("%w: %s while %s", domain.ErrInvalidTransition, op, from)
}

func (s State) beginJoin(roomID, username string) (State, error) {
	if s.Phase != Idle {
		return s, transitionError(s.Phase, "join")
	}
	// шлюз хранит ключи без пробелов по краям; нормализуем здесь, чтобы
	// leave и вычисление админа работали с тем же значением
	roomID, username = strings.TrimSpace(roomID), strings.TrimSpace(username)
	if roomID == "" || username == "" {
		return s, fmt.Errorf("%w: room id and username are required", domain.ErrInvalidArgument)
	}
	return State{Phase: Joining, RoomID: roomID, Username: username}, nil
}

func (s State) completeJoin(self domain.Participant, camera media.Stream) State {
	s.Phase = Joined
	s.Self = self
	s.Roster = []domain.Participant{self}
	s.camera = camera
	return s
}

// abortJoin: Joining → Idle без следов.
func (s State) abortJoin() State { return State{} }

func (s State) beginLeave() (State, error) {
	if s.Phase != Joined {
		return s, transitionError(s.Phase, "leave")
	}
	s.Phase = Leaving
	return s, nil
}

func (s State) completeLeave() State { return State{} }

// withRoster применяет перечитанный ростер и пересчитывает права.
func (s State) withRoster(roster []domain.Participant) State {
	domain.SortRoster(roster)
	s.Roster = roster
	s.IsAdmin = domain.IsAdmin(roster, s.Username)
	for _, p := range roster {
		if p.Username == s.Username {
			s.Self = p
		}
	}
	return s
}
