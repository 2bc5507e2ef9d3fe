package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/cwrk-planet/vidcon/internal/coordinator"
	"github.com/cwrk-planet/vidcon/internal/domain"
)

// view печатает изменения состояния и сообщения чата. Вызывается из цикла
// координатора, поэтому только пишет в out.
type view struct {
	mu   sync.Mutex
	out  io.Writer
	prev coordinator.State
}

func newView(out io.Writer) *view {
	return &view{out: out}
}

func (v *view) state(s coordinator.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.prev
	v.prev = s

	switch {
	case s.Phase == coordinator.Joined && (prev.Phase != coordinator.Joined || prev.RoomID != s.RoomID):
		where := s.RoomID
		if s.InBreakout() {
			where += " (breakout of " + s.ParentRoomID + ")"
		}
		fmt.Fprintf(v.out, "* joined %s as %s\n", where, s.Username)
	case s.Phase == coordinator.Idle && prev.Phase != coordinator.Idle && prev.RoomID != "":
		fmt.Fprintf(v.out, "* left %s\n", prev.RoomID)
	}
	if s.Phase != coordinator.Joined {
		return
	}

	if s.IsAdmin && !prev.IsAdmin {
		fmt.Fprintln(v.out, "* you are the room admin")
	}
	if len(s.Roster) != len(prev.Roster) && prev.Phase == coordinator.Joined && prev.RoomID == s.RoomID {
		fmt.Fprintf(v.out, "* %d participant(s) in %s\n", len(s.Roster), s.RoomID)
	}
	if s.IsMuted != prev.IsMuted {
		fmt.Fprintf(v.out, "* microphone %s\n", onOff(!s.IsMuted))
	}
	if s.IsVideoOff != prev.IsVideoOff {
		fmt.Fprintf(v.out, "* camera %s\n", onOff(!s.IsVideoOff))
	}
	if s.Sharing != prev.Sharing {
		fmt.Fprintf(v.out, "* screen share %s\n", onOff(s.Sharing))
	}
	if len(s.Breakouts) > len(prev.Breakouts) && prev.Phase == coordinator.Joined {
		for _, b := range s.Breakouts[len(prev.Breakouts):] {
			fmt.Fprintf(v.out, "* new breakout room %q (%s)\n", b.Name, b.ID)
		}
	}
}

func (v *view) message(m domain.ChatMessage) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Sender, m.Message)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
