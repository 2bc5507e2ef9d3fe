package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cwrk-planet/vidcon/internal/domain"

	"github.com/google/uuid"
)

// BreakoutManager создаёт breakout-комнаты и переключает в них координатор.
type BreakoutManager struct {
	coord *Coordinator
	store SessionStore
}

func NewBreakoutManager(coord *Coordinator) *BreakoutManager {
	return &BreakoutManager{coord: coord, store: coord.store}
}

// Create разрешён только локальному админу основной комнаты, в которой он
// сейчас находится; иначе ErrPermission без сетевого вызова. Возвращает id.
func (m *BreakoutManager) Create(ctx context.Context, mainRoomID, name, createdBy string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: breakout name is required", domain.ErrInvalidArgument)
	}

	s := m.coord.State()
	switch {
	case s.Phase != Joined:
		return "", fmt.Errorf("%w: not joined to %s", domain.ErrPermission, mainRoomID)
	case s.Username != createdBy:
		return "", fmt.Errorf("%w: %s is not the local user", domain.ErrPermission, createdBy)
	case s.RoomID != mainRoomID:
		return "", fmt.Errorf("%w: currently in %s, not %s", domain.ErrPermission, s.RoomID, mainRoomID)
	case !s.IsAdmin:
		return "", fmt.Errorf("%w: %s is not the admin of %s", domain.ErrPermission, createdBy, mainRoomID)
	}

	b, err := m.store.InsertBreakoutRoom(ctx, domain.BreakoutRoom{
		ID:         uuid.NewString(),
		MainRoomID: mainRoomID,
		Name:       name,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return "", domain.Persistence("insert breakout room", err)
	}
	return b.ID, nil
}

func (m *BreakoutManager) Join(ctx context.Context, breakoutID string) error {
	return m.coord.JoinBreakout(ctx, breakoutID)
}

func (m *BreakoutManager) List(ctx context.Context, mainRoomID string) ([]domain.BreakoutRoom, error) {
	list, err := m.store.ListBreakoutRooms(ctx, mainRoomID)
	if err != nil {
		return nil, domain.Persistence("list breakout rooms", err)
	}
	return list, nil
}
