package domain

import (
	"sort"
	"strings"
	"time"
)

// Participant: строка room_participants. (RoomID, Username) уникальна.
type Participant struct {
	RoomID   string    `json:"room_id" db:"room_id"`
	Username string    `json:"username" db:"username"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// SortRoster упорядочивает участников по joined_at, при равенстве: по username.
func SortRoster(roster []Participant) {
	sort.SliceStable(roster, func(i, j int) bool {
		return rosterLess(roster[i], roster[j])
	})
}

func rosterLess(a, b Participant) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.Username < b.Username
}

// ElectAdmin возвращает участника с минимальным joined_at (tie-break: username).
// Порядок входного слайса не важен. ok=false для пустой комнаты.
func ElectAdmin(roster []Participant) (admin Participant, ok bool) {
	for i, p := range roster {
		if i == 0 || rosterLess(p, admin) {
			admin = p
		}
	}
	return admin, len(roster) > 0
}

// IsAdmin: является ли username админом комнаты при данном ростере.
func IsAdmin(roster []Participant, username string) bool {
	admin, ok := ElectAdmin(roster)
	return ok && admin.Username == username
}

// ValidKey: room id или username непустой и без пробелов по краям. Такие
// ключи шлюз хранит как есть, иначе отклоняет, а не переписывает.
func ValidKey(s string) bool {
	return s != "" && strings.TrimSpace(s) == s
}
