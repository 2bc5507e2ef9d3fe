package domain

// BreakoutRoom: дочерняя комната. ID глобально уникален и сам является room_id.
type BreakoutRoom struct {
	ID         string `json:"id" db:"id"`
	MainRoomID string `json:"main_room_id" db:"main_room_id"`
	Name       string `json:"name" db:"name"`
	CreatedBy  string `json:"created_by" db:"created_by"`
}
