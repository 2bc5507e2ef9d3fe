package domain

import (
	"encoding/json"
	"fmt"
)

type Table string

const (
	TableParticipants Table = "room_participants"
	TableMessages     Table = "chat_messages"
	TableBreakouts    Table = "breakout_rooms"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpDelete Op = "DELETE"
)

// ChangeEvent: одно изменение записи, как его доставляет realtime-фид.
// Заполнено ровно одно из Participant / Message / Breakout, в соответствии с Table.
type ChangeEvent struct {
	Table       Table         `json:"table"`
	Op          Op            `json:"op"`
	Participant *Participant  `json:"-"`
	Message     *ChatMessage  `json:"-"`
	Breakout    *BreakoutRoom `json:"-"`
}

// RoomID: ключ фильтрации на клиенте. Для breakout_rooms это main_room_id.
func (e ChangeEvent) RoomID() string {
	switch {
	case e.Participant != nil:
		return e.Participant.RoomID
	case e.Message != nil:
		return e.Message.RoomID
	case e.Breakout != nil:
		return e.Breakout.MainRoomID
	default:
		return ""
	}
}

func ParticipantInserted(p Participant) ChangeEvent {
	return ChangeEvent{Table: TableParticipants, Op: OpInsert, Participant: &p}
}

func ParticipantDeleted(p Participant) ChangeEvent {
	return ChangeEvent{Table: TableParticipants, Op: OpDelete, Participant: &p}
}

func MessageInserted(m ChatMessage) ChangeEvent {
	return ChangeEvent{Table: TableMessages, Op: OpInsert, Message: &m}
}

func BreakoutInserted(b BreakoutRoom) ChangeEvent {
	return ChangeEvent{Table: TableBreakouts, Op: OpInsert, Breakout: &b}
}

type wireEvent struct {
	Table  Table           `json:"table"`
	Op     Op              `json:"op"`
	Record json.RawMessage `json:"record"`
}

func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	var (
		rec []byte
		err error
	)
	switch e.Table {
	case TableParticipants:
		rec, err = json.Marshal(e.Participant)
	case TableMessages:
		rec, err = json.Marshal(e.Message)
	case TableBreakouts:
		rec, err = json.Marshal(e.Breakout)
	default:
		return nil, fmt.Errorf("unknown table %q", e.Table)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Table: e.Table, Op: e.Op, Record: rec})
}

func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := ChangeEvent{Table: w.Table, Op: w.Op}
	switch w.Table {
	case TableParticipants:
		out.Participant = &Participant{}
		if err := json.Unmarshal(w.Record, out.Participant); err != nil {
			return err
		}
	case TableMessages:
		out.Message = &ChatMessage{}
		if err := json.Unmarshal(w.Record, out.Message); err != nil {
			return err
		}
	case TableBreakouts:
		out.Breakout = &BreakoutRoom{}
		if err := json.Unmarshal(w.Record, out.Breakout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown table %q", w.Table)
	}
	*e = out
	return nil
}
