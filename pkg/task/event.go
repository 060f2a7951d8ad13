package task

import (
	"encoding/binary"
	"strconv"
)

// Event is the code delivered to a slot callback.
// Codes up to EventUserMax are free for applications.
type Event uint8

// Built-in events.
const (
	EventUserMax     Event = 251
	EventTiming      Event = 252
	EventStateEnter  Event = 253
	EventStateExit   Event = 254
	EventStateActive Event = 255
)

// IsUser reports whether e is an application defined code.
func (e Event) IsUser() bool {
	return e <= EventUserMax
}

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case EventTiming:
		return "timing"
	case EventStateEnter:
		return "state-enter"
	case EventStateExit:
		return "state-exit"
	case EventStateActive:
		return "state-active"
	default:
		return strconv.Itoa(int(e))
	}
}

// recordSize is the size of one queued (slot, event) pair.
const recordSize = 2

func encodeRecord(b []byte, index int, ev Event) {
	binary.LittleEndian.PutUint16(b, uint16(index)<<8|uint16(ev))
}

func decodeRecord(b []byte) (int, Event) {
	v := binary.LittleEndian.Uint16(b)
	return int(v >> 8), Event(v & 0xff)
}
