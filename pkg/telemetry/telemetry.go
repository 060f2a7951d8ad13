// Package telemetry defines the messages exchanged with a board: task
// statistics going out and task commands coming in. Messages are protobuf
// encoded inside a typed envelope.
package telemetry

import (
	"errors"
	"fmt"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/mr.go/pkg/object"
	"github.com/robotalks/mr.go/pkg/task"
)

// TypeID masks
const (
	TypeIDMaskKind uint32 = 0x80000000
	TypeIDMaskID   uint32 = 0x7fffffff
)

// Message Kinds
const (
	TypeIDKindCommand uint32 = 0x00000000
	TypeIDKindEvent   uint32 = 0x80000000
)

// Type IDs
const (
	TaskPostTypeID       uint32 = TypeIDKindCommand | 0x00010001
	TaskTransitionTypeID uint32 = TypeIDKindCommand | 0x00010002
	TaskStatsTypeID      uint32 = TypeIDKindEvent | 0x00010001
)

// Message is a message with a wire form.
type Message interface {
	TypeID() uint32
	Serializable() proto.Message
	NewMessage() Message
}

// ErrUnknownType indicates unknown type id.
type ErrUnknownType struct {
	TypeID uint32
}

// Error implements error.
func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown type: %x", e.TypeID)
}

// ErrNotCommand is returned by Execute for event messages.
var ErrNotCommand = errors.New("not a command")

// MessageTypes maps type IDs to prototypes.
var MessageTypes = map[uint32]Message{
	TaskPostTypeID:       (*TaskPost)(nil),
	TaskTransitionTypeID: (*TaskTransition)(nil),
	TaskStatsTypeID:      (*TaskStats)(nil),
}

// TaskStats reports a task.
type TaskStats struct {
	PbTaskStats
}

// TypeID implements Message.
func (m *TaskStats) TypeID() uint32 { return TaskStatsTypeID }

// Serializable implements Message.
func (m *TaskStats) Serializable() proto.Message { return &m.PbTaskStats }

// NewMessage implements Message.
func (m *TaskStats) NewMessage() Message { return &TaskStats{} }

// TaskPost posts an event.
type TaskPost struct {
	PbTaskPost
}

// TypeID implements Message.
func (m *TaskPost) TypeID() uint32 { return TaskPostTypeID }

// Serializable implements Message.
func (m *TaskPost) Serializable() proto.Message { return &m.PbTaskPost }

// NewMessage implements Message.
func (m *TaskPost) NewMessage() Message { return &TaskPost{} }

// TaskTransition changes the state of a task.
type TaskTransition struct {
	PbTaskTransition
}

// TypeID implements Message.
func (m *TaskTransition) TypeID() uint32 { return TaskTransitionTypeID }

// Serializable implements Message.
func (m *TaskTransition) Serializable() proto.Message { return &m.PbTaskTransition }

// NewMessage implements Message.
func (m *TaskTransition) NewMessage() Message { return &TaskTransition{} }

// Snapshot captures the statistics of t.
func Snapshot(t *task.Task) *TaskStats {
	s := &TaskStats{PbTaskStats: PbTaskStats{
		Name:      t.Name(),
		Tick:      t.CurrentTick(),
		Usage:     uint32(t.Usage()),
		UsagePeak: uint32(t.UsagePeak()),
		Active:    t.Active(),
		State:     -1,
		QueueLen:  uint32(t.QueueLen()),
	}}
	if state, ok := t.State(); ok {
		s.State = int32(state)
	}
	return s
}

// Encode wraps msg into a typed envelope.
func Encode(msg Message) ([]byte, error) {
	data, err := proto.Marshal(msg.Serializable())
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&PbTyped{TypeId: msg.TypeID(), Message: data})
}

// Decode parses a typed envelope.
func Decode(data []byte) (Message, error) {
	var typed PbTyped
	if err := proto.Unmarshal(data, &typed); err != nil {
		return nil, err
	}
	prototype, ok := MessageTypes[typed.TypeId]
	if !ok {
		return nil, &ErrUnknownType{TypeID: typed.TypeId}
	}
	msg := prototype.NewMessage()
	if err := proto.Unmarshal(typed.Message, msg.Serializable()); err != nil {
		return nil, err
	}
	return msg, nil
}

// IsCommand reports whether msg is a command.
func IsCommand(msg Message) bool {
	return msg.TypeID()&TypeIDMaskKind == TypeIDKindCommand
}

// Execute runs a command message against the tasks in reg.
func Execute(reg object.Registry, msg Message) error {
	switch m := msg.(type) {
	case *TaskPost:
		t := task.FindIn(reg, m.Task)
		if t == nil {
			return object.ErrNotFound
		}
		if m.Event > 0xff {
			return task.ErrInvalid
		}
		return t.PostEvent(int(m.Slot), task.Event(m.Event))
	case *TaskTransition:
		t := task.FindIn(reg, m.Task)
		if t == nil {
			return object.ErrNotFound
		}
		return t.TransitionState(int(m.Slot))
	}
	return ErrNotCommand
}
