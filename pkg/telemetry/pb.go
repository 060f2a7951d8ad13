package telemetry

import (
	"github.com/golang/protobuf/proto"
)

// Wire structs of the mr.v1 protobuf package.

// PbTyped is the envelope of every message on the wire.
type PbTyped struct {
	TypeId  uint32 `protobuf:"varint,1,opt,name=type_id,json=typeId,proto3" json:"type_id,omitempty"`
	Message []byte `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *PbTyped) Reset()         { *m = PbTyped{} }
func (m *PbTyped) String() string { return proto.CompactTextString(m) }
func (*PbTyped) ProtoMessage()    {}

// PbTaskStats reports the scheduler state of a task.
type PbTaskStats struct {
	Name      string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Tick      uint32 `protobuf:"varint,2,opt,name=tick,proto3" json:"tick,omitempty"`
	Usage     uint32 `protobuf:"varint,3,opt,name=usage,proto3" json:"usage,omitempty"`
	UsagePeak uint32 `protobuf:"varint,4,opt,name=usage_peak,json=usagePeak,proto3" json:"usage_peak,omitempty"`
	Active    bool   `protobuf:"varint,5,opt,name=active,proto3" json:"active,omitempty"`
	// State is the current state slot, -1 without a state machine.
	State    int32  `protobuf:"zigzag32,6,opt,name=state,proto3" json:"state,omitempty"`
	QueueLen uint32 `protobuf:"varint,7,opt,name=queue_len,json=queueLen,proto3" json:"queue_len,omitempty"`
}

func (m *PbTaskStats) Reset()         { *m = PbTaskStats{} }
func (m *PbTaskStats) String() string { return proto.CompactTextString(m) }
func (*PbTaskStats) ProtoMessage()    {}

// PbTaskPost asks to post an event to a task slot.
type PbTaskPost struct {
	Task  string `protobuf:"bytes,1,opt,name=task,proto3" json:"task,omitempty"`
	Slot  uint32 `protobuf:"varint,2,opt,name=slot,proto3" json:"slot,omitempty"`
	Event uint32 `protobuf:"varint,3,opt,name=event,proto3" json:"event,omitempty"`
}

func (m *PbTaskPost) Reset()         { *m = PbTaskPost{} }
func (m *PbTaskPost) String() string { return proto.CompactTextString(m) }
func (*PbTaskPost) ProtoMessage()    {}

// PbTaskTransition asks a task to change state.
type PbTaskTransition struct {
	Task string `protobuf:"bytes,1,opt,name=task,proto3" json:"task,omitempty"`
	Slot uint32 `protobuf:"varint,2,opt,name=slot,proto3" json:"slot,omitempty"`
}

func (m *PbTaskTransition) Reset()         { *m = PbTaskTransition{} }
func (m *PbTaskTransition) String() string { return proto.CompactTextString(m) }
func (*PbTaskTransition) ProtoMessage()    {}
