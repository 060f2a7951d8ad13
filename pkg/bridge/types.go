// Package bridge connects devices and tasks of a board to packet
// transports: a serial port can be piped to a stream, a websocket or MQTT
// topics, and task commands and statistics can be exchanged the same way.
package bridge

import (
	"github.com/robotalks/mr.go/pkg/telemetry"
)

// PacketReader reads packets in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packets in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packets in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

// StatsSink receives task statistics.
type StatsSink interface {
	PublishStats(*telemetry.TaskStats) error
}

// PacketStatsSink encodes statistics as telemetry packets.
type PacketStatsSink struct {
	Writer PacketWriter
}

// PublishStats implements StatsSink.
func (s *PacketStatsSink) PublishStats(stats *telemetry.TaskStats) error {
	pkt, err := telemetry.Encode(stats)
	if err != nil {
		return err
	}
	return s.Writer.WritePacket(pkt)
}
