// Package link carries packets over a byte stream without framing of its
// own, typically a serial line between a board and a host.
//
// Both ends number their frames. A sync request announces the sequence
// number the sender will use next and is answered by a sync ack carrying
// the sequence number of the other side:
//
//	REQ seq  ->
//	         <- ACK seq
//
// After that every frame is
//
//	seq len data...
//
// with len up to MaxData. A frame with an unexpected sequence number, or
// any garbage in between, makes the receiver request a resync. There is no
// checksum, a corrupted byte is only detected when it breaks the sequence.
package link

import (
	"time"
)

// Sync markers. Sequence numbers never take these values.
const (
	syncREQ byte = 0xff
	syncACK byte = 0xfe
)

// MaxData is the largest payload of a frame.
const MaxData = 0x7f

// Seq is a frame sequence number, valid values are 1 to 0xef.
type Seq byte

// NewSeq picks a starting sequence number.
func NewSeq() Seq {
	return Seq(byte(time.Now().UnixNano())).Next()
}

// Next returns the sequence number following s.
func (s Seq) Next() Seq {
	n := byte(s) + 1
	if n == 0 || n >= 0xf0 {
		n = 1
	}
	return Seq(n)
}

// Valid tells if s can be used on the wire.
func (s Seq) Valid() bool {
	return s > 0 && s < 0xf0
}

// appendFrame encodes a frame into dst.
func appendFrame(dst []byte, seq Seq, data []byte) []byte {
	dst = append(dst, byte(seq), byte(len(data)))
	return append(dst, data...)
}
