package mqtt

import (
	"context"
	"io"
	"sync"
)

// ReadWriter implements PacketReadWriter on a pair of topics.
type ReadWriter struct {
	Queue    *Queue
	SubTopic string
	PubTopic string

	packetCh  chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewPacketReadWriter creates the ReadWriter.
func NewPacketReadWriter(q *Queue) *ReadWriter {
	return &ReadWriter{
		Queue:    q,
		packetCh: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

// WithTopics specifies the topics.
func (p *ReadWriter) WithTopics(sub, pub string) *ReadWriter {
	p.SubTopic, p.PubTopic = sub, pub
	return p
}

// ForDevice uses the topics of a bridged serial device:
// SubTopic = board/dev/tx
// PubTopic = board/dev/rx
func (p *ReadWriter) ForDevice(board, dev string) *ReadWriter {
	return p.WithTopics(Topic(board, dev, "tx"), Topic(board, dev, "rx"))
}

// ForDeviceClient is ForDevice from the remote side.
func (p *ReadWriter) ForDeviceClient(board, dev string) *ReadWriter {
	return p.WithTopics(Topic(board, dev, "rx"), Topic(board, dev, "tx"))
}

// ForControl uses the command topic of a board, nothing is published.
func (p *ReadWriter) ForControl(board string) *ReadWriter {
	return p.WithTopics(Topic(board, "cmd"), "")
}

// ReadPacket implements PacketReader.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.packetCh:
		return pkt, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

// WritePacket implements PacketWriter.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	if p.PubTopic == "" {
		return io.ErrClosedPipe
	}
	token := p.Queue.Pub(p.PubTopic, pkt)
	token.Wait()
	return token.Error()
}

// Close implements io.Closer, pending and later reads return io.EOF.
func (p *ReadWriter) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Run implements Runnable.
func (p *ReadWriter) Run(ctx context.Context) error {
	sub := p.Queue.Sub(p.SubTopic, p.handleMsg)
	defer sub.Close()
	defer p.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return nil
	}
}

func (p *ReadWriter) handleMsg(_ string, payload []byte) {
	select {
	case p.packetCh <- payload:
	case <-p.closed:
	}
}
