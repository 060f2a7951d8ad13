package link

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeq(t *testing.T) {
	require.Equal(t, Seq(2), Seq(1).Next())
	require.Equal(t, Seq(1), Seq(0xef).Next())
	require.Equal(t, Seq(1), Seq(0xff).Next())
	require.True(t, Seq(0xef).Valid())
	require.False(t, Seq(0).Valid())
	require.False(t, Seq(0xf0).Valid())
	require.True(t, NewSeq().Valid())
}

func TestAppendFrame(t *testing.T) {
	require.Equal(t, []byte{3, 2, 'h', 'i'}, appendFrame(nil, 3, []byte("hi")))
	require.Equal(t, []byte{4, 0}, appendFrame(nil, 4, nil))
}

// decodeAll feeds in and returns the last step.
func decodeAll(d *decoder, in ...byte) step {
	var s step
	for _, b := range in {
		s = d.feed(b)
	}
	return s
}

func TestDecoderHandshake(t *testing.T) {
	var d decoder
	s := d.reset()
	require.Equal(t, syncREQ, s.reply)
	require.Equal(t, StatusSyncing, s.status)
	require.Equal(t, timerRestart, s.timer())

	// garbage is ignored while waiting.
	require.Equal(t, step{}, d.feed(0x12))

	s = d.feed(syncREQ)
	require.Equal(t, StatusSyncing|StatusBusy, s.status)
	s = d.feed(5)
	require.Equal(t, step{reply: syncACK, status: StatusReady}, s)
	require.Equal(t, timerStop, s.timer())

	// our REQ answered by an ACK of the same peer.
	require.Equal(t, step{status: StatusReady}, decodeAll(&d, syncACK, 5))

	// an ACK from the handshake state adopts the peer without replying.
	d.reset()
	require.Equal(t, step{status: StatusReady}, decodeAll(&d, syncACK, 9))
	require.Equal(t, Seq(9), d.peer)

	// invalid sequence in a handshake.
	d.reset()
	s = decodeAll(&d, syncREQ, 0)
	require.Equal(t, syncREQ, s.reply)
	require.Equal(t, StatusSyncing, s.status)
}

func TestDecoderFrames(t *testing.T) {
	var d decoder
	d.reset()
	decodeAll(&d, syncACK, 0xef)

	s := decodeAll(&d, 0xef, 3, 'a', 'b')
	require.Equal(t, StatusReady|StatusBusy, s.status)
	require.Nil(t, s.frame)
	s = d.feed('c')
	require.Equal(t, "abc", string(s.frame))
	require.Equal(t, StatusReady, s.status)

	// sequence wraps and empty frames are delivered.
	s = decodeAll(&d, 1, 0)
	require.NotNil(t, s.frame)
	require.Empty(t, s.frame)

	// ACK in the middle of traffic must match the peer sequence.
	require.Equal(t, step{status: StatusReady}, decodeAll(&d, syncACK, 2))
	s = decodeAll(&d, syncACK, 7)
	require.Equal(t, syncREQ, s.reply)

	// out of order frame.
	decodeAll(&d, syncACK, 2)
	s = d.feed(3)
	require.Equal(t, syncREQ, s.reply)
	require.Equal(t, StatusSyncing, s.status)

	// oversized length.
	decodeAll(&d, syncACK, 2)
	s = decodeAll(&d, 2, MaxData+1)
	require.Equal(t, syncREQ, s.reply)
}

func TestDecoderTimeout(t *testing.T) {
	var d decoder
	d.reset()
	decodeAll(&d, syncACK, 1)
	require.Equal(t, step{status: StatusReady}, d.timeout())

	d.feed(1)
	s := d.timeout()
	require.Equal(t, syncREQ, s.reply)
	require.Equal(t, StatusSyncing, s.status)
	require.Equal(t, syncREQ, d.timeout().reply)
}

func TestWriteBeforeSync(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	require.Equal(t, ErrNotReady, l.WritePacket([]byte("x")))
	require.Equal(t, ErrTooLarge, l.WritePacket(make([]byte, MaxData+1)))
	require.Zero(t, buf.Len())
	require.NoError(t, l.Close())
	_, err := l.ReadPacket()
	require.Equal(t, io.EOF, err)
}

func waitReady(t *testing.T, links ...*Link) {
	for deadline := time.Now().Add(2 * time.Second); ; time.Sleep(time.Millisecond) {
		ready := true
		for _, l := range links {
			ready = ready && l.Status().Ready()
		}
		if ready {
			return
		}
		require.True(t, time.Now().Before(deadline), "link not synchronized")
	}
}

func readPacket(t *testing.T, l *Link) []byte {
	pktCh := make(chan []byte, 1)
	go func() {
		pkt, _ := l.ReadPacket()
		pktCh <- pkt
	}()
	select {
	case pkt := <-pktCh:
		return pkt
	case <-time.After(time.Second):
		t.Fatal("no packet")
	}
	return nil
}

func TestLinkPair(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	a, b := New(conn), New(<-connCh)
	var changes []Status
	a.StatusChanged = func(s Status) { changes = append(changes, s) }
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 2)
	go func() { errCh <- a.Run(ctx) }()
	go func() { errCh <- b.Run(ctx) }()
	waitReady(t, a, b)

	require.NoError(t, a.WritePacket([]byte("hello")))
	require.NoError(t, a.WritePacket(nil))
	require.NoError(t, b.WritePacket(bytes.Repeat([]byte{0xff}, MaxData)))
	require.Equal(t, "hello", string(readPacket(t, b)))
	require.Empty(t, readPacket(t, b))
	require.Equal(t, bytes.Repeat([]byte{0xff}, MaxData), readPacket(t, a))

	cancel()
	require.Equal(t, context.Canceled, <-errCh)
	<-errCh
	_, err = a.ReadPacket()
	require.Equal(t, io.EOF, err)
	require.NotEmpty(t, changes)
}
