package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
)

var (
	// ErrNotReady is returned when sending before the link is synchronized.
	ErrNotReady = errors.New("link not ready")
	// ErrTooLarge is returned for packets exceeding MaxData.
	ErrTooLarge = errors.New("packet too large")
)

// DefaultTimeout is the time to wait for the peer during a handshake or
// in the middle of a frame.
const DefaultTimeout = 100 * time.Millisecond

// Link sends and receives packets over Port. It implements
// bridge.PacketReadWriter, packets are read after Run is started.
type Link struct {
	Port    io.ReadWriter
	Timeout time.Duration
	// StatusChanged is called from Run.
	StatusChanged func(Status)

	seq    Seq
	status Status
	lock   sync.RWMutex

	dec       decoder
	syncTimer <-chan time.Time
	rxCh      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Link.
func New(port io.ReadWriter) *Link {
	return &Link{
		Port:    port,
		Timeout: DefaultTimeout,
		seq:     NewSeq(),
		rxCh:    make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

// Status returns the current status.
func (l *Link) Status() Status {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.status
}

// WritePacket implements PacketWriter.
func (l *Link) WritePacket(pkt []byte) error {
	if len(pkt) > MaxData {
		return ErrTooLarge
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if !l.status.Ready() {
		return ErrNotReady
	}
	if _, err := l.Port.Write(appendFrame(make([]byte, 0, len(pkt)+2), l.seq, pkt)); err != nil {
		return err
	}
	l.seq = l.seq.Next()
	return nil
}

// ReadPacket implements PacketReader.
func (l *Link) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-l.rxCh:
		return pkt, nil
	case <-l.done:
		return nil, io.EOF
	}
}

// Close stops readers and closes Port if it is an io.Closer.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if closer, ok := l.Port.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

// Run implements Runnable. It keeps the link synchronized and decodes
// incoming frames until ctx is done or Port fails.
func (l *Link) Run(ctx context.Context) error {
	defer l.Close()
	if err := l.apply(l.dec.reset()); err != nil {
		return err
	}
	chunkCh, errCh := make(chan []byte), make(chan error, 1)
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.readLoop(readCtx, chunkCh, errCh)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case chunk := <-chunkCh:
			for _, b := range chunk {
				if err := l.apply(l.dec.feed(b)); err != nil {
					return err
				}
			}
		case <-l.syncTimer:
			glog.V(2).Info("link: peer timeout")
			if err := l.apply(l.dec.timeout()); err != nil {
				return err
			}
		}
	}
}

func (l *Link) readLoop(ctx context.Context, chunkCh chan<- []byte, errCh chan<- error) {
	buf := make([]byte, 64)
	for {
		n, err := l.Port.Read(buf)
		if err != nil {
			errCh <- err
			return
		}
		if n == 0 {
			continue
		}
		select {
		case chunkCh <- append([]byte(nil), buf[:n]...):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Link) apply(s step) (err error) {
	var changed bool
	l.lock.Lock()
	if l.status != s.status {
		l.status, changed = s.status, true
	}
	if s.reply != 0 {
		_, err = l.Port.Write([]byte{s.reply, byte(l.seq)})
	}
	l.lock.Unlock()
	if err != nil {
		return
	}

	switch s.timer() {
	case timerRestart:
		l.syncTimer = time.After(l.Timeout)
	case timerStop:
		l.syncTimer = nil
	}
	if changed {
		glog.V(1).Infof("link: %s", s.status)
		if fn := l.StatusChanged; fn != nil {
			fn(s.status)
		}
	}
	if s.frame != nil {
		select {
		case l.rxCh <- s.frame:
		default:
			glog.Warningf("link: receive queue full, %d bytes dropped", len(s.frame))
		}
	}
	return
}
