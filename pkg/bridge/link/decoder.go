package link

// Status is the synchronization status of a link.
type Status int

// Status bits.
const (
	StatusSyncing Status = 0
	StatusReady   Status = 0x01
	// StatusBusy is set while a sync handshake or a frame is in progress.
	StatusBusy Status = 0x02
)

// Ready tells if frames can be exchanged.
func (s Status) Ready() bool {
	return s&StatusReady != 0
}

// Busy tells if the receiver is in the middle of a handshake or a frame.
func (s Status) Busy() bool {
	return s&StatusBusy != 0
}

func (s Status) String() string {
	switch {
	case s.Ready() && s.Busy():
		return "receiving"
	case s.Ready():
		return "ready"
	case s.Busy():
		return "handshake"
	}
	return "syncing"
}

type timerAction int

const (
	timerKeep timerAction = iota
	timerRestart
	timerStop
)

// step is the outcome of feeding the decoder.
type step struct {
	// reply is a sync marker to send followed by the local sequence number.
	reply  byte
	status Status
	frame  []byte
}

func (s step) timer() timerAction {
	if s.status.Busy() || s.reply == syncREQ {
		return timerRestart
	}
	if s.status.Ready() {
		return timerStop
	}
	return timerKeep
}

type decodeState int

const (
	waitSync    decodeState = iota // REQ sent, waiting for the peer
	syncReqSeq                     // got REQ, seq follows
	syncAckSeq                     // got ACK, seq follows
	frameSeq                       // idle, synchronized
	frameAckSeq                    // ACK while synchronized, seq must match
	frameLen
	frameData
)

// decoder is the receiving half of a link.
type decoder struct {
	peer  Seq
	state decodeState
	data  []byte
	recvd int
}

func (d *decoder) status() Status {
	switch {
	case d.state == waitSync:
		return StatusSyncing
	case d.state == frameSeq:
		return StatusReady
	case d.state > frameSeq:
		return StatusReady | StatusBusy
	}
	return StatusSyncing | StatusBusy
}

func (d *decoder) reset() step {
	d.data = nil
	return d.result(d.resync())
}

func (d *decoder) feed(b byte) step {
	return d.result(d.decode(b))
}

// timeout is called when the peer stays silent in the middle of something.
func (d *decoder) timeout() step {
	if d.state != frameSeq {
		return d.result(d.resync())
	}
	return d.result(0, nil)
}

func (d *decoder) result(reply byte, frame []byte) step {
	return step{reply: reply, status: d.status(), frame: frame}
}

func (d *decoder) decode(b byte) (byte, []byte) {
	switch d.state {
	case waitSync:
		switch b {
		case syncREQ:
			d.state = syncReqSeq
		case syncACK:
			d.state = syncAckSeq
		}
	case syncReqSeq, syncAckSeq:
		seq := Seq(b)
		if !seq.Valid() {
			return d.resync()
		}
		reply := byte(0)
		if d.state == syncReqSeq {
			reply = syncACK
		}
		d.peer, d.state = seq, frameSeq
		return reply, nil
	case frameSeq:
		switch {
		case b == syncREQ:
			d.state = syncReqSeq
		case b == syncACK:
			d.state = frameAckSeq
		case Seq(b) != d.peer:
			return d.resync()
		default:
			d.peer = d.peer.Next()
			d.state = frameLen
		}
	case frameAckSeq:
		if Seq(b) != d.peer {
			return d.resync()
		}
		d.state = frameSeq
	case frameLen:
		if b > MaxData {
			return d.resync()
		}
		d.data, d.recvd = make([]byte, b), 0
		if b == 0 {
			return d.complete()
		}
		d.state = frameData
	case frameData:
		d.data[d.recvd] = b
		if d.recvd++; d.recvd >= len(d.data) {
			return d.complete()
		}
	}
	return 0, nil
}

func (d *decoder) resync() (byte, []byte) {
	d.state, d.data = waitSync, nil
	return syncREQ, nil
}

func (d *decoder) complete() (byte, []byte) {
	frame := d.data
	d.state, d.data = frameSeq, nil
	return 0, frame
}
