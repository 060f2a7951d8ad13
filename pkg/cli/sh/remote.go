package sh

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/bridge"
	"github.com/robotalks/mr.go/pkg/bridge/mqtt"
	"github.com/robotalks/mr.go/pkg/bridge/stream"
	"github.com/robotalks/mr.go/pkg/bridge/websocket"
	"github.com/robotalks/mr.go/pkg/telemetry"
)

// Remote is a connection to the control channel of a board. Task
// statistics reported by the board are kept by task name.
type Remote struct {
	Name   string
	Writer bridge.PacketWriter

	closer func()
	lock   sync.RWMutex
	stats  map[string]*telemetry.TaskStats
}

// DialRemote connects target, one of
//
//	tcp://host:port                control stream
//	ws://host:port/path            control websocket
//	mqtt://host:port/prefix#board  board on a broker
func DialRemote(target string) (*Remote, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	r := &Remote{Name: u.Host, stats: make(map[string]*telemetry.TaskStats)}
	switch u.Scheme {
	case "tcp":
		conn, err := net.DialTimeout("tcp", u.Host, 5*time.Second)
		if err != nil {
			return nil, err
		}
		rw := stream.New(conn)
		r.Writer, r.closer = rw, func() { rw.Close() }
		go r.readLoop(rw)
	case "ws", "wss":
		origin := "http://" + u.Host
		if u.Scheme == "wss" {
			origin = "https://" + u.Host
		}
		rw, err := websocket.Dial(target, origin)
		if err != nil {
			return nil, err
		}
		r.Writer, r.closer = rw, func() { rw.Close() }
		go r.readLoop(rw)
	case "mqtt", "mqtts":
		if u.Fragment == "" {
			return nil, fmt.Errorf("board ID expected in %q", target)
		}
		boardID := u.Fragment
		u.Fragment = ""
		q, err := mqtt.NewQueueFromURL(u.String())
		if err != nil {
			return nil, err
		}
		token := q.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			return nil, err
		}
		sub := mqtt.SubscribeStats(q, boardID, r.update)
		r.Name = boardID
		r.Writer = mqtt.NewPacketReadWriter(q).WithTopics("", mqtt.Topic(boardID, "cmd"))
		r.closer = func() {
			sub.Close()
			q.Close()
		}
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return r, nil
}

func (r *Remote) readLoop(rd bridge.PacketReader) {
	for {
		pkt, err := rd.ReadPacket()
		if err != nil {
			glog.V(1).Infof("remote %s: %v", r.Name, err)
			return
		}
		msg, err := telemetry.Decode(pkt)
		if err != nil {
			glog.Warningf("remote %s: %v", r.Name, err)
			continue
		}
		if stats, ok := msg.(*telemetry.TaskStats); ok {
			r.update(stats)
		}
	}
}

func (r *Remote) update(stats *telemetry.TaskStats) {
	r.lock.Lock()
	r.stats[stats.Name] = stats
	r.lock.Unlock()
}

// Send sends a command.
func (r *Remote) Send(msg telemetry.Message) error {
	pkt, err := telemetry.Encode(msg)
	if err != nil {
		return err
	}
	return r.Writer.WritePacket(pkt)
}

// Stats returns the latest statistics ordered by task name.
func (r *Remote) Stats() []*telemetry.TaskStats {
	r.lock.RLock()
	defer r.lock.RUnlock()
	list := make([]*telemetry.TaskStats, 0, len(r.stats))
	for _, stats := range r.stats {
		list = append(list, stats)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// TaskStats returns the latest statistics of a task.
func (r *Remote) TaskStats(name string) *telemetry.TaskStats {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.stats[name]
}

// Close implements io.Closer.
func (r *Remote) Close() error {
	if r.closer != nil {
		r.closer()
	}
	return nil
}

// Discover lists boards announced on an MQTT broker.
func Discover(ctx context.Context, brokerURL string) ([]mqtt.BoardInfo, error) {
	q, err := mqtt.NewQueueFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	token := q.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	defer q.Close()
	boards, err := mqtt.Discover(ctx, q, mqtt.DefaultDiscoverTimeout)
	sort.Slice(boards, func(i, j int) bool { return boards[i].ID < boards[j].ID })
	return boards, err
}

// FormatInfo prints BoardInfo into friendly string for display.
func FormatInfo(info mqtt.BoardInfo) string {
	var w strings.Builder
	w.WriteString(info.ID)
	if info.Description != "" {
		fmt.Fprintf(&w, ": %s", info.Description)
	}
	if len(info.Tasks) > 0 {
		fmt.Fprintf(&w, " tasks=%s", strings.Join(info.Tasks, ","))
	}
	if len(info.Devices) > 0 {
		fmt.Fprintf(&w, " devices=%s", strings.Join(info.Devices, ","))
	}
	return w.String()
}
