package mqtt

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/sugawarayuuta/sonnet"

	"github.com/robotalks/mr.go/pkg/telemetry"
)

// BoardInfo is published retained on <board>/meta while the board is up.
type BoardInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Devices     []string `json:"devices,omitempty"`
	Tasks       []string `json:"tasks,omitempty"`
}

// Announcer keeps the board meta topic current.
type Announcer struct {
	Queue *Queue
	// Info is published on every connect.
	Info BoardInfo
}

// NewAnnouncer creates a Queue for brokerURL announcing info. The meta
// topic is cleared by the broker if the board disappears.
func NewAnnouncer(brokerURL string, info BoardInfo) (*Announcer, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+Topic(info.ID, "meta"), nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("mr:" + info.ID)
	}
	a := &Announcer{Queue: NewQueue(opts, topicPrefix), Info: info}
	a.Queue.OnConnect = func(q *Queue) {
		meta, err := sonnet.Marshal(&a.Info)
		if err != nil {
			glog.Errorf("announce %s: %v", a.Info.ID, err)
			return
		}
		q.PubWith(Topic(a.Info.ID, "meta"), meta, 1, true)
	}
	return a, nil
}

// Name implements Named.
func (a *Announcer) Name() string {
	return "mqtt:" + a.Info.ID
}

// Run implements Runnable. It connects the queue and withdraws the meta
// topic on exit.
func (a *Announcer) Run(ctx context.Context) error {
	token := a.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	<-ctx.Done()
	a.Queue.PubWith(Topic(a.Info.ID, "meta"), nil, 1, true).WaitTimeout(time.Second)
	a.Queue.Close()
	return ctx.Err()
}

// DefaultDiscoverTimeout defines the default timeout value of discovery.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Discover collects announced boards until timeout.
func Discover(ctx context.Context, q *Queue, timeout time.Duration) ([]BoardInfo, error) {
	if timeout == 0 {
		timeout = DefaultDiscoverTimeout
	}
	resCh := make(chan BoardInfo, 16)
	sub := q.Sub(Topic("+", "meta"), func(topic string, payload []byte) {
		if len(payload) == 0 {
			return
		}
		var info BoardInfo
		if err := sonnet.Unmarshal(payload, &info); err != nil {
			glog.Warningf("discover: bad meta on %q: %v", topic, err)
			return
		}
		if info.ID == "" {
			info.ID = strings.TrimSuffix(topic, "/meta")
		}
		select {
		case resCh <- info:
		case <-time.After(timeout):
		}
	})
	defer sub.Close()

	var res []BoardInfo
	expire := time.After(timeout)
	for {
		select {
		case info := <-resCh:
			res = append(res, info)
		case <-expire:
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}

// StatsPublisher publishes task statistics on <board>/task/<name>/stats.
type StatsPublisher struct {
	Queue *Queue
	Board string
}

// PublishStats implements bridge.StatsSink.
func (p *StatsPublisher) PublishStats(stats *telemetry.TaskStats) error {
	pkt, err := telemetry.Encode(stats)
	if err != nil {
		return err
	}
	// fire and forget, the loop must not wait for the broker.
	p.Queue.PubWith(Topic(p.Board, "task", stats.Name, "stats"), pkt, 0, true)
	return nil
}

// SubscribeStats delivers statistics of all tasks on board.
func SubscribeStats(q *Queue, board string, fn func(*telemetry.TaskStats)) *Subscription {
	return q.Sub(Topic(board, "task", "+", "stats"), func(topic string, payload []byte) {
		msg, err := telemetry.Decode(payload)
		if err != nil {
			glog.Warningf("stats: bad packet on %q: %v", topic, err)
			return
		}
		if stats, ok := msg.(*telemetry.TaskStats); ok {
			fn(stats)
		}
	})
}
