// Package broadcast implements the topic-based pub-sub fan-out: subscribers
// connect, pick a subset of topics, get an immediate snapshot, and then
// receive push-only updates over an independent per-subscriber writer so a
// slow subscriber never blocks the ingest side.
//
// Grounded on the teacher's websocket hub (internal/websocket/hub.go) for
// the register/unregister/broadcast channel shape and the
// heartbeat manager (internal/websocket/heartbeat.go) for the ping/pong
// liveness tracking, merged into one fabric retargeted at the spec's fixed
// topic set instead of repository/session-scoped memory events.
package broadcast

import (
	"sync"
	"time"

	"toolmesh/internal/analytics"
)

// Topic is one of the four fan-out channels subscribers can pick from.
type Topic string

const (
	TopicMetricsLive   Topic = "metrics.live"
	TopicMetricsTrends Topic = "metrics.trends"
	TopicAlerts        Topic = "alerts"
	TopicPatterns      Topic = "patterns"
)

var allTopics = []Topic{TopicMetricsLive, TopicMetricsTrends, TopicAlerts, TopicPatterns}

// Message is one fan-out envelope.
type Message struct {
	Topic Topic       `json:"topic"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Conn is the minimal transport a subscriber writes through - satisfied by
// a *websocket.Conn wrapper in internal/transport, and by a fake in tests.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Snapshotter supplies the immediate snapshot sent on subscribe.
type Snapshotter interface {
	LiveSnapshot() analytics.LiveMetrics
	Trends() map[string][]analytics.TrendPoint
	ActiveAlerts() []analytics.Alert
	Patterns() []analytics.UsagePattern
}

const (
	defaultQueueSize  = 1024
	heartbeatInterval = 30 * time.Second
	silenceTimeout    = 90 * time.Second
)

// Fabric owns the subscriber registry and fans out published events.
type Fabric struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	queueSize         int
	heartbeatInterval time.Duration
	silenceTimeout    time.Duration

	snapshots Snapshotter

	onOverflow func(subscriberID string)
}

// Config sizes and times the fabric; zero values fall back to the spec
// defaults (1024 queue, 30s heartbeat, 90s silence).
type Config struct {
	QueueSize         int
	HeartbeatInterval time.Duration
	SilenceTimeout    time.Duration
}

// New constructs a fabric. snapshots supplies the state sent to a new
// subscriber immediately on Subscribe; onOverflow, if non-nil, is called
// when a subscriber's queue fills with alerts and is disconnected.
func New(cfg Config, snapshots Snapshotter, onOverflow func(subscriberID string)) *Fabric {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeatInterval
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = silenceTimeout
	}
	return &Fabric{
		subscribers:       make(map[string]*subscriber),
		queueSize:         cfg.QueueSize,
		heartbeatInterval: cfg.HeartbeatInterval,
		silenceTimeout:    cfg.SilenceTimeout,
		snapshots:         snapshots,
		onOverflow:        onOverflow,
	}
}

// SetSnapshots wires the snapshot source after construction, for the
// common case where the analytics pipeline (the snapshot source) itself
// depends on the fabric (as its Broadcaster) and the two can't both be
// passed to each other's constructor.
func (f *Fabric) SetSnapshots(snapshots Snapshotter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = snapshots
}

type subscriber struct {
	id    string
	conn  Conn
	fab   *Fabric

	mu           sync.Mutex
	topics       map[Topic]bool
	queue        []Message
	closed       bool
	subscribedAt time.Time
	lastActivity time.Time

	notify chan struct{}
	done   chan struct{}
}

// Subscribe registers a new subscriber for the given topics, sends it an
// immediate snapshot, and starts its independent writer goroutine.
func (f *Fabric) Subscribe(id string, conn Conn, topics []Topic) {
	if len(topics) == 0 {
		topics = allTopics
	}
	topicSet := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}

	now := time.Now()
	sub := &subscriber{
		id:           id,
		conn:         conn,
		fab:          f,
		topics:       topicSet,
		subscribedAt: now,
		lastActivity: now,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	f.mu.Lock()
	f.subscribers[id] = sub
	f.mu.Unlock()

	f.sendSnapshot(sub)
	go sub.writePump()
	go sub.heartbeatLoop(f.heartbeatInterval, f.silenceTimeout)
}

func (f *Fabric) sendSnapshot(sub *subscriber) {
	f.mu.RLock()
	snapshots := f.snapshots
	f.mu.RUnlock()
	if snapshots == nil {
		return
	}
	if sub.topics[TopicMetricsLive] {
		sub.enqueue(Message{Topic: TopicMetricsLive, Event: "snapshot", Data: snapshots.LiveSnapshot()})
	}
	if sub.topics[TopicMetricsTrends] {
		sub.enqueue(Message{Topic: TopicMetricsTrends, Event: "snapshot", Data: snapshots.Trends()})
	}
	if sub.topics[TopicAlerts] {
		sub.enqueue(Message{Topic: TopicAlerts, Event: "snapshot", Data: snapshots.ActiveAlerts()})
	}
	if sub.topics[TopicPatterns] {
		sub.enqueue(Message{Topic: TopicPatterns, Event: "snapshot", Data: snapshots.Patterns()})
	}
}

// Unsubscribe removes and closes a subscriber.
func (f *Fabric) Unsubscribe(id string) {
	f.mu.Lock()
	sub, ok := f.subscribers[id]
	delete(f.subscribers, id)
	f.mu.Unlock()
	if ok {
		sub.close()
	}
}

// NotePong records subscriber activity from a client ping/pong, resetting
// the silence timer.
func (f *Fabric) NotePong(id string) {
	f.mu.RLock()
	sub, ok := f.subscribers[id]
	f.mu.RUnlock()
	if ok {
		sub.mu.Lock()
		sub.lastActivity = time.Now()
		sub.mu.Unlock()
	}
}

// Count returns the number of connected subscribers.
func (f *Fabric) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subscribers)
}

func (f *Fabric) publish(topic Topic, event string, data interface{}) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subscribers {
		if sub.topics[topic] {
			sub.enqueue(Message{Topic: topic, Event: event, Data: data})
		}
	}
}

// PublishMetrics implements analytics.Broadcaster.
func (f *Fabric) PublishMetrics(m analytics.LiveMetrics) {
	f.publish(TopicMetricsLive, "update", m)
}

// PublishAlert implements analytics.Broadcaster.
func (f *Fabric) PublishAlert(a analytics.Alert) {
	f.publish(TopicAlerts, "new", a)
}

// PublishPattern implements analytics.Broadcaster.
func (f *Fabric) PublishPattern(p analytics.UsagePattern) {
	f.publish(TopicPatterns, "new", p)
}

// PublishTrends lets the analytics pipeline push trend updates on its own
// cadence, independent of the per-trace metrics.live push.
func (f *Fabric) PublishTrends(t map[string][]analytics.TrendPoint) {
	f.publish(TopicMetricsTrends, "update", t)
}

// enqueue appends msg to the subscriber's bounded queue. Overflow policy:
// drop the oldest non-alert message first; if the queue is full of alerts,
// mark the subscriber slow and disconnect it with a too-slow reason.
func (sub *subscriber) enqueue(msg Message) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}

	queueSize := sub.fab.queueSize
	if len(sub.queue) >= queueSize {
		if idx := firstNonAlert(sub.queue); idx >= 0 {
			sub.queue = append(sub.queue[:idx], sub.queue[idx+1:]...)
		} else {
			sub.closed = true
			sub.mu.Unlock()
			sub.disconnectTooSlow()
			return
		}
	}
	sub.queue = append(sub.queue, msg)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func firstNonAlert(queue []Message) int {
	for i, m := range queue {
		if m.Topic != TopicAlerts {
			return i
		}
	}
	return -1
}

func (sub *subscriber) disconnectTooSlow() {
	_ = sub.conn.WriteJSON(Message{Topic: "system", Event: "disconnect", Data: map[string]string{"reason": "too-slow"}})
	// enqueue already marked the subscriber closed, so close() would no-op.
	close(sub.done)
	_ = sub.conn.Close()
	if sub.fab.onOverflow != nil {
		sub.fab.onOverflow(sub.id)
	}
	sub.fab.Unsubscribe(sub.id)
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()
	close(sub.done)
	_ = sub.conn.Close()
}

func (sub *subscriber) drain() []Message {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return nil
	}
	out := sub.queue
	sub.queue = nil
	return out
}

func (sub *subscriber) writePump() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
			for _, msg := range sub.drain() {
				if err := sub.conn.WriteJSON(msg); err != nil {
					sub.close()
					return
				}
			}
		}
	}
}

func (sub *subscriber) heartbeatLoop(interval, silence time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case <-ticker.C:
			sub.mu.Lock()
			silent := time.Since(sub.lastActivity) > silence
			sub.mu.Unlock()
			if silent {
				sub.close()
				sub.fab.Unsubscribe(sub.id)
				return
			}
			sub.enqueue(Message{Topic: "system", Event: "ping", Data: nil})
		}
	}
}
