// Package events implements the per-session event stream: dense sequence
// assignment, durable append, bounded in-memory replay with kind-aware
// eviction, and fan-out to live subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/specsmith/specsmith/pkg/clock"
	"github.com/specsmith/specsmith/pkg/models"
)

const (
	// DefaultRetention is the per-session replay window size.
	DefaultRetention = 1024
	// subscriberBuffer bounds the per-subscriber live channel. A subscriber
	// that falls this far behind is dropped and must resubscribe.
	subscriberBuffer = 256
)

// ErrReplayUnavailable is returned when the requested start sequence has
// fallen out of the replay window. The caller should resync via the session
// snapshot and resubscribe from the current sequence.
var ErrReplayUnavailable = errors.New("events: replay unavailable for requested sequence")

// ErrSessionClosed is returned when publishing to or subscribing on a stream
// that already delivered its terminal event.
var ErrSessionClosed = errors.New("events: session stream closed")

// Persister durably appends events before they are released to subscribers.
// Implemented by the session store.
type Persister interface {
	AppendEvent(ctx context.Context, ev *models.Event) error
}

// Bus owns one stream per live session.
type Bus struct {
	clock     clock.Clock
	persister Persister
	retention int

	mu      sync.Mutex
	streams map[string]*stream
}

// Subscription is one attached consumer: the replay backlog followed by the
// live channel. Ch is closed when the stream terminates or the subscriber
// falls too far behind.
type Subscription struct {
	// Replay holds retained events with seq >= the requested start, in order.
	Replay []*models.Event
	// Ch delivers events published after the replay cut.
	Ch <-chan *models.Event

	cancel func()
}

// Close detaches the subscriber from the stream.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

type stream struct {
	sessionID string

	mu     sync.Mutex
	seq    int64
	window []*models.Event
	// floor is the lowest sequence for which replay is complete. It rises
	// only when a replay-critical event is evicted under pressure.
	floor  int64
	subs   map[int]chan *models.Event
	nextID int
	closed bool
	// lastPub is when the stream last emitted anything; the heartbeat loop
	// stays quiet while the stream is busy.
	lastPub time.Time

	stopHeartbeat chan struct{}
}

// New creates a bus. retention <= 0 selects DefaultRetention.
func New(cl clock.Clock, persister Persister, retention int) *Bus {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		clock:     cl,
		persister: persister,
		retention: retention,
		streams:   make(map[string]*stream),
	}
}

// OpenStream creates the stream for a session and starts its heartbeat.
// startSeq seeds the sequence counter; restart recovery passes the last
// persisted sequence so resumed sessions continue densely.
func (b *Bus) OpenStream(sessionID string, startSeq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[sessionID]; ok {
		return
	}
	st := &stream{
		sessionID:     sessionID,
		seq:           startSeq,
		floor:         startSeq + 1,
		subs:          make(map[int]chan *models.Event),
		stopHeartbeat: make(chan struct{}),
		lastPub:       b.clock.Now(),
	}
	b.streams[sessionID] = st
	go b.heartbeatLoop(st)
}

// Publish assigns the next dense sequence number, durably appends the event,
// then delivers it to subscribers. A terminal event closes the stream.
func (b *Bus) Publish(ctx context.Context, sessionID string, kind models.EventKind, payload any) (int64, error) {
	b.mu.Lock()
	st, ok := b.streams[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("events: no stream for session %s", sessionID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("events: marshal %s payload: %w", kind, err)
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return 0, ErrSessionClosed
	}
	st.seq++
	ev := &models.Event{
		Seq:       st.seq,
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: b.clock.Now(),
		Payload:   raw,
	}

	// Durable before visible: subscribers never see an event that a restart
	// could lose.
	if err := b.persister.AppendEvent(ctx, ev); err != nil {
		st.seq--
		st.mu.Unlock()
		return 0, fmt.Errorf("events: persist %s/%d: %w", sessionID, ev.Seq, err)
	}

	st.window = append(st.window, ev)
	st.lastPub = ev.Timestamp
	st.evictLocked(b.retention)

	for id, ch := range st.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber stalled past its buffer. Drop it; the closed
			// channel tells the consumer to resync and resubscribe.
			slog.Warn("Dropping lagging event subscriber",
				"session_id", sessionID, "subscriber", id)
			delete(st.subs, id)
			close(ch)
		}
	}

	terminal := kind == models.EventTerminal
	if terminal {
		st.closed = true
		for id, ch := range st.subs {
			delete(st.subs, id)
			close(ch)
		}
	}
	st.mu.Unlock()

	if terminal {
		b.mu.Lock()
		delete(b.streams, sessionID)
		b.mu.Unlock()
		close(st.stopHeartbeat)
	}
	return ev.Seq, nil
}

// evictLocked trims the window to max entries. Heartbeats go first, then
// progress ticks, both oldest first; replay-critical events go only as a
// last resort, raising the replay floor.
func (st *stream) evictLocked(max int) {
	over := len(st.window) - max
	if over <= 0 {
		return
	}
	for _, tier := range []models.EventKind{models.EventHeartbeat, models.EventProgress} {
		if over == 0 {
			break
		}
		kept := st.window[:0]
		for _, ev := range st.window {
			if over > 0 && ev.Kind == tier {
				over--
				continue
			}
			kept = append(kept, ev)
		}
		st.window = kept
	}
	if over > 0 {
		// Still oversized: shed the oldest critical events and give up
		// completeness below the new floor.
		st.floor = st.window[over].Seq
		st.window = append(st.window[:0], st.window[over:]...)
	}
}

// Subscribe attaches a consumer starting at fromSeq. fromSeq 0 means "from
// the beginning"; it is subject to the same replay window.
func (b *Bus) Subscribe(sessionID string, fromSeq int64) (*Subscription, error) {
	b.mu.Lock()
	st, ok := b.streams[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, ErrSessionClosed
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, ErrSessionClosed
	}
	start := fromSeq
	if start <= 0 {
		start = 1
	}
	if start < st.floor {
		return nil, fmt.Errorf("%w: have >= %d, requested %d", ErrReplayUnavailable, st.floor, fromSeq)
	}
	if start > st.seq+1 {
		return nil, fmt.Errorf("events: sequence %d not yet assigned", fromSeq)
	}

	var replay []*models.Event
	for _, ev := range st.window {
		if ev.Seq >= start {
			replay = append(replay, ev)
		}
	}

	ch := make(chan *models.Event, subscriberBuffer)
	id := st.nextID
	st.nextID++
	st.subs[id] = ch

	return &Subscription{
		Replay: replay,
		Ch:     ch,
		cancel: func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			if existing, ok := st.subs[id]; ok {
				delete(st.subs, id)
				close(existing)
			}
		},
	}, nil
}

// LastSeq returns the highest sequence assigned for a live session stream.
func (b *Bus) LastSeq(sessionID string) (int64, bool) {
	b.mu.Lock()
	st, ok := b.streams[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seq, true
}

// SubscriberCount reports live subscribers for a session. Used by tests to
// poll instead of sleeping.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	st, ok := b.streams[sessionID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

// CloseStream force-closes a stream without a terminal event. Recovery uses
// this for sessions that failed while the process was down.
func (b *Bus) CloseStream(sessionID string) {
	b.mu.Lock()
	st, ok := b.streams[sessionID]
	if ok {
		delete(b.streams, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	if !st.closed {
		st.closed = true
		for id, ch := range st.subs {
			delete(st.subs, id)
			close(ch)
		}
		close(st.stopHeartbeat)
	}
	st.mu.Unlock()
}

// Stop closes every live stream.
func (b *Bus) Stop() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.streams))
	for id := range b.streams {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.CloseStream(id)
	}
}
