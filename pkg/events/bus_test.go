package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specsmith/specsmith/pkg/clock"
	"github.com/specsmith/specsmith/pkg/models"
)

// memPersister records appended events and can be told to fail.
type memPersister struct {
	mu     sync.Mutex
	events []*models.Event
	fail   error
}

func (p *memPersister) AppendEvent(_ context.Context, ev *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *memPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (p *memPersister) kinds() []models.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestBus(retention int) (*Bus, *memPersister, *clock.Fake) {
	cl := clock.NewFake()
	p := &memPersister{}
	return New(cl, p, retention), p, cl
}

func TestPublishAssignsDenseSequence(t *testing.T) {
	b, p, _ := newTestBus(0)
	defer b.Stop()
	b.OpenStream("s1", 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seq, err := b.Publish(ctx, "s1", models.EventMessage, MessagePayload{Text: "hi"})
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}
	assert.Equal(t, 3, p.count())
}

func TestPublishPersistFailureDoesNotBurnSequence(t *testing.T) {
	b, p, _ := newTestBus(0)
	defer b.Stop()
	b.OpenStream("s1", 0)
	ctx := context.Background()

	_, err := b.Publish(ctx, "s1", models.EventMessage, MessagePayload{Text: "one"})
	require.NoError(t, err)

	p.fail = errors.New("disk full")
	_, err = b.Publish(ctx, "s1", models.EventMessage, MessagePayload{Text: "lost"})
	require.Error(t, err)

	p.fail = nil
	seq, err := b.Publish(ctx, "s1", models.EventMessage, MessagePayload{Text: "two"})
	require.NoError(t, err)
	// The failed publish left no gap.
	assert.Equal(t, int64(2), seq)
}

func TestSubscribeReplayAndLive(t *testing.T) {
	b, _, _ := newTestBus(0)
	defer b.Stop()
	b.OpenStream("s1", 0)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := b.Publish(ctx, "s1", models.EventTaskUpdate, TaskUpdatePayload{TaskID: "t1"})
		require.NoError(t, err)
	}

	sub, err := b.Subscribe("s1", 3)
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, sub.Replay, 2)
	assert.Equal(t, int64(3), sub.Replay[0].Seq)
	assert.Equal(t, int64(4), sub.Replay[1].Seq)

	_, err = b.Publish(ctx, "s1", models.EventPhase, PhasePayload{From: models.PhaseClarifying, To: models.PhaseAnalyzing})
	require.NoError(t, err)

	select {
	case ev := <-sub.Ch:
		assert.Equal(t, int64(5), ev.Seq)
		assert.Equal(t, models.EventPhase, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("live event not delivered")
	}
}

func TestEvictionDropsTransientFirst(t *testing.T) {
	b, _, _ := newTestBus(4)
	defer b.Stop()
	b.OpenStream("s1", 0)
	ctx := context.Background()

	// Interleave critical and transient events past the retention limit.
	kinds := []models.EventKind{
		models.EventMessage,   // 1 critical
		models.EventHeartbeat, // 2 transient
		models.EventMessage,   // 3 critical
		models.EventHeartbeat, // 4 transient
		models.EventMessage,   // 5 critical
		models.EventMessage,   // 6 critical
	}
	for _, k := range kinds {
		_, err := b.Publish(ctx, "s1", k, map[string]string{})
		require.NoError(t, err)
	}

	// All critical events must survive; the heartbeats were shed.
	sub, err := b.Subscribe("s1", 1)
	require.NoError(t, err)
	defer sub.Close()
	var seqs []int64
	for _, ev := range sub.Replay {
		assert.True(t, ev.Kind.ReplayCritical())
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []int64{1, 3, 5, 6}, seqs)
}

func TestReplayUnavailableBelowFloor(t *testing.T) {
	b, _, _ := newTestBus(2)
	defer b.Stop()
	b.OpenStream("s1", 0)
	ctx := context.Background()

	// Only critical events: exceeding retention must evict some of them and
	// raise the floor.
	for i := 0; i < 5; i++ {
		_, err := b.Publish(ctx, "s1", models.EventMessage, map[string]string{})
		require.NoError(t, err)
	}

	_, err := b.Subscribe("s1", 1)
	require.ErrorIs(t, err, ErrReplayUnavailable)

	sub, err := b.Subscribe("s1", 4)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, sub.Replay, 2)
	assert.Equal(t, int64(4), sub.Replay[0].Seq)
}

func TestTerminalClosesStream(t *testing.T) {
	b, _, _ := newTestBus(0)
	b.OpenStream("s1", 0)
	ctx := context.Background()

	sub, err := b.Subscribe("s1", 1)
	require.NoError(t, err)

	_, err = b.Publish(ctx, "s1", models.EventTerminal, TerminalPayload{Phase: models.PhaseDone})
	require.NoError(t, err)

	// Terminal event is delivered, then the channel closes.
	ev, ok := <-sub.Ch
	require.True(t, ok)
	assert.Equal(t, models.EventTerminal, ev.Kind)
	_, ok = <-sub.Ch
	assert.False(t, ok)

	_, err = b.Publish(ctx, "s1", models.EventMessage, MessagePayload{})
	assert.Error(t, err)
	_, err = b.Subscribe("s1", 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStartSeqResumesDensely(t *testing.T) {
	b, _, _ := newTestBus(0)
	defer b.Stop()
	// Recovery seeds the counter with the last persisted sequence.
	b.OpenStream("s1", 41)

	seq, err := b.Publish(context.Background(), "s1", models.EventPhase, PhasePayload{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	// Events before the resume point are not in memory.
	_, err = b.Subscribe("s1", 10)
	assert.ErrorIs(t, err, ErrReplayUnavailable)
}

func TestHeartbeatEmission(t *testing.T) {
	b, p, cl := newTestBus(0)
	defer b.Stop()
	b.OpenStream("s1", 0)

	// Advance inside the poll: the heartbeat goroutine may not have armed
	// its timer yet on the first pass.
	require.Eventually(t, func() bool {
		cl.Advance(HeartbeatInterval)
		return p.count() >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.EventHeartbeat, p.kinds()[0])
}

func TestHeartbeatSuppressedWhileBusy(t *testing.T) {
	b, p, cl := newTestBus(0)
	defer b.Stop()
	b.OpenStream("s1", 0)
	ctx := context.Background()

	// Keep the stream busy across the original heartbeat deadline.
	cl.Advance(HeartbeatInterval / 2)
	_, err := b.Publish(ctx, "s1", models.EventMessage, MessagePayload{Text: "still here"})
	require.NoError(t, err)
	cl.Advance(HeartbeatInterval / 2)

	hasHeartbeat := func() bool {
		for _, k := range p.kinds() {
			if k == models.EventHeartbeat {
				return true
			}
		}
		return false
	}

	// The deadline passed but traffic was recent; the stream stays quiet.
	assert.Never(t, hasHeartbeat, 300*time.Millisecond, 10*time.Millisecond)

	// A full interval of actual silence brings the heartbeat back.
	require.Eventually(t, func() bool {
		cl.Advance(HeartbeatInterval)
		return hasHeartbeat()
	}, time.Second, 5*time.Millisecond)
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	b, _, _ := newTestBus(0)
	defer b.Stop()
	b.OpenStream("s1", 0)

	sub, err := b.Subscribe("s1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("s1"))

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount("s1"))
	_, ok := <-sub.Ch
	assert.False(t, ok)
}
