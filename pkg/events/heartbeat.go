package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/specsmith/specsmith/pkg/models"
)

// HeartbeatInterval is how long a stream stays silent before a liveness
// event is emitted. A busy stream never heartbeats.
const HeartbeatInterval = 10 * time.Second

func (b *Bus) heartbeatLoop(st *stream) {
	timer := b.clock.NewTimer(HeartbeatInterval)
	defer timer.Stop()
	for {
		select {
		case <-st.stopHeartbeat:
			return
		case <-timer.C():
			st.mu.Lock()
			idle := b.clock.Since(st.lastPub)
			st.mu.Unlock()
			if idle < HeartbeatInterval {
				// Something was published since the timer was armed; wait
				// out the remainder of the silence window.
				timer.Reset(HeartbeatInterval - idle)
				continue
			}
			_, err := b.Publish(context.Background(), st.sessionID, models.EventHeartbeat, HeartbeatPayload{
				At: b.clock.Now().Format(time.RFC3339Nano),
			})
			if err != nil {
				// Stream closed under us; the stop channel will fire.
				slog.Debug("Heartbeat publish failed", "session_id", st.sessionID, "error", err)
				return
			}
			timer.Reset(HeartbeatInterval)
		}
	}
}
