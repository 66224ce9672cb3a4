package flow

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specsmith/specsmith/pkg/agent"
	"github.com/specsmith/specsmith/pkg/clock"
	"github.com/specsmith/specsmith/pkg/config"
	"github.com/specsmith/specsmith/pkg/events"
	"github.com/specsmith/specsmith/pkg/models"
	"github.com/specsmith/specsmith/pkg/store"
)

// Store is the slice of the session store the orchestrator uses.
type Store interface {
	CreateSession(ctx context.Context, sess *models.Session) error
	UpdateSession(ctx context.Context, sess *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListActiveSessions(ctx context.Context) ([]*models.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error

	SaveTask(ctx context.Context, t *models.Task) error
	ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error)
	SaveRound(ctx context.Context, sessionID string, round *models.ClarificationRound) error
	ListRounds(ctx context.Context, sessionID string) ([]*models.ClarificationRound, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	SaveArtifact(ctx context.Context, a *models.Artifact) error
	ListArtifacts(ctx context.Context, sessionID string) ([]*models.Artifact, error)
	GetArtifact(ctx context.Context, sessionID, name string) (*models.Artifact, error)
	SaveCollabState(ctx context.Context, state *models.CollaborationState, at time.Time) error
	GetCollabState(ctx context.Context, sessionID string) (*models.CollaborationState, error)
	ListEvents(ctx context.Context, sessionID string, fromSeq int64, limit int) ([]*models.Event, error)
	LastEventSeq(ctx context.Context, sessionID string) (int64, error)
}

// Manager owns every live session: it admits new ones, routes user input to
// the clarification loop, schedules agent tasks, and finalizes terminal
// states.
type Manager struct {
	cfg     *config.Config
	store   Store
	bus     *events.Bus
	gateway agent.Completer
	clock   clock.Clock

	mu       sync.Mutex
	sessions map[string]*sessionState

	reaperStop    chan struct{}
	reaperDone    chan struct{}
	reaperStarted bool
	wg            sync.WaitGroup
}

// sessionState is the in-memory half of a live session. The store holds the
// durable half; both are updated under mu.
type sessionState struct {
	mu     sync.Mutex
	sess   *models.Session
	rounds []*models.ClarificationRound
	tasks  map[string]*models.Task
	collab *models.CollaborationState
	// graph holds the task IDs of the leg currently being scheduled; the
	// progress roll-up averages over these.
	graph []string

	// answered pulses when SubmitAnswers completes the current round.
	answered chan struct{}

	ctx    context.Context
	cancel context.CancelCauseFunc
	// lastPub tracks the last progress event per task for rate limiting.
	lastPub map[string]time.Time
}

// StartRequest is the intake payload for a new session.
type StartRequest struct {
	RequirementText string
	ProjectContext  string
	Mode            models.Mode
}

// NewManager wires the orchestrator. Call Run to start background loops and
// Stop to drain them.
func NewManager(cfg *config.Config, st Store, bus *events.Bus, gateway agent.Completer, cl clock.Clock) *Manager {
	return &Manager{
		cfg:        cfg,
		store:      st,
		bus:        bus,
		gateway:    gateway,
		clock:      cl,
		sessions:   make(map[string]*sessionState),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Run recovers persisted sessions and starts the idle reaper.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return err
	}
	m.reaperStarted = true
	go m.reaperLoop()
	return nil
}

// Stop cancels every live session and waits for their loops to drain.
func (m *Manager) Stop() {
	close(m.reaperStop)
	if m.reaperStarted {
		<-m.reaperDone
	}

	m.mu.Lock()
	for _, st := range m.sessions {
		st.cancel(E(KindInternal, "service shutting down"))
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.bus.Stop()
}

// Start admits a new session and launches its flow.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*SessionView, error) {
	if strings.TrimSpace(req.RequirementText) == "" {
		return nil, E(KindInvalidInput, "requirement_text is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeStandard
	}
	if !mode.Valid() {
		return nil, E(KindInvalidInput, "unknown mode %q", mode)
	}

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.Flow.MaxSessions {
		m.mu.Unlock()
		return nil, E(KindBusy, "session capacity reached (%d)", m.cfg.Flow.MaxSessions)
	}
	now := m.clock.Now()
	sess := &models.Session{
		ID:              uuid.New().String(),
		Mode:            mode,
		Phase:           models.PhaseClarifying,
		RequirementText: req.RequirementText,
		ProjectContext:  req.ProjectContext,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastActivityAt:  now,
	}
	st := m.newSessionState(sess)
	m.sessions[sess.ID] = st
	m.mu.Unlock()

	if err := m.store.CreateSession(ctx, sess); err != nil {
		m.dropSession(sess.ID)
		return nil, wrap(KindInternal, err, "persist session")
	}
	m.bus.OpenStream(sess.ID, 0)

	m.wg.Add(1)
	go m.run(st)

	st.mu.Lock()
	defer st.mu.Unlock()
	return m.viewLocked(st), nil
}

func (m *Manager) newSessionState(sess *models.Session) *sessionState {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &sessionState{
		sess:     sess,
		tasks:    make(map[string]*models.Task),
		collab:   models.NewCollaborationState(sess.ID),
		answered: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		lastPub:  make(map[string]time.Time),
	}
}

// SubmitAnswers records clarification answers for the current round.
// Re-submitting answers identical to what is already recorded is a no-op:
// nothing is persisted and no events are emitted. Once the round has been
// consumed its question IDs are no longer valid.
func (m *Manager) SubmitAnswers(ctx context.Context, sessionID string, answers map[string]string) (*SessionView, error) {
	st, err := m.liveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, E(KindInvalidInput, "answers are required")
	}

	st.mu.Lock()
	if st.sess.Phase != models.PhaseClarifying {
		phase := st.sess.Phase
		st.mu.Unlock()
		if phase.Terminal() {
			return nil, E(KindSessionTerminal, "session %s is %s", sessionID, phase)
		}
		return nil, E(KindNotClarifying, "session %s is %s", sessionID, phase)
	}
	if len(st.rounds) == 0 {
		st.mu.Unlock()
		return nil, E(KindNotClarifying, "no open clarification round")
	}
	round := st.rounds[len(st.rounds)-1]
	byID := make(map[string]models.Question, len(round.Questions))
	for _, q := range round.Questions {
		byID[q.ID] = q
	}
	for id, text := range answers {
		if _, ok := byID[id]; !ok {
			st.mu.Unlock()
			return nil, E(KindInvalidInput, "unknown question id %q", id)
		}
		if strings.TrimSpace(text) == "" {
			st.mu.Unlock()
			return nil, E(KindInvalidInput, "empty answer for question %q", id)
		}
	}
	if round.Answers == nil {
		round.Answers = make(map[string]string, len(answers))
	}
	changed := false
	for id, text := range answers {
		if prev, ok := round.Answers[id]; !ok || prev != text {
			changed = true
			break
		}
	}
	if !changed {
		view := m.viewLocked(st)
		st.mu.Unlock()
		return view, nil
	}
	for id, text := range answers {
		round.Answers[id] = text
	}
	complete := round.Answered()
	now := m.clock.Now()
	st.sess.LastActivityAt = now
	st.mu.Unlock()

	if err := m.store.SaveRound(ctx, sessionID, round); err != nil {
		return nil, wrap(KindInternal, err, "persist answers")
	}
	_ = m.store.TouchSession(ctx, sessionID, now)
	m.appendMessage(st, models.MessageRoleUser, "", models.MessageKindChat, answerSummary(answers))

	if complete {
		select {
		case st.answered <- struct{}{}:
		default:
		}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.viewLocked(st), nil
}

// Cancel requests cooperative termination of a session.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	st, err := m.liveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	terminal := st.sess.Phase.Terminal()
	st.mu.Unlock()
	if terminal {
		return E(KindSessionTerminal, "session %s already finished", sessionID)
	}
	st.cancel(E(KindCancelled, "cancelled by user"))
	return nil
}

// Get returns a point-in-time view of a session, live or finished.
func (m *Manager) Get(ctx context.Context, sessionID string) (*SessionView, error) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return m.viewLocked(st), nil
	}
	return m.storedView(ctx, sessionID)
}

// Subscribe attaches to a session's event stream from the given sequence.
// Finished sessions replay entirely from the store.
func (m *Manager) Subscribe(ctx context.Context, sessionID string, fromSeq int64) (*events.Subscription, error) {
	sub, err := m.bus.Subscribe(sessionID, fromSeq)
	if err == nil {
		return sub, nil
	}
	if errors.Is(err, events.ErrReplayUnavailable) {
		return nil, wrap(KindInvalidInput, err, "requested sequence out of replay window")
	}
	// No live stream: the session is finished (or unknown). Replay from the
	// store and hand back a closed channel.
	if _, serr := m.store.GetSession(ctx, sessionID); serr != nil {
		if errors.Is(serr, store.ErrNotFound) {
			return nil, E(KindUnknownSession, "unknown session %s", sessionID)
		}
		return nil, wrap(KindInternal, serr, "load session")
	}
	evs, serr := m.store.ListEvents(ctx, sessionID, fromSeq, 0)
	if serr != nil {
		return nil, wrap(KindInternal, serr, "replay events")
	}
	ch := make(chan *models.Event)
	close(ch)
	return &events.Subscription{Replay: evs, Ch: ch}, nil
}

// liveSession resolves a session that still has a run loop. Terminal or
// unknown sessions produce classified errors.
func (m *Manager) liveSession(ctx context.Context, sessionID string) (*sessionState, error) {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		return st, nil
	}
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, E(KindUnknownSession, "unknown session %s", sessionID)
		}
		return nil, wrap(KindInternal, err, "load session")
	}
	if sess.Phase.Terminal() {
		return nil, E(KindSessionTerminal, "session %s is %s", sessionID, sess.Phase)
	}
	return nil, E(KindInternal, "session %s has no active flow", sessionID)
}

func (m *Manager) dropSession(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// LiveSessions reports how many sessions currently hold a slot. Tests poll
// this instead of sleeping.
func (m *Manager) LiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func answerSummary(answers map[string]string) string {
	return "answered " + strconv.Itoa(len(answers)) + " clarification question(s)"
}
