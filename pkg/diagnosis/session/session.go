// Package session implements the Session Controller from spec §4.14/§5:
// the state machine driving one diagnostic session end to end, a
// per-session event stream, pause/resume, and a background janitor that
// reaps sessions idle past their expiry.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/engine"
	"github.com/forge-health/compliance-diagnostics/pkg/diagnosis/models"
)

// allowedTransitions is the DiagnosisSession state machine from spec
// §5: intake can move to analyzing; analyzing fans out to questioning,
// or to refining (and from there complete) if no further questions
// carry enough information gain; questioning loops back to analyzing
// (re-score), or moves to refining when its questions are skipped;
// paused/expired are reachable from any non-terminal state.
var allowedTransitions = map[models.SessionState][]models.SessionState{
	models.StateIntake:      {models.StateAnalyzing, models.StatePaused, models.StateExpired},
	models.StateAnalyzing:   {models.StateQuestioning, models.StateRefining, models.StatePaused, models.StateExpired},
	models.StateQuestioning: {models.StateAnalyzing, models.StateRefining, models.StatePaused, models.StateExpired},
	models.StateRefining:    {models.StateComplete, models.StateQuestioning, models.StatePaused, models.StateExpired},
	models.StatePaused:      {models.StateIntake, models.StateAnalyzing, models.StateQuestioning, models.StateRefining, models.StateExpired},
}

func isTerminal(s models.SessionState) bool {
	return s == models.StateComplete || s == models.StateExpired
}

// EventType enumerates the events a session publishes to its
// subscribers as it progresses through the autonomous loop (spec
// §4.14/§6): one event per transition, dispatched on session.state.
type EventType string

const (
	EventIntakeComplete      EventType = "intake_complete"
	EventHypothesesGenerated EventType = "hypotheses_generated"
	EventScoringComplete     EventType = "scoring_complete"
	EventQuestionsReady      EventType = "questions_ready"
	EventSessionPaused       EventType = "session_paused"
	EventSessionResumed      EventType = "session_resumed"
	EventRefinementComplete  EventType = "refinement_complete"
	EventSessionComplete     EventType = "session_complete"
	EventSessionExpired      EventType = "session_expired"
	EventError               EventType = "error"
)

// Event is one message on a session's event stream.
type Event struct {
	Type       EventType
	SessionID  string
	State      models.SessionState
	Hypotheses []*models.Hypothesis
	Questions  []*models.FollowUpQuestion
	Result     *models.DiagnosisResult
	Err        error
	At         time.Time
}

// Session holds one diagnostic session's mutable state, guarded by mu.
// Every operation on a Session takes its lock for the duration of the
// mutation; long-running work (specialist calls) happens outside the
// lock in the Controller methods that orchestrate state transitions.
type Session struct {
	mu sync.Mutex

	ID             string
	State          models.SessionState
	Patient        *models.PatientData
	Hypotheses     []*models.Hypothesis
	TopHypotheses  []*models.Hypothesis
	Questions      []*models.FollowUpQuestion
	AlreadyAsked   map[string]bool
	Result         *models.DiagnosisResult
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActiveAt   time.Time

	// PauseForQuestions, when set before StartDiagnosis, makes the
	// autonomous loop stop at a paused state instead of questioning
	// whenever it has follow-up questions ready, per spec §8 scenario 6.
	// The caller must set this field before calling StartDiagnosis;
	// Session has no lock-protected setter since it is only meaningful
	// pre-start.
	PauseForQuestions bool

	subscribers []chan *Event
}

func (s *Session) publish(ev *Event) {
	s.mu.Lock()
	subs := make([]chan *Event, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// a slow subscriber never blocks the session; it simply
			// misses events until it catches up via a fresh Subscribe.
		}
	}
}

// Subscribe returns a channel that receives the events published after
// this call (an event published while the channel's buffer is full is
// dropped for that subscriber), and an unsubscribe function the caller
// must invoke when done listening.
func (s *Session) Subscribe(buffer int) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *Event, buffer)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

// idleTimeout is how long a session may sit without any activity
// before the janitor expires it.
const idleTimeout = 30 * time.Minute

// expiredRetention and completedRetention bound how long a terminal
// session stays addressable by ID after reaching its terminal state,
// per spec: expired sessions for 1h, completed sessions for 2h.
const (
	expiredRetention   = time.Hour
	completedRetention = 2 * time.Hour
)

// janitorInterval matches the reaping cadence from spec §5.
const janitorInterval = 60 * time.Second

// defaultIdleTimeout is StreamEvents' default per spec §5: a subscriber
// that hears nothing for this long gives up rather than hanging forever.
const defaultIdleTimeout = 30 * time.Minute

// maxQuestionsPerIteration caps how many follow-up questions a single
// analyzing pass surfaces at once.
const maxQuestionsPerIteration = 3

// Controller manages the lifecycle of every active session: creation,
// state transitions driven through the Diagnosis Engine, and the
// background janitor that expires idle sessions.
type Controller struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	engine   *engine.Engine
	clock    clock.Clock

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController constructs a controller bound to eng for hypothesis
// generation and scoring.
func NewController(eng *engine.Engine, c clock.Clock) *Controller {
	return &Controller{
		sessions: make(map[string]*Session),
		engine:   eng,
		clock:    c,
	}
}

// Start launches the background janitor loop that reaps sessions idle
// past idleTimeout. Safe to call once; a second call is a no-op.
func (c *Controller) Start(ctx context.Context) {
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.runJanitor(ctx)
}

// Stop signals the janitor to exit and waits for it to finish.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Controller) runJanitor(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapIdleSessions()
		}
	}
}

func (c *Controller) reapIdleSessions() {
	now := c.clock.Now()

	c.mu.RLock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	reaped := 0
	var toDelete []string
	for _, s := range sessions {
		s.mu.Lock()
		idle := !isTerminal(s.State) && s.State != models.StatePaused && now.Sub(s.LastActiveAt) > idleTimeout
		if idle {
			s.State = models.StateExpired
			s.UpdatedAt = now
		}
		state := s.State
		updatedAt := s.UpdatedAt
		s.mu.Unlock()
		if idle {
			s.publish(&Event{Type: EventSessionExpired, SessionID: s.ID, State: models.StateExpired, At: now})
			reaped++
		}

		switch {
		case state == models.StateExpired && now.Sub(updatedAt) > expiredRetention:
			toDelete = append(toDelete, s.ID)
		case state == models.StateComplete && now.Sub(updatedAt) > completedRetention:
			toDelete = append(toDelete, s.ID)
		}
	}

	if len(toDelete) > 0 {
		c.mu.Lock()
		for _, id := range toDelete {
			delete(c.sessions, id)
		}
		c.mu.Unlock()
	}
	if reaped > 0 || len(toDelete) > 0 {
		slog.Info("diagnosis session janitor reaped idle sessions", "expired", reaped, "deleted", len(toDelete))
	}
}

// CreateSession starts a new session in the intake state.
func (c *Controller) CreateSession() *Session {
	now := c.clock.Now()
	s := &Session{
		ID:           uuid.NewString(),
		State:        models.StateIntake,
		AlreadyAsked: make(map[string]bool),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
	return s
}

// Get returns the session for id, or nil if unknown.
func (c *Controller) Get(id string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[id]
}

func (c *Controller) transition(s *Session, next models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if isTerminal(s.State) {
		return errs.Conflict("session "+s.ID+" is already in a terminal state", nil)
	}
	allowed := allowedTransitions[s.State]
	ok := false
	for _, a := range allowed {
		if a == next {
			ok = true
			break
		}
	}
	if !ok {
		return errs.Conflict("illegal transition from "+string(s.State)+" to "+string(next), nil)
	}

	s.State = next
	s.UpdatedAt = c.clock.Now()
	s.LastActiveAt = s.UpdatedAt
	return nil
}

// StartDiagnosis runs process_intake against raw tokens and drives the
// session into analysis. It is the spec §4.14 start_diagnosis operation.
func (c *Controller) StartDiagnosis(ctx context.Context, s *Session, tokens []string, variants []models.Variant, history, familyHistory []string, demo models.Demographics) error {
	patient := c.engine.ProcessIntake(tokens, variants, history, familyHistory, demo)

	s.mu.Lock()
	s.Patient = patient
	s.mu.Unlock()

	s.publish(&Event{Type: EventIntakeComplete, SessionID: s.ID, At: c.clock.Now()})

	return c.analyze(ctx, s)
}

// analyze runs generate_hypotheses and score_hypotheses, then either
// surfaces questions (questioning, or paused if s.PauseForQuestions),
// finalizes (refining → complete) when no question clears the
// information-gain floor, or finalizes immediately when the top
// hypothesis already clears confidenceThreshold.
func (c *Controller) analyze(ctx context.Context, s *Session) error {
	if err := c.transition(s, models.StateAnalyzing); err != nil {
		return err
	}

	s.mu.Lock()
	patient := s.Patient
	s.mu.Unlock()

	hypotheses, err := c.engine.GenerateHypotheses(ctx, patient)
	if err != nil {
		s.publish(&Event{Type: EventError, SessionID: s.ID, Err: err, At: c.clock.Now()})
		return err
	}
	s.publish(&Event{Type: EventHypothesesGenerated, SessionID: s.ID, Hypotheses: hypotheses, At: c.clock.Now()})

	top, complete, err := c.engine.RescoreTopHypotheses(ctx, hypotheses, patient)
	if err != nil {
		s.publish(&Event{Type: EventError, SessionID: s.ID, Err: err, At: c.clock.Now()})
		return err
	}

	s.mu.Lock()
	s.Hypotheses = hypotheses
	s.TopHypotheses = top
	asked := cloneAsked(s.AlreadyAsked)
	s.mu.Unlock()

	s.publish(&Event{Type: EventScoringComplete, SessionID: s.ID, Hypotheses: hypotheses, At: c.clock.Now()})

	if complete {
		return c.finalize(s)
	}

	questions := c.engine.GenerateQuestions(top, asked, maxQuestionsPerIteration, patient)
	if len(questions) == 0 {
		return c.finalize(s)
	}

	s.mu.Lock()
	s.Questions = append(s.Questions, questions...)
	for _, q := range questions {
		switch {
		case q.TargetPhenotype != "":
			s.AlreadyAsked[q.TargetPhenotype] = true
		case len(q.TargetGenes) > 0:
			s.AlreadyAsked[engine.GeneticQuestionSentinel] = true
		}
	}
	pauseForQuestions := s.PauseForQuestions
	s.mu.Unlock()

	next := models.StateQuestioning
	evType := EventQuestionsReady
	if pauseForQuestions {
		next = models.StatePaused
		evType = EventSessionPaused
	}
	if err := c.transition(s, next); err != nil {
		return err
	}

	s.publish(&Event{Type: evType, SessionID: s.ID, State: next, Questions: questions, At: c.clock.Now()})
	return nil
}

// Answer is one (question_id, answer) pair for AnswerQuestions.
type Answer struct {
	QuestionID string
	Answer     string
}

// AnswerQuestions replays every answer against s's pending questions
// under the session lock — so concurrent callers serialize and never
// observe the same pending question twice per spec's ordering guarantee
// — then re-enters analysis. If the session was paused, it first
// resumes (publishing session_resumed) before replaying, per spec §8
// scenario 6. This is the spec §4.14 answer_questions operation.
func (c *Controller) AnswerQuestions(ctx context.Context, s *Session, answers []Answer) error {
	s.mu.Lock()
	wasPaused := s.State == models.StatePaused
	byID := make(map[string]*models.FollowUpQuestion, len(s.Questions))
	for _, q := range s.Questions {
		byID[q.ID] = q
	}
	patient := s.Patient
	s.mu.Unlock()

	if wasPaused {
		if err := c.resumeTo(s, c.resumeTarget(s)); err != nil {
			return err
		}
	}

	for _, a := range answers {
		target, ok := byID[a.QuestionID]
		if !ok {
			return errs.NotFound("no such question: "+a.QuestionID, nil)
		}
		if target.IsAnswered() {
			return errs.Conflict("question already answered: "+a.QuestionID, nil)
		}
		c.engine.AnswerQuestion(target, a.Answer, patient)
	}

	return c.analyze(ctx, s)
}

// SkipQuestions clears every pending question on s without answering it
// and finalizes the session immediately with whatever evidence the
// engine already has — spec §4.13/§8's skip_questions operation.
func (c *Controller) SkipQuestions(s *Session) error {
	s.mu.Lock()
	for _, q := range s.Questions {
		if !q.IsAnswered() {
			q.Answer = "skipped"
			q.AnsweredAt = c.clock.Now()
		}
	}
	s.mu.Unlock()

	return c.finalize(s)
}

// GetResult returns the session's result: the stored result if the
// session already completed, otherwise a best-effort snapshot built
// from whatever hypotheses analysis has produced so far. It does not
// mutate the session. This is the spec §4.14 get_result operation.
func (c *Controller) GetResult(s *Session) (*models.DiagnosisResult, error) {
	s.mu.Lock()
	result := s.Result
	hypotheses := s.Hypotheses
	s.mu.Unlock()

	if result != nil {
		return result, nil
	}
	return c.engine.FinalizeSession(hypotheses)
}

func (c *Controller) finalize(s *Session) error {
	if err := c.transition(s, models.StateRefining); err != nil {
		return err
	}

	s.mu.Lock()
	hypotheses := s.Hypotheses
	s.mu.Unlock()

	result, err := c.engine.FinalizeSession(hypotheses)
	if err != nil {
		s.publish(&Event{Type: EventError, SessionID: s.ID, Err: err, At: c.clock.Now()})
		return err
	}
	s.publish(&Event{Type: EventRefinementComplete, SessionID: s.ID, Result: result, At: c.clock.Now()})

	if err := c.transition(s, models.StateComplete); err != nil {
		return err
	}

	s.mu.Lock()
	s.Result = result
	s.mu.Unlock()

	s.publish(&Event{Type: EventSessionComplete, SessionID: s.ID, State: models.StateComplete, Result: result, At: c.clock.Now()})
	return nil
}

// PauseSession suspends a session and publishes session_paused. The
// janitor's idle-expiry check skips paused sessions, so a paused
// session stays paused until it is resumed or deleted. Spec §4.14
// pause_session.
func (c *Controller) PauseSession(s *Session) error {
	if err := c.transition(s, models.StatePaused); err != nil {
		return err
	}
	s.publish(&Event{Type: EventSessionPaused, SessionID: s.ID, State: models.StatePaused, At: c.clock.Now()})
	return nil
}

// ResumeSession returns a paused session to the state it should
// continue from — questioning if a question is outstanding, analyzing
// otherwise — and publishes session_resumed. Spec §4.14 resume_session.
func (c *Controller) ResumeSession(s *Session) error {
	return c.resumeTo(s, c.resumeTarget(s))
}

func (c *Controller) resumeTarget(s *Session) models.SessionState {
	s.mu.Lock()
	hasOpenQuestion := len(s.Questions) > 0 && !s.Questions[len(s.Questions)-1].IsAnswered()
	s.mu.Unlock()

	if hasOpenQuestion {
		return models.StateQuestioning
	}
	return models.StateAnalyzing
}

func (c *Controller) resumeTo(s *Session, next models.SessionState) error {
	if err := c.transition(s, next); err != nil {
		return err
	}
	s.publish(&Event{Type: EventSessionResumed, SessionID: s.ID, State: next, At: c.clock.Now()})
	return nil
}

// DeleteSession cancels any in-flight work for s — every operation in
// this controller runs synchronously to completion before returning, so
// there is nothing left to cancel — and removes the session's state
// entirely. It returns false if s was already removed, matching spec's
// delete_session(delete_session(s)) == false round-trip law. Spec §4.14
// delete_session.
func (c *Controller) DeleteSession(s *Session) bool {
	c.mu.Lock()
	_, existed := c.sessions[s.ID]
	delete(c.sessions, s.ID)
	c.mu.Unlock()

	if !existed {
		return false
	}

	s.mu.Lock()
	if !isTerminal(s.State) {
		s.State = models.StateExpired
		s.UpdatedAt = c.clock.Now()
	}
	s.mu.Unlock()

	s.publish(&Event{Type: EventSessionExpired, SessionID: s.ID, State: models.StateExpired, At: c.clock.Now()})
	return true
}

// StreamEvents subscribes to s's event feed and forwards events onto
// the returned channel until ctx is cancelled, a terminal event
// (session_complete or session_expired) arrives, or idleTimeout elapses
// with no event at all. idleTimeout <= 0 uses defaultIdleTimeout. The
// returned channel is closed when streaming stops. Spec §4.14/§5
// stream_events.
func (c *Controller) StreamEvents(ctx context.Context, s *Session, idleTimeout time.Duration) <-chan *Event {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	events, unsubscribe := s.Subscribe(32)
	out := make(chan *Event, 32)

	go func() {
		defer unsubscribe()
		defer close(out)

		timer := time.NewTimer(idleTimeout)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				timer.Reset(idleTimeout)
				select {
				case out <- ev:
				default:
				}
				if ev.Type == EventSessionComplete || ev.Type == EventSessionExpired {
					return
				}
			}
		}
	}()

	return out
}

func cloneAsked(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
