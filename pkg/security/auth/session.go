package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// Session is the spec §3 Session (auth) entity — not to be confused with
// the diagnostic-side DiagnosisSession.
type Session struct {
	ID           string
	Subject      string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	IP           string
	UserAgent    string
	MFAVerified  bool
	MFAMethod    MFAMethod
	Privileged   bool
}

// SessionService mints and validates login sessions and tracks failed
// login attempts per subject for lockout purposes. When store is nil the
// failed-attempt counters live in memory only; otherwise they persist
// through Store against the failed_login_attempts table, so a restart
// doesn't silently clear an account's lockout state. Lockout expiry
// itself (the derived "locked until" timestamp) is kept in memory either
// way — it is a cache of the persisted attempt history, not its own
// durable record.
type SessionService struct {
	mu             sync.Mutex
	sessions       map[string]*Session
	failedAttempts map[string][]time.Time
	lockouts       map[string]time.Time
	store          Store
	clock          clock.Clock

	defaultDuration    time.Duration
	privilegedDuration time.Duration
	idleTimeout        time.Duration
}

// NewSessionService constructs the service with the given session
// durations and idle timeout, keeping failed-attempt counters in memory
// only. No defaults are substituted here; pkg/config supplies 8h / 4h
// privileged / 15-minute idle.
func NewSessionService(c clock.Clock, defaultDuration, privilegedDuration, idleTimeout time.Duration) *SessionService {
	return &SessionService{
		sessions:           make(map[string]*Session),
		failedAttempts:     make(map[string][]time.Time),
		lockouts:           make(map[string]time.Time),
		clock:              c,
		defaultDuration:    defaultDuration,
		privilegedDuration: privilegedDuration,
		idleTimeout:        idleTimeout,
	}
}

// NewPersistedSessionService constructs the service against store, making
// failed-login-attempt counters durable across process restarts.
func NewPersistedSessionService(c clock.Clock, defaultDuration, privilegedDuration, idleTimeout time.Duration, store Store) *SessionService {
	svc := NewSessionService(c, defaultDuration, privilegedDuration, idleTimeout)
	svc.store = store
	return svc
}

// CreateSession mints a session for subject after successful MFA + password
// verification.
func (s *SessionService) CreateSession(subject, ip, ua string, mfaVerified bool, mfaMethod MFAMethod, privileged bool) *Session {
	now := s.clock.Now()
	duration := s.defaultDuration
	if privileged {
		duration = s.privilegedDuration
	}
	sess := &Session{
		ID:           uuid.New().String(),
		Subject:      subject,
		CreatedAt:    now,
		ExpiresAt:    now.Add(duration),
		LastActivity: now,
		IP:           ip,
		UserAgent:    ua,
		MFAVerified:  mfaVerified,
		MFAMethod:    mfaMethod,
		Privileged:   privileged,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// ValidateSession checks expiry and the configured idle window, refreshing
// last_activity on success. Returns nil, not an error, when invalid — per
// spec §8's "validate_session returns null and emits nothing" boundary.
func (s *SessionService) ValidateSession(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	now := s.clock.Now()
	if now.After(sess.ExpiresAt) {
		return nil
	}
	if now.Sub(sess.LastActivity) > s.idleTimeout {
		return nil
	}
	sess.LastActivity = now
	return sess
}

// Logout destroys a session.
func (s *SessionService) Logout(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// RecordFailedAttempt appends a failed-login timestamp and locks the
// account for 30 minutes after five failures within a 30-minute window.
func (s *SessionService) RecordFailedAttempt(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	window := now.Add(-30 * time.Minute)

	var count int
	if s.store != nil {
		if err := s.store.AppendFailedAttempt(ctx, subject, now); err != nil {
			return errs.Transient("failed to persist failed login attempt", err)
		}
		attempts, err := s.store.RecentFailedAttempts(ctx, subject, window)
		if err != nil {
			return errs.Transient("failed to load failed login attempts", err)
		}
		count = len(attempts)
	} else {
		attempts := s.failedAttempts[subject]
		kept := attempts[:0]
		for _, t := range attempts {
			if t.After(window) {
				kept = append(kept, t)
			}
		}
		kept = append(kept, now)
		s.failedAttempts[subject] = kept
		count = len(kept)
	}

	if count >= 5 {
		s.lockouts[subject] = now.Add(30 * time.Minute)
	}
	return nil
}

// IsLockedOut reports whether subject is currently under a failed-attempt
// lockout.
func (s *SessionService) IsLockedOut(subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.lockouts[subject]
	if !ok {
		return false
	}
	if s.clock.Now().After(until) {
		delete(s.lockouts, subject)
		return false
	}
	return true
}

// ClearFailedAttempts resets the failure counter after a successful login.
func (s *SessionService) ClearFailedAttempts(ctx context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failedAttempts, subject)
	delete(s.lockouts, subject)
	if s.store != nil {
		if err := s.store.ClearFailedAttempts(ctx, subject); err != nil {
			return errs.Transient("failed to clear failed login attempts", err)
		}
	}
	return nil
}

// ErrLockedOut is returned by callers that check IsLockedOut before login.
var ErrLockedOut = errs.AuthenticationFailed("account locked due to repeated failed attempts", nil)
