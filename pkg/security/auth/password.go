package auth

import (
	"context"
	"sync"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// PasswordRecord is one entry in a subject's password history, as stored
// by the password_history table.
type PasswordRecord struct {
	Hash      string
	ChangedAt time.Time
}

// Store persists password history and failed-login-attempt rows so
// lockout state and reuse history survive a process restart, backed by
// the password_history/failed_login_attempts tables. A nil Store leaves
// PasswordService/SessionService in-memory only, which is fine for tests
// but loses history/lockout state across restarts in production.
type Store interface {
	AppendPasswordRecord(ctx context.Context, subject, hash string, changedAt time.Time) error
	PasswordHistory(ctx context.Context, subject string) ([]PasswordRecord, error)

	AppendFailedAttempt(ctx context.Context, subject string, at time.Time) error
	RecentFailedAttempts(ctx context.Context, subject string, since time.Time) ([]time.Time, error)
	ClearFailedAttempts(ctx context.Context, subject string) error
}

// PasswordPolicy enforces the rules from spec §4.3: length/character-class
// requirements, reuse history, and min/max age.
type PasswordPolicy struct {
	MinLength    int
	HistorySize  int
	MaxAge       time.Duration
	MinAge       time.Duration
}

// DefaultPasswordPolicy returns spec §4.3's concrete defaults: >=12 chars,
// one each of upper/lower/digit/symbol, history of 4, 90-day max age,
// 1-day min age.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:   12,
		HistorySize: 4,
		MaxAge:      90 * 24 * time.Hour,
		MinAge:      24 * time.Hour,
	}
}

// Validate checks the candidate password's shape against the policy.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return errs.ValidationFailed("password must be at least 12 characters", nil)
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return errs.ValidationFailed("password must contain upper, lower, digit, and symbol characters", nil)
	}
	return nil
}

// PasswordService enforces the password policy on change and tracks
// per-subject history. When store is nil it keeps history in memory only
// (fine for tests); in production it persists through Store against the
// password_history table, so reuse/max-age checks survive a restart.
type PasswordService struct {
	mu      sync.Mutex
	history map[string][]PasswordRecord
	store   Store
	policy  PasswordPolicy
	clock   clock.Clock
}

// NewPasswordService constructs the service against an in-memory history.
func NewPasswordService(policy PasswordPolicy, c clock.Clock) *PasswordService {
	return &PasswordService{history: make(map[string][]PasswordRecord), policy: policy, clock: c}
}

// NewPersistedPasswordService constructs the service against store,
// making password history durable across process restarts.
func NewPersistedPasswordService(policy PasswordPolicy, c clock.Clock, store Store) *PasswordService {
	return &PasswordService{history: make(map[string][]PasswordRecord), store: store, policy: policy, clock: c}
}

func (s *PasswordService) records(ctx context.Context, subject string) ([]PasswordRecord, error) {
	if s.store != nil {
		return s.store.PasswordHistory(ctx, subject)
	}
	return s.history[subject], nil
}

// ChangePassword validates the new password, rejects reuse of the last N
// hashes, enforces the min-age gate, and records the new hash.
func (s *PasswordService) ChangePassword(ctx context.Context, subject, newPassword string) error {
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	records, err := s.records(ctx, subject)
	if err != nil {
		return errs.Transient("failed to load password history", err)
	}
	if len(records) > 0 {
		last := records[len(records)-1]
		if now.Sub(last.ChangedAt) < s.policy.MinAge {
			return errs.ValidationFailed("password was changed too recently", nil)
		}
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errs.Fatal("failed to hash password", err)
	}
	for _, r := range lastN(records, s.policy.HistorySize) {
		if bcrypt.CompareHashAndPassword([]byte(r.Hash), []byte(newPassword)) == nil {
			return errs.ValidationFailed("password was used recently and cannot be reused", nil)
		}
	}

	if s.store != nil {
		if err := s.store.AppendPasswordRecord(ctx, subject, string(newHash), now); err != nil {
			return errs.Transient("failed to persist password record", err)
		}
		return nil
	}
	s.history[subject] = append(records, PasswordRecord{Hash: string(newHash), ChangedAt: now})
	return nil
}

// IsExpired reports whether the subject's current password has exceeded
// the max-age policy.
func (s *PasswordService) IsExpired(ctx context.Context, subject string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.records(ctx, subject)
	if err != nil || len(records) == 0 {
		return false
	}
	last := records[len(records)-1]
	return s.clock.Now().Sub(last.ChangedAt) > s.policy.MaxAge
}

// Verify checks password against the subject's current stored hash.
func (s *PasswordService) Verify(ctx context.Context, subject, password string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.records(ctx, subject)
	if err != nil || len(records) == 0 {
		return false
	}
	last := records[len(records)-1]
	return bcrypt.CompareHashAndPassword([]byte(last.Hash), []byte(password)) == nil
}

func lastN(records []PasswordRecord, n int) []PasswordRecord {
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}
