// Package auth implements the Authentication & MFA flow from spec §4.3:
// MFA challenge/response, session minting and validation, failed-attempt
// lockout, and password policy enforcement.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// MFAMethod enumerates the supported second factors (recovered from
// access_control.py's MFAMethod enum).
type MFAMethod string

const (
	MFATOTP       MFAMethod = "totp"
	MFASMS        MFAMethod = "sms"
	MFAEmail      MFAMethod = "email"
	MFABackupCode MFAMethod = "backup_code"
)

// Challenge is the spec §3 MFAChallenge entity.
type Challenge struct {
	ID          string
	Subject     string
	Method      MFAMethod
	secret      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Verified    bool
	dead        bool
}

// MFAService manages challenge lifecycle in memory, keyed by challenge id.
type MFAService struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	clock      clock.Clock
	ttl        time.Duration
	maxAttempts int
}

// NewMFAService constructs the service with spec §4.3 defaults (5-minute
// expiry, 3 max attempts).
func NewMFAService(c clock.Clock, ttl time.Duration, maxAttempts int) *MFAService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MFAService{
		challenges:  make(map[string]*Challenge),
		clock:       c,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

// CreateChallenge mints a single-use challenge with the configured expiry.
func (s *MFAService) CreateChallenge(subject string, method MFAMethod, secret string) *Challenge {
	now := s.clock.Now()
	ch := &Challenge{
		ID:          uuid.New().String(),
		Subject:     subject,
		Method:      method,
		secret:      secret,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		MaxAttempts: s.maxAttempts,
	}
	s.mu.Lock()
	s.challenges[ch.ID] = ch
	s.mu.Unlock()
	return ch
}

// VerifyMFA compares code in constant time, counts attempts, and kills the
// challenge once the failed attempts reach max-attempts.
func (s *MFAService) VerifyMFA(challengeID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[challengeID]
	if !ok {
		return false, errs.NotFound("mfa challenge not found", nil)
	}
	if ch.dead || ch.Verified {
		return false, errs.Conflict("mfa challenge is no longer active", nil)
	}
	if s.clock.Now().After(ch.ExpiresAt) {
		ch.dead = true
		return false, errs.AuthenticationFailed("mfa challenge expired", nil)
	}

	ch.Attempts++
	match := subtle.ConstantTimeCompare([]byte(code), []byte(ch.secret)) == 1
	if match {
		ch.Verified = true
		return true, nil
	}
	if ch.Attempts >= ch.MaxAttempts {
		ch.dead = true
	}
	return false, nil
}

// GenerateOTP mints a 6-digit numeric one-time code for the SMS/email MFA
// methods, where the secret is the code itself rather than a TOTP seed.
// Delivery to the subject's phone/inbox is an external collaborator
// outside this module's scope; callers are responsible for dispatching
// it wherever a real deployment wires that through.
func GenerateOTP() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// ChallengeState returns a copy of the challenge for inspection (tests,
// auditing), or nil if unknown.
func (s *MFAService) ChallengeState(id string) *Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil
	}
	cp := *ch
	return &cp
}
