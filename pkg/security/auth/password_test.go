package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
)

// fakeAuthStore is an in-memory Store stand-in so password/session tests
// never touch a real database.
type fakeAuthStore struct {
	history map[string][]PasswordRecord
	failed  map[string][]time.Time
}

func newFakeAuthStore() *fakeAuthStore {
	return &fakeAuthStore{history: make(map[string][]PasswordRecord), failed: make(map[string][]time.Time)}
}

func (s *fakeAuthStore) AppendPasswordRecord(_ context.Context, subject, hash string, changedAt time.Time) error {
	s.history[subject] = append(s.history[subject], PasswordRecord{Hash: hash, ChangedAt: changedAt})
	return nil
}

func (s *fakeAuthStore) PasswordHistory(_ context.Context, subject string) ([]PasswordRecord, error) {
	return s.history[subject], nil
}

func (s *fakeAuthStore) AppendFailedAttempt(_ context.Context, subject string, at time.Time) error {
	s.failed[subject] = append(s.failed[subject], at)
	return nil
}

func (s *fakeAuthStore) RecentFailedAttempts(_ context.Context, subject string, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, t := range s.failed[subject] {
		if t.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeAuthStore) ClearFailedAttempts(_ context.Context, subject string) error {
	delete(s.failed, subject)
	return nil
}

func TestPasswordService_ValidateRejectsWeakPasswords(t *testing.T) {
	policy := DefaultPasswordPolicy()
	assert.Error(t, policy.Validate("short1!"))
	assert.Error(t, policy.Validate("alllowercase12345!"))
	assert.Error(t, policy.Validate("ALLUPPERCASE12345!"))
	assert.Error(t, policy.Validate("NoSymbolsHere12345"))
	assert.NoError(t, policy.Validate("Valid-Pass123!word"))
}

func TestPasswordService_ChangePasswordRejectsHistoryReuse(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	policy := DefaultPasswordPolicy()
	policy.MinAge = 0
	svc := NewPersistedPasswordService(policy, c, newFakeAuthStore())
	ctx := context.Background()

	require.NoError(t, svc.ChangePassword(ctx, "alice", "First-Pass123!"))
	c.Advance(time.Hour)
	require.NoError(t, svc.ChangePassword(ctx, "alice", "Second-Pass123!"))
	c.Advance(time.Hour)

	err := svc.ChangePassword(ctx, "alice", "First-Pass123!")
	assert.Error(t, err)
}

func TestPasswordService_ChangePasswordEnforcesMinAge(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewPersistedPasswordService(DefaultPasswordPolicy(), c, newFakeAuthStore())
	ctx := context.Background()

	require.NoError(t, svc.ChangePassword(ctx, "bob", "First-Pass123!"))

	err := svc.ChangePassword(ctx, "bob", "Different-Pass456!")
	assert.Error(t, err)
}

func TestPasswordService_IsExpiredAfterMaxAge(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewPersistedPasswordService(DefaultPasswordPolicy(), c, newFakeAuthStore())
	ctx := context.Background()

	require.NoError(t, svc.ChangePassword(ctx, "carol", "First-Pass123!"))
	assert.False(t, svc.IsExpired(ctx, "carol"))

	c.Advance(91 * 24 * time.Hour)
	assert.True(t, svc.IsExpired(ctx, "carol"))
}

func TestPasswordService_VerifyChecksLatestHash(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewPersistedPasswordService(DefaultPasswordPolicy(), c, newFakeAuthStore())
	ctx := context.Background()

	require.NoError(t, svc.ChangePassword(ctx, "dave", "First-Pass123!"))
	assert.True(t, svc.Verify(ctx, "dave", "First-Pass123!"))
	assert.False(t, svc.Verify(ctx, "dave", "wrong-password"))
	assert.False(t, svc.Verify(ctx, "unknown-subject", "First-Pass123!"))
}

func TestPasswordService_InMemoryFallbackWorksWithoutStore(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewPasswordService(DefaultPasswordPolicy(), c)
	ctx := context.Background()

	require.NoError(t, svc.ChangePassword(ctx, "erin", "First-Pass123!"))
	assert.True(t, svc.Verify(ctx, "erin", "First-Pass123!"))
}
