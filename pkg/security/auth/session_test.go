package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
)

func TestSessionService_CreateSessionUsesPrivilegedDurationWhenFlagged(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewSessionService(c, 8*time.Hour, 4*time.Hour, 15*time.Minute)

	standard := svc.CreateSession("alice", "127.0.0.1", "ua", false, "", false)
	assert.Equal(t, 8*time.Hour, standard.ExpiresAt.Sub(standard.CreatedAt))

	privileged := svc.CreateSession("root", "127.0.0.1", "ua", true, MFATOTP, true)
	assert.Equal(t, 4*time.Hour, privileged.ExpiresAt.Sub(privileged.CreatedAt))
}

func TestSessionService_ValidateSessionExpiresAfterIdleWindow(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewSessionService(c, 8*time.Hour, 4*time.Hour, 15*time.Minute)
	sess := svc.CreateSession("alice", "127.0.0.1", "ua", false, "", false)

	assert.NotNil(t, svc.ValidateSession(sess.ID))

	c.Advance(16 * time.Minute)
	assert.Nil(t, svc.ValidateSession(sess.ID))
}

func TestSessionService_ValidateSessionExpiresAfterLifetime(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewSessionService(c, time.Hour, time.Hour, 50*time.Minute)
	sess := svc.CreateSession("alice", "127.0.0.1", "ua", false, "", false)

	c.Advance(30 * time.Minute)
	assert.NotNil(t, svc.ValidateSession(sess.ID))
	c.Advance(31 * time.Minute)
	assert.Nil(t, svc.ValidateSession(sess.ID))
}

func TestSessionService_LogoutDestroysSession(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewSessionService(c, time.Hour, time.Hour, time.Hour)
	sess := svc.CreateSession("alice", "127.0.0.1", "ua", false, "", false)

	svc.Logout(sess.ID)
	assert.Nil(t, svc.ValidateSession(sess.ID))
}

func TestSessionService_LocksOutAfterFiveFailuresWithinWindow(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewSessionService(c, time.Hour, time.Hour, time.Hour)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, svc.RecordFailedAttempt(ctx, "alice"))
		assert.False(t, svc.IsLockedOut("alice"))
	}
	require.NoError(t, svc.RecordFailedAttempt(ctx, "alice"))
	assert.True(t, svc.IsLockedOut("alice"))

	c.Advance(31 * time.Minute)
	assert.False(t, svc.IsLockedOut("alice"))
}

func TestSessionService_ClearFailedAttemptsResetsCounter(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewSessionService(c, time.Hour, time.Hour, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RecordFailedAttempt(ctx, "alice"))
	}
	require.True(t, svc.IsLockedOut("alice"))

	require.NoError(t, svc.ClearFailedAttempts(ctx, "alice"))
	assert.False(t, svc.IsLockedOut("alice"))
}

func TestSessionService_PersistedFailedAttemptsSurviveAcrossInstances(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := newFakeAuthStore()
	ctx := context.Background()

	svc1 := NewPersistedSessionService(c, time.Hour, time.Hour, time.Hour, store)
	for i := 0; i < 4; i++ {
		require.NoError(t, svc1.RecordFailedAttempt(ctx, "alice"))
	}

	// A fresh instance against the same store picks up where the last
	// one left off, since the attempt count comes from the store rather
	// than an in-memory map.
	svc2 := NewPersistedSessionService(c, time.Hour, time.Hour, time.Hour, store)
	require.NoError(t, svc2.RecordFailedAttempt(ctx, "alice"))
	assert.True(t, svc2.IsLockedOut("alice"))
}
