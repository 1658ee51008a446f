package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
)

func TestMFAService_VerifyMFASucceedsWithCorrectCode(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewMFAService(c, 5*time.Minute, 3)

	ch := svc.CreateChallenge("alice", MFATOTP, "123456")
	ok, err := svc.VerifyMFA(ch.ID, "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	state := svc.ChallengeState(ch.ID)
	assert.True(t, state.Verified)
}

func TestMFAService_VerifyMFAKillsChallengeAfterMaxAttempts(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewMFAService(c, 5*time.Minute, 3)

	ch := svc.CreateChallenge("alice", MFASMS, "654321")
	for i := 0; i < 3; i++ {
		ok, err := svc.VerifyMFA(ch.ID, "wrong")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	_, err := svc.VerifyMFA(ch.ID, "654321")
	assert.Error(t, err)
}

func TestMFAService_VerifyMFARejectsExpiredChallenge(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewMFAService(c, 5*time.Minute, 3)

	ch := svc.CreateChallenge("alice", MFAEmail, "111111")
	c.Advance(6 * time.Minute)

	_, err := svc.VerifyMFA(ch.ID, "111111")
	assert.Error(t, err)
}

func TestMFAService_VerifyMFARejectsUnknownChallenge(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewMFAService(c, 5*time.Minute, 3)

	_, err := svc.VerifyMFA("no-such-challenge", "000000")
	assert.Error(t, err)
}

func TestGenerateOTP_ProducesSixDigitCode(t *testing.T) {
	code, err := GenerateOTP()
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}
