// Package consent implements the Consent Registry from spec §4.8: a
// versioned, revocable record of what a data subject agreed to.
package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// Purpose enumerates the consent purposes spec §4.8 names.
type Purpose string

const (
	PurposeMarketing     Purpose = "marketing"
	PurposeAnalytics     Purpose = "analytics"
	PurposeResearch      Purpose = "research"
	PurposeThirdPartyShare Purpose = "third_party_share"
	PurposeAIProcessing  Purpose = "ai_processing"
)

// Record is the spec §3 ConsentRecord entity.
type Record struct {
	ID          string
	SubjectID   string
	Purpose     Purpose
	Granted     bool
	Version     int
	GrantedAt   time.Time
	RevokedAt   time.Time
	ExpiresAt   time.Time
	Source      string
}

// Store is the persistence seam implemented by pkg/repository.
type Store interface {
	CreateConsent(ctx context.Context, r *Record) error
	LatestConsent(ctx context.Context, subjectID string, purpose Purpose) (*Record, error)
	ListConsentHistory(ctx context.Context, subjectID string, purpose Purpose) ([]*Record, error)
	ListConsentsForSubject(ctx context.Context, subjectID string) ([]*Record, error)
}

// Registry manages consent grants, revocations, and expiry.
type Registry struct {
	store Store
	clock clock.Clock
}

// NewRegistry constructs the consent registry.
func NewRegistry(store Store, c clock.Clock) *Registry {
	return &Registry{store: store, clock: c}
}

// Grant records a new consent version. Granting again after a revocation
// starts a fresh version rather than mutating the old record, preserving
// the full history for audit.
func (r *Registry) Grant(ctx context.Context, subjectID string, purpose Purpose, source string, ttl time.Duration) (*Record, error) {
	prior, err := r.store.LatestConsent(ctx, subjectID, purpose)
	if err != nil {
		return nil, errs.Transient("failed to load prior consent", err)
	}
	version := 1
	if prior != nil {
		version = prior.Version + 1
	}
	now := r.clock.Now()
	rec := &Record{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Purpose:   purpose,
		Granted:   true,
		Version:   version,
		GrantedAt: now,
		Source:    source,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	if err := r.store.CreateConsent(ctx, rec); err != nil {
		return nil, errs.Transient("failed to record consent grant", err)
	}
	return rec, nil
}

// Revoke records a revocation as a new version; it never deletes or
// rewrites the granted record, so the audit trail stays intact.
func (r *Registry) Revoke(ctx context.Context, subjectID string, purpose Purpose, source string) (*Record, error) {
	prior, err := r.store.LatestConsent(ctx, subjectID, purpose)
	if err != nil {
		return nil, errs.Transient("failed to load prior consent", err)
	}
	if prior == nil || !prior.Granted {
		return nil, errs.Conflict("no active consent to revoke", nil)
	}
	now := r.clock.Now()
	rec := &Record{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Purpose:   purpose,
		Granted:   false,
		Version:   prior.Version + 1,
		GrantedAt: prior.GrantedAt,
		RevokedAt: now,
		Source:    source,
	}
	if err := r.store.CreateConsent(ctx, rec); err != nil {
		return nil, errs.Transient("failed to record consent revocation", err)
	}
	return rec, nil
}

// IsActive reports whether subjectID currently has a granted, unexpired,
// unrevoked consent for purpose.
func (r *Registry) IsActive(ctx context.Context, subjectID string, purpose Purpose) (bool, error) {
	latest, err := r.store.LatestConsent(ctx, subjectID, purpose)
	if err != nil {
		return false, errs.Transient("failed to load consent", err)
	}
	if latest == nil || !latest.Granted {
		return false, nil
	}
	if !latest.ExpiresAt.IsZero() && r.clock.Now().After(latest.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

// History returns every version recorded for subjectID/purpose, oldest
// first, for audit and DSAR export purposes.
func (r *Registry) History(ctx context.Context, subjectID string, purpose Purpose) ([]*Record, error) {
	recs, err := r.store.ListConsentHistory(ctx, subjectID, purpose)
	if err != nil {
		return nil, errs.Transient("failed to load consent history", err)
	}
	return recs, nil
}

// AllForSubject returns the latest record across every purpose for a DSAR
// export of "what did we collect consent for".
func (r *Registry) AllForSubject(ctx context.Context, subjectID string) ([]*Record, error) {
	recs, err := r.store.ListConsentsForSubject(ctx, subjectID)
	if err != nil {
		return nil, errs.Transient("failed to load consents for subject", err)
	}
	return recs, nil
}
