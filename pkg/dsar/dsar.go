// Package dsar implements the Data Subject Access Request workflow from
// spec §4.6: a status state machine with deadlines derived from
// jurisdiction and frozen at creation.
package dsar

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// Status enumerates the DSAR state machine's members.
type Status string

const (
	StatusReceived   Status = "received"
	StatusVerified   Status = "verified"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// allowedTransitions encodes the DAG from spec §4.6.
var allowedTransitions = map[Status]map[Status]bool{
	StatusReceived:   {StatusVerified: true, StatusRejected: true, StatusExpired: true},
	StatusVerified:   {StatusProcessing: true, StatusRejected: true, StatusExpired: true},
	StatusProcessing: {StatusCompleted: true, StatusRejected: true, StatusExpired: true},
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusExpired
}

// RequestType enumerates the DSAR right being exercised.
type RequestType string

const (
	RequestAccess      RequestType = "access"
	RequestDeletion    RequestType = "deletion"
	RequestRectification RequestType = "rectification"
	RequestPortability RequestType = "portability"
)

// Jurisdiction enumerates the deadline table's keys.
type Jurisdiction string

const (
	JurisdictionGDPR    Jurisdiction = "GDPR"
	JurisdictionUK      Jurisdiction = "UK"
	JurisdictionCCPA    Jurisdiction = "CCPA"
	JurisdictionLGPD    Jurisdiction = "LGPD"
	JurisdictionDefault Jurisdiction = "DEFAULT"
)

// deadlineDays is the jurisdiction table from spec §4.6.
var deadlineDays = map[Jurisdiction]int{
	JurisdictionGDPR: 30,
	JurisdictionUK:   30,
	JurisdictionCCPA: 45,
	JurisdictionLGPD: 15,
}

const ccpaExtendedDays = 90

// ProcessingNote is an append-only log entry attached to a DSAR.
type ProcessingNote struct {
	Text      string
	CreatedAt time.Time
}

// Request is the spec §3 DSAR entity.
type Request struct {
	ID              string
	RequestType     RequestType
	Jurisdiction    Jurisdiction
	Frameworks      []string
	SubjectInfo     map[string]string
	Status          Status
	Deadline        time.Time
	ProcessingNotes []ProcessingNote
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store is the persistence seam implemented by pkg/repository.
type Store interface {
	CreateDSAR(ctx context.Context, r *Request) error
	GetDSAR(ctx context.Context, id string) (*Request, error)
	UpdateDSAR(ctx context.Context, r *Request) error
	ListOverdueDSARs(ctx context.Context, now time.Time) ([]*Request, error)
	ListDSARs(ctx context.Context) ([]*Request, error)
}

// Workflow drives DSAR lifecycle transitions.
type Workflow struct {
	store Store
	clock clock.Clock
}

// NewWorkflow constructs the DSAR workflow.
func NewWorkflow(store Store, c clock.Clock) *Workflow {
	return &Workflow{store: store, clock: c}
}

// deadlineFor computes the frozen deadline at creation time.
func deadlineFor(j Jurisdiction, created time.Time, extended bool) time.Time {
	days, ok := deadlineDays[j]
	if !ok {
		days = 30
	}
	if j == JurisdictionCCPA && extended {
		days = ccpaExtendedDays
	}
	return created.AddDate(0, 0, days)
}

// Create starts a new DSAR with a deadline frozen at creation time.
func (w *Workflow) Create(ctx context.Context, reqType RequestType, jurisdiction Jurisdiction, frameworks []string, subjectInfo map[string]string) (*Request, error) {
	now := w.clock.Now()
	r := &Request{
		ID:           uuid.New().String(),
		RequestType:  reqType,
		Jurisdiction: jurisdiction,
		Frameworks:   frameworks,
		SubjectInfo:  subjectInfo,
		Status:       StatusReceived,
		Deadline:     deadlineFor(jurisdiction, now, false),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := w.store.CreateDSAR(ctx, r); err != nil {
		return nil, errs.Transient("failed to create dsar", err)
	}
	return r, nil
}

func (w *Workflow) transition(ctx context.Context, id string, next Status) (*Request, error) {
	r, err := w.store.GetDSAR(ctx, id)
	if err != nil {
		return nil, errs.NotFound("dsar not found", err)
	}
	if isTerminal(r.Status) {
		return nil, errs.Conflict("dsar is already in a terminal state", nil)
	}
	if !allowedTransitions[r.Status][next] {
		return nil, errs.Conflict("illegal dsar transition from "+string(r.Status)+" to "+string(next), nil)
	}
	r.Status = next
	r.UpdatedAt = w.clock.Now()
	if err := w.store.UpdateDSAR(ctx, r); err != nil {
		return nil, errs.Transient("failed to update dsar", err)
	}
	return r, nil
}

// Verify moves a received DSAR to verified.
func (w *Workflow) Verify(ctx context.Context, id string) (*Request, error) {
	return w.transition(ctx, id, StatusVerified)
}

// Assign moves a verified DSAR to processing.
func (w *Workflow) Assign(ctx context.Context, id string) (*Request, error) {
	return w.transition(ctx, id, StatusProcessing)
}

// Complete moves a processing DSAR to completed.
func (w *Workflow) Complete(ctx context.Context, id string) (*Request, error) {
	return w.transition(ctx, id, StatusCompleted)
}

// Reject moves any non-terminal DSAR to rejected.
func (w *Workflow) Reject(ctx context.Context, id, reason string) (*Request, error) {
	r, err := w.transition(ctx, id, StatusRejected)
	if err != nil {
		return nil, err
	}
	return w.AddNote(ctx, r.ID, "rejected: "+reason)
}

// AddNote appends a processing note. Extensions to the deadline append a
// note rather than shortening or silently extending the deadline.
func (w *Workflow) AddNote(ctx context.Context, id, text string) (*Request, error) {
	r, err := w.store.GetDSAR(ctx, id)
	if err != nil {
		return nil, errs.NotFound("dsar not found", err)
	}
	r.ProcessingNotes = append(r.ProcessingNotes, ProcessingNote{Text: text, CreatedAt: w.clock.Now()})
	r.UpdatedAt = w.clock.Now()
	if err := w.store.UpdateDSAR(ctx, r); err != nil {
		return nil, errs.Transient("failed to update dsar", err)
	}
	return r, nil
}

// ExtendDeadline pushes the CCPA deadline out to the 90-day extension,
// recording a note; deadlines otherwise never shrink or silently extend.
func (w *Workflow) ExtendDeadline(ctx context.Context, id string) (*Request, error) {
	r, err := w.store.GetDSAR(ctx, id)
	if err != nil {
		return nil, errs.NotFound("dsar not found", err)
	}
	if r.Jurisdiction != JurisdictionCCPA {
		return nil, errs.ValidationFailed("deadline extension only applies to CCPA requests", nil)
	}
	extended := deadlineFor(r.Jurisdiction, r.CreatedAt, true)
	if extended.Before(r.Deadline) {
		return nil, errs.Conflict("deadline extension must not shorten the deadline", nil)
	}
	r.Deadline = extended
	r.ProcessingNotes = append(r.ProcessingNotes, ProcessingNote{Text: "deadline extended to 90 days", CreatedAt: w.clock.Now()})
	r.UpdatedAt = w.clock.Now()
	if err := w.store.UpdateDSAR(ctx, r); err != nil {
		return nil, errs.Transient("failed to update dsar", err)
	}
	return r, nil
}

// ExpireOverdue transitions any non-terminal DSAR whose deadline has
// passed to expired. Can run from any state per spec §4.6.
func (w *Workflow) ExpireOverdue(ctx context.Context) (int, error) {
	now := w.clock.Now()
	overdue, err := w.store.ListOverdueDSARs(ctx, now)
	if err != nil {
		return 0, errs.Transient("failed to list overdue dsars", err)
	}
	n := 0
	for _, r := range overdue {
		if isTerminal(r.Status) {
			continue
		}
		r.Status = StatusExpired
		r.UpdatedAt = now
		if err := w.store.UpdateDSAR(ctx, r); err != nil {
			return n, errs.Transient("failed to expire dsar", err)
		}
		n++
	}
	return n, nil
}

// Overdue returns all DSARs in a non-terminal status with deadline < now.
func (w *Workflow) Overdue(ctx context.Context) ([]*Request, error) {
	rs, err := w.store.ListOverdueDSARs(ctx, w.clock.Now())
	if err != nil {
		return nil, errs.Transient("failed to list overdue dsars", err)
	}
	out := make([]*Request, 0, len(rs))
	for _, r := range rs {
		if !isTerminal(r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}
