// Package audit implements the append-only, hash-chained audit log from
// spec §4.5: every event links to the previous event's hash, and chain
// verification re-derives the chain to find the first broken link.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forge-health/compliance-diagnostics/internal/clock"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
)

// Category enumerates spec §4.5's event categories.
type Category string

const (
	CategoryDataAccess      Category = "data-access"
	CategoryAuthentication  Category = "authentication"
	CategoryConfiguration   Category = "configuration"
	CategoryBreachResponse  Category = "breach-response"
	CategoryDSARProcessing  Category = "dsar-processing"
	CategoryAIDecision      Category = "ai-decision"
)

// Risk enumerates the risk levels that influence retention and alerting.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Event is the spec §3 AuditEvent entity, extended with the richer field
// set recovered from repository.py's create_audit_event (actor_type,
// actor_ip, entity_type, entity_id, correlation_id, old_value, new_value,
// error_message, data_classification).
type Event struct {
	ID                 string
	Category           Category
	EventType          string
	Action             string
	Actor              string
	ActorType          string
	ActorIP            string
	EntityType         string
	EntityID           string
	CorrelationID      string
	OldValue           map[string]interface{}
	NewValue           map[string]interface{}
	Success            bool
	Risk               Risk
	ErrorMessage       string
	DataClassification string
	Justification      string
	PreviousHash       string
	Hash               string
	CreatedAt          time.Time
}

// Store is the persistence seam the audit Log writes through; implemented
// by pkg/repository against Postgres.
type Store interface {
	LastHash(ctx context.Context) (string, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context) ([]*Event, error)
}

// Log mediates every append, computing the hash chain.
type Log struct {
	store Store
	clock clock.Clock
}

// NewLog constructs the audit log.
func NewLog(store Store, c clock.Clock) *Log {
	return &Log{store: store, clock: c}
}

// hashInput is the canonical field ordering spec §4.5 hashes:
// {id, category, event_type, action, timestamp, previous_hash}, extended
// with actor, entity_type, entity_id, success and data_classification.
// The other stored fields (actor_type, actor_ip, correlation_id,
// old_value, new_value, error_message, risk, justification) are not
// part of the hash.
type hashInput struct {
	ID                 string `json:"id"`
	Category           string `json:"category"`
	EventType          string `json:"event_type"`
	Action             string `json:"action"`
	Actor              string `json:"actor"`
	EntityType         string `json:"entity_type"`
	EntityID           string `json:"entity_id"`
	Success            bool   `json:"success"`
	DataClassification string `json:"data_classification"`
	Timestamp          string `json:"timestamp"`
	PreviousHash       string `json:"previous_hash"`
}

func computeHash(e *Event) (string, error) {
	in := hashInput{
		ID:                 e.ID,
		Category:           string(e.Category),
		EventType:          e.EventType,
		Action:             e.Action,
		Actor:              e.Actor,
		EntityType:         e.EntityType,
		EntityID:           e.EntityID,
		Success:            e.Success,
		DataClassification: e.DataClassification,
		Timestamp:          e.CreatedAt.UTC().Format(time.RFC3339Nano),
		PreviousHash:       e.PreviousHash,
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Append records a new event, chaining it to the previous hash. Write
// errors are retried once (spec §7), then escalated as Transient.
func (l *Log) Append(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now()
	}
	prev, err := l.store.LastHash(ctx)
	if err != nil {
		return errs.Transient("failed to load previous audit hash", err)
	}
	e.PreviousHash = prev

	hash, err := computeHash(e)
	if err != nil {
		return errs.Fatal("failed to compute audit hash", err)
	}
	e.Hash = hash

	appendErr := l.store.AppendEvent(ctx, e)
	if appendErr != nil {
		appendErr = l.store.AppendEvent(ctx, e) // one retry per spec §7
	}
	if appendErr != nil {
		return errs.Transient("failed to append audit event after retry", appendErr)
	}
	return nil
}

// VerifyChain scans events in insertion order, recomputing each hash. It
// returns true with count N on success, or false with the 1-based index of
// the first broken link.
func (l *Log) VerifyChain(ctx context.Context) (ok bool, position int, count int, err error) {
	events, err := l.store.ListEvents(ctx)
	if err != nil {
		return false, 0, 0, errs.Transient("failed to list audit events for verification", err)
	}

	var prevHash string
	for i, e := range events {
		if e.PreviousHash != prevHash {
			return false, i + 1, len(events), nil
		}
		want, herr := computeHash(e)
		if herr != nil {
			return false, i + 1, len(events), nil
		}
		if want != e.Hash {
			return false, i + 1, len(events), nil
		}
		prevHash = e.Hash
	}
	return true, 0, len(events), nil
}

// VerifyChainError is the Fatal error surfaced to operators when
// verification finds a broken link, per spec §7.
func VerifyChainError(position, count int) error {
	return errs.Fatal(fmt.Sprintf("audit chain broken at event %d of %d", position, count), nil)
}
