// Package repository is the Compliance Repository: the single pgx-backed
// persistence layer behind the audit log, DSAR workflow, consent
// registry, and breach notification workflow. It holds no business logic
// of its own — every state transition lives in its owning package.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forge-health/compliance-diagnostics/pkg/audit"
	"github.com/forge-health/compliance-diagnostics/pkg/breach"
	"github.com/forge-health/compliance-diagnostics/pkg/compliance/errs"
	"github.com/forge-health/compliance-diagnostics/pkg/consent"
	"github.com/forge-health/compliance-diagnostics/pkg/dsar"
	"github.com/forge-health/compliance-diagnostics/pkg/security/auth"
)

// nullableTime converts a zero time.Time (Go's "unset" sentinel) to nil
// so optional TIMESTAMPTZ columns store SQL NULL instead of the zero date.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Repository implements audit.Store, dsar.Store, consent.Store, and
// breach.Store against a single PostgreSQL pool.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs the Compliance Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// --- audit.Store -----------------------------------------------------

// LastHash returns the hash of the most recently appended audit event,
// or "" if the chain is empty.
func (r *Repository) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, `SELECT hash FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// AppendEvent inserts a new audit event row.
func (r *Repository) AppendEvent(ctx context.Context, e *audit.Event) error {
	oldVal, err := marshalJSON(e.OldValue)
	if err != nil {
		return err
	}
	newVal, err := marshalJSON(e.NewValue)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_events (
			id, category, event_type, action, actor, actor_type, actor_ip,
			entity_type, entity_id, correlation_id, old_value, new_value,
			success, risk, error_message, data_classification, justification,
			previous_hash, hash, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		e.ID, string(e.Category), e.EventType, e.Action, e.Actor, e.ActorType, e.ActorIP,
		e.EntityType, e.EntityID, e.CorrelationID, oldVal, newVal,
		e.Success, string(e.Risk), e.ErrorMessage, e.DataClassification, e.Justification,
		e.PreviousHash, e.Hash, e.CreatedAt,
	)
	return err
}

// ListEvents returns every audit event in append order.
func (r *Repository) ListEvents(ctx context.Context) ([]*audit.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, category, event_type, action, actor, actor_type, actor_ip,
			entity_type, entity_id, correlation_id, old_value, new_value,
			success, risk, error_message, data_classification, justification,
			previous_hash, hash, created_at
		FROM audit_events ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Event
	for rows.Next() {
		e := &audit.Event{}
		var category, risk string
		var oldVal, newVal []byte
		if err := rows.Scan(
			&e.ID, &category, &e.EventType, &e.Action, &e.Actor, &e.ActorType, &e.ActorIP,
			&e.EntityType, &e.EntityID, &e.CorrelationID, &oldVal, &newVal,
			&e.Success, &risk, &e.ErrorMessage, &e.DataClassification, &e.Justification,
			&e.PreviousHash, &e.Hash, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Category = audit.Category(category)
		e.Risk = audit.Risk(risk)
		if len(oldVal) > 0 {
			_ = json.Unmarshal(oldVal, &e.OldValue)
		}
		if len(newVal) > 0 {
			_ = json.Unmarshal(newVal, &e.NewValue)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- dsar.Store --------------------------------------------------------

func (r *Repository) CreateDSAR(ctx context.Context, req *dsar.Request) error {
	frameworks, err := marshalJSON(req.Frameworks)
	if err != nil {
		return err
	}
	subjectInfo, err := marshalJSON(req.SubjectInfo)
	if err != nil {
		return err
	}
	notes, err := marshalJSON(req.ProcessingNotes)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO dsar_requests (
			id, request_type, jurisdiction, frameworks, subject_info, status,
			deadline, processing_notes, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		req.ID, string(req.RequestType), string(req.Jurisdiction), frameworks, subjectInfo,
		string(req.Status), req.Deadline, notes, req.CreatedAt, req.UpdatedAt,
	)
	return err
}

func scanDSAR(row pgx.Row) (*dsar.Request, error) {
	req := &dsar.Request{}
	var requestType, jurisdiction, status string
	var frameworks, subjectInfo, notes []byte
	if err := row.Scan(
		&req.ID, &requestType, &jurisdiction, &frameworks, &subjectInfo, &status,
		&req.Deadline, &notes, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.RequestType = dsar.RequestType(requestType)
	req.Jurisdiction = dsar.Jurisdiction(jurisdiction)
	req.Status = dsar.Status(status)
	_ = json.Unmarshal(frameworks, &req.Frameworks)
	_ = json.Unmarshal(subjectInfo, &req.SubjectInfo)
	_ = json.Unmarshal(notes, &req.ProcessingNotes)
	return req, nil
}

const dsarColumns = `id, request_type, jurisdiction, frameworks, subject_info, status, deadline, processing_notes, created_at, updated_at`

func (r *Repository) GetDSAR(ctx context.Context, id string) (*dsar.Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+dsarColumns+` FROM dsar_requests WHERE id = $1`, id)
	req, err := scanDSAR(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("dsar not found", err)
	}
	return req, err
}

func (r *Repository) UpdateDSAR(ctx context.Context, req *dsar.Request) error {
	notes, err := marshalJSON(req.ProcessingNotes)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE dsar_requests SET status = $1, deadline = $2, processing_notes = $3, updated_at = $4
		WHERE id = $5
	`, string(req.Status), req.Deadline, notes, req.UpdatedAt, req.ID)
	return err
}

func (r *Repository) ListOverdueDSARs(ctx context.Context, now time.Time) ([]*dsar.Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dsarColumns+` FROM dsar_requests WHERE deadline < $1 ORDER BY deadline ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*dsar.Request
	for rows.Next() {
		req, err := scanDSAR(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *Repository) ListDSARs(ctx context.Context) ([]*dsar.Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dsarColumns+` FROM dsar_requests ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*dsar.Request
	for rows.Next() {
		req, err := scanDSAR(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// --- consent.Store ------------------------------------------------------

func (r *Repository) CreateConsent(ctx context.Context, rec *consent.Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO consent_records (
			id, subject_id, purpose, granted, version, granted_at, revoked_at, expires_at, source
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		rec.ID, rec.SubjectID, string(rec.Purpose), rec.Granted, rec.Version,
		rec.GrantedAt, nullableTime(rec.RevokedAt), nullableTime(rec.ExpiresAt), rec.Source,
	)
	return err
}

func scanConsent(row pgx.Row) (*consent.Record, error) {
	rec := &consent.Record{}
	var purpose string
	var revokedAt, expiresAt *time.Time
	if err := row.Scan(
		&rec.ID, &rec.SubjectID, &purpose, &rec.Granted, &rec.Version,
		&rec.GrantedAt, &revokedAt, &expiresAt, &rec.Source,
	); err != nil {
		return nil, err
	}
	rec.Purpose = consent.Purpose(purpose)
	if revokedAt != nil {
		rec.RevokedAt = *revokedAt
	}
	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
	}
	return rec, nil
}

const consentColumns = `id, subject_id, purpose, granted, version, granted_at, revoked_at, expires_at, source`

func (r *Repository) LatestConsent(ctx context.Context, subjectID string, purpose consent.Purpose) (*consent.Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consentColumns+` FROM consent_records
		WHERE subject_id = $1 AND purpose = $2
		ORDER BY version DESC LIMIT 1
	`, subjectID, string(purpose))
	rec, err := scanConsent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *Repository) ListConsentHistory(ctx context.Context, subjectID string, purpose consent.Purpose) ([]*consent.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consentColumns+` FROM consent_records
		WHERE subject_id = $1 AND purpose = $2
		ORDER BY version ASC
	`, subjectID, string(purpose))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*consent.Record
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) ListConsentsForSubject(ctx context.Context, subjectID string) ([]*consent.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consentColumns+` FROM consent_records
		WHERE subject_id = $1
		ORDER BY purpose ASC, version DESC
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*consent.Record
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- breach.Store --------------------------------------------------------

func (r *Repository) CreateIncident(ctx context.Context, inc *breach.Incident) error {
	alertLevels, err := marshalJSON(inc.SentAlertLevels)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO breach_incidents (
			id, description, jurisdiction, severity, status, affected_records,
			data_classification, encrypted, likely_harm, dpa_notification_required,
			individual_notification_required, dpa_deadline, detected_at, assessed_at,
			closed_at, sent_alert_levels
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		inc.ID, inc.Description, string(inc.Jurisdiction), string(inc.Severity), string(inc.Status),
		inc.AffectedRecords, inc.DataClassification, inc.Encrypted, inc.LikelyHarm,
		inc.DPANotificationRequired, inc.IndividualNotificationRequired,
		nullableTime(inc.DPADeadline), inc.DetectedAt, nullableTime(inc.AssessedAt),
		nullableTime(inc.ClosedAt), alertLevels,
	)
	return err
}

const breachColumns = `id, description, jurisdiction, severity, status, affected_records,
	data_classification, encrypted, likely_harm, dpa_notification_required,
	individual_notification_required, dpa_deadline, detected_at, assessed_at,
	closed_at, sent_alert_levels`

func scanIncident(row pgx.Row) (*breach.Incident, error) {
	inc := &breach.Incident{}
	var jurisdiction, severity, status string
	var dpaDeadline, assessedAt, closedAt *time.Time
	var alertLevels []byte
	if err := row.Scan(
		&inc.ID, &inc.Description, &jurisdiction, &severity, &status, &inc.AffectedRecords,
		&inc.DataClassification, &inc.Encrypted, &inc.LikelyHarm, &inc.DPANotificationRequired,
		&inc.IndividualNotificationRequired, &dpaDeadline, &inc.DetectedAt, &assessedAt,
		&closedAt, &alertLevels,
	); err != nil {
		return nil, err
	}
	inc.Jurisdiction = breach.Jurisdiction(jurisdiction)
	inc.Severity = breach.Severity(severity)
	inc.Status = breach.Status(status)
	if dpaDeadline != nil {
		inc.DPADeadline = *dpaDeadline
	}
	if assessedAt != nil {
		inc.AssessedAt = *assessedAt
	}
	if closedAt != nil {
		inc.ClosedAt = *closedAt
	}
	inc.SentAlertLevels = make(map[breach.AlertLevel]bool)
	if len(alertLevels) > 0 {
		_ = json.Unmarshal(alertLevels, &inc.SentAlertLevels)
	}
	return inc, nil
}

func (r *Repository) GetIncident(ctx context.Context, id string) (*breach.Incident, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+breachColumns+` FROM breach_incidents WHERE id = $1`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("breach incident not found", err)
	}
	return inc, err
}

func (r *Repository) UpdateIncident(ctx context.Context, inc *breach.Incident) error {
	alertLevels, err := marshalJSON(inc.SentAlertLevels)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE breach_incidents SET
			severity = $1, status = $2, likely_harm = $3, dpa_notification_required = $4,
			individual_notification_required = $5, dpa_deadline = $6, assessed_at = $7,
			closed_at = $8, sent_alert_levels = $9
		WHERE id = $10
	`,
		string(inc.Severity), string(inc.Status), inc.LikelyHarm, inc.DPANotificationRequired,
		inc.IndividualNotificationRequired, nullableTime(inc.DPADeadline), nullableTime(inc.AssessedAt),
		nullableTime(inc.ClosedAt), alertLevels, inc.ID,
	)
	return err
}

func (r *Repository) ListOpenIncidents(ctx context.Context) ([]*breach.Incident, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+breachColumns+` FROM breach_incidents WHERE status != 'closed' ORDER BY detected_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*breach.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (r *Repository) RecordNotification(ctx context.Context, n *breach.NotificationRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_records (id, incident_id, level, sent_at, channel)
		VALUES ($1,$2,$3,$4,$5)
	`, n.ID, n.IncidentID, string(n.Level), n.SentAt, n.Channel)
	return err
}

// --- auth.Store ----------------------------------------------------------

func (r *Repository) AppendPasswordRecord(ctx context.Context, subject, hash string, changedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_history (subject, hash, changed_at) VALUES ($1,$2,$3)
	`, subject, hash, changedAt)
	return err
}

func (r *Repository) PasswordHistory(ctx context.Context, subject string) ([]auth.PasswordRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT hash, changed_at FROM password_history WHERE subject = $1 ORDER BY changed_at ASC
	`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.PasswordRecord
	for rows.Next() {
		var rec auth.PasswordRecord
		if err := rows.Scan(&rec.Hash, &rec.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) AppendFailedAttempt(ctx context.Context, subject string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO failed_login_attempts (subject, attempted_at) VALUES ($1,$2)
	`, subject, at)
	return err
}

func (r *Repository) RecentFailedAttempts(ctx context.Context, subject string, since time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT attempted_at FROM failed_login_attempts WHERE subject = $1 AND attempted_at > $2
	`, subject, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

func (r *Repository) ClearFailedAttempts(ctx context.Context, subject string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM failed_login_attempts WHERE subject = $1`, subject)
	return err
}
