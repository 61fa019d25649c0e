package controller

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/status-core/internal/actions"
	"github.com/nerrad567/status-core/internal/infrastructure/database"
)

// AuditRepository persists an operational audit trail of processed
// events and finished actions to SQLite. It implements Observer; the
// scheduler itself never reads these tables, so write failures are
// logged and swallowed.
type AuditRepository struct {
	db     *database.DB
	logger Logger
}

// NewAuditRepository creates an audit repository on an open database.
func NewAuditRepository(db *database.DB, logger Logger) *AuditRepository {
	if logger == nil {
		logger = noopLogger{}
	}
	return &AuditRepository{db: db, logger: logger}
}

// EventQueued records an accepted event.
func (r *AuditRepository) EventQueued(ev *Event, priority int, force bool) {
	r.insertEvent(ev, priority, force, "queued")
}

// EventDropped records an event that matched no output.
func (r *AuditRepository) EventDropped(ev *Event) {
	r.insertEvent(ev, 0, false, "dropped")
}

// EventAdmitted marks a queued event as admitted with its action count.
func (r *AuditRepository) EventAdmitted(ev *Event, actionCount int) {
	_, err := r.db.Exec(
		`UPDATE events SET status = 'admitted', action_count = ?, admitted_at = ? WHERE id = ?`,
		actionCount, time.Now().UTC(), ev.ID,
	)
	if err != nil {
		r.logger.Error("audit: updating event record", "event_id", ev.ID, "error", err)
	}
}

// ActionFinished records a finished action.
func (r *AuditRepository) ActionFinished(a actions.Action, forced bool) {
	entities, err := json.Marshal(a.Entities())
	if err != nil {
		entities = []byte("[]")
	}
	_, err = r.db.Exec(
		`INSERT INTO action_results (kind, entities, priority, forced, finished_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ActionKind(a), string(entities), a.Priority(), forced, time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("audit: inserting action record", "error", err)
	}
}

// RecentEvents returns the most recent event records, newest first.
func (r *AuditRepository) RecentEvents(limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.Query(
		`SELECT id, tags, priority, force, status, action_count, received_at
		 FROM events ORDER BY received_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		var tags string
		if err := rows.Scan(&rec.ID, &tags, &rec.Priority, &rec.Force, &rec.Status, &rec.ActionCount, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			rec.Tags = nil
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EventRecord is one audited event row.
type EventRecord struct {
	ID          string    `json:"id"`
	Tags        []string  `json:"tags"`
	Priority    int       `json:"priority"`
	Force       bool      `json:"force"`
	Status      string    `json:"status"`
	ActionCount int       `json:"action_count"`
	ReceivedAt  time.Time `json:"received_at"`
}

func (r *AuditRepository) insertEvent(ev *Event, priority int, force bool, status string) {
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		tags = []byte("[]")
	}
	_, err = r.db.Exec(
		`INSERT INTO events (id, tags, priority, force, status, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, string(tags), priority, force, status, ev.Received,
	)
	if err != nil {
		r.logger.Error("audit: inserting event record", "event_id", ev.ID, "error", err)
	}
}

// ActionKind names an action variant for audit records, metrics and
// live feeds.
func ActionKind(a actions.Action) string {
	switch a.(type) {
	case *actions.SpeakAction:
		return "speak"
	case *actions.PlayMediaAction:
		return "play"
	case *actions.BreatheAction:
		return "breathe"
	case *actions.DeviceAction:
		return "device"
	case *actions.NotifyAction:
		return "notify"
	case *actions.PublishAction:
		return "publish"
	default:
		return "unknown"
	}
}
