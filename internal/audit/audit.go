package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/victormalit/mutsynchub/pkg/logging"
)

// Audit actions recorded by the analytics scheduling surface.
const (
	ActionScheduleCreated = "ANALYTICS_SCHEDULE_CREATED"
	ActionScheduleUpdated = "ANALYTICS_SCHEDULE_UPDATED"
	ActionScheduleDeleted = "ANALYTICS_SCHEDULE_DELETED"
	ActionAnalyticsRun    = "ANALYTICS_RUN"
	ActionRunFailed       = "ANALYTICS_RUN_FAILED"
)

type Entry struct {
	UserID   string
	OrgID    string
	Action   string
	Resource string
	Details  map[string]interface{}
}

// Logger writes audit entries to the audit_logs table. Audit is
// fire-and-forget: failures are logged but never returned, so a broken
// audit trail cannot fail the operation being audited.
type Logger struct {
	db     *sql.DB
	logger logging.Logger
}

func NewLogger(db *sql.DB, logger logging.Logger) *Logger {
	return &Logger{db: db, logger: logger}
}

func (l *Logger) Log(ctx context.Context, entry Entry) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		l.logger.WithError(err).WithFields(logging.Fields{
			"action": entry.Action,
			"org_id": entry.OrgID,
		}).Error("Failed to marshal audit details")
		return
	}

	query := `
		INSERT INTO audit_logs (user_id, org_id, action, resource, details)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5)
	`
	if _, err := l.db.ExecContext(ctx, query,
		entry.UserID, entry.OrgID, entry.Action, entry.Resource, details); err != nil {
		l.logger.WithError(err).WithFields(logging.Fields{
			"action": entry.Action,
			"org_id": entry.OrgID,
		}).Error("Failed to write audit log")
	}
}
