package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

type Organization struct {
	ID               string
	Name             string
	SubscriptionTier string
	CreatedAt        time.Time
}

type Dataset struct {
	ID        string
	OrgID     string
	Name      string
	Data      json.RawMessage
	CreatedAt time.Time
}

type Schedule struct {
	ID        string
	OrgID     string
	Frequency string
	Interval  sql.NullInt64 // minutes, only for custom frequency
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Report struct {
	ID         string
	OrgID      string
	ScheduleID string
	Name       string
	Type       string
	Status     string
	Data       json.RawMessage
	CreatedAt  time.Time
}

const (
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindOrganization loads an organization with its subscription tier.
func (s *Store) FindOrganization(ctx context.Context, orgID string) (*Organization, error) {
	query := `
		SELECT id, name, subscription_tier, created_at
		FROM organizations
		WHERE id = $1
	`
	var org Organization
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&org.ID, &org.Name, &org.SubscriptionTier, &org.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// FindOrganizationDatasets lists all datasets owned by an organization.
func (s *Store) FindOrganizationDatasets(ctx context.Context, orgID string) ([]Dataset, error) {
	query := `
		SELECT id, org_id, name, data, created_at
		FROM datasets
		WHERE org_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Name, &d.Data, &d.CreatedAt); err != nil {
			return nil, err
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// FindSchedule loads a single analytics schedule.
func (s *Store) FindSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	query := `
		SELECT id, org_id, frequency, interval_minutes, created_at, updated_at
		FROM analytics_schedules
		WHERE id = $1
	`
	var sched Schedule
	err := s.db.QueryRowContext(ctx, query, scheduleID).Scan(
		&sched.ID, &sched.OrgID, &sched.Frequency, &sched.Interval,
		&sched.CreatedAt, &sched.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListSchedules lists an organization's analytics schedules.
func (s *Store) ListSchedules(ctx context.Context, orgID string) ([]Schedule, error) {
	query := `
		SELECT id, org_id, frequency, interval_minutes, created_at, updated_at
		FROM analytics_schedules
		WHERE org_id = $1
		ORDER BY created_at
	`
	return s.querySchedules(ctx, query, orgID)
}

// ListAllSchedules lists every persisted schedule, for timer rehydration at
// startup.
func (s *Store) ListAllSchedules(ctx context.Context) ([]Schedule, error) {
	query := `
		SELECT id, org_id, frequency, interval_minutes, created_at, updated_at
		FROM analytics_schedules
		ORDER BY created_at
	`
	return s.querySchedules(ctx, query)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...interface{}) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var sched Schedule
		if err := rows.Scan(&sched.ID, &sched.OrgID, &sched.Frequency, &sched.Interval,
			&sched.CreatedAt, &sched.UpdatedAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// CreateSchedule inserts a schedule and fills in generated fields.
func (s *Store) CreateSchedule(ctx context.Context, sched *Schedule) error {
	query := `
		INSERT INTO analytics_schedules (org_id, frequency, interval_minutes)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`
	return s.db.QueryRowContext(ctx, query, sched.OrgID, sched.Frequency, sched.Interval).
		Scan(&sched.ID, &sched.CreatedAt, &sched.UpdatedAt)
}

// UpdateSchedule updates a schedule's frequency and interval.
func (s *Store) UpdateSchedule(ctx context.Context, sched *Schedule) error {
	query := `
		UPDATE analytics_schedules
		SET frequency = $2, interval_minutes = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query, sched.ID, sched.Frequency, sched.Interval).
		Scan(&sched.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// DeleteSchedule removes a schedule row.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analytics_schedules WHERE id = $1`, scheduleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateScheduleTimestamp bumps updated_at after a run completes.
func (s *Store) UpdateScheduleTimestamp(ctx context.Context, scheduleID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE analytics_schedules SET updated_at = NOW() WHERE id = $1`, scheduleID)
	return err
}

// CreateReport persists an analysis report.
func (s *Store) CreateReport(ctx context.Context, report *Report) error {
	query := `
		INSERT INTO analytics_reports (org_id, schedule_id, name, type, status, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return s.db.QueryRowContext(ctx, query,
		report.OrgID, report.ScheduleID, report.Name, report.Type, report.Status, report.Data,
	).Scan(&report.ID, &report.CreatedAt)
}
