package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/victormalit/mutsynchub/internal/analytics"
	"github.com/victormalit/mutsynchub/internal/audit"
	"github.com/victormalit/mutsynchub/internal/metrics"
	"github.com/victormalit/mutsynchub/internal/store"
	"github.com/victormalit/mutsynchub/pkg/logging"
)

const (
	// runTimeout bounds one full schedule run across all datasets.
	runTimeout = 10 * time.Minute

	analysisType = "comprehensive"
)

var allMetrics = []string{"all"}

// Store is the persistence surface the scheduling layer depends on.
type Store interface {
	FindSchedule(ctx context.Context, scheduleID string) (*store.Schedule, error)
	FindOrganization(ctx context.Context, orgID string) (*store.Organization, error)
	FindOrganizationDatasets(ctx context.Context, orgID string) ([]store.Dataset, error)
	CreateSchedule(ctx context.Context, sched *store.Schedule) error
	UpdateSchedule(ctx context.Context, sched *store.Schedule) error
	DeleteSchedule(ctx context.Context, scheduleID string) error
	ListSchedules(ctx context.Context, orgID string) ([]store.Schedule, error)
	ListAllSchedules(ctx context.Context) ([]store.Schedule, error)
	CreateReport(ctx context.Context, report *store.Report) error
	UpdateScheduleTimestamp(ctx context.Context, scheduleID string) error
}

// AnalysisClient runs one analysis against the analytics engine.
type AnalysisClient interface {
	PerformAnalysis(ctx context.Context, req analytics.Request) (json.RawMessage, error)
}

// AuditLogger records audit events. Implementations must be fire-and-forget.
type AuditLogger interface {
	Log(ctx context.Context, entry audit.Entry)
}

// Runner executes scheduled analysis runs. One firing analyzes every dataset
// the schedule's organization owns; datasets are isolated from each other, so
// a single failure produces a failure report without aborting the rest.
type Runner struct {
	store    Store
	analysis AnalysisClient
	audit    AuditLogger
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewRunner(st Store, analysis AnalysisClient, auditLog AuditLogger, logger logging.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		store:    st,
		analysis: analysis,
		audit:    auditLog,
		logger:   logger,
		metrics:  m,
	}
}

// Run executes one firing of the schedule. A missing schedule means the timer
// outlived its row (deleted between firings); that is logged and skipped, not
// an error. There are no retries; the next firing retries naturally.
func (r *Runner) Run(ctx context.Context, scheduleID string) error {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	log := r.logger.WithField("schedule_id", scheduleID)

	sched, err := r.store.FindSchedule(ctx, scheduleID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Timer fired for deleted schedule, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	datasets, err := r.store.FindOrganizationDatasets(ctx, sched.OrgID)
	if err != nil {
		return fmt.Errorf("load datasets: %w", err)
	}
	if len(datasets) == 0 {
		log.WithField("org_id", sched.OrgID).Info("No datasets to analyze")
		return nil
	}

	if r.metrics != nil {
		r.metrics.ScheduleFirings.WithLabelValues(sched.Frequency).Inc()
	}

	for _, dataset := range datasets {
		r.runDataset(ctx, sched, dataset)
	}

	if err := r.store.UpdateScheduleTimestamp(ctx, scheduleID); err != nil {
		log.WithError(err).Error("Failed to update schedule timestamp")
	}
	return nil
}

func (r *Runner) runDataset(ctx context.Context, sched *store.Schedule, dataset store.Dataset) {
	log := r.logger.WithFields(logging.Fields{
		"schedule_id": sched.ID,
		"org_id":      sched.OrgID,
		"dataset_id":  dataset.ID,
	})

	result, err := r.analysis.PerformAnalysis(ctx, analytics.Request{
		Data:    dataset.Data,
		Type:    analysisType,
		Metrics: allMetrics,
	})
	if err != nil {
		log.WithError(err).Error("Scheduled analysis failed")
		r.recordOutcome(ctx, sched, dataset, nil, err)
		return
	}

	log.Info("Scheduled analysis completed")
	r.recordOutcome(ctx, sched, dataset, result, nil)
}

func (r *Runner) recordOutcome(ctx context.Context, sched *store.Schedule, dataset store.Dataset, result json.RawMessage, runErr error) {
	report := &store.Report{
		OrgID:      sched.OrgID,
		ScheduleID: sched.ID,
		Type:       analysisType,
	}
	action := audit.ActionAnalyticsRun
	outcome := "success"

	if runErr == nil {
		report.Name = fmt.Sprintf("Scheduled Analysis - %s", sched.Frequency)
		report.Status = store.ReportStatusCompleted
		report.Data = result
	} else {
		report.Name = fmt.Sprintf("Failed Analysis - %s", sched.Frequency)
		report.Status = store.ReportStatusFailed
		report.Data, _ = json.Marshal(map[string]string{"error": runErr.Error()})
		action = audit.ActionRunFailed
		outcome = "failure"
	}

	if r.metrics != nil {
		r.metrics.AnalysisRuns.WithLabelValues(outcome).Inc()
	}

	if err := r.store.CreateReport(ctx, report); err != nil {
		r.logger.WithError(err).WithFields(logging.Fields{
			"schedule_id": sched.ID,
			"dataset_id":  dataset.ID,
		}).Error("Failed to persist analysis report")
	}

	r.audit.Log(ctx, audit.Entry{
		OrgID:    sched.OrgID,
		Action:   action,
		Resource: "analytics_report",
		Details: map[string]interface{}{
			"schedule_id": sched.ID,
			"dataset_id":  dataset.ID,
			"frequency":   sched.Frequency,
		},
	})
}
