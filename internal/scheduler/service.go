package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/victormalit/mutsynchub/internal/audit"
	"github.com/victormalit/mutsynchub/internal/store"
	"github.com/victormalit/mutsynchub/pkg/logging"
)

// ErrTierForbidden is returned when an organization's subscription tier does
// not allow the requested frequency.
var ErrTierForbidden = errors.New("frequency not allowed for subscription tier")

// tierFrequencies maps subscription tiers to the frequencies they may use.
var tierFrequencies = map[string][]Frequency{
	"STARTER":   {FrequencyWeekly},
	"BUSINESS":  {FrequencyDaily, FrequencyWeekly},
	"CORPORATE": {FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom},
}

func tierAllows(tier string, frequency Frequency) bool {
	for _, f := range tierFrequencies[tier] {
		if f == frequency {
			return true
		}
	}
	return false
}

// Service owns the lifecycle of analytics schedules: persistence, tier
// policy, timer installation and audit. Timer state always follows the
// persisted row; a mutation that fails to persist never touches timers.
type Service struct {
	store  Store
	timers *TimerRegistry
	runner *Runner
	audit  AuditLogger
	logger logging.Logger
}

func NewService(st Store, timers *TimerRegistry, runner *Runner, auditLog AuditLogger, logger logging.Logger) *Service {
	return &Service{
		store:  st,
		timers: timers,
		runner: runner,
		audit:  auditLog,
		logger: logger,
	}
}

func (s *Service) fire(scheduleID string) {
	if err := s.runner.Run(context.Background(), scheduleID); err != nil {
		s.logger.WithError(err).WithField("schedule_id", scheduleID).Error("Scheduled run failed")
	}
}

func (s *Service) checkTier(ctx context.Context, orgID string, frequency Frequency) error {
	org, err := s.store.FindOrganization(ctx, orgID)
	if err != nil {
		return fmt.Errorf("load organization: %w", err)
	}
	if !tierAllows(org.SubscriptionTier, frequency) {
		return fmt.Errorf("%w: tier %s does not include %s", ErrTierForbidden, org.SubscriptionTier, frequency)
	}
	return nil
}

func intervalValue(interval *int) sql.NullInt64 {
	if interval == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*interval), Valid: true}
}

// Create validates, persists and installs a new schedule.
func (s *Service) Create(ctx context.Context, orgID, userID string, frequency Frequency, interval *int) (*store.Schedule, error) {
	if err := ValidateFrequency(frequency, interval); err != nil {
		return nil, err
	}
	if err := s.checkTier(ctx, orgID, frequency); err != nil {
		return nil, err
	}

	sched := &store.Schedule{
		OrgID:     orgID,
		Frequency: string(frequency),
		Interval:  intervalValue(interval),
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("persist schedule: %w", err)
	}

	if err := s.timers.Install(sched.ID, frequency, interval, s.fire); err != nil {
		return nil, fmt.Errorf("install timer: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		UserID:   userID,
		OrgID:    orgID,
		Action:   audit.ActionScheduleCreated,
		Resource: "analytics_schedule",
		Details: map[string]interface{}{
			"schedule_id": sched.ID,
			"frequency":   frequency,
		},
	})
	return sched, nil
}

// Update changes a schedule's frequency and reinstalls its timer. The
// registry replaces the old timer atomically, so a schedule never has two
// live timers during an update.
func (s *Service) Update(ctx context.Context, scheduleID, userID string, frequency Frequency, interval *int) (*store.Schedule, error) {
	if err := ValidateFrequency(frequency, interval); err != nil {
		return nil, err
	}

	sched, err := s.store.FindSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTier(ctx, sched.OrgID, frequency); err != nil {
		return nil, err
	}

	sched.Frequency = string(frequency)
	sched.Interval = intervalValue(interval)
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("persist schedule: %w", err)
	}

	if err := s.timers.Install(sched.ID, frequency, interval, s.fire); err != nil {
		return nil, fmt.Errorf("install timer: %w", err)
	}

	s.audit.Log(ctx, audit.Entry{
		UserID:   userID,
		OrgID:    sched.OrgID,
		Action:   audit.ActionScheduleUpdated,
		Resource: "analytics_schedule",
		Details: map[string]interface{}{
			"schedule_id": sched.ID,
			"frequency":   frequency,
		},
	})
	return sched, nil
}

// Delete removes the schedule row and cancels its timer.
func (s *Service) Delete(ctx context.Context, scheduleID, userID string) error {
	sched, err := s.store.FindSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteSchedule(ctx, scheduleID); err != nil {
		return err
	}
	s.timers.Uninstall(scheduleID)

	s.audit.Log(ctx, audit.Entry{
		UserID:   userID,
		OrgID:    sched.OrgID,
		Action:   audit.ActionScheduleDeleted,
		Resource: "analytics_schedule",
		Details: map[string]interface{}{
			"schedule_id": scheduleID,
		},
	})
	return nil
}

// Get loads one schedule.
func (s *Service) Get(ctx context.Context, scheduleID string) (*store.Schedule, error) {
	return s.store.FindSchedule(ctx, scheduleID)
}

// List returns an organization's schedules.
func (s *Service) List(ctx context.Context, orgID string) ([]store.Schedule, error) {
	return s.store.ListSchedules(ctx, orgID)
}

// ReinstallAll rehydrates timers for every persisted schedule. Called once
// at startup so schedules survive restarts. A schedule whose stored
// frequency no longer validates is logged and skipped rather than blocking
// the rest.
func (s *Service) ReinstallAll(ctx context.Context) error {
	schedules, err := s.store.ListAllSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	installed := 0
	for _, sched := range schedules {
		var interval *int
		if sched.Interval.Valid {
			v := int(sched.Interval.Int64)
			interval = &v
		}
		if err := s.timers.Install(sched.ID, Frequency(sched.Frequency), interval, s.fire); err != nil {
			s.logger.WithError(err).WithField("schedule_id", sched.ID).Error("Failed to reinstall schedule timer")
			continue
		}
		installed++
	}

	s.logger.WithFields(logging.Fields{
		"total":     len(schedules),
		"installed": installed,
	}).Info("Schedule timers reinstalled")
	return nil
}
