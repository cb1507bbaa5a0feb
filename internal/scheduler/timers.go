package scheduler

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/victormalit/mutsynchub/pkg/logging"
)

// FireFunc is the callback invoked each time a schedule's timer fires.
type FireFunc func(scheduleID string)

// TimerRegistry owns at most one live recurring timer per schedule id.
// Install atomically replaces any existing timer (cancel-then-create under
// one lock), so create and update share a single path and stale timers can
// never leak.
type TimerRegistry struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  logging.Logger
}

// NewTimerRegistry creates a registry with a running cron scheduler.
func NewTimerRegistry(logger logging.Logger) *TimerRegistry {
	c := cron.New()
	c.Start()
	return &TimerRegistry{
		cron:    c,
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Install registers a recurring timer for the schedule, replacing any
// existing one. Cancellation of a missing prior timer is not an error.
func (t *TimerRegistry) Install(scheduleID string, frequency Frequency, interval *int, onFire FireFunc) error {
	spec, err := ComputeTrigger(frequency, interval)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := timerKey(scheduleID)
	if entryID, ok := t.entries[key]; ok {
		t.cron.Remove(entryID)
		delete(t.entries, key)
	}

	entryID, err := t.cron.AddFunc(spec, func() {
		onFire(scheduleID)
	})
	if err != nil {
		return err
	}
	t.entries[key] = entryID

	t.logger.WithFields(logging.Fields{
		"schedule_id": scheduleID,
		"frequency":   frequency,
		"trigger":     spec,
	}).Info("Schedule timer installed")
	return nil
}

// Uninstall cancels the schedule's timer. No-op if none exists.
func (t *TimerRegistry) Uninstall(scheduleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := timerKey(scheduleID)
	if entryID, ok := t.entries[key]; ok {
		t.cron.Remove(entryID)
		delete(t.entries, key)
		t.logger.WithField("schedule_id", scheduleID).Info("Schedule timer removed")
	}
}

// ActiveTimers returns the number of live timers.
func (t *TimerRegistry) ActiveTimers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop halts the cron scheduler. Running callbacks finish; no further
// firings occur.
func (t *TimerRegistry) Stop() {
	t.cron.Stop()
}

func timerKey(scheduleID string) string {
	return "analytics_" + scheduleID
}
