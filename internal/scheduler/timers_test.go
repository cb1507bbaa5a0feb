package scheduler

import (
	"errors"
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func newTestTimers(t *testing.T) *TimerRegistry {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	timers := NewTimerRegistry(logger)
	t.Cleanup(timers.Stop)
	return timers
}

func TestTimerRegistryInstall(t *testing.T) {
	timers := newTestTimers(t)

	if err := timers.Install("sched-1", FrequencyHourly, nil, func(string) {}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if n := timers.ActiveTimers(); n != 1 {
		t.Fatalf("expected 1 timer, got %d", n)
	}
}

func TestTimerRegistryInstallReplaces(t *testing.T) {
	timers := newTestTimers(t)

	if err := timers.Install("sched-1", FrequencyHourly, nil, func(string) {}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	// reinstalling the same schedule must never leave two live timers
	if err := timers.Install("sched-1", FrequencyCustom, intPtr(5), func(string) {}); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if n := timers.ActiveTimers(); n != 1 {
		t.Fatalf("expected 1 timer after reinstall, got %d", n)
	}
}

func TestTimerRegistryInstallInvalidFrequency(t *testing.T) {
	timers := newTestTimers(t)

	err := timers.Install("sched-1", "fortnightly", nil, func(string) {})
	if !errors.Is(err, ErrUnsupportedFrequency) {
		t.Fatalf("expected ErrUnsupportedFrequency, got %v", err)
	}
	if n := timers.ActiveTimers(); n != 0 {
		t.Fatalf("expected no timers, got %d", n)
	}
}

func TestTimerRegistryUninstall(t *testing.T) {
	timers := newTestTimers(t)

	if err := timers.Install("sched-1", FrequencyDaily, nil, func(string) {}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	timers.Uninstall("sched-1")
	if n := timers.ActiveTimers(); n != 0 {
		t.Fatalf("expected no timers, got %d", n)
	}

	// uninstalling again is a no-op
	timers.Uninstall("sched-1")
}

func TestTimerRegistryIndependentSchedules(t *testing.T) {
	timers := newTestTimers(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := timers.Install(id, FrequencyWeekly, nil, func(string) {}); err != nil {
			t.Fatalf("Install %s: %v", id, err)
		}
	}
	timers.Uninstall("b")
	if n := timers.ActiveTimers(); n != 2 {
		t.Fatalf("expected 2 timers, got %d", n)
	}
}
