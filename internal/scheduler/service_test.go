package scheduler

import (
	"context"
	"errors"
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/victormalit/mutsynchub/internal/audit"
	"github.com/victormalit/mutsynchub/internal/store"
)

func newTestService(t *testing.T, st Store) (*Service, *fakeAudit) {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	timers := NewTimerRegistry(logger)
	t.Cleanup(timers.Stop)
	auditLog := &fakeAudit{}
	runner := NewRunner(st, &fakeAnalysis{}, auditLog, logger, nil)
	return NewService(st, timers, runner, auditLog, logger), auditLog
}

func TestServiceCreate(t *testing.T) {
	st := newFakeStore()
	st.orgs["org-1"] = &store.Organization{ID: "org-1", SubscriptionTier: "BUSINESS"}
	svc, auditLog := newTestService(t, st)

	sched, err := svc.Create(context.Background(), "org-1", "user-1", FrequencyDaily, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sched.ID == "" {
		t.Fatal("schedule id not populated")
	}
	if n := svc.timers.ActiveTimers(); n != 1 {
		t.Fatalf("expected 1 timer, got %d", n)
	}
	if got := auditLog.actions(); len(got) != 1 || got[0] != audit.ActionScheduleCreated {
		t.Fatalf("unexpected audit actions: %v", got)
	}
}

func TestServiceCreateTierForbidden(t *testing.T) {
	st := newFakeStore()
	st.orgs["org-1"] = &store.Organization{ID: "org-1", SubscriptionTier: "STARTER"}
	svc, auditLog := newTestService(t, st)

	_, err := svc.Create(context.Background(), "org-1", "user-1", FrequencyHourly, nil)
	if !errors.Is(err, ErrTierForbidden) {
		t.Fatalf("expected ErrTierForbidden, got %v", err)
	}
	if len(st.schedules) != 0 {
		t.Fatal("nothing should be persisted on tier rejection")
	}
	if n := svc.timers.ActiveTimers(); n != 0 {
		t.Fatalf("no timer expected, got %d", n)
	}
	if len(auditLog.entries) != 0 {
		t.Fatalf("no audit expected, got %v", auditLog.actions())
	}
}

func TestServiceTierPolicy(t *testing.T) {
	tests := []struct {
		tier      string
		frequency Frequency
		interval  *int
		allowed   bool
	}{
		{"STARTER", FrequencyWeekly, nil, true},
		{"STARTER", FrequencyDaily, nil, false},
		{"BUSINESS", FrequencyDaily, nil, true},
		{"BUSINESS", FrequencyWeekly, nil, true},
		{"BUSINESS", FrequencyMonthly, nil, false},
		{"BUSINESS", FrequencyCustom, intPtr(30), false},
		{"CORPORATE", FrequencyHourly, nil, true},
		{"CORPORATE", FrequencyMonthly, nil, true},
		{"CORPORATE", FrequencyCustom, intPtr(30), true},
	}

	for _, tt := range tests {
		t.Run(tt.tier+"/"+string(tt.frequency), func(t *testing.T) {
			st := newFakeStore()
			st.orgs["org-1"] = &store.Organization{ID: "org-1", SubscriptionTier: tt.tier}
			svc, _ := newTestService(t, st)

			_, err := svc.Create(context.Background(), "org-1", "user-1", tt.frequency, tt.interval)
			if tt.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tt.allowed && !errors.Is(err, ErrTierForbidden) {
				t.Fatalf("expected ErrTierForbidden, got %v", err)
			}
		})
	}
}

func TestServiceCreateInvalidFrequency(t *testing.T) {
	st := newFakeStore()
	st.orgs["org-1"] = &store.Organization{ID: "org-1", SubscriptionTier: "CORPORATE"}
	svc, _ := newTestService(t, st)

	_, err := svc.Create(context.Background(), "org-1", "user-1", FrequencyCustom, nil)
	if !errors.Is(err, ErrIntervalRequired) {
		t.Fatalf("expected ErrIntervalRequired, got %v", err)
	}
}

func TestServiceUpdateReinstalls(t *testing.T) {
	st := newFakeStore()
	st.orgs["org-1"] = &store.Organization{ID: "org-1", SubscriptionTier: "CORPORATE"}
	svc, auditLog := newTestService(t, st)

	sched, err := svc.Create(context.Background(), "org-1", "user-1", FrequencyDaily, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := svc.Update(context.Background(), sched.ID, "user-1", FrequencyCustom, intPtr(15))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Frequency != string(FrequencyCustom) {
		t.Fatalf("unexpected frequency: %s", updated.Frequency)
	}
	if n := svc.timers.ActiveTimers(); n != 1 {
		t.Fatalf("update must not leak timers: got %d", n)
	}
	actions := auditLog.actions()
	if actions[len(actions)-1] != audit.ActionScheduleUpdated {
		t.Fatalf("unexpected audit actions: %v", actions)
	}
}

func TestServiceDelete(t *testing.T) {
	st := newFakeStore()
	st.orgs["org-1"] = &store.Organization{ID: "org-1", SubscriptionTier: "BUSINESS"}
	svc, auditLog := newTestService(t, st)

	sched, err := svc.Create(context.Background(), "org-1", "user-1", FrequencyWeekly, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(context.Background(), sched.ID, "user-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n := svc.timers.ActiveTimers(); n != 0 {
		t.Fatalf("timer should be gone, got %d", n)
	}
	if _, err := svc.Get(context.Background(), sched.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	actions := auditLog.actions()
	if actions[len(actions)-1] != audit.ActionScheduleDeleted {
		t.Fatalf("unexpected audit actions: %v", actions)
	}
}

func TestServiceDeleteMissing(t *testing.T) {
	st := newFakeStore()
	svc, _ := newTestService(t, st)

	if err := svc.Delete(context.Background(), "ghost", "user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceReinstallAll(t *testing.T) {
	st := newFakeStore()
	st.schedules["sched-1"] = &store.Schedule{ID: "sched-1", OrgID: "org-1", Frequency: "daily"}
	st.schedules["sched-2"] = &store.Schedule{ID: "sched-2", OrgID: "org-2", Frequency: "weekly"}
	// stored row with a frequency the validator no longer accepts
	st.schedules["sched-3"] = &store.Schedule{ID: "sched-3", OrgID: "org-3", Frequency: "fortnightly"}
	svc, _ := newTestService(t, st)

	if err := svc.ReinstallAll(context.Background()); err != nil {
		t.Fatalf("ReinstallAll: %v", err)
	}
	if n := svc.timers.ActiveTimers(); n != 2 {
		t.Fatalf("expected 2 reinstalled timers, got %d", n)
	}
}
