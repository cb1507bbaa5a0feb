package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy")
	}
}

func TestHealthChecker_AggregatesWorstStatus(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("slow", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %q", got)
	}

	hc.AddCheck("down", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", got)
	}
}

func TestHTTPServiceHealthCheck(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }))
	defer s.Close()
	res := HTTPServiceHealthCheck("svc", s.URL)()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy")
	}
}

func TestDatabaseHealthCheck_NilDB(t *testing.T) {
	res := DatabaseHealthCheck(nil)()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for nil db, got %q", res.Status)
	}
}

func TestKafkaConsumerHealthCheck_NilClient(t *testing.T) {
	res := KafkaConsumerHealthCheck(nil)()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for nil client, got %q", res.Status)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"A": "set", "B": ""})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for missing config, got %q", res.Status)
	}
	res = ConfigurationHealthCheck(map[string]string{"A": "set"})()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", res.Status)
	}
}
