package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func TestPerformAnalysis(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/analysis" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Service-Token") != "svc-token" {
			t.Errorf("missing service token")
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Type != "comprehensive" {
			t.Errorf("unexpected type: %s", req.Type)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"summary":{"rows":42}}`))
	}))
	defer srv.Close()

	logger, _ := logrustest.NewNullLogger()
	client := NewClient(Config{BaseURL: srv.URL, ServiceToken: "svc-token", Logger: logger})

	result, err := client.PerformAnalysis(context.Background(), Request{
		Data:    json.RawMessage(`{"rows":[]}`),
		Type:    "comprehensive",
		Metrics: []string{"all"},
	})
	if err != nil {
		t.Fatalf("PerformAnalysis: %v", err)
	}
	if !strings.Contains(string(result), `"rows":42`) {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestPerformAnalysisEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "dataset too large", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	logger, _ := logrustest.NewNullLogger()
	client := NewClient(Config{BaseURL: srv.URL, Logger: logger})

	_, err := client.PerformAnalysis(context.Background(), Request{Type: "comprehensive", Metrics: []string{"all"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("expected status in error, got: %v", err)
	}
}
