package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newStubAPI(t *testing.T, token string) (*httptest.Server, *apiClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req["manuscriptId"] == "missing" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "manuscript not found"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"reportId": "rep-42"})
	})
	mux.HandleFunc("/api/status/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"state":    "running",
			"progress": 55.0,
		})
	})
	mux.HandleFunc("/api/cancel/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/api/result/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "result not available"})
			return
		}
		w.Write([]byte(`{"keywords":["a"]}`))
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "llm unreachable"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, newAPIClient(server.URL, token)
}

func TestClientSubmit(t *testing.T) {
	_, client := newStubAPI(t, "secret")
	reportID, err := client.Submit(context.Background(), "user-1", "ms-1", "pro")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if reportID != "rep-42" {
		t.Fatalf("unexpected report id %q", reportID)
	}
}

func TestClientSubmitErrorSurfacesMessage(t *testing.T) {
	_, client := newStubAPI(t, "")
	_, err := client.Submit(context.Background(), "user-1", "missing", "")
	if err == nil {
		t.Fatal("expected error for missing manuscript")
	}
	if !strings.Contains(err.Error(), "manuscript not found") {
		t.Fatalf("expected server message in error, got: %v", err)
	}
}

func TestClientRejectedWithoutToken(t *testing.T) {
	server, _ := newStubAPI(t, "secret")
	client := newAPIClient(server.URL, "")
	_, err := client.Submit(context.Background(), "user-1", "ms-1", "")
	if err == nil {
		t.Fatal("expected auth failure without token")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 in error, got: %v", err)
	}
}

func TestClientStatus(t *testing.T) {
	_, client := newStubAPI(t, "")
	record, err := client.Status(context.Background(), "rep-42")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if string(record.State) != "running" || record.Progress != 55 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestClientCancel(t *testing.T) {
	_, client := newStubAPI(t, "")
	if err := client.Cancel(context.Background(), "rep-42"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestClientResultPassThrough(t *testing.T) {
	_, client := newStubAPI(t, "")
	payload, err := client.Result(context.Background(), "rep-42", "keywords")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if !strings.Contains(string(payload), "keywords") {
		t.Fatalf("unexpected payload: %s", payload)
	}

	_, err = client.Result(context.Background(), "rep-42", "missing")
	if err == nil || !strings.Contains(err.Error(), "result not available") {
		t.Fatalf("expected missing result error, got: %v", err)
	}
}

func TestClientHealthUnhealthyBody(t *testing.T) {
	_, client := newStubAPI(t, "")
	report, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != "unhealthy" || report.Error != "llm unreachable" {
		t.Fatalf("unexpected report: %+v", report)
	}
}
