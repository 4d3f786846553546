package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clinicore/session-coordinator/internal/domain"
)

func TestHTTPClientStartRecording(t *testing.T) {
	var gotPath, gotQuality string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		var req struct {
			Quality string `json:"quality"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotQuality = req.Quality
		json.NewEncoder(w).Encode(map[string]string{"recording_id": "rec-42"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	id, err := c.StartRecording(context.Background(), "visit-1", domain.QualityTierHigh)
	if err != nil {
		t.Fatal(err)
	}
	if id != "rec-42" {
		t.Fatalf("recording id = %q, want rec-42", id)
	}
	if gotPath != "POST /rooms/visit-1/recordings" {
		t.Fatalf("request = %q", gotPath)
	}
	if gotQuality != "high" {
		t.Fatalf("quality = %q, want high", gotQuality)
	}
}

func TestHTTPClientStartRecordingEmptyHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	if _, err := NewHTTPClient(srv.URL).StartRecording(context.Background(), "visit-1", domain.QualityTierLow); err == nil {
		t.Fatal("empty recording_id should be an error")
	}
}

func TestHTTPClientRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.StartRecording(context.Background(), "visit-1", domain.QualityTierLow); err == nil {
		t.Fatal("5xx start should be an error")
	}
	if err := c.StopRecording(context.Background(), "visit-1", "rec-1"); err == nil {
		t.Fatal("5xx stop should be an error")
	}
}

func TestHTTPClientStopRecording(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
	}))
	defer srv.Close()

	if err := NewHTTPClient(srv.URL).StopRecording(context.Background(), "visit-1", "rec-7"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "DELETE /rooms/visit-1/recordings/rec-7" {
		t.Fatalf("request = %q", gotPath)
	}
}

func TestHTTPClientQualityHint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
	}))
	defer srv.Close()

	if err := NewHTTPClient(srv.URL).SetQualityHint(context.Background(), "visit-1", domain.QualityTierLow); err != nil {
		t.Fatal(err)
	}
	if gotPath != "POST /rooms/visit-1/quality-hint" {
		t.Fatalf("request = %q", gotPath)
	}
}

func TestNoopIssuesSyntheticHandle(t *testing.T) {
	id, err := Noop{}.StartRecording(context.Background(), "visit-1", domain.QualityTierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if id != "local-visit-1" {
		t.Fatalf("handle = %q", id)
	}
}
