package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitewarden/internal/clock"
	"github.com/goodtune/sitewarden/internal/engine"
	"github.com/goodtune/sitewarden/internal/grants"
	"github.com/goodtune/sitewarden/internal/ledger"
	"github.com/goodtune/sitewarden/internal/lockstate"
	"github.com/goodtune/sitewarden/internal/notify"
	"github.com/goodtune/sitewarden/internal/storage"
	"github.com/goodtune/sitewarden/internal/storage/bolt"
	"github.com/goodtune/sitewarden/internal/tracker"
)

type fixture struct {
	server *Server
	store  *bolt.Store
	hub    *notify.Hub
	clock  *clock.TestClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "test.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock.TestClock{CurrentTime: time.Date(2024, 1, 2, 12, 0, 0, 0, time.Local)}
	logger := zerolog.Nop()
	ldg := ledger.New(store.Usage(), clk, logger)
	machine := lockstate.NewMachine(store.Usage(), clk, logger)
	hub := notify.NewHub(logger)
	trk := tracker.New(ldg, machine, store.TimeLock(), store.Policy(), hub, clk, time.Hour, logger)
	t.Cleanup(trk.StopAll)

	eng, err := engine.New(store.Sites(), ldg, machine, trk, store.TimeLock(), store.Policy(), hub, clk, logger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	grantSvc := grants.New(ldg, machine, store.Policy(), hub, clk, logger)

	server := NewServer("127.0.0.1:0", store, eng, grantSvc, ldg, hub, logger)
	return &fixture{server: server, store: store, hub: hub, clock: clk}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSite(t *testing.T, domain string, limitSeconds int64) storage.Site {
	t.Helper()

	rec := f.do(t, "POST", "/api/v1/sites", map[string]interface{}{
		"domain":              domain,
		"daily_limit_seconds": limitSeconds,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create site: status %d body %s", rec.Code, rec.Body.String())
	}

	var site storage.Site
	if err := json.Unmarshal(rec.Body.Bytes(), &site); err != nil {
		t.Fatalf("decode site: %v", err)
	}
	return site
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status %d", rec.Code)
	}
}

func TestSiteCreateNormalizesDomain(t *testing.T) {
	f := newFixture(t)

	site := f.createSite(t, "www.YouTube.com", 3600)
	if site.Domain != "youtube.com" {
		t.Fatalf("expected normalized domain, got %q", site.Domain)
	}
	if site.ID == "" || !site.Enabled || site.DisplayName != "youtube.com" {
		t.Fatalf("unexpected site defaults: %+v", site)
	}
}

func TestSiteCreateRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.createSite(t, "youtube.com", 3600)

	rec := f.do(t, "POST", "/api/v1/sites", map[string]interface{}{
		"domain":              "m.youtube.com", // normalizes to the same key
		"daily_limit_seconds": 600,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate domain, got %d", rec.Code)
	}
}

func TestSiteCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing domain", map[string]interface{}{"daily_limit_seconds": 600}},
		{"bad domain", map[string]interface{}{"domain": "not a domain", "daily_limit_seconds": 600}},
		{"zero limit", map[string]interface{}{"domain": "youtube.com", "daily_limit_seconds": 0}},
		{"negative limit", map[string]interface{}{"domain": "youtube.com", "daily_limit_seconds": -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, "POST", "/api/v1/sites", tt.body); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSiteUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	site := f.createSite(t, "youtube.com", 3600)

	rec := f.do(t, "PUT", "/api/v1/sites/"+site.ID, map[string]interface{}{
		"domain":              "youtube.com",
		"daily_limit_seconds": 1800,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	updated := decode[storage.Site](t, rec)
	if updated.ID != site.ID || updated.DailyLimitSeconds != 1800 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if rec := f.do(t, "DELETE", "/api/v1/sites/"+site.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/v1/sites/"+site.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestNavigationEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createSite(t, "youtube.com", 3600)

	rec := f.do(t, "POST", "/api/v1/navigation", map[string]string{"url": "https://www.youtube.com/watch"})
	if rec.Code != http.StatusOK {
		t.Fatalf("navigation: status %d body %s", rec.Code, rec.Body.String())
	}

	decision := decode[engine.Decision](t, rec)
	if decision.Action != engine.ActionTrack || decision.Domain != "youtube.com" {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	if rec := f.do(t, "POST", "/api/v1/navigation", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing url, got %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createSite(t, "youtube.com", 3600)

	rec := f.do(t, "GET", "/api/v1/status/youtube.com", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body %s", rec.Code, rec.Body.String())
	}
	report := decode[engine.StatusReport](t, rec)
	if report.Status != storage.StatusActive || report.RemainingSeconds != 3600 {
		t.Fatalf("unexpected report: %+v", report)
	}

	if rec := f.do(t, "GET", "/api/v1/status/unknown.com", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unmonitored domain, got %d", rec.Code)
	}
}

func TestEmergencyUseEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createSite(t, "youtube.com", 3600)
	ctx := context.Background()

	now := f.clock.Now()
	err := f.store.Usage().Put(ctx, storage.DayUsage{
		Domain: "youtube.com", Date: "2024-01-02",
		Status: storage.StatusPending, PendingStartedAt: &now,
		UsedSeconds: 3600,
	})
	if err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	rec := f.do(t, "POST", "/api/v1/emergency-use", map[string]string{"domain": "youtube.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency use: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		Granted      bool  `json:"granted"`
		ExtraSeconds int64 `json:"extra_seconds"`
	}](t, rec)
	if !resp.Granted || resp.ExtraSeconds != storage.DefaultEmergencyExtraSeconds {
		t.Fatalf("expected granted with %d extra seconds, got %+v", storage.DefaultEmergencyExtraSeconds, resp)
	}

	// Now active, so a second request is a state conflict.
	if rec := f.do(t, "POST", "/api/v1/emergency-use", map[string]string{"domain": "youtube.com"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for active domain, got %d", rec.Code)
	}
}

func TestLockNowEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createSite(t, "youtube.com", 3600)

	rec := f.do(t, "POST", "/api/v1/lock-now", map[string]string{"domain": "youtube.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("lock-now: status %d body %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(t, "POST", "/api/v1/lock-now", map[string]string{"domain": "youtube.com"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for already locked, got %d", rec.Code)
	}
}

func TestRestartEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createSite(t, "youtube.com", 3600)
	f.createSite(t, "reddit.com", 3600)
	ctx := context.Background()

	for _, domain := range []string{"youtube.com", "reddit.com"} {
		err := f.store.Usage().Put(ctx, storage.DayUsage{
			Domain: domain, Date: "2024-01-02", Status: storage.StatusLocked, UsedSeconds: 3600,
		})
		if err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}

	rec := f.do(t, "POST", "/api/v1/restart", map[string]string{"domain": "youtube.com", "kind": "emergency"})
	if rec.Code != http.StatusOK {
		t.Fatalf("emergency restart: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, "POST", "/api/v1/restart", map[string]string{"domain": "reddit.com", "kind": "emergency"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for second emergency restart, got %d", rec.Code)
	}
	denial := decode[map[string]interface{}](t, rec)
	if granted, _ := denial["granted"].(bool); granted {
		t.Fatalf("expected granted=false, got %v", denial)
	}

	// The denied domain can still use a normal restart.
	rec = f.do(t, "POST", "/api/v1/restart", map[string]string{"domain": "reddit.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("normal restart: status %d body %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(t, "POST", "/api/v1/restart", map[string]string{"domain": "youtube.com", "kind": "bogus"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad kind, got %d", rec.Code)
	}
}

func TestTimeLockEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "PUT", "/api/v1/timelock", map[string]interface{}{
		"enabled": true,
		"mode":    "restricted",
		"windows": []map[string]interface{}{
			{"id": "night", "start_time": "10:00", "end_time": "14:00", "enabled": true},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put timelock: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, "GET", "/api/v1/timelock", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get timelock: status %d", rec.Code)
	}
	status := decode[engine.TimeLockStatus](t, rec)
	if !status.Locked {
		t.Fatalf("noon inside 10:00-14:00 should report locked, got %+v", status)
	}

	rec = f.do(t, "PUT", "/api/v1/timelock", map[string]interface{}{
		"enabled": true,
		"windows": []map[string]interface{}{
			{"id": "bad", "start_time": "25:00", "end_time": "14:00", "enabled": true},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed window, got %d", rec.Code)
	}
}

func TestWeeklyUsageEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createSite(t, "youtube.com", 3600)
	ctx := context.Background()

	for i, seconds := range []int64{100, 200, 300} {
		date := fmt.Sprintf("2024-01-0%d", i+1) // within the last 7 days
		err := f.store.Usage().Put(ctx, storage.DayUsage{
			Domain: "youtube.com", Date: date, Status: storage.StatusActive, UsedSeconds: seconds,
		})
		if err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}

	rec := f.do(t, "GET", "/api/v1/usage/youtube.com/weekly", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("weekly usage: status %d body %s", rec.Code, rec.Body.String())
	}
	result := decode[map[string]interface{}](t, rec)
	if total, _ := result["total_seconds"].(float64); total != 600 {
		t.Fatalf("expected 600 total seconds, got %v", result)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.server.Router().ServeHTTP(rec, req)
	}()

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(time.Second)
	for f.hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.hub.Publish(notify.Event{Type: notify.EventLocked, Domain: "youtube.com"})

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: locked") || !strings.Contains(body, `"youtube.com"`) {
		t.Fatalf("expected locked event in stream, got %q", body)
	}
}
