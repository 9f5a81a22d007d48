package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type memSys struct {
	on      bool
	message string
}

func (m *memSys) Maintenance() (bool, string) { return m.on, m.message }
func (m *memSys) SetMaintenance(on bool, message string) error {
	m.on, m.message = on, message
	return nil
}

func newTestServer(sys System) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(":0", logger, nil, sys, "")
	return srv.httpServer.Handler
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&memSys{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestMaintenanceRoundTrip(t *testing.T) {
	sys := &memSys{}
	h := newTestServer(sys)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"maintenance": true, "message": "back soon"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/maintenance", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d", rec.Code)
	}
	if !sys.on || sys.message != "back soon" {
		t.Fatalf("state = %v %q", sys.on, sys.message)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/maintenance", nil))
	if !strings.Contains(rec.Body.String(), `"maintenance":true`) {
		t.Fatalf("GET body = %q", rec.Body.String())
	}
}

func TestMaintenanceRejectsBadBody(t *testing.T) {
	h := newTestServer(&memSys{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/maintenance", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBasePathMounting(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(":0", logger, nil, &memSys{}, "/bot")
	h := srv.httpServer.Handler

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("prefixed path status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unprefixed path status = %d", rec.Code)
	}
}
