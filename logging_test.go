package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingHandlerWritesRequestLog(t *testing.T) {
	dir := t.TempDir()
	al, err := NewAppLogger(LogConfig{OutputDir: dir, LogRequests: true})
	if err != nil {
		t.Fatal(err)
	}
	defer al.Close()

	handler := &LoggingHandler{Handler: http.HandlerFunc(handleHealth), Logger: al}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("response = %d %q", rec.Code, rec.Body.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "requests.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "GET /healthz -> 200 OK") || !strings.HasPrefix(string(data), "#1 [") {
		t.Errorf("request log = %q", data)
	}
}

func TestLoggingRoundTripperKeepsBody(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		w.Write([]byte("streamed"))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	al, err := NewAppLogger(LogConfig{OutputDir: dir, LogRequests: true})
	if err != nil {
		t.Fatal(err)
	}
	defer al.Close()

	client := &http.Client{Transport: &LoggingRoundTripper{Logger: al}}
	resp, err := client.Post(upstream.URL+"/api/chat", "application/json", strings.NewReader(`{"prompt":"rain"}`))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if got != `{"prompt":"rain"}` {
		t.Errorf("upstream saw body %q", got)
	}
	if string(body) != "streamed" {
		t.Errorf("caller saw body %q", body)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "requests.log"))
	if !strings.Contains(string(data), `{"prompt":"rain"}`) || strings.Contains(string(data), "streamed") {
		t.Errorf("request log = %q", data)
	}
}

func TestLogDBDumpsJournal(t *testing.T) {
	dir := t.TempDir()
	al, err := NewAppLogger(LogConfig{OutputDir: dir, LogDB: true})
	if err != nil {
		t.Fatal(err)
	}
	defer al.Close()

	h := openTestHistory(t)
	al.AttachDB(h.DB())
	env := newTestEnv(t, func(o *RegistryOptions) { o.Journal = h })
	env.lobby(3)
	if err := h.Flush(t.Context()); err != nil {
		t.Fatal(err)
	}

	al.LogDB("after lobby")
	data, _ := os.ReadFile(filepath.Join(dir, "database.log"))
	if !strings.Contains(string(data), "after lobby") || strings.Count(string(data), "day 0 lobby") != 3 {
		t.Errorf("database log = %q", data)
	}
}

func TestLoggerWithoutOutputDir(t *testing.T) {
	al, err := NewAppLogger(LogConfig{LogRequests: true, LogDB: true, LogWS: true})
	if err != nil {
		t.Fatal(err)
	}
	// nothing to write to; these must be silent no-ops
	al.LogRequest("GET", "/", 0, nil, nil, nil)
	al.LogWebSocket("IN", "p1", "{}")
	al.LogDB("nothing")
	al.Close()
}
