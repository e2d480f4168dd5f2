package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// bodyLimit caps how much of a request or response body ends up in a log.
const bodyLimit = 4096

// LogConfig selects which diagnostic channels are written to OutputDir.
type LogConfig struct {
	OutputDir   string
	LogRequests bool
	LogDB       bool
	LogWS       bool
	Debug       bool
}

// logChannel is one append-only diagnostic file. A nil channel is disabled.
type logChannel struct {
	mu    sync.Mutex
	file  *os.File
	count int
}

func openChannel(enabled bool, dir, name string) (*logChannel, error) {
	if !enabled || dir == "" {
		return nil, nil
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return &logChannel{file: f}, nil
}

// entry numbers and formats one record, written in a single call
func (c *logChannel) entry(format func(w *bytes.Buffer, n int)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	var buf bytes.Buffer
	format(&buf, c.count)
	c.file.Write(buf.Bytes())
}

func (c *logChannel) close() {
	if c != nil {
		c.file.Close()
	}
}

// AppLogger writes the server's opt-in diagnostics: HTTP traffic, WebSocket
// frames and journal dumps, each to its own file, plus debug lines on the
// standard logger.
type AppLogger struct {
	debug bool

	requests *logChannel
	frames   *logChannel
	journal  *logChannel

	dbMu sync.Mutex
	db   *sqlx.DB
}

// appLogger is shared by the hub, the journal and the narrator. nil until
// InitAppLogger runs.
var appLogger *AppLogger

func NewAppLogger(config LogConfig) (*AppLogger, error) {
	al := &AppLogger{debug: config.Debug}

	var err error
	if al.requests, err = openChannel(config.LogRequests, config.OutputDir, "requests.log"); err != nil {
		return nil, err
	}
	if al.frames, err = openChannel(config.LogWS, config.OutputDir, "websocket.log"); err != nil {
		al.Close()
		return nil, err
	}
	if al.journal, err = openChannel(config.LogDB, config.OutputDir, "database.log"); err != nil {
		al.Close()
		return nil, err
	}
	return al, nil
}

// InitAppLogger replaces appLogger.
func InitAppLogger(config LogConfig) error {
	var err error
	appLogger, err = NewAppLogger(config)
	return err
}

// AttachDB sets the journal database LogDB dumps.
func (al *AppLogger) AttachDB(db *sqlx.DB) {
	al.dbMu.Lock()
	al.db = db
	al.dbMu.Unlock()
}

func (al *AppLogger) Close() {
	al.requests.close()
	al.frames.close()
	al.journal.close()
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

func writeBody(w *bytes.Buffer, label string, body []byte) {
	if len(body) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", label)
	if len(body) > bodyLimit {
		w.Write(body[:bodyLimit])
		fmt.Fprintf(w, "\n  ... %d of %d bytes\n", bodyLimit, len(body))
		return
	}
	w.Write(body)
	w.WriteByte('\n')
}

// LogRequest records one HTTP exchange. status 0 means no response arrived.
func (al *AppLogger) LogRequest(method, url string, status int, header http.Header, reqBody, respBody []byte) {
	al.requests.entry(func(w *bytes.Buffer, n int) {
		result := "no response"
		if status != 0 {
			result = fmt.Sprintf("%d %s", status, http.StatusText(status))
		}
		fmt.Fprintf(w, "#%d [%s] %s %s -> %s\n", n, stamp(), method, url, result)
		if ct := header.Get("Content-Type"); ct != "" {
			fmt.Fprintf(w, "  content-type: %s\n", ct)
		}
		writeBody(w, "request", reqBody)
		writeBody(w, "response", respBody)
	})
}

// LogWebSocket records one frame. direction is IN or OUT.
func (al *AppLogger) LogWebSocket(direction, identity, message string) {
	al.frames.entry(func(w *bytes.Buffer, n int) {
		fmt.Fprintf(w, "#%d [%s] %-3s %s %s\n", n, stamp(), direction, identity, message)
	})
}

// LogDB dumps every journal record, oldest first.
func (al *AppLogger) LogDB(context string) {
	if al.journal == nil {
		return
	}
	al.dbMu.Lock()
	db := al.db
	al.dbMu.Unlock()
	if db == nil {
		return
	}

	var actions []ActionRecord
	err := db.Select(&actions, `
		SELECT rowid as id, session_id, code, day, phase, actor_id, action_type, target_id, visibility, description, created_at
		FROM game_action ORDER BY rowid`)

	al.journal.entry(func(w *bytes.Buffer, n int) {
		fmt.Fprintf(w, "=== journal dump #%d [%s] %s ===\n", n, stamp(), context)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			return
		}
		if len(actions) == 0 {
			w.WriteString("(empty)\n")
		}
		for _, a := range actions {
			fmt.Fprintf(w, "%d %s day %d %-5s %-21s %s -> %s [%s] %s\n",
				a.ID, a.Code, a.Day, a.Phase, a.Type, a.Actor, a.Target, a.Visibility, a.Description)
		}
	})
}

// Debug writes to the standard logger in debug mode only.
func (al *AppLogger) Debug(format string, args ...any) {
	if !al.debug {
		return
	}
	log.Printf("[DEBUG] "+format, args...)
}

// ============================================================================
// HTTP Tracing
// ============================================================================

// LoggingRoundTripper logs outgoing requests, used for storyteller calls.
// Responses are streamed, so only their status is logged.
type LoggingRoundTripper struct {
	Transport http.RoundTripper
	Logger    *AppLogger
}

func (l *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := l.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	var reqBody []byte
	if req.Body != nil {
		reqBody, _ = io.ReadAll(req.Body)
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		l.Logger.LogRequest(req.Method, req.URL.String(), 0, nil, reqBody, nil)
		return nil, err
	}
	l.Logger.LogRequest(req.Method, req.URL.String(), resp.StatusCode, resp.Header, reqBody, nil)
	return resp, nil
}

// captureWriter passes the response through and keeps the start of the body.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if room := bodyLimit + 1 - w.body.Len(); room > 0 {
		w.body.Write(b[:min(len(b), room)])
	}
	return w.ResponseWriter.Write(b)
}

// LoggingHandler logs inbound requests. The WebSocket upgrade needs the raw
// connection, so /ws is only noted and passed through.
type LoggingHandler struct {
	Handler http.Handler
	Logger  *AppLogger
}

func (l *LoggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		l.Logger.LogRequest(r.Method, r.URL.String(), http.StatusSwitchingProtocols, nil, nil, nil)
		l.Handler.ServeHTTP(w, r)
		return
	}

	var reqBody []byte
	if r.Body != nil {
		reqBody, _ = io.ReadAll(io.LimitReader(r.Body, bodyLimit+1))
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	cw := &captureWriter{ResponseWriter: w}
	l.Handler.ServeHTTP(cw, r)
	l.Logger.LogRequest(r.Method, r.URL.String(), cw.status, cw.Header(), reqBody, cw.body.Bytes())
}

// ============================================================================
// Package-level Shortcuts
// ============================================================================

func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
}

// LogWSMessage logs a WebSocket frame using the global logger
func LogWSMessage(direction, identity, message string) {
	if appLogger != nil {
		appLogger.LogWebSocket(direction, identity, message)
	}
}

// LogDBState dumps the journal using the global logger
func LogDBState(context string) {
	if appLogger != nil {
		appLogger.LogDB(context)
	}
}

// DebugLog logs a debug message tagged with context
func DebugLog(context, format string, args ...any) {
	if appLogger != nil {
		appLogger.Debug("["+context+"] "+format, args...)
	}
}

func CloseAppLogger() {
	if appLogger != nil {
		appLogger.Close()
	}
}
