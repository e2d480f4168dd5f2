package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ActionRecord is one journal entry: anything taken or resolved during a game.
// Visibility decides who may read it back:
//   - "public": everyone
//   - "team:mafia": only Mafia members
//   - "actor": only the player who acted
//   - "resolved": hidden until the phase it happened in is over
type ActionRecord struct {
	ID          int64     `db:"id" json:"-"`
	Session     string    `db:"session_id" json:"-"`
	Code        string    `db:"code" json:"code"`
	Day         int       `db:"day" json:"day"`
	Phase       string    `db:"phase" json:"phase"`
	Actor       string    `db:"actor_id" json:"actor,omitempty"`
	Type        string    `db:"action_type" json:"type"`
	Target      string    `db:"target_id" json:"target,omitempty"`
	Visibility  string    `db:"visibility" json:"-"`
	Description string    `db:"description" json:"description"`
	At          time.Time `db:"created_at" json:"at"`
}

// Action types
const (
	ActionJoin                 = "join"
	ActionLeave                = "leave"
	ActionStart                = "start"
	ActionMafiaVote            = "mafia_vote"
	ActionDoctorProtect        = "doctor_protect"
	ActionDetectiveInvestigate = "detective_investigate"
	ActionDayVote              = "day_vote"
	ActionNightKill            = "night_kill"
	ActionNightSave            = "night_save"
	ActionElimination          = "elimination"
	ActionGameEnd              = "game_end"
)

// Visibility types
const (
	VisibilityPublic    = "public"
	VisibilityTeamMafia = "team:mafia"
	VisibilityActor     = "actor"
	VisibilityResolved  = "resolved"
)

// Journal receives action records. Record must not block.
type Journal interface {
	Record(rec ActionRecord)
}

type nopJournal struct{}

func (nopJournal) Record(ActionRecord) {}

// record stamps rec with the session's position in the game and hands it to
// the journal. Called with s.mu held.
func (r *Registry) record(s *Session, rec ActionRecord) {
	rec.Session = s.id
	rec.Code = s.code
	rec.Day = s.dayCount
	rec.Phase = s.phase.String()
	rec.At = time.Now()
	r.journal.Record(rec)
}

// Viewer is who is asking for the history, and where the game stands for them.
type Viewer struct {
	ID    string
	Role  Role
	Day   int
	Phase Phase
}

// canSeeAction determines if a viewer can see a specific action based on visibility rules
func canSeeAction(action ActionRecord, viewer Viewer) bool {
	if viewer.Phase == PhaseEnded {
		return true
	}
	switch action.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityTeamMafia:
		return viewer.Role == RoleMafia
	case VisibilityActor:
		return viewer.ID == action.Actor
	case VisibilityResolved:
		// Visible once the phase the action belongs to is over
		if action.Day < viewer.Day {
			return true
		}
		return action.Day == viewer.Day && action.Phase == PhaseNight.String() && viewer.Phase == PhaseDay
	default:
		return false
	}
}

// journalOp is either a record to insert or a flush barrier.
type journalOp struct {
	rec   ActionRecord
	flush chan struct{}
}

// History is the SQLite-backed journal. Records are queued and written by a
// single goroutine so the engine never waits on the database.
type History struct {
	db    *sqlx.DB
	queue chan journalOp
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// OpenHistory connects to dsn, creates the schema and starts the writer.
func OpenHistory(dsn string, buffer int) (*History, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect history db: %w", err)
	}
	// in-memory databases live and die with their connection
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if buffer <= 0 {
		buffer = 256
	}
	h := &History{
		db:    db,
		queue: make(chan journalOp, buffer),
		done:  make(chan struct{}),
	}
	go h.run()
	return h, nil
}

func createSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS game_action (
		session_id TEXT NOT NULL,
		code TEXT NOT NULL,
		day INTEGER NOT NULL,
		phase TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		target_id TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_game_action_session ON game_action(session_id, day, phase);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Record queues rec. When the queue is full the record is dropped and logged.
func (h *History) Record(rec ActionRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.queue <- journalOp{rec: rec}:
	default:
		log.Printf("History queue full, dropping %s record for session %s", rec.Type, rec.Code)
	}
}

func (h *History) run() {
	defer close(h.done)
	for op := range h.queue {
		if op.flush != nil {
			close(op.flush)
			continue
		}
		if err := h.insert(op.rec); err != nil {
			logError("History.insert", err)
		}
	}
}

func (h *History) insert(rec ActionRecord) error {
	_, err := h.db.NamedExec(`
		INSERT INTO game_action (session_id, code, day, phase, actor_id, action_type, target_id, visibility, description, created_at)
		VALUES (:session_id, :code, :day, :phase, :actor_id, :action_type, :target_id, :visibility, :description, :created_at)`, rec)
	return err
}

// Flush waits until every record queued so far is written.
func (h *History) Flush(ctx context.Context) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil
	}
	barrier := make(chan struct{})
	select {
	case h.queue <- journalOp{flush: barrier}:
	case <-ctx.Done():
		h.mu.RUnlock()
		return ctx.Err()
	}
	h.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Visible returns the actions of one game that viewer may see, oldest first.
func (h *History) Visible(ctx context.Context, sessionID string, viewer Viewer) ([]ActionRecord, error) {
	if err := h.Flush(ctx); err != nil {
		return nil, err
	}

	var all []ActionRecord
	err := h.db.SelectContext(ctx, &all, `
		SELECT rowid as id, session_id, code, day, phase, actor_id, action_type, target_id, visibility, description, created_at
		FROM game_action
		WHERE session_id = ?
		ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}

	visible := make([]ActionRecord, 0, len(all))
	for _, action := range all {
		if canSeeAction(action, viewer) {
			visible = append(visible, action)
		}
	}
	return visible, nil
}

// DB exposes the handle for state dumps.
func (h *History) DB() *sqlx.DB {
	return h.db
}

// Close drains the queue and closes the database.
func (h *History) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.queue)
	h.mu.Unlock()

	<-h.done
	return h.db.Close()
}
