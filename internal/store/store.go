// Package store persists simulation runs in SQLite so reports can be
// regenerated and past runs compared without re-spending LLM calls.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"apriori/internal/logging"
	"apriori/internal/types"
)

// Run modes.
const (
	ModeAds   = "ads"
	ModeFlows = "flows"
)

// Run is one persisted simulation run.
type Run struct {
	ID          string    `json:"id"`
	Mode        string    `json:"mode"` // ads | flows
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
	NumPersonas int       `json:"num_personas"`
	NumStimuli  int       `json:"num_stimuli"`
}

// StoredReaction couples a persisted reaction with its validation verdict.
type StoredReaction struct {
	Reaction types.AdReaction `json:"reaction"`
	Valid    bool             `json:"valid"`
	Flags    []string         `json:"flags,omitempty"`
}

// Store manages the runs database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New creates or opens the runs store at dbPath.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		num_personas INTEGER NOT NULL DEFAULT 0,
		num_stimuli INTEGER NOT NULL DEFAULT 0,
		report_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS personas (
		run_id TEXT NOT NULL,
		uuid TEXT NOT NULL,
		data_json TEXT NOT NULL,
		PRIMARY KEY (run_id, uuid),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS reactions (
		run_id TEXT NOT NULL,
		persona_uuid TEXT NOT NULL,
		ad_id TEXT NOT NULL,
		valid INTEGER NOT NULL DEFAULT 1,
		flags_json TEXT,
		data_json TEXT NOT NULL,
		PRIMARY KEY (run_id, persona_uuid, ad_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_reactions_ad ON reactions(run_id, ad_id);

	CREATE TABLE IF NOT EXISTS journeys (
		run_id TEXT NOT NULL,
		persona_uuid TEXT NOT NULL,
		flow_id TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		data_json TEXT NOT NULL,
		PRIMARY KEY (run_id, persona_uuid, flow_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_journeys_flow ON journeys(run_id, flow_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun registers a new run and returns it.
func (s *Store) CreateRun(mode string, numPersonas, numStimuli int) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:          uuid.NewString(),
		Mode:        mode,
		StartedAt:   time.Now().UTC(),
		NumPersonas: numPersonas,
		NumStimuli:  numStimuli,
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, mode, started_at, num_personas, num_stimuli)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.StartedAt, run.NumPersonas, run.NumStimuli)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	logging.Store("created run %s (%s, %d personas, %d stimuli)", run.ID, mode, numPersonas, numStimuli)
	return run, nil
}

// FinishRun marks a run complete and stores its report document.
func (s *Store) FinishRun(runID string, report any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling report for run %s: %w", runID, err)
	}
	res, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, report_json = ? WHERE id = ?
	`, time.Now().UTC(), string(reportJSON), runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: run not found", runID)
	}
	return nil
}

// GetRun loads one run's metadata.
func (s *Store) GetRun(runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run Run
	var finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, mode, started_at, finished_at, num_personas, num_stimuli
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.Mode, &run.StartedAt, &finished, &run.NumPersonas, &run.NumStimuli)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// ListRuns returns recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, mode, started_at, finished_at, num_personas, num_stimuli
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Mode, &run.StartedAt, &finished, &run.NumPersonas, &run.NumStimuli); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetReport loads a finished run's report document into v.
func (s *Store) GetReport(runID string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reportJSON sql.NullString
	err := s.db.QueryRow(`SELECT report_json FROM runs WHERE id = ?`, runID).Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return fmt.Errorf("loading report for run %s: %w", runID, err)
	}
	if !reportJSON.Valid {
		return fmt.Errorf("run %s has no report yet", runID)
	}
	return json.Unmarshal([]byte(reportJSON.String), v)
}

// SavePersonas stores the hydrated personas used by a run.
func (s *Store) SavePersonas(runID string, personas []types.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO personas (run_id, uuid, data_json) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range personas {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling persona %s: %w", p.UUID, err)
		}
		if _, err := stmt.Exec(runID, p.UUID, string(data)); err != nil {
			return fmt.Errorf("saving persona %s: %w", p.UUID, err)
		}
	}
	return tx.Commit()
}

// LoadPersonas restores a run's personas.
func (s *Store) LoadPersonas(runID string) ([]types.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT data_json FROM personas WHERE run_id = ? ORDER BY uuid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var personas []types.Persona
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p types.Persona
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshaling persona: %w", err)
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// SaveReactions stores validated reactions for a run.
func (s *Store) SaveReactions(runID string, reactions []StoredReaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO reactions (run_id, persona_uuid, ad_id, valid, flags_json, data_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sr := range reactions {
		data, err := json.Marshal(sr.Reaction)
		if err != nil {
			return fmt.Errorf("marshaling reaction: %w", err)
		}
		flags, _ := json.Marshal(sr.Flags)
		valid := 0
		if sr.Valid {
			valid = 1
		}
		if _, err := stmt.Exec(runID, sr.Reaction.PersonaUUID, sr.Reaction.AdID, valid, string(flags), string(data)); err != nil {
			return fmt.Errorf("saving reaction %s/%s: %w", sr.Reaction.PersonaUUID, sr.Reaction.AdID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Store("saved %d reactions for run %s", len(reactions), runID)
	return nil
}

// LoadReactions restores a run's reactions, optionally only valid ones.
func (s *Store) LoadReactions(runID string, validOnly bool) ([]StoredReaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT valid, flags_json, data_json FROM reactions WHERE run_id = ?`
	if validOnly {
		query += ` AND valid = 1`
	}
	query += ` ORDER BY persona_uuid, ad_id`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []StoredReaction
	for rows.Next() {
		var valid int
		var flagsJSON sql.NullString
		var data string
		if err := rows.Scan(&valid, &flagsJSON, &data); err != nil {
			return nil, err
		}
		var sr StoredReaction
		sr.Valid = valid == 1
		if err := json.Unmarshal([]byte(data), &sr.Reaction); err != nil {
			return nil, fmt.Errorf("unmarshaling reaction: %w", err)
		}
		if flagsJSON.Valid {
			json.Unmarshal([]byte(flagsJSON.String), &sr.Flags)
		}
		reactions = append(reactions, sr)
	}
	return reactions, rows.Err()
}

// SaveJourneys stores completed journeys for a run.
func (s *Store) SaveJourneys(runID string, journeys []types.Journey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO journeys (run_id, persona_uuid, flow_id, completed, data_json)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, j := range journeys {
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshaling journey: %w", err)
		}
		completed := 0
		if j.Completed {
			completed = 1
		}
		if _, err := stmt.Exec(runID, j.PersonaUUID, j.FlowID, completed, string(data)); err != nil {
			return fmt.Errorf("saving journey %s/%s: %w", j.PersonaUUID, j.FlowID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Store("saved %d journeys for run %s", len(journeys), runID)
	return nil
}

// LoadJourneys restores a run's journeys grouped by flow.
func (s *Store) LoadJourneys(runID string) (map[string][]types.Journey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT data_json FROM journeys WHERE run_id = ? ORDER BY flow_id, persona_uuid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	journeys := make(map[string][]types.Journey)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var j types.Journey
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("unmarshaling journey: %w", err)
		}
		journeys[j.FlowID] = append(journeys[j.FlowID], j)
	}
	return journeys, rows.Err()
}
