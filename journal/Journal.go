// Package journal implements a SQLite audit store of the hyperparameter
// updates and agent weights of training runs.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hypera/hypera/agent"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS hyperparameter_updates (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL,
	hyperparameter  TEXT NOT NULL,
	epoch           INTEGER NOT NULL,
	old_value       TEXT NOT NULL,
	new_value       TEXT NOT NULL,
	relative_change TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_weights (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	step       INTEGER NOT NULL,
	agent      TEXT NOT NULL,
	weight     REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_updates_hyperparameter
	ON hyperparameter_updates (hyperparameter, epoch);
`

// Record is a hyperparameter update stored in a Journal
type Record struct {
	ID        string
	RunID     string
	CreatedAt time.Time
	agent.Update
}

// WeightRecord is an agent weight stored in a Journal
type WeightRecord struct {
	RunID  string
	Step   int
	Agent  string
	Weight float64
}

// Journal records the hyperparameter updates and agent weights of a
// training run in SQLite. Every Journal has its own run ID; a database
// may hold the records of many runs.
//
// Journal implements agent.Recorder and coordinator.WeightRecorder.
type Journal struct {
	db    *sql.DB
	runID string
}

// Open opens the SQLite database at path, creating the tables if
// needed, and starts a new run. Use ":memory:" for an in-memory
// database.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open: could not open database: %w", err)
	}
	// An in-memory database exists per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("open: could not migrate: %w", err)
	}
	return &Journal{db: db, runID: uuid.New().String()}, nil
}

// RunID returns the ID of the run the Journal records
func (j *Journal) RunID() string {
	return j.runID
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordUpdate implements the agent.Recorder interface
func (j *Journal) RecordUpdate(u agent.Update) error {
	oldValue, err := json.Marshal(u.OldValue)
	if err != nil {
		return fmt.Errorf("recordupdate: %w", err)
	}
	newValue, err := json.Marshal(u.NewValue)
	if err != nil {
		return fmt.Errorf("recordupdate: %w", err)
	}
	change, err := json.Marshal(u.RelativeChange)
	if err != nil {
		return fmt.Errorf("recordupdate: %w", err)
	}

	_, err = j.db.Exec(
		`INSERT INTO hyperparameter_updates (id, run_id, hyperparameter,
		 epoch, old_value, new_value, relative_change, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), j.runID, u.Hyperparameter, u.Epoch,
		string(oldValue), string(newValue), string(change),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recordupdate: %w", err)
	}
	return nil
}

// RecordWeights records the weight of every agent at a step
func (j *Journal) RecordWeights(step int, weights map[string]float64) error {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("recordweights: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, name := range names {
		_, err := tx.Exec(
			`INSERT INTO agent_weights (id, run_id, step, agent, weight,
			 created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), j.runID, step, name, weights[name], now,
		)
		if err != nil {
			return fmt.Errorf("recordweights: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recordweights: commit: %w", err)
	}
	return nil
}

// Updates returns the recorded updates of a hyperparameter across all
// runs, ordered by epoch. An empty hyperparameter returns the updates
// of all hyperparameters.
func (j *Journal) Updates(hyperparameter string) ([]Record, error) {
	query := `SELECT id, run_id, hyperparameter, epoch, old_value,
		new_value, relative_change, created_at FROM hyperparameter_updates`
	var args []interface{}
	if hyperparameter != "" {
		query += ` WHERE hyperparameter = ?`
		args = append(args, hyperparameter)
	}
	query += ` ORDER BY epoch, created_at`

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("updates: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var oldValue, newValue, change, createdAt string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Hyperparameter, &r.Epoch,
			&oldValue, &newValue, &change, &createdAt); err != nil {
			return nil, fmt.Errorf("updates: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(oldValue), &r.OldValue); err != nil {
			return nil, fmt.Errorf("updates: old value: %w", err)
		}
		if err := json.Unmarshal([]byte(newValue), &r.NewValue); err != nil {
			return nil, fmt.Errorf("updates: new value: %w", err)
		}
		if err := json.Unmarshal([]byte(change), &r.RelativeChange); err != nil {
			return nil, fmt.Errorf("updates: relative change: %w", err)
		}
		r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("updates: created at: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("updates: %w", err)
	}
	return records, nil
}

// Weights returns the recorded weights of an agent across all runs,
// ordered by step
func (j *Journal) Weights(agentName string) ([]WeightRecord, error) {
	rows, err := j.db.Query(
		`SELECT run_id, step, agent, weight FROM agent_weights
		 WHERE agent = ? ORDER BY step, created_at`, agentName)
	if err != nil {
		return nil, fmt.Errorf("weights: %w", err)
	}
	defer rows.Close()

	var records []WeightRecord
	for rows.Next() {
		var r WeightRecord
		if err := rows.Scan(&r.RunID, &r.Step, &r.Agent, &r.Weight); err != nil {
			return nil, fmt.Errorf("weights: scan: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("weights: %w", err)
	}
	return records, nil
}
