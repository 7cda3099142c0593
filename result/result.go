// Package result persists completed tuning runs.  A Record carries everything
// a reproducibility audit needs: the seed, the variant, the best gain vector
// and its cost, and the per-iteration convergence trace.  Records serialize
// to JSON and can additionally be kept in a sqlite archive for querying
// across runs.
package result

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"smctune/controller"
)

type Record struct {
	RunID   uuid.UUID `json:"run_id"`
	Created time.Time `json:"created"`

	Variant controller.Variant `json:"variant"`
	Seed    int64              `json:"seed"`

	BestGains []float64 `json:"best_gains"`
	BestCost  float64   `json:"best_cost"`

	// History is the global best cost per iteration.
	History []float64 `json:"history"`
	Iters   int       `json:"iters"`
	Evals   int       `json:"evals"`
}

// NewRecord stamps a fresh record with a run id and creation time.
func NewRecord(variant controller.Variant, seed int64) *Record {
	return &Record{
		RunID:   uuid.New(),
		Created: time.Now().UTC(),
		Variant: variant,
		Seed:    seed,
	}
}

func (r *Record) Validate() error {
	if r.RunID == uuid.Nil {
		return errors.New("result: record has no run id")
	}
	if len(r.BestGains) != controller.GainCount(r.Variant) {
		return fmt.Errorf("result: %v best gains for variant %v, want %v",
			len(r.BestGains), r.Variant, controller.GainCount(r.Variant))
	}
	return nil
}

// WriteFile writes the record as indented JSON.
func (r *Record) WriteFile(path string) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func ReadFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("result: decode %s: %w", path, err)
	}
	return &r, r.Validate()
}

// Store is a sqlite archive of tuning runs.  Summary columns are queryable;
// the full record rides along as a JSON payload.
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("result: sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			created TEXT NOT NULL,
			variant TEXT NOT NULL,
			seed INTEGER NOT NULL,
			best_cost REAL NOT NULL,
			payload BLOB NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("result: store not initialized")
	}
	return s.db, nil
}

func (s *Store) Save(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, created, variant, seed, best_cost, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created = excluded.created,
			variant = excluded.variant,
			seed = excluded.seed,
			best_cost = excluded.best_cost,
			payload = excluded.payload
	`, r.RunID.String(), r.Created.Format(time.RFC3339Nano), string(r.Variant), r.Seed, r.BestCost, payload)
	return err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Record, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id.String()).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false, fmt.Errorf("result: decode run %s: %w", id, err)
	}
	return &r, true, nil
}

// Best returns the lowest-cost record for a variant, or found=false when the
// archive holds none.
func (s *Store) Best(ctx context.Context, variant controller.Variant) (*Record, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM runs WHERE variant = ? ORDER BY best_cost ASC LIMIT 1
	`, string(variant)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

// List returns run summaries ordered most recent first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM runs ORDER BY created DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, err
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}
