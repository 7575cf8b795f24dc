package observer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dcshock/reqpipe/pipeline"
)

// Run and stage statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ErrNotFound is returned by GetRun for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one row of pipeline_run. Result and Error are empty when unset;
// Result holds JSON.
type Run struct {
	ID         string
	Name       string
	Status     string
	Result     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// StageRecord is one row of pipeline_run_stage. Input, Config and Output hold JSON.
type StageRecord struct {
	RunID    string
	Index    int
	Name     string
	Kind     string
	Status   string
	Input    string
	Config   string
	Output   string
	Error    string
	Duration time.Duration
}

// Store persists pipeline and stage execution to SQLite (pipeline_run,
// pipeline_run_stage).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ pipeline.Observer = (*Store)(nil)

// Open opens or creates the SQLite database at dsn and initializes the schema.
// dsn may be a file path or a URI such as "file:runs?mode=memory&cache=shared".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_run (
			run_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_run_started ON pipeline_run(started_at)`,
		`CREATE TABLE IF NOT EXISTS pipeline_run_stage (
			run_id TEXT NOT NULL,
			stage_index INTEGER NOT NULL,
			name TEXT,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			input_json TEXT,
			config_json TEXT,
			output_json TEXT,
			error TEXT,
			duration_ms INTEGER,
			PRIMARY KEY (run_id, stage_index),
			FOREIGN KEY (run_id) REFERENCES pipeline_run(run_id) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeforePipeline implements pipeline.Observer. Inserts a pipeline_run row with status 'running'.
func (s *Store) BeforePipeline(ctx context.Context, runID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_run (run_id, name, status, started_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET name = excluded.name, status = excluded.status, started_at = excluded.started_at`,
		runID, name, StatusRunning, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// AfterPipeline implements pipeline.Observer. Updates pipeline_run with status, result and error.
func (s *Store) AfterPipeline(ctx context.Context, runID string, result interface{}, err error) error {
	status, errText := outcome(err)
	_, execErr := s.db.ExecContext(ctx,
		`UPDATE pipeline_run SET status = ?, result = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, encode(result), errText, s.now().UnixNano(), runID)
	if execErr != nil {
		return fmt.Errorf("update run: %w", execErr)
	}
	return nil
}

// BeforeStage implements pipeline.Observer. Inserts a pipeline_run_stage row with status 'running'.
func (s *Store) BeforeStage(ctx context.Context, runID string, stage pipeline.StageInfo, previous interface{}) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pipeline_run_stage (run_id, stage_index, name, kind, status, input_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, stage.Index, stage.Name, stage.Kind.String(), StatusRunning, encode(previous))
	if err != nil {
		return fmt.Errorf("insert stage: %w", err)
	}
	return nil
}

// AfterStage implements pipeline.Observer. Updates pipeline_run_stage with config, output, status, error and duration.
func (s *Store) AfterStage(ctx context.Context, runID string, stage pipeline.StageInfo, output interface{}, stageErr error, duration time.Duration) error {
	status, errText := outcome(stageErr)
	if stage.Skipped && stageErr == nil {
		status = StatusSkipped
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_run_stage SET status = ?, config_json = ?, output_json = ?, error = ?, duration_ms = ?
		 WHERE run_id = ? AND stage_index = ?`,
		status, encode(stage.Config), encode(output), errText, duration.Milliseconds(), runID, stage.Index)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, name, status, result, error, started_at, finished_at
		 FROM pipeline_run ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, name, status, result, error, started_at, finished_at
		 FROM pipeline_run WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ListStages returns the stages recorded for runID in execution order.
func (s *Store) ListStages(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage_index, name, kind, status, input_json, config_json, output_json, error, duration_ms
		 FROM pipeline_run_stage WHERE run_id = ? ORDER BY stage_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []StageRecord
	for rows.Next() {
		var (
			rec                                  StageRecord
			name, input, config, output, errText sql.NullString
			durationMs                           sql.NullInt64
		)
		if err := rows.Scan(&rec.RunID, &rec.Index, &name, &rec.Kind, &rec.Status,
			&input, &config, &output, &errText, &durationMs); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		rec.Name = name.String
		rec.Input = input.String
		rec.Config = config.String
		rec.Output = output.String
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		stages = append(stages, rec)
	}
	return stages, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r               Run
		result, errText sql.NullString
		started         int64
		finished        sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Status, &result, &errText, &started, &finished); err != nil {
		return nil, err
	}
	r.Result = result.String
	r.Error = errText.String
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	return &r, nil
}

func outcome(err error) (string, sql.NullString) {
	if err != nil {
		return StatusFailed, sql.NullString{String: err.Error(), Valid: true}
	}
	return StatusSuccess, sql.NullString{}
}

// encode returns v as JSON, or NULL for nil. Values that cannot be encoded
// are stored as their %v text in a JSON string.
func encode(v interface{}) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return sql.NullString{String: string(b), Valid: true}
}
