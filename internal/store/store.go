package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ainexus/herald/config"
	"github.com/ainexus/herald/internal/pipeline"
)

// Store wraps the Postgres connection holding run history, published
// newsletters and user accounts.
type Store struct {
	DB *sql.DB
}

// New connects using the configured Postgres settings.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("postgres not configured")
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store from an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run operations. CreateRun, UpdateRunStatus and FinishRun satisfy the
// pipeline's Recorder interface.

func (s *Store) CreateRun(ctx context.Context, state *pipeline.RunState) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, triggered_by, status, started_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO NOTHING
`, state.ID, state.Trigger, string(state.Status), state.StartedAt)
	return err
}

func (s *Store) UpdateRunStatus(ctx context.Context, id string, status pipeline.Status) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

// FinishRun writes the run's final shape and, when the run produced a
// validated newsletter, stores it alongside.
func (s *Store) FinishRun(ctx context.Context, state *pipeline.RunState) error {
	errs := state.Errors
	if errs == nil {
		errs = []pipeline.ErrorRecord{}
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}
	dropped := state.DroppedTopics
	if dropped == nil {
		dropped = []string{}
	}

	_, err = s.DB.ExecContext(ctx, `
UPDATE runs SET status=$2, finished_at=$3, artifact_path=$4, topic_count=$5,
  dropped_topics=$6, cost_dollars=$7, tokens_in=$8, tokens_out=$9, errors=$10
WHERE id=$1
`, state.ID, string(state.Status), state.FinishedAt, state.ArtifactPath,
		len(state.Topics), pq.Array(dropped), state.Cost, state.TokensIn, state.TokensOut, payload)
	if err != nil {
		return err
	}

	if state.Draft != nil && !state.Failed() {
		_, err = s.DB.ExecContext(ctx, `
INSERT INTO newsletters (run_id, title, markdown, section_count)
VALUES ($1,$2,$3,$4)
ON CONFLICT (run_id) DO UPDATE SET
  title = EXCLUDED.title,
  markdown = EXCLUDED.markdown,
  section_count = EXCLUDED.section_count
`, state.ID, state.Draft.Title, state.Draft.RawMarkdown, len(state.Draft.Sections))
		if err != nil {
			return fmt.Errorf("insert newsletter: %w", err)
		}
	}
	return nil
}

// RunRecord is one row of run history as served by the API.
type RunRecord struct {
	ID            string          `json:"id"`
	TriggeredBy   string          `json:"triggered_by"`
	Status        string          `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	ArtifactPath  string          `json:"artifact_path,omitempty"`
	TopicCount    int             `json:"topic_count"`
	DroppedTopics []string        `json:"dropped_topics,omitempty"`
	Cost          float64         `json:"cost"`
	TokensIn      int64           `json:"tokens_in"`
	TokensOut     int64           `json:"tokens_out"`
	Errors        json.RawMessage `json:"errors,omitempty"`
}

const runColumns = `id, triggered_by, status, started_at, finished_at, artifact_path,
  topic_count, dropped_topics, cost_dollars, tokens_in, tokens_out, errors`

func scanRun(scan func(dest ...any) error) (RunRecord, error) {
	var (
		rec      RunRecord
		finished sql.NullTime
		artifact sql.NullString
		dropped  pq.StringArray
		errs     []byte
	)
	if err := scan(&rec.ID, &rec.TriggeredBy, &rec.Status, &rec.StartedAt, &finished, &artifact,
		&rec.TopicCount, &dropped, &rec.Cost, &rec.TokensIn, &rec.TokensOut, &errs); err != nil {
		return RunRecord{}, err
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	if artifact.Valid {
		rec.ArtifactPath = artifact.String
	}
	rec.DroppedTopics = []string(dropped)
	if len(errs) > 0 {
		rec.Errors = json.RawMessage(errs)
	}
	return rec, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+runColumns+`
FROM runs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+runColumns+`
FROM runs
WHERE id=$1
`, id)
	rec, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, err
	}
	return rec, true, nil
}

// LatestRunTime returns when the most recent run started, for schedule
// catch-up decisions. ok is false when no run exists yet.
func (s *Store) LatestRunTime(ctx context.Context) (time.Time, bool, error) {
	var ts sql.NullTime
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(started_at) FROM runs`).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time, true, nil
}

// NewsletterRecord is one published newsletter.
type NewsletterRecord struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Title        string    `json:"title"`
	Markdown     string    `json:"markdown"`
	SectionCount int       `json:"section_count"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) ListNewsletters(ctx context.Context, limit int) ([]NewsletterRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, run_id, title, markdown, section_count, created_at
FROM newsletters
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NewsletterRecord
	for rows.Next() {
		var rec NewsletterRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Title, &rec.Markdown, &rec.SectionCount, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetNewsletterByRun(ctx context.Context, runID string) (NewsletterRecord, bool, error) {
	var rec NewsletterRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, run_id, title, markdown, section_count, created_at
FROM newsletters
WHERE run_id=$1
`, runID).Scan(&rec.ID, &rec.RunID, &rec.Title, &rec.Markdown, &rec.SectionCount, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return NewsletterRecord{}, false, nil
	}
	if err != nil {
		return NewsletterRecord{}, false, err
	}
	return rec, true, nil
}
