package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jwulff/interview/internal/conversation"
)

const schema = `
	CREATE TABLE IF NOT EXISTS interviews (
		id TEXT PRIMARY KEY,
		applicationId TEXT NOT NULL,
		jobTitle TEXT,
		companyName TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		finalScore REAL,
		startedAt REAL NOT NULL,
		endedAt REAL,
		createdAt REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS interviews_application ON interviews(applicationId);

	CREATE TABLE IF NOT EXISTS turns (
		interviewId TEXT NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
		turnId INTEGER NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		category TEXT,
		score REAL,
		scoreExplanation TEXT,
		createdAt REAL NOT NULL,
		PRIMARY KEY (interviewId, turnId)
	);
`

// Store provides access to the transcript archive.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default archive location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "interview", "archive.sqlite")
}

// Open opens the archive for writing, creating it and its schema if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing archive without write access.
func OpenReadOnly(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartInterview records a new active interview and returns it.
func (s *Store) StartInterview(applicationID, jobTitle, companyName string, at time.Time) (*Interview, error) {
	iv := &Interview{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		JobTitle:      jobTitle,
		CompanyName:   companyName,
		Status:        StatusActive,
		StartedAt:     at,
		CreatedAt:     at,
	}
	_, err := s.db.Exec(`
		INSERT INTO interviews (id, applicationId, jobTitle, companyName, status, startedAt, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, iv.ID, applicationID, jobTitle, companyName, StatusActive, unixFromTime(at), unixFromTime(at))
	if err != nil {
		return nil, fmt.Errorf("insert interview: %w", err)
	}
	return iv, nil
}

// SaveTurn inserts a turn or, when it already exists, updates its score.
func (s *Store) SaveTurn(interviewID string, t conversation.Turn) error {
	var score sql.NullFloat64
	if t.Score != nil {
		score = sql.NullFloat64{Float64: *t.Score, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (interviewId, turnId, sender, text, category, score, scoreExplanation, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (interviewId, turnId) DO UPDATE SET
			score = excluded.score,
			scoreExplanation = excluded.scoreExplanation
	`, interviewID, t.ID, string(t.Sender), t.Text, nullString(t.Category), score,
		nullString(t.ScoreExplanation), unixFromTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("save turn %d: %w", t.ID, err)
	}
	return nil
}

// FinishInterview closes an active interview. Finished interviews are left
// unchanged.
func (s *Store) FinishInterview(id, status string, finalScore *float64, at time.Time) error {
	var score sql.NullFloat64
	if finalScore != nil {
		score = sql.NullFloat64{Float64: *finalScore, Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE interviews SET status = ?, finalScore = ?, endedAt = ?
		WHERE id = ? AND status = 'active'
	`, status, score, unixFromTime(at), id)
	if err != nil {
		return fmt.Errorf("finish interview: %w", err)
	}
	return nil
}

const interviewColumns = `id, applicationId, jobTitle, companyName, status, finalScore, startedAt, endedAt, createdAt`

// GetInterview returns one interview, or nil when it does not exist.
func (s *Store) GetInterview(id string) (*Interview, error) {
	row := s.db.QueryRow(`SELECT `+interviewColumns+` FROM interviews WHERE id = ?`, id)
	return scanOptional(row)
}

// LatestInterview returns the most recent interview regardless of status.
func (s *Store) LatestInterview() (*Interview, error) {
	row := s.db.QueryRow(`
		SELECT ` + interviewColumns + `
		FROM interviews
		ORDER BY startedAt DESC
		LIMIT 1
	`)
	return scanOptional(row)
}

// ListInterviews returns up to limit interviews, newest first. A limit of
// zero or less returns all of them. applicationID filters when not empty.
func (s *Store) ListInterviews(applicationID string, limit int) ([]Interview, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT `+interviewColumns+`
		FROM interviews
		WHERE ? = '' OR applicationId = ?
		ORDER BY startedAt DESC
		LIMIT ?
	`, applicationID, applicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query interviews: %w", err)
	}
	defer rows.Close()

	var out []Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *iv)
	}
	return out, rows.Err()
}

// TurnsForInterview returns the transcript of an interview in turn order.
func (s *Store) TurnsForInterview(interviewID string) ([]conversation.Turn, error) {
	rows, err := s.db.Query(`
		SELECT turnId, sender, text, category, score, scoreExplanation, createdAt
		FROM turns
		WHERE interviewId = ?
		ORDER BY turnId ASC
	`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var t conversation.Turn
		var sender string
		var category, explanation sql.NullString
		var score sql.NullFloat64
		var createdAt float64
		if err := rows.Scan(&t.ID, &sender, &t.Text, &category, &score,
			&explanation, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Sender = conversation.Sender(sender)
		t.Category = category.String
		t.ScoreExplanation = explanation.String
		if score.Valid {
			v := score.Float64
			t.Score = &v
		}
		t.CreatedAt = timeFromUnix(createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOptional(row *sql.Row) (*Interview, error) {
	iv, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return iv, err
}

func scanInterview(row scanner) (*Interview, error) {
	var iv Interview
	var jobTitle, company sql.NullString
	var finalScore, endedAt sql.NullFloat64
	var startedAt, createdAt float64

	if err := row.Scan(&iv.ID, &iv.ApplicationID, &jobTitle, &company, &iv.Status,
		&finalScore, &startedAt, &endedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan interview: %w", err)
	}

	iv.JobTitle = jobTitle.String
	iv.CompanyName = company.String
	iv.StartedAt = timeFromUnix(startedAt)
	iv.CreatedAt = timeFromUnix(createdAt)
	if finalScore.Valid {
		v := finalScore.Float64
		iv.FinalScore = &v
	}
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		iv.EndedAt = &t
	}
	return &iv, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
