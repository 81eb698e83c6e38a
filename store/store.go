// Package store keeps problem records in SQL. It runs on SQLite for local
// use and on PostgreSQL through pgx for the shared database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/wudi/examkit/observability"
	"github.com/wudi/examkit/records"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

// ErrNotFound is returned by Get for an unknown problem id.
var ErrNotFound = errors.New("store: problem not found")

// Store is a problem record table.
type Store struct {
	db     *sql.DB
	driver string
	log    observability.Logger
}

// Open connects, pings and migrates the schema to the latest version.
// driver is "sqlite" (dsn is a file path) or "pgx" (dsn is a postgres URL);
// "postgres" is accepted as an alias of "pgx".
func Open(ctx context.Context, driver, dsn string, log observability.Logger) (*Store, error) {
	switch driver {
	case DriverSQLite:
	case DriverPgx, "postgres":
		driver = DriverPgx
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Store{db: db, driver: driver, log: observability.OrNop(log)}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Driver returns the normalized driver name.
func (s *Store) Driver() string { return s.driver }

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations source: %w", err)
	}
	var m *migrate.Migrate
	switch s.driver {
	case DriverSQLite:
		drv, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
		if err != nil {
			return fmt.Errorf("store: sqlite migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	default:
		drv, err := pgxmigrate.WithInstance(s.db, &pgxmigrate.Config{})
		if err != nil {
			return fmt.Errorf("store: pgx migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx", drv)
		if err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	// m is not closed: closing it would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migration up failed: %w", err)
	}
	v, _, _ := m.Version()
	s.log.Debug("schema ready", observability.String("driver", s.driver), observability.Int("version", int(v)))
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPgx {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const upsertAnswer = `
INSERT INTO problems (problem_id, year, exam, question, elective, answer, answer_verified, score, score_verified, answer_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (problem_id) DO UPDATE SET
    elective = excluded.elective,
    answer = excluded.answer,
    answer_verified = COALESCE(problems.answer_verified, excluded.answer_verified),
    score = excluded.score,
    score_verified = COALESCE(problems.score_verified, excluded.score_verified),
    answer_type = excluded.answer_type,
    updated_at = CURRENT_TIMESTAMP`

// UpsertAnswers writes answer-key facts. Verified values already set by a
// reviewer are kept.
func (s *Store) UpsertAnswers(ctx context.Context, ps []records.Problem) error {
	return s.inTx(ctx, s.rebind(upsertAnswer), len(ps), func(stmt *sql.Stmt, i int) error {
		p := ps[i]
		_, err := stmt.ExecContext(ctx, p.ProblemID, p.Year, p.Exam, p.Question, string(p.Elective),
			p.Answer, p.AnswerVerified, p.Score, p.ScoreVerified, string(p.AnswerType))
		return err
	})
}

const upsertSplit = `
INSERT INTO problems (problem_id, year, exam, question, image_file, page, confidence, needs_review, reason, digest, run_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (problem_id) DO UPDATE SET
    image_file = excluded.image_file,
    page = excluded.page,
    confidence = excluded.confidence,
    needs_review = excluded.needs_review,
    reason = excluded.reason,
    digest = excluded.digest,
    run_id = excluded.run_id,
    updated_at = CURRENT_TIMESTAMP`

// UpsertSplits writes crop facts. Split ids that do not parse as problem
// ids are rejected before anything is written.
func (s *Store) UpsertSplits(ctx context.Context, splits []records.Split) error {
	type key struct {
		year     int
		exam     string
		question int
	}
	keys := make([]key, len(splits))
	for i, sp := range splits {
		y, e, q, ok := records.ParseProblemID(sp.ProblemID)
		if !ok {
			return fmt.Errorf("store: malformed problem id %q", sp.ProblemID)
		}
		keys[i] = key{y, e, q}
	}
	return s.inTx(ctx, s.rebind(upsertSplit), len(splits), func(stmt *sql.Stmt, i int) error {
		sp, k := splits[i], keys[i]
		_, err := stmt.ExecContext(ctx, sp.ProblemID, k.year, k.exam, k.question, sp.ImageFile, sp.Page,
			sp.Confidence, sp.NeedsReview, sp.Reason, sp.Digest, sp.RunID)
		return err
	})
}

func (s *Store) inTx(ctx context.Context, query string, n int, exec func(*sql.Stmt, int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if err := exec(stmt, i); err != nil {
			return fmt.Errorf("store: row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Verify records reviewer-corrected answer and score.
func (s *Store) Verify(ctx context.Context, problemID string, answer, score int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE problems SET answer_verified = ?, score_verified = ?, needs_review = FALSE, updated_at = CURRENT_TIMESTAMP WHERE problem_id = ?`),
		answer, score, problemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, problemID)
	}
	return nil
}

// Row is a stored problem. Pointer fields are nil until the corresponding
// answer key or split has been recorded.
type Row struct {
	ProblemID      string
	Year           int
	Exam           string
	Question       int
	Elective       string
	Answer         *int
	AnswerVerified *int
	Score          *int
	ScoreVerified  *int
	AnswerType     string
	ImageFile      string
	Page           *int
	Confidence     *float64
	NeedsReview    bool
	Reason         string
	Digest         string
	RunID          string
}

const selectRow = `SELECT problem_id, year, exam, question, elective, answer, answer_verified, score, score_verified,
    answer_type, image_file, page, confidence, needs_review, reason, digest, run_id FROM problems`

type scanner interface{ Scan(dest ...any) error }

func scanRow(sc scanner) (Row, error) {
	var (
		r                                    Row
		ans, ansV, score, scoreV, page       sql.NullInt64
		conf                                 sql.NullFloat64
		answerType, imageFile, digest, runID sql.NullString
	)
	err := sc.Scan(&r.ProblemID, &r.Year, &r.Exam, &r.Question, &r.Elective, &ans, &ansV, &score, &scoreV,
		&answerType, &imageFile, &page, &conf, &r.NeedsReview, &r.Reason, &digest, &runID)
	if err != nil {
		return Row{}, err
	}
	r.Answer, r.AnswerVerified = intPtr(ans), intPtr(ansV)
	r.Score, r.ScoreVerified = intPtr(score), intPtr(scoreV)
	r.Page = intPtr(page)
	if conf.Valid {
		r.Confidence = &conf.Float64
	}
	r.AnswerType, r.ImageFile, r.Digest, r.RunID = answerType.String, imageFile.String, digest.String, runID.String
	return r, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// Get loads one problem.
func (s *Store) Get(ctx context.Context, problemID string) (Row, error) {
	r, err := scanRow(s.db.QueryRowContext(ctx, s.rebind(selectRow+` WHERE problem_id = ?`), problemID))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("%w: %s", ErrNotFound, problemID)
	}
	return r, err
}

// ListReview returns the problems of an exam still flagged for review, in
// question order.
func (s *Store) ListReview(ctx context.Context, year int, exam string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectRow+` WHERE year = ? AND exam = ? AND needs_review ORDER BY question, problem_id`), year, exam)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
