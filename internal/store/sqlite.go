package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/scribe/internal/model"

	_ "modernc.org/sqlite"
)

var migrations = []struct {
	name string
	sql  string
}{
	{"pages", `
CREATE TABLE IF NOT EXISTS pages (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    title         TEXT NOT NULL UNIQUE,
    content_model TEXT NOT NULL,
    identity      TEXT NOT NULL,
    text          TEXT NOT NULL,
    updated_at    DATETIME NOT NULL
)`},
	{"invocations", `
CREATE TABLE IF NOT EXISTS invocations (
    id              TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    module          TEXT NOT NULL,
    function        TEXT NOT NULL,
    title           TEXT NOT NULL,
    args            TEXT,
    backend         TEXT NOT NULL,
    output          TEXT,
    error           TEXT,
    cpu_ms          INTEGER,
    peak_mem        INTEGER,
    expensive_calls INTEGER,
    ttl_s           INTEGER,
    timeout_s       INTEGER,
    duration_ms     INTEGER,
    created_at      DATETIME NOT NULL,
    started_at      DATETIME,
    finished_at     DATETIME
)`},
	{"log_lines", `
CREATE TABLE IF NOT EXISTS log_lines (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL REFERENCES invocations(id),
    seq           INTEGER NOT NULL,
    line          TEXT NOT NULL,
    created_at    DATETIME NOT NULL
)`},
	{"log_lines index", `CREATE INDEX IF NOT EXISTS idx_log_lines_invocation ON log_lines(invocation_id, seq)`},
}

// ErrNotFound is returned when a page or invocation is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, m := range migrations {
		if _, err := db.Exec(m.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", m.name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutPage creates or replaces the page with p's title. The content model
// defaults from the title, and the identity and update time are set from
// the text.
func (s *SQLiteStore) PutPage(ctx context.Context, p *model.Page) error {
	if p.ContentModel == "" {
		p.ContentModel = model.ContentModelFor(p.Title)
	}
	p.Identity = model.Identity(p.Text)
	p.UpdatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO pages (title, content_model, identity, text, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			content_model = excluded.content_model,
			identity = excluded.identity,
			text = excluded.text,
			updated_at = excluded.updated_at
		RETURNING id`,
		p.Title, p.ContentModel, p.Identity, p.Text, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("put page: %w", err)
	}
	return nil
}

// GetPage retrieves a page by its exact title.
func (s *SQLiteStore) GetPage(ctx context.Context, title string) (*model.Page, error) {
	p := &model.Page{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content_model, identity, text, updated_at
		FROM pages WHERE title = ?`, title,
	).Scan(&p.ID, &p.Title, &p.ContentModel, &p.Identity, &p.Text, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return p, nil
}

// CountPages returns page totals.
func (s *SQLiteStore) CountPages(ctx context.Context) (PageCounts, error) {
	var c PageCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN content_model = ? AND instr(title, ':') = 0 THEN 1 ELSE 0 END), 0)
		FROM pages`, model.ContentModelWikitext,
	).Scan(&c.Pages, &c.Content)
	if err != nil {
		return PageCounts{}, fmt.Errorf("count pages: %w", err)
	}
	return c, nil
}

// CountPagesContaining counts the pages whose text contains needle.
func (s *SQLiteStore) CountPagesContaining(ctx context.Context, needle string) (MatchCounts, error) {
	var c MatchCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN title LIKE 'Category:%' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN title LIKE 'File:%' THEN 1 ELSE 0 END), 0)
		FROM pages WHERE instr(text, ?) > 0`, needle,
	).Scan(&c.All, &c.Categories, &c.Files)
	if err != nil {
		return MatchCounts{}, fmt.Errorf("count pages containing: %w", err)
	}
	return c, nil
}

const invocationColumns = `id, status, module, function, title, args, backend,
	output, error, cpu_ms, peak_mem, expensive_calls, ttl_s, timeout_s,
	duration_ms, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row rowScanner) (*model.Invocation, error) {
	inv := &model.Invocation{}
	var args, output, errText sql.NullString
	if err := row.Scan(
		&inv.ID, &inv.Status, &inv.Module, &inv.Function, &inv.Title, &args, &inv.Backend,
		&output, &errText, &inv.CPUMS, &inv.PeakMem, &inv.ExpensiveCalls, &inv.TTLSeconds, &inv.TimeoutS,
		&inv.DurationMS, &inv.CreatedAt, &inv.StartedAt, &inv.FinishedAt,
	); err != nil {
		return nil, err
	}
	inv.Output = output.String
	inv.Error = errText.String
	if args.String != "" {
		if err := json.Unmarshal([]byte(args.String), &inv.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	return inv, nil
}

func encodeArgs(args []model.Arg) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}
	return string(b), nil
}

// CreateInvocation inserts a new invocation record.
func (s *SQLiteStore) CreateInvocation(ctx context.Context, inv *model.Invocation) error {
	args, err := encodeArgs(inv.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invocations (`+invocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Status, inv.Module, inv.Function, inv.Title, args, inv.Backend,
		inv.Output, inv.Error, inv.CPUMS, inv.PeakMem, inv.ExpensiveCalls, inv.TTLSeconds, inv.TimeoutS,
		inv.DurationMS, inv.CreatedAt, inv.StartedAt, inv.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// GetInvocation retrieves an invocation by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*model.Invocation, error) {
	inv, err := scanInvocation(s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns a paginated list of invocations ordered by created_at DESC,
// along with the total count of all invocations.
func (s *SQLiteStore) ListInvocations(ctx context.Context, limit, offset int) ([]*model.Invocation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM invocations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invocations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+invocationColumns+` FROM invocations
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var invocations []*model.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invocation: %w", err)
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invocations: %w", err)
	}

	return invocations, total, nil
}

// UpdateInvocationStatus moves an invocation to status, enforcing
// model.ValidTransition. Terminal statuses also set finished_at.
func (s *SQLiteStore) UpdateInvocationStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM invocations WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get invocation status: %w", err)
	}
	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch {
	case model.Terminal(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE invocations SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update invocation status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}
	return nil
}

// UpdateInvocation writes the result fields of a finished invocation. An
// empty backend or a nil start time keeps the stored value.
func (s *SQLiteStore) UpdateInvocation(ctx context.Context, inv *model.Invocation) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE invocations SET
			status = ?, backend = COALESCE(NULLIF(?, ''), backend),
			output = ?, error = ?, cpu_ms = ?, peak_mem = ?,
			expensive_calls = ?, ttl_s = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		inv.Status, inv.Backend, inv.Output, inv.Error, inv.CPUMS, inv.PeakMem,
		inv.ExpensiveCalls, inv.TTLSeconds, inv.DurationMS,
		inv.StartedAt, inv.FinishedAt, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("update invocation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetInvocationStats aggregates the invocation table.
func (s *SQLiteStore) GetInvocationStats(ctx context.Context) (*InvocationStats, error) {
	stats := &InvocationStats{
		CountByStatus:  map[string]int{},
		CountByBackend: map[string]int{},
	}
	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "backend", stats.CountByBackend); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM invocations WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	stats.AvgDurationMS = avg.Float64
	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM invocations GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// InsertLogLine appends one log line of an invocation.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, invocationID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO log_lines (invocation_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		invocationID, seq, strings.TrimSuffix(line, "\n"), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns the log lines of an invocation in sequence order.
func (s *SQLiteStore) GetLogLines(ctx context.Context, invocationID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invocation_id, seq, line, created_at
		FROM log_lines WHERE invocation_id = ? ORDER BY seq`, invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	lines := []model.LogLine{}
	for rows.Next() {
		var l model.LogLine
		if err := rows.Scan(&l.ID, &l.InvocationID, &l.Seq, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}
