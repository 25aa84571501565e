package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/mend/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MaxErrorMessageLen bounds stored failure messages. Anything longer is
// truncated with a marker so a terminal write can never fail on size.
const MaxErrorMessageLen = 500

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool, which
	// also makes the claim transaction safe against concurrent workers
	// sharing one database file.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string. ULIDs sort lexically by creation time,
// which keeps prefix ordering consistent with created_at.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// truncateMessage bounds a failure message to MaxErrorMessageLen.
func truncateMessage(msg string) string {
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	return msg[:MaxErrorMessageLen-3] + "..."
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const issueColumns = `id, title, description, source_url, manual_instructions, status, pr_url, error_message, created_by, approved_by, claimed_by, claimed_at, attempt_count, created_at, updated_at`

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if strings.TrimSpace(issue.Title) == "" {
		return ErrEmptyTitle
	}
	if issue.ID == "" {
		issue.ID = newULID()
	}
	issue.Status = models.IssueStatusReported
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO issues (id, title, description, source_url, manual_instructions, status, pr_url, error_message, created_by, approved_by, claimed_by, claimed_at, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Title, issue.Description, issue.SourceURL, issue.ManualInstructions,
		string(issue.Status), issue.PRURL, issue.ErrorMessage,
		issue.CreatedBy, issue.ApprovedBy, issue.ClaimedBy, issue.ClaimedAt,
		issue.AttemptCount, issue.CreatedAt, issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

// scanIssue scans one issue row from a *sql.Row or *sql.Rows.
func scanIssue(row interface{ Scan(...any) error }) (*models.Issue, error) {
	issue := &models.Issue{}
	var status string
	var claimedAt sql.NullTime

	err := row.Scan(&issue.ID, &issue.Title, &issue.Description, &issue.SourceURL,
		&issue.ManualInstructions, &status, &issue.PRURL, &issue.ErrorMessage,
		&issue.CreatedBy, &issue.ApprovedBy, &issue.ClaimedBy, &claimedAt,
		&issue.AttemptCount, &issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}

	issue.Status = models.IssueStatus(status)
	if claimedAt.Valid {
		issue.ClaimedAt = &claimedAt.Time
	}
	return issue, nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)

	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var args []any

	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET title=?, description=?, source_url=?, manual_instructions=?, status=?, pr_url=?, error_message=?, created_by=?, approved_by=?, claimed_by=?, claimed_at=?, attempt_count=?, updated_at=?
		WHERE id=?`,
		issue.Title, issue.Description, issue.SourceURL, issue.ManualInstructions,
		string(issue.Status), issue.PRURL, issue.ErrorMessage,
		issue.CreatedBy, issue.ApprovedBy, issue.ClaimedBy, issue.ClaimedAt,
		issue.AttemptCount, issue.UpdatedAt, issue.ID,
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue not found: %s", issue.ID)
	}
	return nil
}

func (s *SQLiteStore) ApproveIssue(ctx context.Context, id, approvedBy string) (*models.Issue, error) {
	// Guard covers both fresh approval and re-approval of a failed issue.
	// Re-approval clears the stale error message so the record re-enters the
	// backlog clean.
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status=?, approved_by=?, error_message='', updated_at=?
		WHERE id=? AND status IN (?, ?)`,
		string(models.IssueStatusApproved), approvedBy, time.Now().UTC(),
		id, string(models.IssueStatusReported), string(models.IssueStatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("approve issue: %w", err)
	}
	return s.afterGuardedUpdate(ctx, id, result)
}

func (s *SQLiteStore) RejectIssue(ctx context.Context, id string) (*models.Issue, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(models.IssueStatusRejected), time.Now().UTC(),
		id, string(models.IssueStatusReported),
	)
	if err != nil {
		return nil, fmt.Errorf("reject issue: %w", err)
	}
	return s.afterGuardedUpdate(ctx, id, result)
}

// afterGuardedUpdate resolves the outcome of a status-guarded UPDATE: fetch
// the record when the guard matched, otherwise distinguish missing record
// from illegal transition.
func (s *SQLiteStore) afterGuardedUpdate(ctx context.Context, id string, result sql.Result) (*models.Issue, error) {
	n, _ := result.RowsAffected()
	if n > 0 {
		return s.GetIssue(ctx, id)
	}
	issue, err := s.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: issue %s is %s", ErrIllegalTransition, id, issue.Status)
}

func (s *SQLiteStore) ClaimIssue(ctx context.Context, workerID string) (*models.Issue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Oldest approved first for fairness. The id tiebreak keeps ordering
	// deterministic when created_at collides.
	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM issues WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		string(models.IssueStatusApproved),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable issue: %w", err)
	}

	// Compare-and-swap on status so a racing claimant that got the same
	// candidate row loses cleanly instead of double-claiming.
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE issues SET status=?, claimed_by=?, claimed_at=?, attempt_count=attempt_count+1, updated_at=?
		WHERE id=? AND status=?`,
		string(models.IssueStatusInProgress), workerID, now, now,
		id, string(models.IssueStatusApproved),
	)
	if err != nil {
		return nil, fmt.Errorf("claim issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return s.GetIssue(ctx, id)
}

func (s *SQLiteStore) MarkIssuePRRaised(ctx context.Context, id, prURL string) (*models.Issue, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status=?, pr_url=?, error_message='', claimed_by='', claimed_at=NULL, updated_at=?
		WHERE id=? AND status=?`,
		string(models.IssueStatusPRRaised), prURL, time.Now().UTC(),
		id, string(models.IssueStatusInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("mark issue pr_raised: %w", err)
	}
	return s.afterGuardedUpdate(ctx, id, result)
}

func (s *SQLiteStore) MarkIssueFailed(ctx context.Context, id, message string) (*models.Issue, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status=?, error_message=?, pr_url='', claimed_by='', claimed_at=NULL, updated_at=?
		WHERE id=? AND status=?`,
		string(models.IssueStatusFailed), truncateMessage(message), time.Now().UTC(),
		id, string(models.IssueStatusInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("mark issue failed: %w", err)
	}
	return s.afterGuardedUpdate(ctx, id, result)
}

func (s *SQLiteStore) CountIssuesByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM issues GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(StatusCounts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[models.IssueStatus(status)] = n
	}
	return counts, rows.Err()
}
