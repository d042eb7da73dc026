package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store, applying pragmas and migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, r Reminder) (int64, error) {
	if strings.TrimSpace(r.JobID) == "" {
		return 0, errors.New("job id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(user_id, text, created_at, delivery_time, job_id, status)
		 VALUES(?,?,?,?,?,?)`,
		r.UserID, r.Text, r.CreatedAt.UnixMilli(), r.DeliveryTime.UnixMilli(), r.JobID, string(r.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("job %s: %w", r.JobID, ErrDuplicateJobID)
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) GetByJobID(ctx context.Context, jobID string) (Reminder, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE job_id = ?`, jobID)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return r, err
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]Reminder, error) {
	return s.list(ctx, selectCols+` WHERE status = ? ORDER BY delivery_time ASC`, string(StatusPending))
}

func (s *sqliteStore) ListByUser(ctx context.Context, userID int64, onlyPending bool) ([]Reminder, error) {
	if onlyPending {
		return s.list(ctx,
			selectCols+` WHERE user_id = ? AND status = ? ORDER BY delivery_time ASC`,
			userID, string(StatusPending))
	}
	return s.list(ctx, selectCols+` WHERE user_id = ? ORDER BY delivery_time ASC`, userID)
}

func (s *sqliteStore) Claim(ctx context.Context, jobID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, claimed_at = ? WHERE job_id = ? AND status = ?`,
		string(StatusInflight), at.UnixMilli(), jobID, string(StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) Release(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, claimed_at = NULL WHERE job_id = ? AND status = ?`,
		string(StatusPending), jobID, string(StatusInflight),
	)
	return err
}

func (s *sqliteStore) MarkSent(ctx context.Context, jobID string, sentAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, sent_at = ?, claimed_at = NULL
		 WHERE job_id = ? AND status = ?`,
		string(StatusSent), sentAt.UnixMilli(), jobID, string(StatusInflight),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) Cancel(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE job_id = ? AND status = ?`,
		string(StatusCancelled), jobID, string(StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) ReleaseStaleInflight(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, claimed_at = NULL
		 WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?`,
		string(StatusPending), string(StatusInflight), cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE status = ? AND sent_at IS NOT NULL AND sent_at <= ?`,
		string(StatusSent), cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) DeleteUnsentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE status != ? AND delivery_time <= ?`,
		string(StatusSent), cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reminders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int64{}
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

const selectCols = `SELECT id, user_id, text, created_at, delivery_time, job_id, status, sent_at, claimed_at FROM reminders`

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (Reminder, error) {
	var (
		r         Reminder
		createdMS int64
		deliverMS int64
		status    string
		sentMS    sql.NullInt64
		claimMS   sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.UserID, &r.Text, &createdMS, &deliverMS, &r.JobID, &status, &sentMS, &claimMS)
	if err != nil {
		return Reminder{}, err
	}
	r.CreatedAt = time.UnixMilli(createdMS)
	r.DeliveryTime = time.UnixMilli(deliverMS)
	r.Status = Status(status)
	if sentMS.Valid {
		r.SentAt = time.UnixMilli(sentMS.Int64)
	}
	if claimMS.Valid {
		r.ClaimedAt = time.UnixMilli(claimMS.Int64)
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// match on the stable SQLite message instead of driver internals.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
