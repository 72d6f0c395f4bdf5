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

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"igmonitor/internal/domain"
	logx "igmonitor/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type accountRow struct {
	Seq           int64  `db:"seq"`
	ID            string `db:"id"`
	State         string `db:"state"`
	CheckCount    int64  `db:"check_count"`
	NextCheckAt   int64  `db:"next_check_at"`
	CreatedAt     int64  `db:"created_at"`
	LastCheckedAt int64  `db:"last_checked_at"`
	LastStatus    int    `db:"last_status"`
	AddedBy       int64  `db:"added_by"`
	NotifiedAt    int64  `db:"notified_at"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps the pragmas below in effect and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := runMigrations(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Upsert(ctx context.Context, rec domain.MonitoredAccount) error {
	if strings.TrimSpace(rec.ID) == "" {
		return domain.ErrInvalidAccount
	}
	row := toRow(rec)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO accounts (id, state, check_count, next_check_at, created_at, last_checked_at, last_status, added_by, notified_at)
		VALUES (:id, :state, :check_count, :next_check_at, :created_at, :last_checked_at, :last_status, :added_by, :notified_at)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			check_count = excluded.check_count,
			next_check_at = excluded.next_check_at,
			created_at = excluded.created_at,
			last_checked_at = excluded.last_checked_at,
			last_status = excluded.last_status,
			added_by = excluded.added_by,
			notified_at = excluded.notified_at`, row)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", rec.ID, err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.MonitoredAccount, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM accounts WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MonitoredAccount{}, ErrNotFound
		}
		return domain.MonitoredAccount{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]domain.MonitoredAccount, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM accounts ORDER BY seq ASC`); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]domain.MonitoredAccount, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *sqliteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func toRow(rec domain.MonitoredAccount) accountRow {
	return accountRow{
		ID:            rec.ID,
		State:         string(rec.State),
		CheckCount:    rec.CheckCount,
		NextCheckAt:   toNanos(rec.NextCheckAt),
		CreatedAt:     toNanos(rec.CreatedAt),
		LastCheckedAt: toNanos(rec.LastCheckedAt),
		LastStatus:    rec.LastStatus,
		AddedBy:       rec.AddedBy,
		NotifiedAt:    toNanos(rec.NotifiedAt),
	}
}

func (r accountRow) toDomain() domain.MonitoredAccount {
	st := domain.AccountState(r.State)
	if !st.Valid() {
		st = domain.StateUnknown
	}
	return domain.MonitoredAccount{
		ID:            r.ID,
		State:         st,
		CheckCount:    r.CheckCount,
		NextCheckAt:   fromNanos(r.NextCheckAt),
		CreatedAt:     fromNanos(r.CreatedAt),
		LastCheckedAt: fromNanos(r.LastCheckedAt),
		LastStatus:    r.LastStatus,
		AddedBy:       r.AddedBy,
		NotifiedAt:    fromNanos(r.NotifiedAt),
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
