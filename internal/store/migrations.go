package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"moderation-queue/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationState tracks how far a Migrator run got.
type MigrationState int

const (
	MigrationNotStarted MigrationState = iota
	MigrationLockPending
	MigrationApplying
	MigrationDone
	MigrationTimedOut
)

func (s MigrationState) String() string {
	switch s {
	case MigrationNotStarted:
		return "not_started"
	case MigrationLockPending:
		return "lock_pending"
	case MigrationApplying:
		return "applying"
	case MigrationDone:
		return "done"
	case MigrationTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MigratorOptions configures a Migrator. Zero durations fall back to a 60s
// timeout polled once per second.
type MigratorOptions struct {
	LockKey      int64
	LockTimeout  time.Duration
	PollInterval time.Duration
	// InstanceID is recorded in the ledger next to every migration this
	// process applies. A random uuid is used when empty.
	InstanceID string
	// Files holds *.sql files at its root. Defaults to the embedded set.
	Files  fs.FS
	Logger logrus.FieldLogger
}

// MigrationReport summarises one Migrator run.
type MigrationReport struct {
	InstanceID string
	State      MigrationState
	LockWait   time.Duration
	Applied    []string
	Skipped    []string
}

// Migrator applies the numbered SQL migrations exactly once across every
// instance sharing the database, serialised by a session advisory lock.
type Migrator struct {
	pool *pgxpool.Pool
	opts MigratorOptions
	log  logrus.FieldLogger
}

type migration struct {
	name string
	sql  string
}

// NewMigrator builds a Migrator over pool.
func NewMigrator(pool *pgxpool.Pool, opts MigratorOptions) *Migrator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 60 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.Files == nil {
		sub, err := fs.Sub(migrationFiles, "migrations")
		if err != nil {
			panic(fmt.Sprintf("embedded migrations: %v", err))
		}
		opts.Files = sub
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Migrator{
		pool: pool,
		opts: opts,
		log:  log.WithFields(logrus.Fields{"component": "migrator", "instance_id": opts.InstanceID}),
	}
}

// RunMigrations applies pending migrations using the store's pool.
func (s *Store) RunMigrations(ctx context.Context, opts MigratorOptions) (MigrationReport, error) {
	if s.pool == nil {
		return MigrationReport{}, errors.New("store: migrations require a pool")
	}
	return NewMigrator(s.pool, opts).Run(ctx)
}

// MigrationEntry is one known migration file and its ledger record, if any.
type MigrationEntry struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
	AppliedBy string
}

// MigrationStatus lists every migration in Files with its ledger record. It
// reads only and takes no lock, so it reflects a point in time.
func (s *Store) MigrationStatus(ctx context.Context, opts MigratorOptions) ([]MigrationEntry, error) {
	if s.pool == nil {
		return nil, errors.New("store: migrations require a pool")
	}
	return NewMigrator(s.pool, opts).Status(ctx)
}

// Status reports which migrations the ledger records as applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationEntry, error) {
	migrations, err := loadMigrations(m.opts.Files)
	if err != nil {
		return nil, err
	}

	var exists bool
	if err := m.pool.QueryRow(ctx, `SELECT to_regclass('_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check migrations ledger: %w", err)
	}

	records := make(map[string]MigrationEntry)
	if exists {
		// applied_by is read through jsonb so ledgers that predate the column still load.
		rows, err := m.pool.Query(ctx, `
			SELECT name, applied_at, COALESCE(to_jsonb(l) ->> 'applied_by', '')
			FROM _migrations l
		`)
		if err != nil {
			return nil, fmt.Errorf("read migrations ledger: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			e := MigrationEntry{Applied: true}
			if err := rows.Scan(&e.Name, &e.AppliedAt, &e.AppliedBy); err != nil {
				return nil, fmt.Errorf("scan migrations ledger: %w", err)
			}
			records[e.Name] = e
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read migrations ledger: %w", err)
		}
	}

	out := make([]MigrationEntry, 0, len(migrations))
	for _, mig := range migrations {
		e, ok := records[mig.name]
		if !ok {
			e = MigrationEntry{Name: mig.name}
		}
		out = append(out, e)
	}
	return out, nil
}

// Run ensures the ledger exists, waits for the global migration lock and
// applies every migration not yet recorded, in order. The lock is released on
// every exit path. A run that cannot get the lock within LockTimeout fails
// with ErrLockTimeout.
func (m *Migrator) Run(ctx context.Context) (MigrationReport, error) {
	report := MigrationReport{InstanceID: m.opts.InstanceID, State: MigrationNotStarted}

	migrations, err := loadMigrations(m.opts.Files)
	if err != nil {
		return report, err
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if err := ensureLedger(ctx, conn); err != nil {
		return report, err
	}

	report.State = MigrationLockPending
	m.log.WithField("lock_key", m.opts.LockKey).Info("waiting for migration lock")
	wait, err := waitForLock(ctx, sessionLocker{q: conn}, m.opts.LockKey, m.opts.LockTimeout, m.opts.PollInterval)
	report.LockWait = wait
	telemetry.MigrationLockWait.Observe(wait.Seconds())
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			report.State = MigrationTimedOut
			m.log.WithError(err).WithField("lock_key", m.opts.LockKey).Error("migration lock not acquired; another instance may be stuck")
		}
		return report, err
	}
	defer m.unlock(conn)

	report.State = MigrationApplying
	// Columns added after the first release of the ledger.
	if _, err := conn.Exec(ctx, `ALTER TABLE _migrations ADD COLUMN IF NOT EXISTS applied_by TEXT`); err != nil {
		return report, fmt.Errorf("upgrade migrations ledger: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return report, err
	}

	for _, mig := range migrations {
		if _, ok := applied[mig.name]; ok {
			m.log.WithField("migration", mig.name).Debug("migration already applied, skipping")
			report.Skipped = append(report.Skipped, mig.name)
			continue
		}
		m.log.WithField("migration", mig.name).Info("applying migration")
		err := applyMigration(ctx, conn, mig, m.opts.InstanceID)
		if errors.Is(err, ErrDuplicateKey) {
			// The ledger's unique name caught a concurrent apply.
			m.log.WithField("migration", mig.name).Warn("migration recorded by another instance, skipping")
			report.Skipped = append(report.Skipped, mig.name)
			continue
		}
		if err != nil {
			return report, err
		}
		telemetry.MigrationsApplied.Inc()
		report.Applied = append(report.Applied, mig.name)
	}

	report.State = MigrationDone
	m.log.WithFields(logrus.Fields{
		"applied": len(report.Applied),
		"skipped": len(report.Skipped),
	}).Info("migrations complete")
	return report, nil
}

// unlock releases the session lock on a fresh context so a cancelled run
// still unlocks. If that fails the session is closed, which drops the lock.
func (m *Migrator) unlock(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var released bool
	err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, m.opts.LockKey).Scan(&released)
	if err == nil && released {
		return
	}
	m.log.WithError(err).WithField("released", released).Warn("migration unlock failed, closing session")
	raw := conn.Hijack()
	_ = raw.Close(ctx)
}

func ensureLedger(ctx context.Context, q Querier) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS _migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) UNIQUE NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			applied_by TEXT
		)`
	_, err := q.Exec(ctx, ddl)
	if errors.Is(mapPgErr(err), ErrDuplicateKey) {
		// Two instances racing CREATE TABLE IF NOT EXISTS: the loser sees a
		// catalog unique violation. The table exists now, so retry once.
		_, err = q.Exec(ctx, ddl)
	}
	if err != nil {
		return fmt.Errorf("ensure migrations ledger: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, q Querier) (map[string]struct{}, error) {
	rows, err := q.Query(ctx, `SELECT name FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migrations ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan migrations ledger: %w", err)
		}
		applied[name] = struct{}{}
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, conn *pgxpool.Conn, mig migration, instanceID string) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", mig.name, err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if strings.TrimSpace(mig.sql) != "" {
		if _, err := tx.Exec(ctx, mig.sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", mig.name, err)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO _migrations (name, applied_by) VALUES ($1, $2)
	`, mig.name, instanceID); err != nil {
		return fmt.Errorf("record migration %s: %w", mig.name, mapPgErr(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", mig.name, err)
	}
	return nil
}

// loadMigrations reads the *.sql files at the root of fsys ordered by numeric
// prefix, then by name. Files without a prefix sort after numbered ones.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	type candidate struct {
		name     string
		prefix   int
		numbered bool
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		prefix, numbered := numericPrefix(e.Name())
		candidates = append(candidates, candidate{name: e.Name(), prefix: prefix, numbered: numbered})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.numbered != b.numbered {
			return a.numbered
		}
		if a.prefix != b.prefix {
			return a.prefix < b.prefix
		}
		return a.name < b.name
	})

	out := make([]migration, 0, len(candidates))
	for _, c := range candidates {
		content, err := fs.ReadFile(fsys, c.name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", c.name, err)
		}
		out = append(out, migration{name: c.name, sql: string(content)})
	}
	return out, nil
}

func numericPrefix(name string) (int, bool) {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
