package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/neuralfs/neuralfs/internal/faults"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrateStateTable is golang-migrate's internal version table. The
// engine's own schema_migrations ledger (version, name, applied_at,
// checksum) is maintained separately per migration.
const migrateStateTable = "migrate_state"

type migrationInfo struct {
	version  uint
	name     string
	checksum string
}

// pendingMigrations lists embedded migrations above the current version,
// sorted by strictly increasing version.
func pendingMigrations(current uint, haveCurrent bool) ([]migrationInfo, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var out []migrationInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		base := strings.TrimSuffix(name, ".up.sql")
		sep := strings.Index(base, "_")
		if sep < 1 {
			return nil, fmt.Errorf("malformed migration filename: %s", name)
		}
		v, err := strconv.ParseUint(base[:sep], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed migration version in %s: %w", name, err)
		}
		if haveCurrent && uint(v) <= current {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		out = append(out, migrationInfo{
			version:  uint(v),
			name:     base[sep+1:],
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Migrate applies pending migrations in strictly increasing version order,
// one transaction each, recording (version, name, applied_at, checksum) in
// schema_migrations. Before each migration the database file is copied to
// a .backup.<timestamp> sibling; on failure the copy is restored and a
// Corrupt error is returned.
func (s *Store) Migrate(ctx context.Context) (applied int, err error) {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL,
		checksum TEXT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create migration ledger: %w", err)
	}

	drv, err := msqlite.WithInstance(s.db, &msqlite.Config{MigrationsTable: migrateStateTable})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return 0, fmt.Errorf("migrator: %w", err)
	}
	// m is not closed: closing would close the shared db handle.

	current, dirty, err := m.Version()
	haveCurrent := true
	if err != nil {
		if !errors.Is(err, migrate.ErrNilVersion) {
			return 0, fmt.Errorf("migration version: %w", err)
		}
		haveCurrent = false
	}
	if dirty {
		return 0, faults.Newf(faults.Corrupt, "database dirty at migration version %d", current)
	}

	pending, err := pendingMigrations(current, haveCurrent)
	if err != nil {
		return 0, err
	}

	for _, mi := range pending {
		backup, err := s.backupDatabaseFile()
		if err != nil {
			return applied, err
		}
		if stepErr := m.Steps(1); stepErr != nil && !errors.Is(stepErr, migrate.ErrNoChange) {
			if restoreErr := s.restoreDatabaseFile(backup); restoreErr != nil {
				return applied, faults.Wrap(faults.Corrupt,
					fmt.Sprintf("migration %d failed and restore failed (%v)", mi.version, restoreErr), stepErr)
			}
			return applied, faults.Wrap(faults.Corrupt,
				fmt.Sprintf("migration %d (%s) failed, backup restored", mi.version, mi.name), stepErr)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO schema_migrations (version, name, applied_at, checksum) VALUES (?, ?, ?, ?)`,
			mi.version, mi.name, time.Now().UTC(), mi.checksum,
		); err != nil {
			return applied, fmt.Errorf("record migration %d: %w", mi.version, err)
		}
		applied++
	}
	return applied, nil
}

// MigrationRecord is one row of the schema_migrations ledger.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
}

// MigrationHistory returns applied migrations in version order.
func (s *Store) MigrationHistory(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, name, applied_at, checksum FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		if err := rows.Scan(&r.Version, &r.Name, &r.AppliedAt, &r.Checksum); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// backupDatabaseFile checkpoints WAL and copies the database file to a
// timestamped sibling. Returns the backup path.
func (s *Store) backupDatabaseFile() (string, error) {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("checkpoint before backup: %w", err)
	}
	backup := fmt.Sprintf("%s.backup.%d", s.path, time.Now().Unix())
	if err := copyFile(s.path, backup); err != nil {
		return "", fmt.Errorf("backup database: %w", err)
	}
	return backup, nil
}

func (s *Store) restoreDatabaseFile(backup string) error {
	return copyFile(backup, s.path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
