package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidBackupPath is returned for destinations that cannot be embedded in VACUUM INTO.
var ErrInvalidBackupPath = errors.New("invalid backup path")

const maxAutoBackups = 5

// Backup writes a consistent copy of the database to destPath.
func (s *SQLiteStorage) Backup(ctx context.Context, destPath string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if s.dbPath == ":memory:" {
		return fmt.Errorf("%w: in-memory database", ErrInvalidBackupPath)
	}
	if strings.ContainsAny(destPath, `'";`) || !filepath.IsAbs(destPath) || strings.Contains(destPath, "..") {
		return fmt.Errorf("%w: %s", ErrInvalidBackupPath, destPath)
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrInvalidBackupPath, destPath)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}

	// #nosec G201 - destPath is validated above
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return nil
}

// AutoBackup backs the database up next to itself before a risky operation
// and prunes older automatic backups. It returns the backup path.
func (s *SQLiteStorage) AutoBackup(ctx context.Context, reason string) (string, error) {
	dir := filepath.Join(filepath.Dir(s.dbPath), "backups")
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve backup directory: %w", err)
	}

	dest := filepath.Join(absDir, fmt.Sprintf("auto-%s-%s.db", reason, time.Now().UTC().Format("20060102-150405")))
	if err := s.Backup(ctx, dest); err != nil {
		return "", err
	}

	if err := pruneAutoBackups(absDir, maxAutoBackups); err != nil {
		slog.Warn("failed to prune old automatic backups", "error", err)
	}
	return dest, nil
}

// NeedsMigration reports whether the schema is behind ExpectedSchemaVersion.
func (s *SQLiteStorage) NeedsMigration(ctx context.Context) (bool, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return false, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version < ExpectedSchemaVersion, nil
}

func pruneAutoBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "auto-") && strings.HasSuffix(entry.Name(), ".db") {
			names = append(names, entry.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}

	// Timestamps sort lexically; newest last.
	sort.Slice(names, func(i, j int) bool {
		return names[i][strings.LastIndex(names[i], "-")-8:] < names[j][strings.LastIndex(names[j], "-")-8:]
	})
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			slog.Debug("failed to delete old backup", "error", err, "backup", name)
		}
	}
	return nil
}
