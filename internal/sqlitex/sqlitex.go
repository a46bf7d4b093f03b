// Package sqlitex opens the shared devicepool SQLite database with settings
// that tolerate several harness processes writing at once.
package sqlitex

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	defaultDBDirName  = ".devicepool"
	defaultDBFileName = "inventory.sqlite"
)

// ResolvePath returns $DEVICEPOOL_DB_PATH or ~/.devicepool/inventory.sqlite,
// creating the parent directory.
func ResolvePath() (string, error) {
	if custom := config.String(config.EnvDBPath, ""); custom != "" {
		if err := ensureDir(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "sqlite: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

// Open opens path (or the resolved default when empty) and applies pragmas.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		resolved, err := ResolvePath()
		if err != nil {
			return nil, err
		}
		path = resolved
	} else if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open database failed")
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		// workers of one run write ledger rows concurrently
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "sqlite: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

// EnsureColumn adds column to table when an older schema lacks it.
func EnsureColumn(db *sql.DB, table, column, columnType string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s);", QuoteIdent(table)))
	if err != nil {
		return errors.Wrapf(err, "sqlite: describe %s schema failed", table)
	}
	defer rows.Close()
	exists := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return errors.Wrap(err, "sqlite: scan table info failed")
		}
		if strings.EqualFold(name, column) {
			exists = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "sqlite: iterate table info failed")
	}
	if exists {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", QuoteIdent(table), QuoteIdent(column), columnType)
	if _, err := db.Exec(stmt); err != nil {
		return errors.Wrapf(err, "sqlite: add column %s to %s failed", column, table)
	}
	return nil
}

// QuoteIdent double-quotes an SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "sqlite: create dir %s failed", dir)
	}
	return nil
}
