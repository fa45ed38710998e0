package assets

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Local stores asset files under a directory with a sqlite index alongside
// (name, digest, size, created_at). The index makes Exists cheap and keeps
// upload metadata queryable without scanning the filesystem.
type Local struct {
	root string
	db   *sql.DB
}

func OpenLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("empty assets root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(root, "assets.db"))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Local{root: root, db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style upload workload.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS assets (
		name TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);`)
	return err
}

func (l *Local) Close() error { return l.db.Close() }

// Upload streams r into the store. Writes go to a temp file first so a
// failed upload never leaves a partial asset behind. Re-uploading an
// existing name is a no-op (assets are content-addressed and immutable).
func (l *Local) Upload(ctx context.Context, name string, r io.Reader) error {
	if !validName(name) {
		return fmt.Errorf("upload %q: %w", name, ErrRejected)
	}
	if ok, err := l.Exists(ctx, name); err != nil {
		return err
	} else if ok {
		return nil
	}

	tmp, err := os.CreateTemp(l.root, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), l.Path(name)); err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assets (name, digest, size, created_at) VALUES (?, ?, ?, ?)`,
		name, hex.EncodeToString(h.Sum(nil)), size, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	if !validName(name) {
		return false, nil
	}
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM assets WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Files dropped in out-of-band (e.g. seeded worlds) count too.
	_, err = os.Stat(l.Path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) Path(name string) string { return filepath.Join(l.root, name) }

func validName(name string) bool {
	if name == "" || name != filepath.Base(name) {
		return false
	}
	return !strings.HasPrefix(name, ".")
}
