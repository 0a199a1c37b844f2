// Package sqlbackend implements metadata.Backend against a relational
// database (spec.md §4.4 "Relational backend"): three tables
// (file_metadata, file_location, file_upload_lock) with logAddFile as a
// single transaction and tryAcquireUploadLock using a TTL-expiring lock row.
//
// Grounded on launix-de-memcp/storage/mysql_import.go: `database/sql` with
// the MySQL driver imported for side effects only
// (`_ "github.com/go-sql-driver/mysql"`), parameterized queries, and
// `sql.Tx`-scoped multi-statement writes.
package sqlbackend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/zynqcloud/nimbusfs/internal/metadata"
)

// Backend is the relational implementation of metadata.Backend.
type Backend struct {
	db *sql.DB
}

// Config names the connection parameters (spec.md §6 "metadata.mysql.*").
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// dsn renders Config as a go-sql-driver/mysql data source name.
func (c Config) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS file_metadata (
	storage_id  VARCHAR(36)  NOT NULL PRIMARY KEY,
	filename    VARCHAR(1024) NOT NULL,
	file_hash   CHAR(64)     NOT NULL,
	create_time DATETIME     NOT NULL,
	INDEX idx_file_hash (file_hash)
);
CREATE TABLE IF NOT EXISTS file_location (
	id      BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	file_hash CHAR(64)      NOT NULL,
	address VARCHAR(255)    NOT NULL,
	UNIQUE KEY uq_hash_address (file_hash, address)
);
CREATE TABLE IF NOT EXISTS file_upload_lock (
	file_hash   CHAR(64)     NOT NULL PRIMARY KEY,
	node_id     VARCHAR(255) NOT NULL,
	expire_time DATETIME     NOT NULL
);
`

// Open connects to the database and ensures the schema in spec.md §6 exists.
func Open(cfg Config) (*Backend, error) {
	db, err := sql.Open("mysql", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("sqlbackend: open: %w", err)
	}
	db.SetMaxOpenConns(32)
	db.SetConnMaxLifetime(time.Hour)

	for _, stmt := range strings.Split(schemaDDL, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlbackend: migrate: %w", err)
		}
	}
	return &Backend{db: db}, nil
}

// Recover is a no-op: the relational backend's durable state is already in
// the database, not replayed into memory (spec.md §4.4).
func (b *Backend) Recover(_ context.Context) error { return nil }

// QueryByHash joins file_metadata and file_location on file_hash and
// returns the first match (spec.md §4.4 "queryByHash(hash) -> MetaRecord?").
func (b *Backend) QueryByHash(ctx context.Context, hash string) (metadata.Record, bool, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT m.storage_id, m.filename, m.file_hash, m.create_time, l.address
		FROM file_metadata m
		JOIN file_location l ON l.file_hash = m.file_hash
		WHERE m.file_hash = ?
		LIMIT 1`, hash)

	var rec metadata.Record
	err := row.Scan(&rec.StorageID, &rec.Filename, &rec.Hash, &rec.CreateTime, &rec.Location)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Record{}, false, nil
	}
	if err != nil {
		return metadata.Record{}, false, fmt.Errorf("sqlbackend: query by hash: %w", err)
	}
	return rec, true, nil
}

// QueryHashByStorageID uses the file_metadata primary key — an index
// lookup, not a scan (spec.md §9 Open Question 2).
func (b *Backend) QueryHashByStorageID(ctx context.Context, storageID string) (string, bool, error) {
	row := b.db.QueryRowContext(ctx, `SELECT file_hash FROM file_metadata WHERE storage_id = ?`, storageID)
	var hash string
	err := row.Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlbackend: query hash by storage id: %w", err)
	}
	return hash, true, nil
}

// LogAddFile performs the single transaction spec.md §4.4 describes:
// insert metadata, INSERT-IGNORE location, delete the now-redundant lock.
func (b *Backend) LogAddFile(ctx context.Context, filename, hash, location, storageID string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlbackend: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO file_metadata (storage_id, filename, file_hash, create_time) VALUES (?, ?, ?, ?)`,
		storageID, filename, hash, time.Now()); err != nil {
		return fmt.Errorf("sqlbackend: insert metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO file_location (file_hash, address) VALUES (?, ?)`,
		hash, location); err != nil {
		return fmt.Errorf("sqlbackend: insert location: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_upload_lock WHERE file_hash = ?`, hash); err != nil {
		return fmt.Errorf("sqlbackend: delete lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlbackend: commit: %w", err)
	}
	return nil
}

// TryAcquireUploadLock first reclaims any row whose TTL has expired, then
// attempts to insert a fresh lock row; a unique-key violation means another
// node already holds it (spec.md §4.4).
func (b *Backend) TryAcquireUploadLock(ctx context.Context, hash, nodeID string) (bool, error) {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM file_upload_lock WHERE file_hash = ? AND expire_time < ?`,
		hash, time.Now()); err != nil {
		return false, fmt.Errorf("sqlbackend: reap expired lock: %w", err)
	}

	expireTime := time.Now().Add(metadata.UploadLockTTL)
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO file_upload_lock (file_hash, node_id, expire_time) VALUES (?, ?, ?)`,
		hash, nodeID, expireTime)
	if err == nil {
		return true, nil
	}
	if isDuplicateKeyErr(err) {
		return false, nil
	}
	return false, fmt.Errorf("sqlbackend: acquire lock: %w", err)
}

// ReleaseUploadLock deletes the lock row for hash, if any.
func (b *Backend) ReleaseUploadLock(ctx context.Context, hash string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM file_upload_lock WHERE file_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("sqlbackend: release lock: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// mysqlErrDuplicateEntry is MySQL error 1062 (ER_DUP_ENTRY).
const mysqlErrDuplicateEntry = 1062

// isDuplicateKeyErr reports whether err is a MySQL duplicate-key violation —
// the signal that another node already holds the upload lock for this hash.
func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

var _ metadata.Backend = (*Backend)(nil)
