package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dreamware/orderless/internal/txn"
)

// Checkpoint persists and reloads nonce history snapshots.
// Implementations must be safe for concurrent use.
type Checkpoint interface {
	// Save replaces the stored snapshot with snap
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the stored snapshot, or an empty one if nothing was saved
	Load(ctx context.Context) (Snapshot, error)

	// Close releases underlying resources
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS nonce_meta (
	id       INTEGER PRIMARY KEY CHECK (id = 0),
	next_key INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nonce_buckets (
	bucket       INTEGER PRIMARY KEY,
	last_stored0 INTEGER NOT NULL,
	last_stored1 INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nonce_entries (
	bucket     INTEGER NOT NULL,
	generation INTEGER NOT NULL,
	sender     BLOB    NOT NULL,
	nonce      INTEGER NOT NULL,
	expiration INTEGER NOT NULL
);`

// SQLiteCheckpoint stores snapshots in a SQLite database file.
// uint64 values are stored bit-cast to int64 since database/sql rejects
// uint64 arguments with the high bit set.
type SQLiteCheckpoint struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a checkpoint database at path
func OpenSQLite(path string) (*SQLiteCheckpoint, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	// A single connection keeps writers serialized on the file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	return &SQLiteCheckpoint{db: db}, nil
}

// Save replaces the stored snapshot inside one transaction
func (c *SQLiteCheckpoint) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		"DELETE FROM nonce_entries",
		"DELETE FROM nonce_buckets",
		"DELETE FROM nonce_meta",
	} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear checkpoint: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO nonce_meta (id, next_key) VALUES (0, ?)", int64(snap.NextKey)); err != nil {
		return fmt.Errorf("write checkpoint meta: %w", err)
	}

	bucketStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO nonce_buckets (bucket, last_stored0, last_stored1) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare bucket insert: %w", err)
	}
	defer bucketStmt.Close()

	entryStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO nonce_entries (bucket, generation, sender, nonce, expiration) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer entryStmt.Close()

	for _, b := range snap.Buckets {
		if _, err = bucketStmt.ExecContext(ctx, int64(b.Index),
			int64(b.Generations[0].LastStoredTime),
			int64(b.Generations[1].LastStoredTime)); err != nil {
			return fmt.Errorf("write bucket %d: %w", b.Index, err)
		}
		for g, gen := range b.Generations {
			for _, e := range gen.Entries {
				if _, err = entryStmt.ExecContext(ctx, int64(b.Index), g,
					e.Key.Sender.Bytes(), int64(e.Key.Nonce), int64(e.Expiration)); err != nil {
					return fmt.Errorf("write entry in bucket %d: %w", b.Index, err)
				}
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Load reads the stored snapshot in canonical order
func (c *SQLiteCheckpoint) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Buckets: []BucketSnapshot{}}

	var nextKey int64
	err := c.db.QueryRowContext(ctx, "SELECT next_key FROM nonce_meta WHERE id = 0").Scan(&nextKey)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return Snapshot{}, fmt.Errorf("read checkpoint meta: %w", err)
	default:
		snap.NextKey = uint32(nextKey)
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT bucket, last_stored0, last_stored1 FROM nonce_buckets ORDER BY bucket")
	if err != nil {
		return Snapshot{}, fmt.Errorf("read checkpoint buckets: %w", err)
	}
	byIndex := make(map[uint32]int)
	for rows.Next() {
		var idx, last0, last1 int64
		if err := rows.Scan(&idx, &last0, &last1); err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("scan bucket: %w", err)
		}
		byIndex[uint32(idx)] = len(snap.Buckets)
		snap.Buckets = append(snap.Buckets, BucketSnapshot{
			Index: uint32(idx),
			Generations: [2]GenerationSnapshot{
				{LastStoredTime: uint64(last0), Entries: []Entry{}},
				{LastStoredTime: uint64(last1), Entries: []Entry{}},
			},
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Snapshot{}, fmt.Errorf("read checkpoint buckets: %w", err)
	}
	rows.Close()

	rows, err = c.db.QueryContext(ctx,
		"SELECT bucket, generation, sender, nonce, expiration FROM nonce_entries")
	if err != nil {
		return Snapshot{}, fmt.Errorf("read checkpoint entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			idx, nonce, exp int64
			gen             int
			sender          []byte
		)
		if err := rows.Scan(&idx, &gen, &sender, &nonce, &exp); err != nil {
			return Snapshot{}, fmt.Errorf("scan entry: %w", err)
		}
		pos, ok := byIndex[uint32(idx)]
		if !ok || gen < 0 || gen > 1 {
			return Snapshot{}, fmt.Errorf("corrupt checkpoint entry: bucket %d generation %d", idx, gen)
		}
		entries := &snap.Buckets[pos].Generations[gen].Entries
		*entries = append(*entries, Entry{
			Key:        txn.NewNonceKey(common.BytesToAddress(sender), uint64(nonce)),
			Expiration: uint64(exp),
		})
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("read checkpoint entries: %w", err)
	}

	snap.normalize()
	return snap, nil
}

// Close closes the database
func (c *SQLiteCheckpoint) Close() error {
	return c.db.Close()
}
