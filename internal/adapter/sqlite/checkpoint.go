// Package sqlite persists the pinning node's checkpoint in an embedded
// SQLite database. Rows are stored as per-rank deltas so a barrier only
// rewrites what changed; reconstruction at boot equals a full replace.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"titanh/internal/pinning"
)

// DefaultDir is the on-disk location of the checkpoint database.
const DefaultDir = "checkpointing_db"

// CheckpointStore is the single-writer durable store behind the dispatcher.
type CheckpointStore struct {
	db *sql.DB
}

// Open creates or opens the checkpoint database under dir.
func Open(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	db, err := openDB(filepath.Join(dir, "checkpoint.db"))
	if err != nil {
		return nil, err
	}
	s := &CheckpointStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// openDB opens a SQLite database with standard pragmas (WAL mode, busy
// timeout, synchronous FULL so every checkpoint survives power loss).
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = FULL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	return db, nil
}

func (s *CheckpointStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoint_meta (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	block_num INTEGER NOT NULL,
	pins      BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS keytable_rows (
	row_idx INTEGER PRIMARY KEY,
	payload BLOB NOT NULL
);`)
	if err != nil {
		return fmt.Errorf("migrate checkpoint schema: %w", err)
	}
	return nil
}

// Load reconstructs the last committed checkpoint. A fresh store yields the
// empty checkpoint at block 1.
func (s *CheckpointStore) Load() (pinning.Checkpoint, error) {
	var (
		block    int64
		pinsBlob []byte
	)
	err := s.db.QueryRow(`SELECT block_num, pins FROM checkpoint_meta WHERE id = 1`).
		Scan(&block, &pinsBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return pinning.EmptyCheckpoint(), nil
	}
	if err != nil {
		return pinning.Checkpoint{}, fmt.Errorf("read checkpoint meta: %w", err)
	}

	pins, err := decodePins(pinsBlob)
	if err != nil {
		return pinning.Checkpoint{}, err
	}

	rowsQ, err := s.db.Query(`SELECT row_idx, payload FROM keytable_rows ORDER BY row_idx`)
	if err != nil {
		return pinning.Checkpoint{}, fmt.Errorf("read keytable rows: %w", err)
	}
	defer rowsQ.Close()

	var rows [][]pinning.KeyCid
	for rowsQ.Next() {
		var (
			idx     int
			payload []byte
		)
		if err := rowsQ.Scan(&idx, &payload); err != nil {
			return pinning.Checkpoint{}, fmt.Errorf("scan keytable row: %w", err)
		}
		pairs, err := pinning.DecodeRow(payload)
		if err != nil {
			return pinning.Checkpoint{}, fmt.Errorf("decode keytable row %d: %w", idx, err)
		}
		for len(rows) <= idx {
			rows = append(rows, nil)
		}
		rows[idx] = pairs
	}
	if err := rowsQ.Err(); err != nil {
		return pinning.Checkpoint{}, fmt.Errorf("iterate keytable rows: %w", err)
	}

	return pinning.Checkpoint{Block: pinning.BlockNumber(block), Rows: rows, Pins: pins}, nil
}

// Save commits one barrier atomically: the block number, the pin counters
// and the dirty rows replace their previous versions in a single
// transaction.
func (s *CheckpointStore) Save(block pinning.BlockNumber, rows []pinning.FlushedRow, pins []pinning.CidCount) error {
	pinsBlob, err := encodePins(pins)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO checkpoint_meta (id, block_num, pins) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET block_num = excluded.block_num, pins = excluded.pins`,
		int64(block), pinsBlob,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint meta: %w", err)
	}

	for _, row := range rows {
		_, err = tx.Exec(
			`INSERT INTO keytable_rows (row_idx, payload) VALUES (?, ?)
			 ON CONFLICT(row_idx) DO UPDATE SET payload = excluded.payload`,
			row.Index, row.Encoded,
		)
		if err != nil {
			return fmt.Errorf("save keytable row %d: %w", row.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) Close() error { return s.db.Close() }

// Pin counters reuse the checkpoint wire codec with no rows attached.

func encodePins(pins []pinning.CidCount) ([]byte, error) {
	blob, err := pinning.Checkpoint{Pins: pins}.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode pin counts: %w", err)
	}
	return blob, nil
}

func decodePins(blob []byte) ([]pinning.CidCount, error) {
	cp, err := pinning.DecodeCheckpoint(blob)
	if err != nil {
		return nil, fmt.Errorf("decode pin counts: %w", err)
	}
	return cp.Pins, nil
}
