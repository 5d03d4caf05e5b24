package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Postgres caps a statement at 65535 parameters.
const maxRowsPerInsert = 1000

// IndexRow is one position seen in a Vat note.
type IndexRow struct {
	Ilk   string
	Urn   common.Address
	Block uint64
}

// IndexWriter writes urn index rows and the scan progress that covers them.
type IndexWriter struct {
	db *sql.DB
}

func NewIndexWriter(db *sql.DB) *IndexWriter {
	return &IndexWriter{db: db}
}

// Progress returns the last block indexed for vat. ok is false before the
// first batch.
func (w *IndexWriter) Progress(ctx context.Context, vat common.Address) (uint64, bool, error) {
	return progressOf(ctx, w.db, vat)
}

func progressOf(ctx context.Context, db *sql.DB, vat common.Address) (uint64, bool, error) {
	var last int64
	err := db.QueryRowContext(ctx,
		`SELECT last_block FROM urn_index.progress WHERE vat = $1`, addressKey(vat),
	).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(last), true, nil
}

// WriteBatch inserts rows and advances the progress of vat to through, in a
// single transaction. Rows already present keep their first block.
func (w *IndexWriter) WriteBatch(ctx context.Context, vat common.Address, rows []IndexRow, through uint64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += maxRowsPerInsert {
		end := start + maxRowsPerInsert
		if end > len(rows) {
			end = len(rows)
		}
		if err := insertRows(ctx, tx, rows[start:end]); err != nil {
			return fmt.Errorf("insert urns: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO urn_index.progress (vat, last_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (vat) DO UPDATE SET last_block = EXCLUDED.last_block, updated_at = NOW()`,
		addressKey(vat), int64(through),
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	return tx.Commit()
}

func insertRows(ctx context.Context, tx *sql.Tx, rows []IndexRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO urn_index.urns (ilk, urn, first_block) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*3)

	for i, r := range rows {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, r.Ilk, addressKey(r.Urn), int64(r.Block))
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (ilk, urn) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// addressKey is the stored form of an address: lower-case hex.
func addressKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
