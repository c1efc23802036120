package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/francitoshi/lettera/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, collection string, id, value []byte) error {
	query := `INSERT INTO records (collection, id, value) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET value = excluded.value`
	if _, err := r.db.ExecContext(ctx, query, collection, id, value); err != nil {
		return fmt.Errorf("failed to upsert %s record: %w", collection, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, collection string, id []byte) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s record: %w", collection, err)
	}
	return value, nil
}

func (r *SQLiteRepository) List(ctx context.Context, collection string) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, value FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", collection, err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.Value); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", collection, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s records: %w", collection, err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, collection string, id []byte) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s record: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
