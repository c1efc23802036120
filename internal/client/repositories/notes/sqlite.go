package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/francitoshi/lettera/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, chat []byte, row Row) error {
	query := `INSERT INTO notes (chat, time, pending, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(chat, time) DO UPDATE SET pending = excluded.pending, value = excluded.value`
	if _, err := r.db.ExecContext(ctx, query, chat, row.Time, boolToInt(row.Pending), row.Value); err != nil {
		return fmt.Errorf("failed to upsert note %d: %w", row.Time, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, chat []byte, time int64) (*Row, error) {
	row := &Row{Time: time}
	var pending int
	err := r.db.QueryRowContext(ctx, `SELECT pending, value FROM notes WHERE chat = ? AND time = ?`, chat, time).
		Scan(&pending, &row.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %d: %w", time, err)
	}
	row.Pending = pending != 0
	return row, nil
}

func (r *SQLiteRepository) List(ctx context.Context, chat []byte) ([]Row, error) {
	return r.query(ctx, `SELECT time, pending, value FROM notes WHERE chat = ? ORDER BY time`, chat)
}

func (r *SQLiteRepository) ListPending(ctx context.Context, chat []byte) ([]Row, error) {
	return r.query(ctx, `SELECT time, pending, value FROM notes WHERE chat = ? AND pending = 1 ORDER BY time`, chat)
}

func (r *SQLiteRepository) MaxTime(ctx context.Context, chat []byte) (int64, error) {
	var t sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(time) FROM notes WHERE chat = ?`, chat).Scan(&t); err != nil {
		return 0, fmt.Errorf("failed to get last note time: %w", err)
	}
	return t.Int64, nil
}

func (r *SQLiteRepository) DeleteChat(ctx context.Context, chat []byte) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE chat = ?`, chat); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, chat []byte) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, query, chat)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var row Row
		var pending int
		if err := rows.Scan(&row.Time, &pending, &row.Value); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		row.Pending = pending != 0
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
