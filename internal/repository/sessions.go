package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/ScanKeeper/internal/db"
	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/lib/pq"
)

// PostgresSessionRepository stores remote scan sessions and their items.
type PostgresSessionRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresSessionRepository creates a repository over db.
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{DB: db}
}

func insertItems(ctx context.Context, tx *sql.Tx, sessionID string, items []models.RemoteItem) error {
	for i, it := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scan_session_items
				(session_id, position, equipment_id, barcode, name, serial_number, category_id, category_name, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, sessionID, i, it.EquipmentID, it.Barcode, it.Name, it.SerialNumber, it.CategoryID, it.CategoryName, it.Quantity)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}
	return nil
}

// Create inserts the session and its items within a transaction.
func (r *PostgresSessionRepository) Create(ctx context.Context, s *models.RemoteSession) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_sessions (id, user_id, name, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.UserID, s.Name, s.CreatedAt, s.UpdatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := insertItems(ctx, tx, s.ID, s.Items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Replace overwrites name, timestamps and items of an existing session.
// Returns ErrNotFound if the session does not exist.
func (r *PostgresSessionRepository) Replace(ctx context.Context, s *models.RemoteSession) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE scan_sessions SET name = $2, updated_at = $3, expires_at = $4 WHERE id = $1
	`, s.ID, s.Name, s.UpdatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_session_items WHERE session_id = $1`, s.ID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if err := insertItems(ctx, tx, s.ID, s.Items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// itemsFor loads items for the given sessions keyed by session id, in scan order.
func (r *PostgresSessionRepository) itemsFor(ctx context.Context, ids []string) (map[string][]models.RemoteItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT session_id, equipment_id, barcode, name, serial_number, category_id, category_name, quantity
		FROM scan_session_items WHERE session_id = ANY($1)
		ORDER BY session_id, position
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.RemoteItem, len(ids))
	for rows.Next() {
		var (
			sessionID  string
			it         models.RemoteItem
			serial     sql.NullString
			categoryID sql.NullInt64
		)
		if err := rows.Scan(&sessionID, &it.EquipmentID, &it.Barcode, &it.Name, &serial, &categoryID, &it.CategoryName, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if serial.Valid {
			it.SerialNumber = &serial.String
		}
		if categoryID.Valid {
			it.CategoryID = &categoryID.Int64
		}
		out[sessionID] = append(out[sessionID], it)
	}
	return out, rows.Err()
}

// Get returns a single session with its items.
// Returns ErrNotFound when the session does not exist.
func (r *PostgresSessionRepository) Get(ctx context.Context, id string) (*models.RemoteSession, error) {
	var s models.RemoteSession
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at, expires_at
		FROM scan_sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.Name, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	items, err := r.itemsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	s.Items = items[id]
	if s.Items == nil {
		s.Items = []models.RemoteItem{}
	}
	return &s, nil
}

// ListByUser returns the unexpired sessions of a user, newest first.
func (r *PostgresSessionRepository) ListByUser(ctx context.Context, userID string, now time.Time) ([]models.RemoteSession, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, name, created_at, updated_at, expires_at
		FROM scan_sessions WHERE user_id = $1 AND expires_at >= $2
		ORDER BY created_at DESC
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	sessions := []models.RemoteSession{}
	ids := []string{}
	for rows.Next() {
		var s models.RemoteSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		sessions = append(sessions, s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sessions, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Items = items[sessions[i].ID]
		if sessions[i].Items == nil {
			sessions[i].Items = []models.RemoteItem{}
		}
	}
	return sessions, nil
}

// Delete removes a session and, by cascade, its items.
// Returns ErrNotFound if nothing was deleted.
func (r *PostgresSessionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM scan_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes every session whose expires_at is before now.
func (r *PostgresSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := db.DeleteExpiredSessions(ctx, r.DB, now)
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: %w", err)
	}
	return n, nil
}
