// Package repository provides PostgreSQL persistence for the equipment
// catalog and the scan sessions pushed by clients.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/lib/pq"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// PostgresEquipmentRepository reads the equipment catalog.
type PostgresEquipmentRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresEquipmentRepository creates a repository over db.
// db must be a valid *sql.DB connected to a PostgreSQL instance.
func NewPostgresEquipmentRepository(db *sql.DB) *PostgresEquipmentRepository {
	return &PostgresEquipmentRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEquipment(row rowScanner) (models.Equipment, int64, error) {
	var (
		eq         models.Equipment
		id         int64
		serial     sql.NullString
		categoryID sql.NullInt64
	)
	if err := row.Scan(&id, &eq.Name, &eq.Barcode, &serial, &categoryID, &eq.CategoryName, &eq.Status); err != nil {
		return eq, 0, err
	}
	eq.ID = models.EquipmentID(strconv.FormatInt(id, 10))
	if serial.Valid {
		eq.SerialNumber = &serial.String
	}
	if categoryID.Valid {
		eq.CategoryID = &categoryID.Int64
	}
	eq.Category = eq.CategoryName
	return eq, id, nil
}

// GetByBarcode returns the equipment carrying the given barcode.
// Returns ErrNotFound when no record matches.
func (r *PostgresEquipmentRepository) GetByBarcode(ctx context.Context, code string) (*models.Equipment, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT id, name, barcode, serial_number, category_id, category_name, status
		FROM equipment WHERE barcode = $1
	`, code)
	eq, _, err := scanEquipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetByBarcode: %w", err)
	}
	return &eq, nil
}

// GetByIDs returns the catalog records for ids keyed by id. Missing ids are
// simply absent from the result.
func (r *PostgresEquipmentRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]models.Equipment, error) {
	out := make(map[int64]models.Equipment, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, name, barcode, serial_number, category_id, category_name, status
		FROM equipment WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("GetByIDs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		eq, id, err := scanEquipment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[id] = eq
	}
	return out, rows.Err()
}
