// Package scan turns barcode reads into scan session mutations.
package scan

import (
	"context"
	"errors"
	"strings"

	"github.com/atinyakov/ScanKeeper/internal/client/storage"
	"github.com/atinyakov/ScanKeeper/internal/models"
	"go.uber.org/zap"
)

// Catalog resolves barcodes to equipment records.
type Catalog interface {
	LookupBarcode(ctx context.Context, code string) (*models.Equipment, error)
}

// Outcome classifies a scan for user feedback.
type Outcome string

const (
	Added            Outcome = "added"
	Duplicate        Outcome = "duplicate"
	NoActiveSession  Outcome = "no-active-session"
	LookupError      Outcome = "lookup-error"
	InvalidBarcode   Outcome = "invalid-barcode"
	InvalidEquipment Outcome = "invalid-equipment"
	StoreError       Outcome = "store-error"
)

// Result is the outcome of one scan.
type Result struct {
	Outcome   Outcome
	Equipment *models.Equipment
	Session   *models.Session
	Err       error
}

// Ingester applies scans to the active session of a store.
type Ingester struct {
	catalog Catalog
	store   *storage.LocalStorage
	log     *zap.Logger

	// AutoCreateName, when set, names a session created on the first scan
	// with no active session.
	AutoCreateName string
}

func NewIngester(catalog Catalog, store *storage.LocalStorage, log *zap.Logger) *Ingester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingester{catalog: catalog, store: store, log: log}
}

// Ingest resolves barcode and adds the equipment to the active session.
func (in *Ingester) Ingest(ctx context.Context, barcode string) Result {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return Result{Outcome: InvalidBarcode, Err: errors.New("empty barcode")}
	}

	eq, err := in.catalog.LookupBarcode(ctx, barcode)
	if err != nil {
		in.log.Warn("barcode lookup failed", zap.String("barcode", barcode), zap.Error(err))
		return Result{Outcome: LookupError, Err: err}
	}
	if eq.Barcode == "" {
		eq.Barcode = barcode
	}

	active, ok := in.store.GetActiveSession()
	if !ok {
		if in.AutoCreateName == "" {
			return Result{Outcome: NoActiveSession, Equipment: eq}
		}
		active = in.store.CreateSession(in.AutoCreateName)
		in.log.Info("created scan session on first scan", zap.String("session", active.ID))
	}

	s, err := in.store.AddEquipment(active.ID, *eq)
	switch {
	case err == nil:
		return Result{Outcome: Added, Equipment: eq, Session: s}
	case errors.Is(err, storage.ErrDuplicate):
		return Result{Outcome: Duplicate, Equipment: eq, Session: active}
	case errors.Is(err, storage.ErrSessionNotFound):
		return Result{Outcome: NoActiveSession, Equipment: eq, Err: err}
	case errors.Is(err, storage.ErrInvalidEquipment):
		return Result{Outcome: InvalidEquipment, Equipment: eq, Err: err}
	default:
		return Result{Outcome: StoreError, Equipment: eq, Err: err}
	}
}
