package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/atinyakov/ScanKeeper/internal/service"
	"github.com/go-chi/chi/v5"
)

// EquipmentService defines the catalog operations required by EquipmentHandler.
type EquipmentService interface {
	// LookupBarcode resolves a scanned code to an equipment record.
	LookupBarcode(ctx context.Context, code string) (*models.Equipment, error)
}

// EquipmentHandler serves catalog lookups.
type EquipmentHandler struct {
	EquipmentService EquipmentService
}

// LookupBarcode handles GET /equipment/barcode/{code}.
func (h *EquipmentHandler) LookupBarcode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	eq, err := h.EquipmentService.LookupBarcode(r.Context(), code)
	if errors.Is(err, service.ErrNotFound) {
		http.Error(w, "equipment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(eq)
}
