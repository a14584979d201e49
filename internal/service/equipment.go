package service

import (
	"context"
	"strings"

	"github.com/atinyakov/ScanKeeper/internal/models"
)

// EquipmentRepository defines the catalog reads required by EquipmentService.
type EquipmentRepository interface {
	// GetByBarcode returns the record carrying the barcode.
	GetByBarcode(ctx context.Context, code string) (*models.Equipment, error)
}

// EquipmentService implements barcode lookups by delegating to an EquipmentRepository.
type EquipmentService struct {
	repo EquipmentRepository
}

// NewEquipmentService constructs a new EquipmentService using the provided repository.
func NewEquipmentService(repo EquipmentRepository) *EquipmentService {
	return &EquipmentService{repo: repo}
}

// LookupBarcode resolves a scanned code. Blank codes are never found.
func (s *EquipmentService) LookupBarcode(ctx context.Context, code string) (*models.Equipment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}
	eq, err := s.repo.GetByBarcode(ctx, code)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return eq, nil
}
