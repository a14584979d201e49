package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/atinyakov/ScanKeeper/internal/repository"
	"github.com/atinyakov/ScanKeeper/internal/service"
)

type mockEquipmentRepo struct {
	GetByBarcodeFunc func(ctx context.Context, code string) (*models.Equipment, error)
}

func (m *mockEquipmentRepo) GetByBarcode(ctx context.Context, code string) (*models.Equipment, error) {
	return m.GetByBarcodeFunc(ctx, code)
}

func TestLookupBarcode(t *testing.T) {
	want := &models.Equipment{ID: "5", Name: "Camera", Barcode: "BC5"}
	repo := &mockEquipmentRepo{
		GetByBarcodeFunc: func(_ context.Context, code string) (*models.Equipment, error) {
			if code == "BC5" {
				return want, nil
			}
			return nil, repository.ErrNotFound
		},
	}
	svc := service.NewEquipmentService(repo)

	got, err := svc.LookupBarcode(context.Background(), " BC5 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("LookupBarcode returned %p; want %p", got, want)
	}
	if _, err := svc.LookupBarcode(context.Background(), "nope"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("err = %v; want ErrNotFound", err)
	}
	if _, err := svc.LookupBarcode(context.Background(), "  "); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("blank: err = %v; want ErrNotFound", err)
	}
}

func TestLookupBarcode_RepoError(t *testing.T) {
	wantErr := errors.New("db down")
	svc := service.NewEquipmentService(&mockEquipmentRepo{
		GetByBarcodeFunc: func(context.Context, string) (*models.Equipment, error) { return nil, wantErr },
	})
	if _, err := svc.LookupBarcode(context.Background(), "x"); err != wantErr {
		t.Errorf("err = %v; want %v", err, wantErr)
	}
}
