package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/atinyakov/ScanKeeper/internal/client/storage"
	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockCatalog struct {
	LookupFunc func(ctx context.Context, code string) (*models.Equipment, error)
}

func (m *mockCatalog) LookupBarcode(ctx context.Context, code string) (*models.Equipment, error) {
	return m.LookupFunc(ctx, code)
}

func catalogOf(records map[string]models.Equipment) *mockCatalog {
	return &mockCatalog{LookupFunc: func(_ context.Context, code string) (*models.Equipment, error) {
		eq, ok := records[code]
		if !ok {
			return nil, errors.New("equipment not found")
		}
		return &eq, nil
	}}
}

func sn(s string) *string { return &s }

var testCatalog = map[string]models.Equipment{
	"CAM1":   {ID: "5", Name: "Camera", SerialNumber: sn("SN1")},
	"CABLE":  {ID: "7", Name: "Cable", Barcode: "CABLE"},
	"BROKEN": {ID: "x7", Name: "Broken"},
}

func newIngester(t *testing.T) (*Ingester, *storage.LocalStorage) {
	t.Helper()
	ls := storage.NewLocalStorage(storage.NewMemoryKV(), zap.NewNop())
	return NewIngester(catalogOf(testCatalog), ls, zap.NewNop()), ls
}

func TestIngest_Outcomes(t *testing.T) {
	in, ls := newIngester(t)
	ctx := context.Background()

	res := in.Ingest(ctx, "CAM1")
	assert.Equal(t, NoActiveSession, res.Outcome)
	require.NotNil(t, res.Equipment)

	s := ls.CreateSession("Shoot A")

	res = in.Ingest(ctx, "  CAM1 ")
	require.Equal(t, Added, res.Outcome)
	require.Len(t, res.Session.Items, 1)
	// barcode falls back to the scanned code
	assert.Equal(t, "CAM1", res.Session.Items[0].Barcode)

	res = in.Ingest(ctx, "CAM1")
	assert.Equal(t, Duplicate, res.Outcome)
	assert.Equal(t, s.ID, res.Session.ID)

	res = in.Ingest(ctx, "unknown")
	assert.Equal(t, LookupError, res.Outcome)
	assert.Error(t, res.Err)

	res = in.Ingest(ctx, "   ")
	assert.Equal(t, InvalidBarcode, res.Outcome)

	res = in.Ingest(ctx, "BROKEN")
	assert.Equal(t, InvalidEquipment, res.Outcome)
	assert.ErrorIs(t, res.Err, storage.ErrInvalidEquipment)

	got, _ := ls.GetSession(s.ID)
	assert.Len(t, got.Items, 1)
}

func TestIngest_NonSerializedAggregates(t *testing.T) {
	in, ls := newIngester(t)
	s := ls.CreateSession("Shoot B")

	for i := 0; i < 3; i++ {
		res := in.Ingest(context.Background(), "CABLE")
		require.Equal(t, Added, res.Outcome)
	}
	got, _ := ls.GetSession(s.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)
}

func TestIngest_DanglingActivePointer(t *testing.T) {
	in, ls := newIngester(t)
	ls.SetActiveSession("gone")

	res := in.Ingest(context.Background(), "CABLE")
	assert.Equal(t, NoActiveSession, res.Outcome)
}

func TestIngest_AutoCreate(t *testing.T) {
	in, ls := newIngester(t)
	in.AutoCreateName = "Quick scan"

	res := in.Ingest(context.Background(), "CABLE")
	require.Equal(t, Added, res.Outcome)
	assert.Equal(t, "Quick scan", res.Session.Name)

	active, ok := ls.GetActiveSession()
	require.True(t, ok)
	assert.Equal(t, res.Session.ID, active.ID)
}

type failingKV struct {
	*storage.MemoryKV
	fail bool
}

func (f *failingKV) Set(key string, value []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(key, value)
}

func TestIngest_StoreError(t *testing.T) {
	kv := &failingKV{MemoryKV: storage.NewMemoryKV()}
	ls := storage.NewLocalStorage(kv, nil)
	ls.CreateSession("x")
	kv.fail = true

	res := NewIngester(catalogOf(testCatalog), ls, nil).Ingest(context.Background(), "CABLE")
	assert.Equal(t, StoreError, res.Outcome)
	assert.ErrorContains(t, res.Err, "disk full")
}
