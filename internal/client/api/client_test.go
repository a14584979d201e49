package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupBarcode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/equipment/barcode/ABC 1", r.URL.Path)
		assert.Equal(t, "u1", r.Header.Get("X-User-ID"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":5,"name":"Camera","barcode":"ABC 1","serial_number":"SN1","category":"Video"}`)
	}))
	defer srv.Close()

	eq, err := New(srv.URL+"/", nil, "u1").LookupBarcode(context.Background(), "ABC 1")
	require.NoError(t, err)
	assert.Equal(t, models.EquipmentID("5"), eq.ID)
	assert.Equal(t, "Camera", eq.Name)
	assert.True(t, eq.HasSerial())
}

func TestLookupBarcode_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "equipment not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil, "").LookupBarcode(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "equipment not found", se.Body)
	assert.Contains(t, err.Error(), "server error: 404")
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scan-sessions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p models.SyncPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "Shoot A", p.Name)
		require.Len(t, p.Items, 1)
		assert.Equal(t, int64(5), p.Items[0].EquipmentID)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.RemoteSession{ID: "srv-1", Name: p.Name})
	}))
	defer srv.Close()

	rs, err := New(srv.URL, nil, "u1").CreateSession(context.Background(), models.SyncPayload{
		Name:  "Shoot A",
		Items: []models.SyncItem{{EquipmentID: 5, Barcode: "BC5", Name: "Camera"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", rs.ID)
}

func TestUpdateAndDeleteSession(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(models.RemoteSession{ID: "srv-1", Name: "renamed"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil, "")
	rs, err := c.UpdateSession(context.Background(), "srv-1", models.SyncPayload{Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", rs.Name)

	require.NoError(t, c.DeleteSession(context.Background(), "srv-1"))
	assert.Equal(t, []string{"PUT /scan-sessions/srv-1", "DELETE /scan-sessions/srv-1"}, seen)
}

func TestGetAndListSessions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scan-sessions/":
			assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
			json.NewEncoder(w).Encode([]models.RemoteSession{{ID: "a"}, {ID: "b"}})
		case "/scan-sessions/a":
			json.NewEncoder(w).Encode(models.RemoteSession{ID: "a", Items: []models.RemoteItem{{EquipmentID: 1, Quantity: 2}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, nil, "u1")
	list, err := c.ListSessions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	rs, err := c.GetSession(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, rs.Items, 1)
	assert.Equal(t, 2, rs.Items[0].Quantity)

	_, err = c.GetSession(context.Background(), "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scan-sessions/clean-expired", r.URL.Path)
		io.WriteString(w, `{"removed":3}`)
	}))
	defer srv.Close()

	n, err := New(srv.URL, nil, "").CleanExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDo_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not-json")
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil, "").GetSession(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response")
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, nil, "").LookupBarcode(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GET /equipment/barcode/x failed")
}

func TestNewHTTPClient(t *testing.T) {
	c, err := NewHTTPClient("")
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewHTTPClient(filepath.Join(t.TempDir(), "missing.pem"))
	assert.ErrorContains(t, err, "failed to read CA cert")

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o600))
	_, err = NewHTTPClient(bad)
	assert.ErrorContains(t, err, "failed to parse CA cert")
}

func TestNewHTTPClient_TLSServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"removed":0}`)
	}))
	defer srv.Close()

	// the test server certificate is accepted through the client it provides
	c := New(srv.URL, srv.Client(), "")
	_, err := c.CleanExpired(context.Background())
	require.NoError(t, err)

	// a client without the CA rejects it
	_, err = New(srv.URL, nil, "").CleanExpired(context.Background())
	assert.Error(t, err)
}
