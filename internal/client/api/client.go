// Package api is the HTTP client for the catalog and scan-session endpoints.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/atinyakov/ScanKeeper/internal/models"
)

const (
	apiEquipmentBarcode = "/equipment/barcode/"
	apiScanSessions     = "/scan-sessions"
	apiCleanExpired     = "/scan-sessions/clean-expired"

	defaultTimeout = 10 * time.Second
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client talks to the rental backend.
type Client struct {
	baseURL string
	http    *http.Client
	userID  string
}

// New returns a Client for baseURL. A nil httpClient gets a default with a 10s timeout.
func New(baseURL string, httpClient *http.Client, userID string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		userID:  userID,
	}
}

// NewHTTPClient builds an http.Client whose root CAs come from caFile.
// An empty caFile returns a plain client.
func NewHTTPClient(caFile string) (*http.Client, error) {
	if caFile == "" {
		return &http.Client{Timeout: defaultTimeout}, nil
	}
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:    caPool,
			MinVersion: tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: defaultTimeout}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// LookupBarcode resolves a barcode to a catalog record.
func (c *Client) LookupBarcode(ctx context.Context, code string) (*models.Equipment, error) {
	var eq models.Equipment
	if err := c.do(ctx, http.MethodGet, apiEquipmentBarcode+url.PathEscape(code), nil, &eq); err != nil {
		return nil, err
	}
	return &eq, nil
}

// CreateSession posts a new scan session.
func (c *Client) CreateSession(ctx context.Context, payload models.SyncPayload) (*models.RemoteSession, error) {
	var rs models.RemoteSession
	if err := c.do(ctx, http.MethodPost, apiScanSessions, payload, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// UpdateSession replaces the content of a remote scan session.
func (c *Client) UpdateSession(ctx context.Context, id string, payload models.SyncPayload) (*models.RemoteSession, error) {
	var rs models.RemoteSession
	if err := c.do(ctx, http.MethodPut, apiScanSessions+"/"+url.PathEscape(id), payload, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// GetSession fetches one remote scan session.
func (c *Client) GetSession(ctx context.Context, id string) (*models.RemoteSession, error) {
	var rs models.RemoteSession
	if err := c.do(ctx, http.MethodGet, apiScanSessions+"/"+url.PathEscape(id), nil, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ListSessions returns the remote scan sessions of a user.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]models.RemoteSession, error) {
	var out []models.RemoteSession
	path := apiScanSessions + "/?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes a remote scan session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, apiScanSessions+"/"+url.PathEscape(id), nil, nil)
}

// CleanExpired asks the collector to drop expired sessions and returns how many were removed.
func (c *Client) CleanExpired(ctx context.Context) (int64, error) {
	var out struct {
		Removed int64 `json:"removed"`
	}
	if err := c.do(ctx, http.MethodPost, apiCleanExpired, struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}
