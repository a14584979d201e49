// Package service provides the collector's business logic for scan sessions
// and catalog lookups, delegating persistence to repository interfaces.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/atinyakov/ScanKeeper/internal/repository"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a pushed scan session is kept.
const DefaultSessionTTL = 7 * 24 * time.Hour

var (
	// ErrNotFound is returned when a session or equipment record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSession is returned for payloads that cannot be stored.
	ErrInvalidSession = errors.New("invalid scan session")
)

// SessionRepository defines the persistence operations needed by SessionService.
type SessionRepository interface {
	// Create inserts a new session with its items.
	Create(ctx context.Context, s *models.RemoteSession) error
	// Replace overwrites an existing session.
	Replace(ctx context.Context, s *models.RemoteSession) error
	// Get fetches a single session.
	Get(ctx context.Context, id string) (*models.RemoteSession, error)
	// ListByUser returns the unexpired sessions of a user.
	ListByUser(ctx context.Context, userID string, now time.Time) ([]models.RemoteSession, error)
	// Delete removes a session.
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// EquipmentLookup resolves catalog records by id.
type EquipmentLookup interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]models.Equipment, error)
}

// SessionService implements the scan session collector.
type SessionService struct {
	repo    SessionRepository
	catalog EquipmentLookup
	ttl     time.Duration
	now     func() time.Time
}

// NewSessionService constructs a SessionService. A nil catalog stores items
// exactly as pushed; a non-positive ttl falls back to DefaultSessionTTL.
func NewSessionService(repo SessionRepository, catalog EquipmentLookup, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{repo: repo, catalog: catalog, ttl: ttl, now: time.Now}
}

func mapRepoErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// buildItems folds the pushed lines into stored items. Repeated lines of a
// non-serialized equipment id become one item with a quantity; catalog data
// fills serial number and category when available.
func (s *SessionService) buildItems(ctx context.Context, payload []models.SyncItem) ([]models.RemoteItem, error) {
	ids := make([]int64, 0, len(payload))
	seen := make(map[int64]bool, len(payload))
	for _, it := range payload {
		if it.EquipmentID <= 0 {
			return nil, ErrInvalidSession
		}
		if !seen[it.EquipmentID] {
			seen[it.EquipmentID] = true
			ids = append(ids, it.EquipmentID)
		}
	}

	catalog := map[int64]models.Equipment{}
	if s.catalog != nil && len(ids) > 0 {
		var err error
		if catalog, err = s.catalog.GetByIDs(ctx, ids); err != nil {
			return nil, err
		}
	}

	items := make([]models.RemoteItem, 0, len(ids))
	index := make(map[int64]int, len(ids))
	for _, it := range payload {
		eq, known := catalog[it.EquipmentID]
		if i, ok := index[it.EquipmentID]; ok {
			if !known || !eq.HasSerial() {
				items[i].Quantity++
			}
			continue
		}
		item := models.RemoteItem{
			EquipmentID: it.EquipmentID,
			Barcode:     it.Barcode,
			Name:        it.Name,
			Quantity:    1,
		}
		if known {
			item.SerialNumber = eq.SerialNumber
			item.CategoryID = eq.CategoryID
			item.CategoryName = eq.CategoryName
			if item.Barcode == "" {
				item.Barcode = eq.Barcode
			}
			if item.Name == "" {
				item.Name = eq.Name
			}
		}
		index[it.EquipmentID] = len(items)
		items = append(items, item)
	}
	return items, nil
}

// Create stores a new scan session for userID and returns it with its server id.
func (s *SessionService) Create(ctx context.Context, userID string, payload models.SyncPayload) (*models.RemoteSession, error) {
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return nil, ErrInvalidSession
	}
	items, err := s.buildItems(ctx, payload.Items)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	session := &models.RemoteSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// owned loads a session and hides it from anyone but its owner.
// An empty userID skips the ownership check.
func (s *SessionService) owned(ctx context.Context, userID, id string) (*models.RemoteSession, error) {
	session, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if userID != "" && session.UserID != userID {
		return nil, ErrNotFound
	}
	return session, nil
}

// Update replaces the content of an existing session and extends its expiry.
// Sessions owned by another user are reported as not found.
func (s *SessionService) Update(ctx context.Context, userID, id string, payload models.SyncPayload) (*models.RemoteSession, error) {
	existing, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return nil, ErrInvalidSession
	}
	items, err := s.buildItems(ctx, payload.Items)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	existing.Name = name
	existing.Items = items
	existing.UpdatedAt = now
	existing.ExpiresAt = now.Add(s.ttl)
	if err := s.repo.Replace(ctx, existing); err != nil {
		return nil, mapRepoErr(err)
	}
	return existing, nil
}

// Get returns a session of userID by id. Expired sessions and sessions of
// other users are reported as not found.
func (s *SessionService) Get(ctx context.Context, userID, id string) (*models.RemoteSession, error) {
	session, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if session.ExpiresAt.Before(s.now()) {
		return nil, ErrNotFound
	}
	return session, nil
}

// List returns the unexpired sessions of userID.
func (s *SessionService) List(ctx context.Context, userID string) ([]models.RemoteSession, error) {
	return s.repo.ListByUser(ctx, userID, s.now())
}

// Delete removes a session of userID by id.
func (s *SessionService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return mapRepoErr(s.repo.Delete(ctx, id))
}

// CleanExpired removes every expired session and reports how many were dropped.
func (s *SessionService) CleanExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now())
}
