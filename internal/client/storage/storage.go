// Package storage keeps scan sessions in a durable local key/value store
// and synchronizes the active session with the remote collector.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"go.uber.org/zap"
)

const (
	sessionsKey = "equipment_scan_sessions"
	activeKey   = "equipment_scan_sessions_active"
	draftKey    = "newProjectData"

	localIDPrefix = "local_"
)

var (
	// ErrSessionNotFound is returned when the target session does not exist.
	ErrSessionNotFound = errors.New("scan session not found")
	// ErrDuplicate is returned when a serialized unit is already in the session.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidEquipment is returned when the equipment has no numeric id.
	ErrInvalidEquipment = errors.New("equipment has no resolvable numeric id")
)

// LocalStorage is the scan session store. Every mutation reads the whole
// collection, changes it in memory and writes it back under mu.
type LocalStorage struct {
	kv  KV
	log *zap.Logger
	mu  sync.Mutex
	now func() time.Time

	lastMillis int64
}

// NewLocalStorage returns a store over kv. A nil logger disables logging.
func NewLocalStorage(kv KV, log *zap.Logger) *LocalStorage {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalStorage{kv: kv, log: log, now: time.Now}
}

func (ls *LocalStorage) readAll() []models.Session {
	b, ok, err := ls.kv.Get(sessionsKey)
	if err != nil {
		ls.log.Error("failed to read scan sessions", zap.Error(err))
		return []models.Session{}
	}
	if !ok || len(b) == 0 {
		return []models.Session{}
	}
	var sessions []models.Session
	if err := json.Unmarshal(b, &sessions); err != nil {
		ls.log.Error("failed to decode scan sessions", zap.Error(err))
		return []models.Session{}
	}
	return sessions
}

func (ls *LocalStorage) writeAll(sessions []models.Session) error {
	b, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := ls.kv.Set(sessionsKey, b); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

func indexOf(sessions []models.Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// touch marks a session as locally modified.
func (ls *LocalStorage) touch(s *models.Session) {
	s.UpdatedAt = ls.now()
	s.SyncedWithServer = false
	s.Dirty = true
}

// mutate applies fn to the session with the given id and persists the result
// when fn reports a change. Changed sessions are marked dirty.
func (ls *LocalStorage) mutate(id string, fn func(s *models.Session) bool) (*models.Session, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sessions := ls.readAll()
	i := indexOf(sessions, id)
	if i < 0 {
		return nil, false
	}
	if !fn(&sessions[i]) {
		return sessions[i].Clone(), true
	}
	ls.touch(&sessions[i])
	if err := ls.writeAll(sessions); err != nil {
		ls.log.Error("failed to persist scan session", zap.String("session", id), zap.Error(err))
		return nil, false
	}
	return sessions[i].Clone(), true
}

// ListSessions returns all sessions in storage order.
func (ls *LocalStorage) ListSessions() []models.Session {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.readAll()
}

// GetSession returns the session with the given id.
func (ls *LocalStorage) GetSession(id string) (*models.Session, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	sessions := ls.readAll()
	if i := indexOf(sessions, id); i >= 0 {
		return sessions[i].Clone(), true
	}
	return nil, false
}

func (ls *LocalStorage) activeID() string {
	b, ok, err := ls.kv.Get(activeKey)
	if err != nil {
		ls.log.Error("failed to read active session pointer", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return string(b)
}

// ActiveSessionID returns the raw active pointer, which may be dangling.
func (ls *LocalStorage) ActiveSessionID() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.activeID()
}

// GetActiveSession resolves the active pointer. A dangling pointer yields absent.
func (ls *LocalStorage) GetActiveSession() (*models.Session, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	id := ls.activeID()
	if id == "" {
		return nil, false
	}
	sessions := ls.readAll()
	if i := indexOf(sessions, id); i >= 0 {
		return sessions[i].Clone(), true
	}
	return nil, false
}

// SetActiveSession stores the active pointer without checking that id exists.
func (ls *LocalStorage) SetActiveSession(id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.setActive(id)
}

func (ls *LocalStorage) setActive(id string) {
	var err error
	if id == "" {
		err = ls.kv.Delete(activeKey)
	} else {
		err = ls.kv.Set(activeKey, []byte(id))
	}
	if err != nil {
		ls.log.Error("failed to store active session pointer", zap.String("session", id), zap.Error(err))
	}
}

func (ls *LocalStorage) newLocalID() string {
	ms := ls.now().UnixMilli()
	if ms <= ls.lastMillis {
		ms = ls.lastMillis + 1
	}
	ls.lastMillis = ms
	return fmt.Sprintf("%s%d", localIDPrefix, ms)
}

// CreateSession creates an empty dirty session and makes it active.
// An empty name falls back to a dated default.
func (ls *LocalStorage) CreateSession(name string) *models.Session {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Session " + ls.now().Format("2006-01-02 15:04")
	}
	sessions := ls.readAll()
	s := models.Session{
		ID:        ls.newLocalID(),
		Name:      name,
		Items:     []models.ScanItem{},
		UpdatedAt: ls.now(),
		Dirty:     true,
	}
	for indexOf(sessions, s.ID) >= 0 {
		s.ID = ls.newLocalID()
	}
	sessions = append(sessions, s)
	if err := ls.writeAll(sessions); err != nil {
		ls.log.Error("failed to persist new scan session", zap.Error(err))
	}
	ls.setActive(s.ID)
	return s.Clone()
}

// AddEquipment records a scan of eq in the session. Serialized units already
// present yield ErrDuplicate without mutation, even when the new record lost its
// serial number; non-serialized repeats bump quantity.
func (ls *LocalStorage) AddEquipment(sessionID string, eq models.Equipment) (*models.Session, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sessions := ls.readAll()
	i := indexOf(sessions, sessionID)
	if i < 0 {
		return nil, ErrSessionNotFound
	}
	equipmentID, err := eq.ID.Int64()
	if err != nil {
		ls.log.Error("invalid equipment id",
			zap.String("session", sessionID),
			zap.String("equipment_id", string(eq.ID)),
			zap.Error(err),
		)
		return nil, ErrInvalidEquipment
	}
	s := &sessions[i]

	existing := -1
	for j := range s.Items {
		if s.Items[j].EquipmentID == equipmentID {
			existing = j
			break
		}
	}
	switch {
	case existing >= 0 && (eq.HasSerial() || s.Items[existing].Serialized()):
		return nil, ErrDuplicate
	case existing >= 0:
		s.Items[existing].Quantity++
	default:
		s.Items = append(s.Items, itemFromEquipment(equipmentID, eq))
	}

	ls.touch(s)
	if err := ls.writeAll(sessions); err != nil {
		ls.log.Error("failed to persist scan", zap.String("session", sessionID), zap.Error(err))
		return nil, err
	}
	return s.Clone(), nil
}

func itemFromEquipment(id int64, eq models.Equipment) models.ScanItem {
	item := models.ScanItem{
		EquipmentID:  id,
		Barcode:      eq.Barcode,
		Name:         eq.Name,
		CategoryID:   eq.CategoryID,
		CategoryName: eq.CategoryName,
		Quantity:     1,
	}
	if item.CategoryName == "" {
		item.CategoryName = eq.Category
	}
	if eq.HasSerial() {
		sn := strings.TrimSpace(*eq.SerialNumber)
		item.SerialNumber = &sn
	}
	return item
}

// DecrementQuantity lowers the quantity of a non-serialized item, removing it
// at one. Serialized items are never matched; no match leaves the session as is.
func (ls *LocalStorage) DecrementQuantity(sessionID string, equipmentID int64) (*models.Session, bool) {
	return ls.mutate(sessionID, func(s *models.Session) bool {
		for j := range s.Items {
			it := &s.Items[j]
			if it.EquipmentID != equipmentID || it.Serialized() {
				continue
			}
			if it.Quantity > 1 {
				it.Quantity--
			} else {
				s.Items = append(s.Items[:j], s.Items[j+1:]...)
			}
			return true
		}
		return false
	})
}

// RemoveEquipment drops every item with the given equipment id.
func (ls *LocalStorage) RemoveEquipment(sessionID string, equipmentID int64) (*models.Session, bool) {
	return ls.mutate(sessionID, func(s *models.Session) bool {
		kept := s.Items[:0]
		for _, it := range s.Items {
			if it.EquipmentID != equipmentID {
				kept = append(kept, it)
			}
		}
		removed := len(kept) != len(s.Items)
		s.Items = kept
		return removed
	})
}

// ClearEquipment empties the session.
func (ls *LocalStorage) ClearEquipment(sessionID string) (*models.Session, bool) {
	return ls.mutate(sessionID, func(s *models.Session) bool {
		s.Items = []models.ScanItem{}
		return true
	})
}

// UpdateSessionName renames a session. Blank names are rejected.
func (ls *LocalStorage) UpdateSessionName(sessionID, name string) (*models.Session, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	return ls.mutate(sessionID, func(s *models.Session) bool {
		s.Name = name
		return true
	})
}

// DeleteSession removes the session and clears the active pointer if it pointed to it.
func (ls *LocalStorage) DeleteSession(sessionID string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sessions := ls.readAll()
	i := indexOf(sessions, sessionID)
	if i < 0 {
		return false
	}
	sessions = append(sessions[:i], sessions[i+1:]...)
	if err := ls.writeAll(sessions); err != nil {
		ls.log.Error("failed to delete scan session", zap.String("session", sessionID), zap.Error(err))
		return false
	}
	if ls.activeID() == sessionID {
		ls.setActive("")
	}
	return true
}

// MarkServerSynced records the remote id. Dirty is left untouched.
func (ls *LocalStorage) MarkServerSynced(sessionID, serverSessionID string) (*models.Session, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sessions := ls.readAll()
	i := indexOf(sessions, sessionID)
	if i < 0 {
		return nil, false
	}
	remote := serverSessionID
	sessions[i].SyncedWithServer = true
	sessions[i].ServerSessionID = &remote
	if err := ls.writeAll(sessions); err != nil {
		ls.log.Error("failed to mark scan session synced", zap.String("session", sessionID), zap.Error(err))
		return nil, false
	}
	return sessions[i].Clone(), true
}

// SessionSnapshot carries server-confirmed fields for a local session.
// Nil fields are left as they are locally.
type SessionSnapshot struct {
	ID              string
	Name            *string
	Items           []models.ScanItem
	ServerSessionID *string
	UpdatedAt       *time.Time
	// SeenAt is the local UpdatedAt the server confirmed. If the session was
	// modified after it, the session stays dirty.
	SeenAt *time.Time
}

// ApplyServerSnapshot merges server-returned fields and clears dirty. When the
// session changed after SeenAt only the server id is recorded and the session
// stays dirty and unsynced.
func (ls *LocalStorage) ApplyServerSnapshot(snap SessionSnapshot) (*models.Session, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sessions := ls.readAll()
	i := indexOf(sessions, snap.ID)
	if i < 0 && snap.ServerSessionID != nil {
		for j := range sessions {
			if sessions[j].ServerSessionID != nil && *sessions[j].ServerSessionID == *snap.ServerSessionID {
				i = j
				break
			}
		}
	}
	if i < 0 {
		return nil, false
	}
	s := &sessions[i]
	if snap.SeenAt != nil && s.UpdatedAt.After(*snap.SeenAt) {
		// the server holds an older copy; keep its id so the next push updates it
		ls.log.Debug("scan session changed during sync, keeping dirty", zap.String("session", s.ID))
		if snap.ServerSessionID != nil {
			remote := *snap.ServerSessionID
			s.ServerSessionID = &remote
		}
		s.SyncedWithServer = false
		s.Dirty = true
		if err := ls.writeAll(sessions); err != nil {
			ls.log.Error("failed to apply server snapshot", zap.String("session", s.ID), zap.Error(err))
			return nil, false
		}
		return s.Clone(), true
	}
	if snap.Name != nil {
		s.Name = *snap.Name
	}
	if snap.Items != nil {
		s.Items = append([]models.ScanItem{}, snap.Items...)
	}
	if snap.ServerSessionID != nil {
		remote := *snap.ServerSessionID
		s.ServerSessionID = &remote
	}
	if snap.UpdatedAt != nil {
		s.UpdatedAt = *snap.UpdatedAt
	}
	s.SyncedWithServer = true
	s.Dirty = false
	if err := ls.writeAll(sessions); err != nil {
		ls.log.Error("failed to apply server snapshot", zap.String("session", s.ID), zap.Error(err))
		return nil, false
	}
	return s.Clone(), true
}

// ImportServerSession replaces local content for a remote session, or adds it.
func (ls *LocalStorage) ImportServerSession(remote models.RemoteSession) (*models.Session, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sessions := ls.readAll()
	remoteID := remote.ID
	imported := models.Session{
		ID:               remote.ID,
		Name:             remote.Name,
		Items:            make([]models.ScanItem, 0, len(remote.Items)),
		UpdatedAt:        remote.UpdatedAt,
		SyncedWithServer: true,
		ServerSessionID:  &remoteID,
	}
	for _, it := range remote.Items {
		q := it.Quantity
		if q < 1 {
			q = 1
		}
		imported.Items = append(imported.Items, models.ScanItem{
			EquipmentID:  it.EquipmentID,
			Barcode:      it.Barcode,
			Name:         it.Name,
			SerialNumber: it.SerialNumber,
			CategoryID:   it.CategoryID,
			CategoryName: it.CategoryName,
			Quantity:     q,
		})
	}

	replaced := false
	for j := range sessions {
		s := sessions[j]
		if s.ID == remote.ID || (s.ServerSessionID != nil && *s.ServerSessionID == remote.ID) {
			imported.ID = s.ID
			sessions[j] = imported
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, imported)
	}
	if err := ls.writeAll(sessions); err != nil {
		ls.log.Error("failed to import scan session", zap.String("remote", remote.ID), zap.Error(err))
		return nil, false
	}
	return imported.Clone(), true
}

// IsDirty reports whether the session has unconfirmed local changes.
func (ls *LocalStorage) IsDirty(sessionID string) bool {
	s, ok := ls.GetSession(sessionID)
	return ok && s.Dirty
}

// ToSyncPayload projects a session to the collector's schema.
func (ls *LocalStorage) ToSyncPayload(sessionID string) (*models.SyncPayload, bool) {
	s, ok := ls.GetSession(sessionID)
	if !ok {
		return nil, false
	}
	payload := &models.SyncPayload{
		Name:  s.Name,
		Items: make([]models.SyncItem, 0, len(s.Items)),
	}
	for _, it := range s.Items {
		payload.Items = append(payload.Items, models.SyncItem{
			EquipmentID: it.EquipmentID,
			Barcode:     it.Barcode,
			Name:        it.Name,
		})
	}
	return payload, true
}
