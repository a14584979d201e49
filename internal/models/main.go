// Package models defines the core data structures for scan sessions,
// scanned items and catalog equipment.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SyncState is the derived synchronization state of a session.
type SyncState string

const (
	// SyncLocal means the session has never been pushed to the collector.
	SyncLocal SyncState = "local"
	// SyncPending means the session has a remote record but local changes are not confirmed.
	SyncPending SyncState = "pending"
	// SyncSynced means the remote record matches local state.
	SyncSynced SyncState = "synced"
)

// Session is a named, locally cached collection of scanned equipment.
type Session struct {
	// ID is either a local identifier (local_<millis>) or a server-assigned one.
	ID string `json:"id"`
	// Name is the user-editable display name.
	Name string `json:"name"`
	// Items keeps first-scan order.
	Items []ScanItem `json:"items"`
	// UpdatedAt is the time of the last local mutation.
	UpdatedAt time.Time `json:"updatedAt"`
	// SyncedWithServer is true only right after a successful push.
	SyncedWithServer bool `json:"syncedWithServer"`
	// ServerSessionID references the remote record once created.
	ServerSessionID *string `json:"serverSessionId"`
	// Dirty is true whenever local state diverged from the last known server state.
	Dirty bool `json:"dirty"`
}

// SyncState collapses the SyncedWithServer and Dirty flags into one view.
func (s *Session) SyncState() SyncState {
	if s.ServerSessionID == nil || *s.ServerSessionID == "" {
		return SyncLocal
	}
	if s.Dirty || !s.SyncedWithServer {
		return SyncPending
	}
	return SyncSynced
}

// TotalQuantity returns the number of physical units in the session.
func (s *Session) TotalQuantity() int {
	total := 0
	for _, it := range s.Items {
		total += it.Quantity
	}
	return total
}

// Clone returns a deep copy safe to hand out of the store.
func (s *Session) Clone() *Session {
	c := *s
	c.Items = make([]ScanItem, len(s.Items))
	copy(c.Items, s.Items)
	if s.ServerSessionID != nil {
		id := *s.ServerSessionID
		c.ServerSessionID = &id
	}
	return &c
}

// ScanItem is one line of a scan session.
type ScanItem struct {
	EquipmentID  int64   `json:"equipmentId"`
	Barcode      string  `json:"barcode"`
	Name         string  `json:"name"`
	SerialNumber *string `json:"serialNumber"`
	CategoryID   *int64  `json:"categoryId"`
	CategoryName string  `json:"categoryName"`
	Quantity     int     `json:"quantity"`
}

// Serialized reports whether the item is tracked by a unique serial number.
func (i ScanItem) Serialized() bool {
	return i.SerialNumber != nil && strings.TrimSpace(*i.SerialNumber) != ""
}

// EquipmentID is a catalog identifier that may arrive as a JSON number or string.
type EquipmentID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *EquipmentID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = EquipmentID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("equipment id: %w", err)
	}
	*id = EquipmentID(n.String())
	return nil
}

// Int64 resolves the identifier to a number.
func (id EquipmentID) Int64() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
}

// Equipment is a catalog record as returned by the barcode lookup.
type Equipment struct {
	ID           EquipmentID `json:"id"`
	Name         string      `json:"name"`
	Barcode      string      `json:"barcode"`
	SerialNumber *string     `json:"serial_number,omitempty"`
	CategoryID   *int64      `json:"category_id,omitempty"`
	CategoryName string      `json:"category_name,omitempty"`
	Category     string      `json:"category,omitempty"`
	Status       string      `json:"status,omitempty"`
}

// HasSerial reports whether the record carries a non-empty serial number.
func (e Equipment) HasSerial() bool {
	return e.SerialNumber != nil && strings.TrimSpace(*e.SerialNumber) != ""
}

// SyncItem is the projection of a ScanItem sent to the collector.
type SyncItem struct {
	EquipmentID int64  `json:"equipment_id"`
	Barcode     string `json:"barcode"`
	Name        string `json:"name"`
}

// SyncPayload is the body of POST /scan-sessions.
type SyncPayload struct {
	Name  string     `json:"name"`
	Items []SyncItem `json:"items"`
}

// RemoteSession is a scan session record as stored by the collector.
type RemoteSession struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id,omitempty"`
	Name      string       `json:"name"`
	Items     []RemoteItem `json:"items"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// RemoteItem is one scanned line as stored by the collector.
type RemoteItem struct {
	EquipmentID  int64   `json:"equipment_id"`
	Barcode      string  `json:"barcode"`
	Name         string  `json:"name"`
	SerialNumber *string `json:"serial_number,omitempty"`
	CategoryID   *int64  `json:"category_id,omitempty"`
	CategoryName string  `json:"category_name,omitempty"`
	Quantity     int     `json:"quantity"`
}

// ProjectDraft is the payload handed from scanning to project creation.
type ProjectDraft struct {
	Name        string         `json:"name"`
	SessionIDs  []string       `json:"session_ids"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	EndDate     *time.Time     `json:"end_date,omitempty"`
	Equipment   []DraftBooking `json:"equipment"`
	CreatedFrom string         `json:"created_from"`
}

// DraftBooking is one booking line of a project draft.
type DraftBooking struct {
	EquipmentID  int64   `json:"equipment_id"`
	Name         string  `json:"name"`
	Barcode      string  `json:"barcode"`
	SerialNumber *string `json:"serial_number,omitempty"`
	Quantity     int     `json:"quantity"`
}
