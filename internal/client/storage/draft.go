package storage

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/atinyakov/ScanKeeper/internal/models"
	"go.uber.org/zap"
)

// SaveProjectDraft merges the session's items into the pending project draft
// under newProjectData. Bookings are rebuilt from every session the draft was
// built from, so saving the same session twice does not double quantities.
func (ls *LocalStorage) SaveProjectDraft(sessionID, projectName string) (*models.ProjectDraft, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sessions := ls.readAll()
	i := indexOf(sessions, sessionID)
	if i < 0 {
		return nil, false
	}

	draft, ok := ls.readDraft()
	if !ok {
		draft = &models.ProjectDraft{CreatedFrom: "scan_session"}
	}
	if !slices.Contains(draft.SessionIDs, sessionID) {
		draft.SessionIDs = append(draft.SessionIDs, sessionID)
	}
	draft.Name = strings.TrimSpace(projectName)
	if draft.Name == "" {
		draft.Name = sessions[i].Name
	}
	draft.Equipment = nil
	for _, id := range draft.SessionIDs {
		if j := indexOf(sessions, id); j >= 0 {
			draft.Equipment = MergeBookings(draft.Equipment, sessions[j].Items)
		}
	}

	b, err := json.Marshal(draft)
	if err != nil {
		ls.log.Error("failed to encode project draft", zap.Error(err))
		return nil, false
	}
	if err := ls.kv.Set(draftKey, b); err != nil {
		ls.log.Error("failed to store project draft", zap.Error(err))
		return nil, false
	}
	return draft, true
}

// TakeProjectDraft returns the pending draft and removes it.
func (ls *LocalStorage) TakeProjectDraft() (*models.ProjectDraft, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	draft, ok := ls.readDraft()
	if !ok {
		return nil, false
	}
	if err := ls.kv.Delete(draftKey); err != nil {
		ls.log.Error("failed to remove project draft", zap.Error(err))
	}
	return draft, true
}

func (ls *LocalStorage) readDraft() (*models.ProjectDraft, bool) {
	b, ok, err := ls.kv.Get(draftKey)
	if err != nil {
		ls.log.Error("failed to read project draft", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var draft models.ProjectDraft
	if err := json.Unmarshal(b, &draft); err != nil {
		ls.log.Warn("discarding malformed project draft", zap.Error(err))
		return nil, false
	}
	return &draft, true
}

// MergeBookings folds scanned items into existing booking lines.
func MergeBookings(bookings []models.DraftBooking, items []models.ScanItem) []models.DraftBooking {
	out := append([]models.DraftBooking{}, bookings...)
	for _, it := range items {
		merged := false
		for j := range out {
			b := &out[j]
			if b.EquipmentID != it.EquipmentID {
				continue
			}
			if it.Serialized() {
				if b.SerialNumber != nil && *b.SerialNumber == *it.SerialNumber {
					merged = true
					break
				}
				continue
			}
			if b.SerialNumber == nil {
				b.Quantity += it.Quantity
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		out = append(out, models.DraftBooking{
			EquipmentID:  it.EquipmentID,
			Name:         it.Name,
			Barcode:      it.Barcode,
			SerialNumber: it.SerialNumber,
			Quantity:     it.Quantity,
		})
	}
	return out
}
