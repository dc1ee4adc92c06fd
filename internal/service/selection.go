package service

import "qabatch/internal/core/domain"

// SelectItems narrows the catalog before a run. When startID is set the
// result begins at the first item with that id; an unknown id is a
// configuration error. A positive count then caps the number of items.
func SelectItems(items []domain.WorkItem, startID domain.ItemID, count int) ([]domain.WorkItem, error) {
	if startID != "" {
		start := -1
		for i, item := range items {
			if item.ID == startID {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, domain.ConfigurationError("no catalog item with id %q", startID)
		}
		items = items[start:]
	}

	if count > 0 && count < len(items) {
		items = items[:count]
	}
	return items, nil
}

// ResumeAfterPersisted returns the id of the item following the last catalog
// item present in persisted. ok is false when nothing was persisted yet; done
// is true when the last catalog item is already persisted.
func ResumeAfterPersisted(items []domain.WorkItem, persisted map[domain.ItemID]struct{}) (next domain.ItemID, ok, done bool) {
	last := -1
	for i, item := range items {
		if _, seen := persisted[item.ID]; seen {
			last = i
		}
	}
	switch {
	case last < 0:
		return "", false, false
	case last == len(items)-1:
		return "", true, true
	default:
		return items[last+1].ID, true, false
	}
}
