package catalog

import (
	"encoding/json"
	"os"

	"qabatch/internal/core/domain"
)

// LoadFile reads the whole catalog into memory. Any problem with the file is a
// configuration error: the batch must not start on a bad catalog.
func LoadFile(path string) ([]domain.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConfigurationError("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a JSON array of {"id", "images"} objects and checks that
// every identifier is present and unique.
func Parse(data []byte) ([]domain.WorkItem, error) {
	var items []domain.WorkItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, domain.ConfigurationError("malformed catalog: %w", err)
	}

	seen := make(map[domain.ItemID]int, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, domain.ConfigurationError("catalog entry %d has no id", i)
		}
		if prev, dup := seen[item.ID]; dup {
			return nil, domain.ConfigurationError("catalog entry %d repeats id %q from entry %d", i, item.ID, prev)
		}
		seen[item.ID] = i
	}
	return items, nil
}
