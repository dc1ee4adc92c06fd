package localassets

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"qabatch/internal/core/domain"
)

// DefaultMaxImages is the number of locators produced per item.
const DefaultMaxImages = 4

// Resolver implements ports.Resolver by matching renamed image files in a
// local mirror of the remote image directory.
type Resolver struct {
	dir       string
	baseURL   string
	maxImages int
	logger    *zap.Logger
}

// NewResolver creates a Resolver. Files are looked up in dir and addressed
// under baseURL.
func NewResolver(dir, baseURL string, maxImages int, logger *zap.Logger) *Resolver {
	if maxImages < 1 {
		maxImages = DefaultMaxImages
	}
	return &Resolver{
		dir:       dir,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxImages: maxImages,
		logger:    logger,
	}
}

// Resolve returns exactly maxImages locators for itemID. Positions without a
// matching local file get a synthesized URL with a default extension.
// rawRefs is accepted for the interface; file naming is derived from the id.
func (r *Resolver) Resolve(itemID domain.ItemID, rawRefs []string) ([]domain.MediaLocator, error) {
	names, err := r.listDir()
	if err != nil {
		r.logger.Warn("image directory unreadable, using fallback locators",
			zap.String("item_id", string(itemID)),
			zap.String("dir", r.dir),
			zap.Error(err))
	}

	locators := make([]domain.MediaLocator, 0, r.maxImages)
	for i := 1; i <= r.maxImages; i++ {
		pattern := FilePattern(itemID, i)
		loc := domain.MediaLocator{Key: fmt.Sprintf("image%d", i)}

		if found := matchFile(names, pattern); found != "" {
			loc.URL = r.baseURL + "/" + found
			r.logger.Debug("found image file",
				zap.String("item_id", string(itemID)),
				zap.String("file", found))
		} else {
			fallback := pattern + "." + DefaultExtension(i)
			loc.URL = r.baseURL + "/" + fallback
			loc.Fallback = true
			r.logger.Warn("image file not found, using default extension",
				zap.String("item_id", string(itemID)),
				zap.String("file", fallback))
		}
		locators = append(locators, loc)
	}
	return locators, nil
}

// FilePattern is the expected file name prefix for position i (1-based).
func FilePattern(itemID domain.ItemID, i int) string {
	return fmt.Sprintf("img_%s_%02d", itemID, i)
}

// DefaultExtension is the extension assumed when no file matches position i.
func DefaultExtension(i int) string {
	if i == 1 {
		return "jpg"
	}
	return "jpeg"
}

// listDir returns the regular file names in r.dir, sorted by name.
func (r *Resolver) listDir() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func matchFile(names []string, pattern string) string {
	for _, name := range names {
		if strings.HasPrefix(name, pattern) && strings.Contains(name, ".") {
			return name
		}
	}
	return ""
}
