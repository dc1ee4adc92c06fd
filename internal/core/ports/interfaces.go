package ports

import (
	"context"

	"qabatch/internal/core/domain"
)

// Resolver maps a work item's raw image paths to public locators.
type Resolver interface {
	// Resolve always returns a full set of locators. Missing local files
	// degrade to best-guess URLs instead of failing.
	Resolve(itemID domain.ItemID, rawRefs []string) ([]domain.MediaLocator, error)
}

// PromptBuilder renders the instruction text for one item.
type PromptBuilder interface {
	Build(locators []domain.MediaLocator, itemID domain.ItemID) string
}

// Completer performs a single call to the generative service.
// Retryable failures must be wrapped with domain.Transient.
type Completer interface {
	Complete(ctx context.Context, prompt string, imageURLs []string) (string, error)
}

// Generator produces raw response text for a prompt, retrying as configured.
type Generator interface {
	Generate(ctx context.Context, prompt string, locators []domain.MediaLocator) (string, error)
}

// Validator turns raw response text into a record.
type Validator interface {
	Validate(raw string) (*domain.GeneratedRecord, error)
}

// Storage defines the contract for the append-only output stores.
type Storage interface {
	// Init creates the output directory.
	Init(ctx context.Context) error

	// AppendSuccess appends one record to the success store.
	AppendSuccess(ctx context.Context, record *domain.GeneratedRecord) error

	// AppendFailure appends one entry to the failure log.
	AppendFailure(ctx context.Context, failure domain.FailureRecord) error

	// SuccessPath returns the filesystem path of the success store.
	SuccessPath() string

	// FailurePath returns the filesystem path of the failure log.
	FailurePath() string
}
