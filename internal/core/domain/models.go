package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// ItemID identifies a work item. It is compared by equality only.
type ItemID string

// WorkItem is one catalog entry: an identifier plus its raw image paths.
type WorkItem struct {
	ID     ItemID   `json:"id"`
	Images []string `json:"images"`
}

// MediaLocator is a public URL for one image, keyed by its position ("image1", ...).
type MediaLocator struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	Fallback bool   `json:"fallback,omitempty"` // true when no local file matched
}

// URLs returns the locator URLs in positional order.
func URLs(locators []MediaLocator) []string {
	urls := make([]string, len(locators))
	for i, l := range locators {
		urls[i] = l.URL
	}
	return urls
}

// Block is one side of a question-answer pair.
type Block struct {
	Modal   map[string]string `json:"modal"`
	Content string            `json:"content"`
}

// GeneratedRecord is a validated question-answer record.
type GeneratedRecord struct {
	Domain    string `json:"domain"`
	Subdomain string `json:"subdomain"`
	ID        string `json:"id"`
	Input     *Block `json:"input"`
	Output    *Block `json:"output"`

	// Provenance, filled in by the orchestrator before persisting.
	OriginalID         ItemID   `json:"original_id,omitempty"`
	OriginalImagePaths []string `json:"original_image_paths,omitempty"`
	ImageURLs          []string `json:"github_image_urls,omitempty"`

	// Extra holds any other top-level keys of the service response. They are
	// written back after the known keys, sorted by name.
	Extra map[string]any `json:"-"`
}

// recordKeys are the top-level keys owned by GeneratedRecord's fields.
var recordKeys = map[string]bool{
	"domain":               true,
	"subdomain":            true,
	"id":                   true,
	"input":                true,
	"output":               true,
	"original_id":          true,
	"original_image_paths": true,
	"github_image_urls":    true,
}

// IsRecordKey reports whether key maps to a GeneratedRecord field.
func IsRecordKey(key string) bool {
	return recordKeys[key]
}

func (r GeneratedRecord) MarshalJSON() ([]byte, error) {
	type plain GeneratedRecord
	base, err := marshalRaw(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return base, err
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		if !recordKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for _, k := range keys {
		name, err := marshalRaw(k)
		if err != nil {
			return nil, err
		}
		value, err := marshalRaw(r.Extra[k])
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *GeneratedRecord) UnmarshalJSON(data []byte) error {
	type plain GeneratedRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&all); err != nil {
		return err
	}
	for k, v := range all {
		if recordKeys[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}

	*r = GeneratedRecord(p)
	return nil
}

// marshalRaw encodes v compactly without HTML escaping, so tags such as
// <image1> stay literal.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FailureRecord is one entry of the failure log.
type FailureRecord struct {
	RunID     string
	ItemID    ItemID
	Kind      ErrorKind
	Message   string
	Raw       string // offending response, when there is one
	Timestamp time.Time
}

// ItemState is the processing state of a single work item.
type ItemState int

const (
	StatePending ItemState = iota
	StateResolving
	StatePrompting
	StateGenerating
	StateValidating
	StatePersisted
	StateFailed
)

func (s ItemState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolving:
		return "resolving"
	case StatePrompting:
		return "prompting"
	case StateGenerating:
		return "generating"
	case StateValidating:
		return "validating"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s ItemState) Terminal() bool {
	return s == StatePersisted || s == StateFailed
}

// ItemOutcome records how one item left the pipeline.
type ItemOutcome struct {
	ItemID ItemID
	State  ItemState
	Kind   ErrorKind // empty when persisted
	Err    error
}

// BatchResult holds the aggregate outcome of a run.
type BatchResult struct {
	RunID       string
	Selected    int
	Attempted   int
	Persisted   int
	Failed      int
	Interrupted bool
	NextID      ItemID // first item not attempted, empty when the batch finished
	SuccessPath string
	FailurePath string
	StartedAt   time.Time
	CompletedAt time.Time
	Outcomes    []ItemOutcome
}
