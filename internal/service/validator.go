package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"qabatch/internal/core/domain"
)

var (
	// A fence opener with an optional language tag, e.g. ```json.
	reFenceOpen = regexp.MustCompile("^```[A-Za-z0-9_+-]*")
	// Tags such as <image1> or <audio2>.
	reTag = regexp.MustCompile(`<([A-Za-z]+[0-9]+)>`)
)

// Validator parses and structurally checks service responses.
type Validator struct {
	// OutputCount, when positive, is the exact number of output modal entries.
	OutputCount int
}

// NewValidator creates a Validator.
func NewValidator(outputCount int) *Validator {
	return &Validator{OutputCount: outputCount}
}

// StripFences trims whitespace and removes one leading fence opener and one
// trailing fence marker. Applying it twice gives the same result as once.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if loc := reFenceOpen.FindStringIndex(s); loc != nil {
		s = s[loc[1]:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Validate turns raw response text into a record. It fails with a parse error
// when the payload is not a JSON object and with a schema error when a key is
// missing, a value has the wrong type or the tag invariants do not hold. Both
// carry the raw text. Unknown top-level keys are kept in the record's Extra.
func (v *Validator) Validate(raw string) (*domain.GeneratedRecord, error) {
	payload := StripFences(raw)

	if !strings.HasPrefix(payload, "{") {
		return nil, domain.ParseError(raw, errors.New("response is not a JSON object"))
	}

	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, domain.ParseError(raw, err)
	}
	if rest := strings.TrimSpace(payload[dec.InputOffset():]); rest != "" {
		return nil, domain.ParseError(raw, errors.New("trailing data after JSON object"))
	}

	record, err := recordFromObject(obj)
	if err != nil {
		return nil, domain.SchemaError(raw, "%v", err)
	}
	if err := v.checkSchema(record); err != nil {
		return nil, domain.SchemaError(raw, "%v", err)
	}
	return record, nil
}

// recordFromObject checks presence and types of the required keys and copies
// every other key into Extra. Provenance keys are dropped; the orchestrator
// sets them.
func recordFromObject(obj map[string]any) (*domain.GeneratedRecord, error) {
	var missing []string
	for _, key := range []string{"domain", "subdomain", "id", "input", "output"} {
		if obj[key] == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New("missing required keys: " + strings.Join(missing, ", "))
	}

	var (
		r   domain.GeneratedRecord
		err error
	)
	if r.Domain, err = stringValue("domain", obj["domain"]); err != nil {
		return nil, err
	}
	if r.Subdomain, err = stringValue("subdomain", obj["subdomain"]); err != nil {
		return nil, err
	}
	if r.ID, err = stringValue("id", obj["id"]); err != nil {
		return nil, err
	}
	if r.Input, err = blockValue("input", obj["input"]); err != nil {
		return nil, err
	}
	if r.Output, err = blockValue("output", obj["output"]); err != nil {
		return nil, err
	}

	for key, value := range obj {
		if domain.IsRecordKey(key) {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[key] = value
	}
	return &r, nil
}

func stringValue(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", name, jsonType(v))
	}
	return s, nil
}

func blockValue(name string, v any) (*domain.Block, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %s", name, jsonType(v))
	}

	b := &domain.Block{Modal: make(map[string]string)}
	if modal, present := obj["modal"]; present && modal != nil {
		entries, ok := modal.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s.modal must be an object, got %s", name, jsonType(modal))
		}
		for key, value := range entries {
			s, err := stringValue(name+".modal."+key, value)
			if err != nil {
				return nil, err
			}
			b.Modal[key] = s
		}
	}
	if content, present := obj["content"]; present && content != nil {
		s, err := stringValue(name+".content", content)
		if err != nil {
			return nil, err
		}
		b.Content = s
	}
	return b, nil
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func (v *Validator) checkSchema(r *domain.GeneratedRecord) error {
	if err := checkBlock("input", r.Input); err != nil {
		return err
	}
	if err := checkBlock("output", r.Output); err != nil {
		return err
	}

	var leaked []string
	for _, tag := range Tags(r.Output.Content) {
		if _, ok := r.Input.Modal[tag]; ok {
			leaked = append(leaked, "<"+tag+">")
		}
	}
	if len(leaked) > 0 {
		return errors.New("output content contains input tags: " + strings.Join(leaked, ", "))
	}

	if v.OutputCount > 0 && len(r.Output.Modal) != v.OutputCount {
		return fmt.Errorf("output modal has %d entries, want %d", len(r.Output.Modal), v.OutputCount)
	}
	return nil
}

// checkBlock requires a non-empty modal whose every key is tagged in content.
func checkBlock(name string, b *domain.Block) error {
	if len(b.Modal) == 0 {
		return errors.New(name + ".modal is empty")
	}
	if strings.TrimSpace(b.Content) == "" {
		return errors.New(name + ".content is empty")
	}

	present := make(map[string]bool)
	for _, tag := range Tags(b.Content) {
		present[tag] = true
	}

	var untagged []string
	for key := range b.Modal {
		if !present[key] {
			untagged = append(untagged, "<"+key+">")
		}
	}
	if len(untagged) > 0 {
		sort.Strings(untagged)
		return errors.New(name + ".content is missing tags: " + strings.Join(untagged, ", "))
	}
	return nil
}

// Tags returns the distinct tag names in text, in order of first appearance.
func Tags(text string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, m := range reTag.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			tags = append(tags, m[1])
		}
	}
	return tags
}
