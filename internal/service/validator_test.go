package service

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qabatch/internal/core/domain"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding space", "  \n```JSON\n{\"a\": 1}```  \n", `{"a": 1}`},
		{"opener only", "```json\n{\"a\": 1}", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := StripFences(tt.in)
			assert.Equal(t, tt.want, once)
			assert.Equal(t, once, StripFences(once), "stripping must be idempotent")
		})
	}
}

func TestValidateAcceptsWellFormedRecord(t *testing.T) {
	record, err := NewValidator(2).Validate(validResponse)
	require.NoError(t, err)

	assert.Equal(t, "general_domain", record.Domain)
	assert.Equal(t, "food", record.Subdomain)
	assert.Equal(t, "0001", record.ID)
	assert.Len(t, record.Input.Modal, 4)
	assert.Len(t, record.Output.Modal, 2)
}

func TestValidateParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"prose", "Sorry, I can't help with that."},
		{"array", `[{"id": "0001"}]`},
		{"truncated", `{"domain": "general_domain", "input": {`},
		{"trailing data", `{"domain": "x"} and more`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator(0).Validate(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrParse)
			assert.Equal(t, tt.raw, domain.RawOf(err))
		})
	}
}

func TestValidateSchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		count   int
		message string
	}{
		{
			name:    "missing id",
			mutate:  func(s string) string { return strings.Replace(s, `"id": "0001",`, "", 1) },
			message: "missing required keys: id",
		},
		{
			name:    "untagged input modal key",
			mutate:  func(s string) string { return strings.Replace(s, "<image3> and ", "", 1) },
			message: "input.content is missing tags: <image3>",
		},
		{
			name:    "untagged output modal key",
			mutate:  func(s string) string { return strings.Replace(s, ", then finish with <audio2>", "", 1) },
			message: "output.content is missing tags: <audio2>",
		},
		{
			name:    "input tag leaks into output",
			mutate:  func(s string) string { return strings.Replace(s, "Start with <audio1>", "Compare <image2> with <audio1>", 1) },
			message: "output content contains input tags: <image2>",
		},
		{
			name:    "wrong output count",
			mutate:  func(s string) string { return s },
			count:   3,
			message: "output modal has 2 entries, want 3",
		},
		{
			name: "empty output modal",
			mutate: func(s string) string {
				return strings.Replace(s, `{"audio1": "The broth in the first picture.", "audio2": "The garnish in the last picture."}`, "{}", 1)
			},
			message: "output.modal is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.mutate(validResponse)
			_, err := NewValidator(tt.count).Validate(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSchema)
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, raw, domain.RawOf(err))
		})
	}
}

func TestValidateOutputCountDisabled(t *testing.T) {
	_, err := NewValidator(0).Validate(validResponse)
	assert.NoError(t, err)
}

func TestTags(t *testing.T) {
	assert.Equal(t,
		[]string{"image2", "audio1", "image10"},
		Tags("See <image2> and <audio1>, then <image2> again and <image10>. Not <b> or <x1 >."))
	assert.Empty(t, Tags("no tags here"))
}

func TestValidateFencedMatchesUnfenced(t *testing.T) {
	unfenced := StripFences(validResponse)
	require.NotEqual(t, validResponse, unfenced)

	v := NewValidator(2)
	fromFenced, err := v.Validate(validResponse)
	require.NoError(t, err)
	fromPlain, err := v.Validate(unfenced)
	require.NoError(t, err)
	assert.Equal(t, fromPlain, fromFenced)

	leaky := strings.Replace(validResponse, "Start with <audio1>", "Compare <image2> with <audio1>", 1)
	_, fencedErr := v.Validate(leaky)
	_, plainErr := v.Validate(StripFences(leaky))
	require.Error(t, fencedErr)
	require.Error(t, plainErr)
	assert.Equal(t, domain.KindOf(plainErr), domain.KindOf(fencedErr))
}

func TestValidateWrongTypesAreSchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		message string
	}{
		{
			name:    "numeric modal value",
			mutate:  func(s string) string { return strings.Replace(s, `"image3": "u3"`, `"image3": 3`, 1) },
			message: "input.modal.image3 must be a string, got number",
		},
		{
			name:    "numeric id",
			mutate:  func(s string) string { return strings.Replace(s, `"id": "0001"`, `"id": 1`, 1) },
			message: "id must be a string, got number",
		},
		{
			name: "output is an array",
			mutate: func(s string) string {
				i := strings.Index(s, `"output": {`)
				return s[:i] + `"output": ["<audio1>"]}` + "\n```"
			},
			message: "output must be an object, got array",
		},
		{
			name:    "content is an object",
			mutate:  func(s string) string { return strings.Replace(s, `"content": "Start with <audio1>, then finish with <audio2>."`, `"content": {"text": "x"}`, 1) },
			message: "output.content must be a string, got object",
		},
		{
			name:    "null input",
			mutate:  func(s string) string { return strings.Replace(s, `"input": {`, `"input": null, "ignored": {`, 1) },
			message: "missing required keys: input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.mutate(validResponse)
			_, err := NewValidator(2).Validate(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSchema)
			assert.NotErrorIs(t, err, domain.ErrParse)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateKeepsExtraKeys(t *testing.T) {
	raw := strings.Replace(validResponse, `"domain": "general_domain",`,
		`"domain": "general_domain", "difficulty": "hard", "score": 4.5, "original_id": "spoofed",`, 1)

	record, err := NewValidator(2).Validate(raw)
	require.NoError(t, err)

	require.Len(t, record.Extra, 2)
	assert.Equal(t, "hard", record.Extra["difficulty"])
	assert.Equal(t, json.Number("4.5"), record.Extra["score"])
	assert.Empty(t, record.OriginalID)
}
