package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedRecordJSONKeys(t *testing.T) {
	rec := GeneratedRecord{
		Domain:             "general_domain",
		Subdomain:          "food",
		ID:                 "0001",
		Input:              &Block{Modal: map[string]string{"image1": "u"}, Content: "<image1>"},
		Output:             &Block{Modal: map[string]string{"audio1": "t"}, Content: "<audio1>"},
		OriginalID:         "0001",
		OriginalImagePaths: []string{"a/1.jpg"},
		ImageURLs:          []string{"https://x/img_0001_01.jpg"},
		Extra:              map[string]any{"zeta": true, "alpha": "<a&b>", "id": "shadowed"},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &keys))
	assert.Contains(t, keys, "github_image_urls")
	assert.NotContains(t, keys, "image_urls")
	assert.JSONEq(t, `"0001"`, string(keys["id"]))
	assert.JSONEq(t, `true`, string(keys["zeta"]))
	assert.JSONEq(t, `"<a&b>"`, string(keys["alpha"]))

	var back GeneratedRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"https://x/img_0001_01.jpg"}, back.ImageURLs)
	assert.Equal(t, map[string]any{"zeta": true, "alpha": "<a&b>"}, back.Extra)
}

func TestGeneratedRecordWithoutExtras(t *testing.T) {
	var rec GeneratedRecord
	require.NoError(t, json.Unmarshal([]byte(`{"domain": "d", "id": "7"}`), &rec))
	assert.Nil(t, rec.Extra)
	assert.Equal(t, "7", rec.ID)
	assert.True(t, IsRecordKey("github_image_urls"))
	assert.False(t, IsRecordKey("difficulty"))
}
