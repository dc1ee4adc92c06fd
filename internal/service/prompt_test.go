package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qabatch/internal/core/domain"
)

func TestPromptReferencesEveryLocator(t *testing.T) {
	locators, err := (&stubResolver{}).Resolve("0001", nil)
	require.NoError(t, err)

	prompt := NewPromptBuilder("general_domain", "food", 2).Build(locators, "0001")

	for _, l := range locators {
		assert.Equal(t, 1, strings.Count(prompt, `"`+l.Key+`": "`+l.URL+`"`), "locator %s", l.Key)
	}
	assert.NotContains(t, prompt, `"image5"`)
	assert.Contains(t, prompt, `"id": "0001"`)
	assert.Contains(t, prompt, `"domain": "general_domain"`)
	assert.Contains(t, prompt, `"subdomain": "food"`)
	assert.Contains(t, prompt, "<image1>, <image2>, <image3>, <image4>")
	assert.Contains(t, prompt, "The number of <audio> in the output is 2")
}

func TestPromptIsDeterministic(t *testing.T) {
	locators, err := (&stubResolver{}).Resolve("0002", nil)
	require.NoError(t, err)

	b := NewPromptBuilder("general_domain", "food", 2)
	assert.Equal(t, b.Build(locators, "0002"), b.Build(locators, "0002"))
	assert.NotEqual(t, b.Build(locators, "0002"), b.Build(locators, "0003"))
}

func TestPromptLetsModelChooseAudioCount(t *testing.T) {
	locators, err := (&stubResolver{}).Resolve("0001", nil)
	require.NoError(t, err)

	prompt := NewPromptBuilder("general_domain", "food", 0).Build(locators, "0001")
	assert.Contains(t, prompt, "Choose the number of <audio>")
	assert.NotContains(t, prompt, "The number of <audio> in the output is")
}

func TestPromptDoesNotEscapeURLs(t *testing.T) {
	locators := []domain.MediaLocator{{Key: "image1", URL: "https://x/img?a=1&b=<2>"}}
	prompt := NewPromptBuilder("d", "s", 1).Build(locators, "0001")
	assert.Contains(t, prompt, `"image1": "https://x/img?a=1&b=<2>"`)
}
