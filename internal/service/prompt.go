package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"qabatch/internal/core/domain"
)

// PromptBuilder renders the generation instructions for one item.
type PromptBuilder struct {
	Domain    string
	Subdomain string

	// AudioCount is the number of audio entries the answer must carry.
	// Zero lets the model choose and state the number in the question.
	AudioCount int
}

// NewPromptBuilder creates a PromptBuilder.
func NewPromptBuilder(domainName, subdomain string, audioCount int) *PromptBuilder {
	return &PromptBuilder{Domain: domainName, Subdomain: subdomain, AudioCount: audioCount}
}

// Build renders the prompt. Output depends only on the arguments.
func (b *PromptBuilder) Build(locators []domain.MediaLocator, itemID domain.ItemID) string {
	keys := make([]string, len(locators))
	for i, l := range locators {
		keys[i] = l.Key
	}
	tags := tagList(keys)

	var sb strings.Builder
	sb.WriteString("You are a multimodal expert. Based on the following original data, please construct a data (Question-Answer pair) entry that strictly conforms to the JSON format below.\n")
	sb.WriteString("Please design a multimodal interleaved Question-Answer pair. You can place different pieces of information from the original data into the input or output of the Question-Answer pair.\n\n")

	sb.WriteString("[Original data]\n")
	sb.WriteString(originalData(locators))
	sb.WriteString("\n\n")

	sb.WriteString("[Question-Answer pair JSON template]\n")
	sb.WriteString("This Question-Answer pair must adhere to the following structure and must not contain additional information.\n")
	sb.WriteString("{\n")
	fmt.Fprintf(&sb, "    \"domain\": %q,\n", b.Domain)
	fmt.Fprintf(&sb, "    \"subdomain\": %q,\n", b.Subdomain)
	fmt.Fprintf(&sb, "    \"id\": %q,\n", string(itemID))
	sb.WriteString("    \"input\": {\n        \"modal\": {\n")
	for i, k := range keys {
		sep := ","
		if i == len(keys)-1 {
			sep = ""
		}
		fmt.Fprintf(&sb, "            %q: \"url\"%s\n", k, sep)
	}
	sb.WriteString("        },\n")
	fmt.Fprintf(&sb, "        \"content\": \"Must interleave %s tags at the appropriate position in the text and clearly indicate the number of audios the answer must include to support or illustrate the explanation.\"\n", tags)
	sb.WriteString("    },\n")
	sb.WriteString("    \"output\": {\n        \"modal\": {\n            \"audio1\": \"text\",\n            ...\n        },\n")
	sb.WriteString("        \"content\": \"The golden annotation answer. It MUST naturally integrate every <audioN> tag of the output modal.\"\n")
	sb.WriteString("    }\n}\n\n")

	sb.WriteString("[Construction requirements]\n")
	reqs := []string{
		"Clearly indicate in the question which modalities other than text the answer must include.",
		"The question-answer pair should be open-world QA. The input content is the entire model input and the output content is the golden model output.",
		fmt.Sprintf("The input content MUST contain every input tag (%s) and the output content MUST contain every output tag (<audio1>, <audio2>, ...).", tags),
		"The <> tags should be components of the sentence, such as its subject or object, not isolated words.",
		fmt.Sprintf("The input tags (%s) MUST NOT appear in the output content.", tags),
		fmt.Sprintf("Write the text of each audio into the output modal. Each audio text MUST reference the images it explains using %s.", tags),
		b.audioRequirement(len(keys)),
		"Write the audio text as a natural, flowing narrative, not a mechanical template.",
		"Give the JSON directly, with no additional text or explanation.",
	}
	for i, r := range reqs {
		fmt.Fprintf(&sb, "%d %s\n", i+1, r)
	}
	return sb.String()
}

func (b *PromptBuilder) audioRequirement(images int) string {
	if b.AudioCount > 0 {
		return fmt.Sprintf("IMPORTANT: The number of <audio> in the output is %d. All audios together must cover all %d images; each audio may focus on a subset.", b.AudioCount, images)
	}
	return fmt.Sprintf("Choose the number of <audio> in the output, state it in the question, and make the output contain exactly that many. All audios together must cover all %d images.", images)
}

// originalData renders {"image1": url, ...} with keys in positional order.
func originalData(locators []domain.MediaLocator) string {
	if len(locators) == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteString("{\n")
	for i, l := range locators {
		sb.WriteString("  ")
		sb.WriteString(jsonString(l.Key))
		sb.WriteString(": ")
		sb.WriteString(jsonString(l.URL))
		if i < len(locators)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return sb.String()
}

// jsonString quotes s as a JSON string without HTML escaping.
func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

func tagList(keys []string) string {
	tags := make([]string, len(keys))
	for i, k := range keys {
		tags[i] = "<" + k + ">"
	}
	return strings.Join(tags, ", ")
}
