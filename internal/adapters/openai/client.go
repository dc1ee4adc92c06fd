package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"qabatch/internal/core/domain"
)

const (
	DefaultBaseURL  = "https://api.openai.com/v1"
	DefaultMaxMedia = 4
)

// Options configures a Client.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	System    string
	MaxMedia  int
	Timeout   time.Duration
}

// Client implements ports.Completer against the chat completions API.
type Client struct {
	api       oai.Client
	model     string
	maxTokens int
	system    string
	maxMedia  int
}

// NewClient creates a new Client. The API key comes from the caller's
// configuration; the client never reads the environment. The SDK's own
// retries are disabled: service.Generator applies the retry policy.
func NewClient(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, domain.ConfigurationError("openai API key not set")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxMedia < 1 {
		opts.MaxMedia = DefaultMaxMedia
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	api := oai.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(opts.Timeout),
		option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}),
	)
	return &Client{
		api:       api,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		system:    opts.System,
		maxMedia:  opts.MaxMedia,
	}, nil
}

// Complete sends one multimodal request in JSON mode and returns the text of
// the first choice. Images beyond the configured maximum are dropped.
func (c *Client) Complete(ctx context.Context, prompt string, imageURLs []string) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, c.buildParams(prompt, imageURLs))
	if err != nil {
		return "", classify(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	return text, nil
}

func (c *Client) buildParams(prompt string, imageURLs []string) oai.ChatCompletionNewParams {
	if len(imageURLs) > c.maxMedia {
		imageURLs = imageURLs[:c.maxMedia]
	}

	parts := make([]oai.ChatCompletionContentPartUnionParam, 0, 1+len(imageURLs))
	parts = append(parts, oai.TextContentPart(prompt))
	for _, u := range imageURLs {
		parts = append(parts, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: u}))
	}

	messages := make([]oai.ChatCompletionMessageParamUnion, 0, 2)
	if c.system != "" {
		messages = append(messages, oai.SystemMessage(c.system))
	}
	messages = append(messages, oai.UserMessage(parts))

	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(c.model),
		Messages: messages,
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if c.maxTokens > 0 {
		params.MaxTokens = oai.Int(int64(c.maxTokens))
	}
	return params
}

// classify marks rate limits, timeouts, server errors and transport failures
// as transient. A cancelled context is returned as is.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		statusErr := fmt.Errorf("unexpected status %d: %s: %w", apiErr.StatusCode, apiErr.Message, err)
		if retryableStatus(apiErr.StatusCode) {
			return domain.Transient(statusErr)
		}
		return statusErr
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return domain.Transient(fmt.Errorf("failed to send request: %w", err))
	}
	return fmt.Errorf("failed to complete chat request: %w", err)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
