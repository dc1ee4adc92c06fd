package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"qabatch/internal/core/domain"
)

// validResponse satisfies the record invariants for an item with four images
// and two output audios.
const validResponse = "```json\n" + `{
  "domain": "general_domain",
  "subdomain": "food",
  "id": "0001",
  "input": {
    "modal": {"image1": "u1", "image2": "u2", "image3": "u3", "image4": "u4"},
    "content": "Looking at <image1>, <image2>, <image3> and <image4>, explain the dish with two audios."
  },
  "output": {
    "modal": {"audio1": "The broth in the first picture.", "audio2": "The garnish in the last picture."},
    "content": "Start with <audio1>, then finish with <audio2>."
  }
}` + "\n```"

func fourImageItem(id domain.ItemID) domain.WorkItem {
	return domain.WorkItem{
		ID:     id,
		Images: []string{"a/1.jpg", "a/2.jpg", "a/3.jpg", "a/4.jpg"},
	}
}

type stubResolver struct {
	err error
}

func (r *stubResolver) Resolve(itemID domain.ItemID, rawRefs []string) ([]domain.MediaLocator, error) {
	if r.err != nil {
		return nil, r.err
	}
	locs := make([]domain.MediaLocator, 4)
	for i := range locs {
		locs[i] = domain.MediaLocator{
			Key: fmt.Sprintf("image%d", i+1),
			URL: fmt.Sprintf("https://cdn.example.com/img_%s_%02d.png", itemID, i+1),
		}
	}
	return locs, nil
}

// scriptedCompleter answers each call with the next entry of its script, or
// with the last entry once the script runs out.
type scriptedCompleter struct {
	mu      sync.Mutex
	script  []completion
	calls   int
	prompts []string
	urls    [][]string
	onCall  func(call int)
}

type completion struct {
	text string
	err  error
}

func (c *scriptedCompleter) Complete(ctx context.Context, prompt string, imageURLs []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.prompts = append(c.prompts, prompt)
	c.urls = append(c.urls, imageURLs)
	if c.onCall != nil {
		c.onCall(c.calls)
	}
	i := c.calls - 1
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	return c.script[i].text, c.script[i].err
}

// byPromptCompleter answers by looking up the item id embedded in the prompt.
type byPromptCompleter struct {
	responses map[domain.ItemID]completion
	calls     []domain.ItemID
}

func (c *byPromptCompleter) Complete(ctx context.Context, prompt string, imageURLs []string) (string, error) {
	for id, resp := range c.responses {
		if strings.Contains(prompt, `"id": "`+string(id)+`"`) {
			c.calls = append(c.calls, id)
			return resp.text, resp.err
		}
	}
	return "", errors.New("unexpected prompt")
}

// memStorage records appends in memory.
type memStorage struct {
	initErr    error
	successErr error
	records    []*domain.GeneratedRecord
	failures   []domain.FailureRecord
}

func (s *memStorage) Init(ctx context.Context) error { return s.initErr }

func (s *memStorage) AppendSuccess(ctx context.Context, record *domain.GeneratedRecord) error {
	if s.successErr != nil {
		return s.successErr
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memStorage) AppendFailure(ctx context.Context, failure domain.FailureRecord) error {
	s.failures = append(s.failures, failure)
	return nil
}

func (s *memStorage) SuccessPath() string { return "out/batch_qa_results.jsonl" }
func (s *memStorage) FailurePath() string { return "out/error_log.txt" }

// fakeTimer fires immediately and records every requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	ch    chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{ch: make(chan time.Time, 1)}
}

func (f *fakeTimer) Start(d time.Duration) {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	f.ch <- time.Time{}
}

func (f *fakeTimer) Stop() {}

func (f *fakeTimer) C() <-chan time.Time { return f.ch }

func (f *fakeTimer) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}

// recordingSleeper captures pacing waits without blocking.
type recordingSleeper struct {
	waits []time.Duration
	hook  func(n int)
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	if s.hook != nil {
		s.hook(len(s.waits))
	}
	return ctx.Err()
}
