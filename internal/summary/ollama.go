package summary

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaSummarizer runs one generation at a time; a local model server handles a single
// request well and queues the rest anyway.
type OllamaSummarizer struct {
	client  *api.Client
	prompt  string
	model   string
	timeout time.Duration
	mu      sync.Mutex
}

// NewOllamaSummarizer accepts either a bare host:port or a full URL as baseURL.
func NewOllamaSummarizer(baseURL, prompt, model string, timeout time.Duration) (*OllamaSummarizer, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}

	return &OllamaSummarizer{
		client:  api.NewClient(u, &http.Client{}),
		prompt:  prompt,
		model:   model,
		timeout: timeout,
	}, nil
}

func (o *OllamaSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stream := false
	req := &api.GenerateRequest{
		Model:  o.model,
		System: o.prompt,
		Prompt: text,
		Stream: &stream,
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var b strings.Builder
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	return strings.TrimSpace(b.String()), nil
}
