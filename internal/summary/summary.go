// Package summary provides LLM-backed article summarizers for the reader view.
package summary

import (
	"context"
	"fmt"
	"time"
)

const DefaultPrompt = "Summarize the following news article in three short sentences. " +
	"Reply with the summary only."

// Options selects and configures a backend. Kind is one of "none", "ollama" or "openai".
type Options struct {
	Kind    string
	BaseURL string
	APIKey  string
	Prompt  string
	Model   string
	Timeout time.Duration
}

// Summarizer is satisfied by every backend in this package.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// New returns the configured backend, or nil when summaries are disabled.
func New(opts Options) (Summarizer, error) {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}

	switch opts.Kind {
	case "", "none":
		return nil, nil
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("ai_key is required when ai_type is %q", opts.Kind)
		}
		return NewOpenAISummarizer(opts.BaseURL, opts.APIKey, opts.Prompt, opts.Model, opts.Timeout), nil
	case "ollama":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("ai_base_url is required when ai_type is %q", opts.Kind)
		}
		s, err := NewOllamaSummarizer(opts.BaseURL, opts.Prompt, opts.Model, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown ai_type %q", opts.Kind)
	}
}
