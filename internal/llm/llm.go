package llm

import (
	"context"
	"errors"
)

var (
	// ErrRateLimited marks a provider rejection that should rotate to the
	// next credential rather than surface to the user.
	ErrRateLimited = errors.New("provider rate limited")

	ErrUnavailable = errors.New("provider unavailable")
)

// Capability is a logical class of provider operation. Each capability has
// its own rotating credential pool.
type Capability string

const (
	CapabilityChat   Capability = "chat"
	CapabilityVision Capability = "vision"
	CapabilitySearch Capability = "search"
)

type HistoryMessage struct {
	Role    string
	Content string
}

// Request carries everything one generation call needs. History is ordered
// oldest-first and does not include PromptText.
type Request struct {
	UserID            int64
	PromptText        string
	History           []HistoryMessage
	ModelID           string
	SystemPrompt      string
	SupportsReasoning bool
	Images            []string // base64-encoded, vision requests only
}

// RawCompletion is the unparsed output of exactly one successful provider
// call.
type RawCompletion struct {
	Text      string
	Truncated bool
}

type Source struct {
	Title string
	URL   string
}

// ParsedResponse is what the pool hands back to the pipeline. VisibleContent
// never contains reasoning delimiters when Reasoning is set.
type ParsedResponse struct {
	VisibleContent string
	Reasoning      string
	Sources        []Source
}

// Completer is the provider-call surface the pool rotates credentials
// through.
type Completer interface {
	Complete(ctx context.Context, apiKey string, req Request) (RawCompletion, error)
	Classify(ctx context.Context, apiKey, question string) (bool, error)
}
