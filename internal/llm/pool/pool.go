// Package pool rotates provider credentials and turns raw completions into
// parsed responses. Acquire never fails: when every credential is refused
// the caller gets a localized "all services busy" sentinel instead.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dwizi/courier/internal/llm"
	"github.com/dwizi/courier/internal/reasoning"
)

// KeyRing is a round-robin cursor over an immutable credential list. Next
// is safe for concurrent use; credentials are never mutated, only cycled.
type KeyRing struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

func NewKeyRing(keys []string) *KeyRing {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		cleaned = append(cleaned, key)
	}
	return &KeyRing{keys: cleaned}
}

func (r *KeyRing) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return ""
	}
	key := r.keys[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.keys)
	return key
}

func (r *KeyRing) Size() int {
	return len(r.keys)
}

// WebAnswerer is the retrieval-augmented path taken when a query needs
// live information.
type WebAnswerer interface {
	Answer(ctx context.Context, req llm.Request, langCode string) (string, []llm.Source, error)
}

type Translator interface {
	Text(key, langCode string) string
}

type Pool struct {
	chat       *KeyRing
	vision     *KeyRing
	client     llm.Completer
	web        WebAnswerer
	translator Translator
	logger     *slog.Logger
}

func New(chat, vision *KeyRing, client llm.Completer, web WebAnswerer, translator Translator, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		chat:       chat,
		vision:     vision,
		client:     client,
		web:        web,
		translator: translator,
		logger:     logger,
	}
}

// Acquire produces a response for a plain chat turn. Queries that need live
// web lookup are routed to the retrieval-augmented path first; everything
// else runs through the rotation loop against the chat credential ring.
func (p *Pool) Acquire(ctx context.Context, req llm.Request, langCode string) llm.ParsedResponse {
	if p.chat.Size() == 0 {
		p.logger.Error("no chat credentials configured")
		return p.sentinel("api_key_not_configured", langCode)
	}

	if p.web != nil && p.needsWebLookup(ctx, req.PromptText) {
		content, sources, err := p.web.Answer(ctx, req, langCode)
		if err == nil {
			return llm.ParsedResponse{VisibleContent: content, Sources: sources}
		}
		p.logger.Error("web answer failed, falling back to plain completion", "error", err)
	}

	raw, ok := p.complete(ctx, p.chat, req)
	if !ok {
		return p.sentinel("all_services_busy", langCode)
	}
	content, reasoningText := reasoning.Extract(raw.Text, req.SupportsReasoning)
	return llm.ParsedResponse{VisibleContent: content, Reasoning: reasoningText}
}

// AcquireVision runs the rotation loop against the vision credential ring.
func (p *Pool) AcquireVision(ctx context.Context, req llm.Request, langCode string) llm.ParsedResponse {
	if p.vision == nil || p.vision.Size() == 0 {
		p.logger.Error("no vision credentials configured")
		return p.sentinel("api_key_not_configured", langCode)
	}
	raw, ok := p.complete(ctx, p.vision, req)
	if !ok {
		return p.sentinel("all_services_busy", langCode)
	}
	content, reasoningText := reasoning.Extract(raw.Text, req.SupportsReasoning)
	return llm.ParsedResponse{VisibleContent: content, Reasoning: reasoningText}
}

func (p *Pool) complete(ctx context.Context, ring *KeyRing, req llm.Request) (llm.RawCompletion, bool) {
	return Rotate(ctx, ring, p.client, req, p.logger)
}

// Rotate attempts each credential in the ring at most once. Rate-limit
// rejections and other provider errors both rotate; the provider does not
// reliably distinguish fatal from transient failures, so neither do we.
func Rotate(ctx context.Context, ring *KeyRing, client llm.Completer, req llm.Request, logger *slog.Logger) (llm.RawCompletion, bool) {
	for attempt := 0; attempt < ring.Size(); attempt++ {
		key := ring.Next()
		raw, err := client.Complete(ctx, key, req)
		if err == nil {
			return raw, true
		}
		if errors.Is(err, llm.ErrRateLimited) {
			logger.Warn("credential rate limited, rotating", "key_hint", keyHint(key))
			continue
		}
		logger.Error("completion failed, rotating", "key_hint", keyHint(key), "error", err)
	}
	return llm.RawCompletion{}, false
}

// needsWebLookup asks the classification model whether the query requires
// live information. Any failure fails safe to the cheaper plain path.
func (p *Pool) needsWebLookup(ctx context.Context, promptText string) bool {
	question := fmt.Sprintf(
		"Does answering the following question require up-to-date information from the live web, such as news, prices, weather, or recent events?\n\nQuestion: %s",
		strings.TrimSpace(promptText),
	)
	yes, err := p.client.Classify(ctx, p.chat.Next(), question)
	if err != nil {
		p.logger.Warn("web-need classification failed, assuming no", "error", err)
		return false
	}
	return yes
}

func (p *Pool) sentinel(key, langCode string) llm.ParsedResponse {
	return llm.ParsedResponse{VisibleContent: p.translator.Text(key, langCode)}
}

func keyHint(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "..." + key[len(key)-4:]
}
