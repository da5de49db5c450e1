package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dwizi/courier/internal/delivery"
	"github.com/dwizi/courier/internal/llm"
	"github.com/dwizi/courier/internal/llm/pool"
)

const (
	contextBudgetChars = 24000
	maxSourceDocs      = 5
)

// Searcher finds candidate pages for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Extractor turns a URL into readable text.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Translator resolves localized response templates.
type Translator interface {
	Text(key, langCode string) string
}

// Service answers questions from fetched web content. It implements the
// completion pool's web answerer contract: search, extract, then one
// generation call constrained to the assembled context.
type Service struct {
	searcher   Searcher
	fetcher    Extractor
	chatKeys   *pool.KeyRing
	client     llm.Completer
	translator Translator
	logger     *slog.Logger
}

func NewService(searcher Searcher, fetcher Extractor, chatKeys *pool.KeyRing, client llm.Completer, translator Translator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		searcher:   searcher,
		fetcher:    fetcher,
		chatKeys:   chatKeys,
		client:     client,
		translator: translator,
		logger:     logger,
	}
}

// Answer runs the grounded path for one question. Sources that fail to
// fetch are skipped; when nothing usable remains the localized no-results
// message is returned with an empty source list.
func (s *Service) Answer(ctx context.Context, req llm.Request, langCode string) (string, []llm.Source, error) {
	results, err := s.searcher.Search(ctx, req.PromptText)
	if err != nil {
		return "", nil, fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		return s.translator.Text("no_web_results", langCode), nil, nil
	}

	type document struct {
		source llm.Source
		text   string
	}
	// Cap client-side rather than trusting the API's max_results.
	if len(results) > maxSourceDocs {
		results = results[:maxSourceDocs]
	}
	docs := make([]document, 0, len(results))
	for _, result := range results {
		text, err := s.fetcher.Extract(ctx, result.URL)
		if err != nil {
			s.logger.Warn("skipping source", "url", result.URL, "error", err)
			continue
		}
		docs = append(docs, document{
			source: llm.Source{Title: result.Title, URL: result.URL},
			text:   text,
		})
	}
	if len(docs) == 0 {
		return s.translator.Text("no_web_results", langCode), nil, nil
	}

	// Every usable document gets an equal share of the context budget.
	share := contextBudgetChars / len(docs)
	var contextBlock strings.Builder
	sources := make([]llm.Source, 0, len(docs))
	for i, doc := range docs {
		text := delivery.TruncateAtRuneBoundary(doc.text, share)
		fmt.Fprintf(&contextBlock, "[Source %d: %s (%s)]\n%s\n\n", i+1, doc.source.Title, doc.source.URL, text)
		sources = append(sources, doc.source)
	}

	generationReq := llm.Request{
		UserID:  req.UserID,
		ModelID: req.ModelID,
		SystemPrompt: "Answer the user's question using only the provided sources. " +
			"If the sources do not contain the answer, say so. " +
			"Respond in the language the question was asked in.",
		PromptText: fmt.Sprintf("Sources:\n\n%sQuestion: %s", contextBlock.String(), req.PromptText),
	}
	raw, ok := pool.Rotate(ctx, s.chatKeys, s.client, generationReq, s.logger)
	if !ok {
		return "", nil, fmt.Errorf("all completion credentials exhausted")
	}
	return raw.Text, sources, nil
}
