// Package pipeline coordinates one user turn end to end: quota check,
// history load, completion, sanitization, chunked delivery, persistence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dwizi/courier/internal/debounce"
	"github.com/dwizi/courier/internal/delivery"
	"github.com/dwizi/courier/internal/llm"
	"github.com/dwizi/courier/internal/llm/pool"
	"github.com/dwizi/courier/internal/markup"
	"github.com/dwizi/courier/internal/quota"
	"github.com/dwizi/courier/internal/store"
)

const (
	maxImagesPerTurn     = 3
	minInlineQueryLength = 4
	roleUser             = "user"
	roleAssistant        = "assistant"
)

// Translator resolves localized response templates.
type Translator interface {
	Text(key, langCode string) string
}

// TurnInput is one incoming message from the connector.
type TurnInput struct {
	UserID       int64
	Username     string
	LanguageCode string
	Text         string
	Images       []string // base64-encoded
}

// TurnOutcome tells the connector what got delivered. MessageID references
// the stored assistant message so a follow-up action can retrieve its
// reasoning.
type TurnOutcome struct {
	MessageID    string
	HasReasoning bool
}

// InlineResult is one answer candidate for an inline query.
type InlineResult struct {
	ID    string
	Title string
	Text  string
}

type Pipeline struct {
	store        *store.Store
	gate         *quota.Gate
	pool         *pool.Pool
	translator   Translator
	engine       *delivery.Engine
	debouncer    *debounce.Debouncer
	cache        *debounce.Cache
	catalog      llm.Catalog
	defaultModel string
	historyLimit int
	logger       *slog.Logger
}

func New(
	st *store.Store,
	gate *quota.Gate,
	completionPool *pool.Pool,
	translator Translator,
	engine *delivery.Engine,
	debouncer *debounce.Debouncer,
	cache *debounce.Cache,
	catalog llm.Catalog,
	defaultModel string,
	historyLimit int,
	logger *slog.Logger,
) *Pipeline {
	if historyLimit < 1 {
		historyLimit = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:        st,
		gate:         gate,
		pool:         completionPool,
		translator:   translator,
		engine:       engine,
		debouncer:    debouncer,
		cache:        cache,
		catalog:      catalog,
		defaultModel: defaultModel,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// HandleUserTurn runs a plain chat turn and streams the answer through
// sender. The quota counter only moves after a completion was produced, so
// denied or failed turns never consume allowance.
func (p *Pipeline) HandleUserTurn(ctx context.Context, input TurnInput, sender delivery.Sender) (TurnOutcome, error) {
	user, err := p.store.GetOrCreateUser(ctx, input.UserID, input.Username, input.LanguageCode)
	if err != nil {
		return TurnOutcome{}, fmt.Errorf("load user: %w", err)
	}
	langCode := user.LanguageCode

	if decision := p.gate.Check(ctx, input.UserID); !decision.Allowed {
		return TurnOutcome{}, p.sendPlain(ctx, sender, p.limitText(langCode))
	}

	req, err := p.buildRequest(ctx, user, input.Text)
	if err != nil {
		return TurnOutcome{}, err
	}
	response := p.pool.Acquire(ctx, req, langCode)
	return p.finishTurn(ctx, input, langCode, response, sender)
}

// HandleVisionTurn answers a message carrying images. The active model must
// be vision-capable; extra images past the cap are dropped with a notice.
func (p *Pipeline) HandleVisionTurn(ctx context.Context, input TurnInput, sender delivery.Sender) (TurnOutcome, error) {
	user, err := p.store.GetOrCreateUser(ctx, input.UserID, input.Username, input.LanguageCode)
	if err != nil {
		return TurnOutcome{}, fmt.Errorf("load user: %w", err)
	}
	langCode := user.LanguageCode

	modelID := p.activeModel(user)
	if !p.catalog.SupportsVision(modelID) {
		return TurnOutcome{}, p.sendPlain(ctx, sender, p.translator.Text("vision_model_required", langCode))
	}

	if decision := p.gate.Check(ctx, input.UserID); !decision.Allowed {
		return TurnOutcome{}, p.sendPlain(ctx, sender, p.limitText(langCode))
	}

	images := input.Images
	if len(images) > maxImagesPerTurn {
		images = images[:maxImagesPerTurn]
		warning := strings.ReplaceAll(
			p.translator.Text("max_images_warning", langCode),
			"{max}", strconv.Itoa(maxImagesPerTurn),
		)
		if err := p.sendPlain(ctx, sender, warning); err != nil {
			return TurnOutcome{}, err
		}
	}

	promptText := strings.TrimSpace(input.Text)
	if promptText == "" {
		promptText = p.translator.Text("default_vision_prompt", langCode)
	}

	req := llm.Request{
		UserID:            input.UserID,
		PromptText:        promptText,
		ModelID:           modelID,
		SystemPrompt:      p.systemPrompt(user),
		SupportsReasoning: p.catalog.SupportsReasoning(modelID),
		Images:            images,
	}
	response := p.pool.AcquireVision(ctx, req, langCode)
	turnInput := input
	turnInput.Text = promptText
	return p.finishTurn(ctx, turnInput, langCode, response, sender)
}

// HandleInlineQuery debounces rapid retyping and answers from the cache
// when the same question was asked recently. respond runs asynchronously
// once the quiet period passes; superseded queries never respond at all.
func (p *Pipeline) HandleInlineQuery(ctx context.Context, input TurnInput, respond func(ctx context.Context, results []InlineResult)) {
	query := strings.TrimSpace(input.Text)
	if len([]rune(query)) < minInlineQueryLength {
		return
	}

	p.debouncer.Schedule(ctx, input.UserID, func(unitCtx context.Context) {
		if unitCtx.Err() != nil {
			return
		}
		if cached, ok := p.cache.Get(query); ok {
			respond(unitCtx, []InlineResult{{
				ID:    uuid.NewString(),
				Title: p.translator.Text("inline_answer_title", input.LanguageCode),
				Text:  cached,
			}})
			return
		}

		user, err := p.store.GetOrCreateUser(unitCtx, input.UserID, input.Username, input.LanguageCode)
		if err != nil {
			p.logger.Error("inline turn failed to load user", "error", err)
			return
		}
		langCode := user.LanguageCode

		if decision := p.gate.Check(unitCtx, input.UserID); !decision.Allowed {
			respond(unitCtx, []InlineResult{{
				ID:    uuid.NewString(),
				Title: p.translator.Text("limit_reached_inline", langCode),
				Text:  p.limitText(langCode),
			}})
			return
		}

		modelID := p.activeModel(user)
		req := llm.Request{
			UserID:            input.UserID,
			PromptText:        query,
			ModelID:           modelID,
			SystemPrompt:      p.systemPrompt(user),
			SupportsReasoning: p.catalog.SupportsReasoning(modelID),
		}
		response := p.pool.Acquire(unitCtx, req, langCode)
		if unitCtx.Err() != nil {
			return
		}
		content := strings.TrimSpace(response.VisibleContent)
		if content == "" {
			content = p.translator.Text("no_response", langCode)
		}

		p.cache.Put(query, content)
		p.gate.Increment(unitCtx, input.UserID)
		respond(unitCtx, []InlineResult{{
			ID:    uuid.NewString(),
			Title: p.translator.Text("inline_answer_title", langCode),
			Text:  content,
		}})
	})
}

// ShowReasoning returns the stored reasoning text for an assistant message.
func (p *Pipeline) ShowReasoning(ctx context.Context, messageID, langCode string) string {
	reasoningText, err := p.store.GetMessageReasoning(ctx, messageID)
	if err != nil {
		p.logger.Error("failed to load reasoning", "message_id", messageID, "error", err)
		reasoningText = ""
	}
	if strings.TrimSpace(reasoningText) == "" {
		return p.translator.Text("reasoning_unavailable", langCode)
	}
	return reasoningText
}

// ClearHistory wipes the user's stored conversation.
func (p *Pipeline) ClearHistory(ctx context.Context, userID int64) error {
	return p.store.DeleteMessages(ctx, userID)
}

func (p *Pipeline) finishTurn(ctx context.Context, input TurnInput, langCode string, response llm.ParsedResponse, sender delivery.Sender) (TurnOutcome, error) {
	content := strings.TrimSpace(response.VisibleContent)
	if content == "" {
		return TurnOutcome{}, p.sendPlain(ctx, sender, p.translator.Text("no_response", langCode))
	}

	markupText := markup.Sanitize(content)
	if block := p.sourcesBlock(response.Sources, langCode); block != "" {
		markupText += block
	}

	if err := p.engine.Deliver(ctx, markupText, sender); err != nil {
		p.logger.Error("delivery failed", "user_id", input.UserID, "error", err)
		return TurnOutcome{}, p.sendPlain(ctx, sender, p.translator.Text("stream_error", langCode))
	}

	if _, err := p.store.AppendMessage(ctx, input.UserID, roleUser, input.Text, ""); err != nil {
		p.logger.Error("failed to store user message", "error", err)
	}
	messageID, err := p.store.AppendMessage(ctx, input.UserID, roleAssistant, content, response.Reasoning)
	if err != nil {
		p.logger.Error("failed to store assistant message", "error", err)
	}
	p.gate.Increment(ctx, input.UserID)

	return TurnOutcome{
		MessageID:    messageID,
		HasReasoning: strings.TrimSpace(response.Reasoning) != "",
	}, nil
}

func (p *Pipeline) buildRequest(ctx context.Context, user store.User, promptText string) (llm.Request, error) {
	rows, err := p.store.History(ctx, user.ID, p.historyLimit)
	if err != nil {
		return llm.Request{}, fmt.Errorf("load history: %w", err)
	}
	history := make([]llm.HistoryMessage, 0, len(rows))
	for _, row := range rows {
		history = append(history, llm.HistoryMessage{Role: row.Role, Content: row.Content})
	}

	modelID := p.activeModel(user)
	return llm.Request{
		UserID:            user.ID,
		PromptText:        promptText,
		History:           history,
		ModelID:           modelID,
		SystemPrompt:      p.systemPrompt(user),
		SupportsReasoning: p.catalog.SupportsReasoning(modelID),
	}, nil
}

func (p *Pipeline) activeModel(user store.User) string {
	if strings.TrimSpace(user.ActiveModel) != "" {
		return user.ActiveModel
	}
	return p.defaultModel
}

func (p *Pipeline) systemPrompt(user store.User) string {
	if strings.TrimSpace(user.SystemPrompt) != "" {
		return user.SystemPrompt
	}
	return p.translator.Text("system_prompt", user.LanguageCode)
}

// sourcesBlock renders attribution links. Titles and URLs go through the
// escaper, never the markdown converter, so a hostile page title cannot
// inject tags.
func (p *Pipeline) sourcesBlock(sources []llm.Source, langCode string) string {
	if len(sources) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("\n\n<b>")
	builder.WriteString(markup.EscapeText(p.translator.Text("sources_title", langCode)))
	builder.WriteString("</b>")
	for _, source := range sources {
		title := strings.TrimSpace(source.Title)
		if title == "" {
			title = source.URL
		}
		fmt.Fprintf(&builder, "\n<a href=\"%s\">%s</a>", markup.EscapeText(source.URL), markup.EscapeText(title))
	}
	return builder.String()
}

func (p *Pipeline) limitText(langCode string) string {
	return strings.ReplaceAll(
		p.translator.Text("limit_reached", langCode),
		"{limit}", strconv.Itoa(p.gate.Limit()),
	)
}

func (p *Pipeline) sendPlain(ctx context.Context, sender delivery.Sender, text string) error {
	return sender.Send(ctx, delivery.Chunk{Text: text, Index: 0, Final: true}, false)
}
