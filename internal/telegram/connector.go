// Package telegram is the long-poll connector: it pulls updates from the
// bot API, dispatches them to the pipeline, and sends HTML-formatted
// replies back.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/courier/internal/delivery"
	"github.com/dwizi/courier/internal/pipeline"
)

// TurnHandler is the pipeline surface the connector dispatches into.
type TurnHandler interface {
	HandleUserTurn(ctx context.Context, input pipeline.TurnInput, sender delivery.Sender) (pipeline.TurnOutcome, error)
	HandleVisionTurn(ctx context.Context, input pipeline.TurnInput, sender delivery.Sender) (pipeline.TurnOutcome, error)
	HandleInlineQuery(ctx context.Context, input pipeline.TurnInput, respond func(ctx context.Context, results []pipeline.InlineResult))
	ShowReasoning(ctx context.Context, messageID, langCode string) string
	ClearHistory(ctx context.Context, userID int64) error
}

// Translator resolves localized response templates.
type Translator interface {
	Text(key, langCode string) string
}

type Connector struct {
	token       string
	apiBase     string
	pollSeconds int
	handler     TurnHandler
	translator  Translator
	httpClient  *http.Client
	logger      *slog.Logger
	botUsername string
	offset      int64
}

func New(token, apiBase string, pollSeconds int, handler TurnHandler, translator Translator, logger *slog.Logger) *Connector {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://api.telegram.org"
	}
	if pollSeconds < 1 {
		pollSeconds = 25
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		token:       strings.TrimSpace(token),
		apiBase:     strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		pollSeconds: pollSeconds,
		handler:     handler,
		translator:  translator,
		httpClient: &http.Client{
			Timeout: time.Duration(pollSeconds+10) * time.Second,
		},
		logger: logger,
	}
}

func (c *Connector) Name() string {
	return "telegram"
}

func (c *Connector) Start(ctx context.Context) error {
	if c.token == "" {
		c.logger.Info("connector disabled, token missing")
		<-ctx.Done()
		return nil
	}

	c.logger.Info("connector started", "api_base", c.apiBase)
	if username, err := c.fetchBotUsername(ctx); err == nil && username != "" {
		c.botUsername = username
		c.logger.Info("bot identity loaded", "username", c.botUsername)
	} else if err != nil {
		c.logger.Warn("bot username lookup failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			c.logger.Info("connector stopped")
			return nil
		}
		if err := c.pollOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
				c.logger.Info("connector stopped")
				return nil
			case <-time.After(1500 * time.Millisecond):
			}
		}
	}
}

func (c *Connector) pollOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d", c.apiBase, c.token, c.pollSeconds, c.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var payload getUpdatesResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode getUpdates: %w", err)
	}
	if !payload.OK {
		return fmt.Errorf("telegram getUpdates failed")
	}

	for _, update := range payload.Result {
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		c.dispatch(ctx, update)
	}
	return nil
}

func (c *Connector) dispatch(ctx context.Context, update telegramUpdate) {
	switch {
	case update.Message != nil:
		if err := c.handleMessage(ctx, *update.Message); err != nil {
			c.logger.Error("handle message failed", "error", err, "update_id", update.UpdateID)
		}
	case update.InlineQuery != nil:
		c.handleInlineQuery(ctx, *update.InlineQuery)
	case update.CallbackQuery != nil:
		if err := c.handleCallbackQuery(ctx, *update.CallbackQuery); err != nil {
			c.logger.Error("handle callback failed", "error", err, "update_id", update.UpdateID)
		}
	}
}
