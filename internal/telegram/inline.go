package telegram

import (
	"context"

	"github.com/dwizi/courier/internal/pipeline"
)

func (c *Connector) handleInlineQuery(ctx context.Context, query telegramInlineQuery) {
	input := pipeline.TurnInput{
		UserID:       query.From.ID,
		Username:     query.From.Username,
		LanguageCode: query.From.LanguageCode,
		Text:         query.Query,
	}
	c.handler.HandleInlineQuery(ctx, input, func(unitCtx context.Context, results []pipeline.InlineResult) {
		if err := c.answerInlineQuery(unitCtx, query.ID, results); err != nil {
			c.logger.Warn("answer inline query failed", "error", err, "query_id", query.ID)
		}
	})
}
