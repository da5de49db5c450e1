package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dwizi/courier/internal/delivery"
	"github.com/dwizi/courier/internal/pipeline"
)

const reasoningCallbackPrefix = "reasoning:"

func (c *Connector) handleMessage(ctx context.Context, message telegramMessage) error {
	isGroup := message.Chat.Type != "private"
	text := strings.TrimSpace(message.Text)
	if text == "" {
		text = strings.TrimSpace(message.Caption)
	}
	langCode := message.From.LanguageCode

	if command, ok := parseCommand(text); ok {
		return c.handleCommand(ctx, message, command, langCode)
	}

	// In groups the bot only answers when addressed.
	if isGroup {
		if c.botUsername == "" || !containsMention(text, c.botUsername) {
			return nil
		}
		text = stripMention(text, c.botUsername)
	}

	input := pipeline.TurnInput{
		UserID:       message.From.ID,
		Username:     message.From.Username,
		LanguageCode: langCode,
		Text:         text,
	}
	sender := c.newChatSender(message, isGroup)

	if len(message.Photo) > 0 {
		image, err := c.downloadLargestPhoto(ctx, message.Photo)
		if err != nil {
			return fmt.Errorf("download photo: %w", err)
		}
		input.Images = []string{image}
		outcome, err := c.handler.HandleVisionTurn(ctx, input, sender)
		if err != nil {
			return err
		}
		return c.attachReasoningButton(ctx, message.Chat.ID, sender.lastMessageID, outcome, langCode)
	}

	if text == "" {
		return nil
	}
	outcome, err := c.handler.HandleUserTurn(ctx, input, sender)
	if err != nil {
		return err
	}
	return c.attachReasoningButton(ctx, message.Chat.ID, sender.lastMessageID, outcome, langCode)
}

func (c *Connector) handleCommand(ctx context.Context, message telegramMessage, command, langCode string) error {
	switch command {
	case "start":
		return c.sendPlainMessage(ctx, message.Chat.ID, 0, c.translator.Text("start_message", langCode))
	case "clear":
		if err := c.handler.ClearHistory(ctx, message.From.ID); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
		return c.sendPlainMessage(ctx, message.Chat.ID, 0, c.translator.Text("clear_done", langCode))
	default:
		return nil
	}
}

func (c *Connector) attachReasoningButton(ctx context.Context, chatID, messageID int64, outcome pipeline.TurnOutcome, langCode string) error {
	if !outcome.HasReasoning || messageID == 0 {
		return nil
	}
	label := c.translator.Text("show_reasoning_button", langCode)
	if err := c.editReplyMarkup(ctx, chatID, messageID, label, reasoningCallbackPrefix+outcome.MessageID); err != nil {
		c.logger.Warn("failed to attach reasoning button", "error", err, "chat_id", chatID)
	}
	return nil
}

func (c *Connector) handleCallbackQuery(ctx context.Context, callback telegramCallbackQuery) error {
	if err := c.answerCallbackQuery(ctx, callback.ID); err != nil {
		c.logger.Warn("answer callback failed", "error", err)
	}
	if !strings.HasPrefix(callback.Data, reasoningCallbackPrefix) || callback.Message == nil {
		return nil
	}
	messageID := strings.TrimPrefix(callback.Data, reasoningCallbackPrefix)
	langCode := callback.From.LanguageCode
	reasoningText := c.handler.ShowReasoning(ctx, messageID, langCode)

	title := c.translator.Text("reasoning_title", langCode)
	body := title + "\n\n" + reasoningText
	for _, part := range delivery.Paginate(body, delivery.DefaultChunkLimit) {
		if err := c.sendPlainMessage(ctx, callback.Message.Chat.ID, 0, part); err != nil {
			return err
		}
	}
	return nil
}

// chatSender delivers chunks to one chat and remembers the id of the last
// message sent so a reply markup can be attached to it afterwards.
type chatSender struct {
	connector     *Connector
	chatID        int64
	replyTo       int64
	lastMessageID int64
}

func (c *Connector) newChatSender(message telegramMessage, isGroup bool) *chatSender {
	sender := &chatSender{connector: c, chatID: message.Chat.ID}
	if isGroup {
		sender.replyTo = message.MessageID
	}
	return sender
}

func (s *chatSender) Send(ctx context.Context, chunk delivery.Chunk, asMarkup bool) error {
	// Only the first chunk replies to the triggering message.
	replyTo := int64(0)
	if chunk.Index == 0 {
		replyTo = s.replyTo
	}
	messageID, err := s.connector.sendMessage(ctx, s.chatID, replyTo, chunk.Text, asMarkup)
	if err != nil {
		return err
	}
	s.lastMessageID = messageID
	return nil
}

func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	command := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}
	return strings.ToLower(command), command != ""
}

func containsMention(text, botUsername string) bool {
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUsername))
}

func stripMention(text, botUsername string) string {
	mention := "@" + botUsername
	text = strings.ReplaceAll(text, mention, "")
	text = strings.ReplaceAll(text, strings.ToLower(mention), "")
	return strings.TrimSpace(text)
}

// downloadLargestPhoto picks the biggest size variant and returns it as
// base64 for the vision request.
func (c *Connector) downloadLargestPhoto(ctx context.Context, sizes []telegramPhotoSize) (string, error) {
	largest := sizes[0]
	for _, size := range sizes[1:] {
		if size.Width*size.Height > largest.Width*largest.Height {
			largest = size
		}
	}
	filePath, err := c.lookupFilePath(ctx, largest.FileID)
	if err != nil {
		return "", err
	}
	content, err := c.downloadFile(ctx, filePath)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(content), nil
}
