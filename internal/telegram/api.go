package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dwizi/courier/internal/delivery"
	"github.com/dwizi/courier/internal/pipeline"
)

func (c *Connector) sendMessage(ctx context.Context, chatID, replyTo int64, text string, asMarkup bool) (int64, error) {
	body := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if asMarkup {
		body["parse_mode"] = "HTML"
	}
	if replyTo != 0 {
		body["reply_to_message_id"] = replyTo
	}
	response, err := c.callAPI(ctx, "sendMessage", body)
	if err != nil {
		return 0, err
	}
	result, err := response.object("sendMessage")
	if err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

func (c *Connector) sendPlainMessage(ctx context.Context, chatID, replyTo int64, text string) error {
	_, err := c.sendMessage(ctx, chatID, replyTo, text, false)
	return err
}

func (c *Connector) editReplyMarkup(ctx context.Context, chatID, messageID int64, buttonLabel, callbackData string) error {
	_, err := c.callAPI(ctx, "editMessageReplyMarkup", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]any{{
				{"text": buttonLabel, "callback_data": callbackData},
			}},
		},
	})
	return err
}

func (c *Connector) answerCallbackQuery(ctx context.Context, callbackID string) error {
	_, err := c.callAPI(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackID,
	})
	return err
}

func (c *Connector) answerInlineQuery(ctx context.Context, queryID string, results []pipeline.InlineResult) error {
	articles := make([]map[string]any, 0, len(results))
	for _, result := range results {
		articles = append(articles, map[string]any{
			"type":  "article",
			"id":    result.ID,
			"title": result.Title,
			"input_message_content": map[string]any{
				"message_text": result.Text,
			},
		})
	}
	_, err := c.callAPI(ctx, "answerInlineQuery", map[string]any{
		"inline_query_id": queryID,
		"results":         articles,
		"cache_time":      0,
		"is_personal":     true,
	})
	return err
}

func (c *Connector) lookupFilePath(ctx context.Context, fileID string) (string, error) {
	response, err := c.callAPI(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return "", err
	}
	result, err := response.object("getFile")
	if err != nil {
		return "", err
	}
	filePath := strings.TrimSpace(result.FilePath)
	if filePath == "" {
		return "", fmt.Errorf("telegram getFile returned empty path")
	}
	return filePath, nil
}

func (c *Connector) downloadFile(ctx context.Context, filePath string) ([]byte, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram file download failed with status %d", res.StatusCode)
	}
	return io.ReadAll(io.LimitReader(res.Body, 8<<20))
}

func (c *Connector) fetchBotUsername(ctx context.Context) (string, error) {
	response, err := c.callAPI(ctx, "getMe", map[string]any{})
	if err != nil {
		return "", err
	}
	result, err := response.object("getMe")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Username), nil
}

func (r apiResponse) object(method string) (apiResult, error) {
	var result apiResult
	if err := json.Unmarshal(r.Result, &result); err != nil {
		return apiResult{}, fmt.Errorf("decode %s result: %w", method, err)
	}
	return result, nil
}

// callAPI posts one bot API method. A rejection caused by unparseable HTML
// comes back as the delivery engine's markup sentinel so it can fall back
// to plain text.
func (c *Connector) callAPI(ctx context.Context, method string, body map[string]any) (apiResponse, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	payload, err := json.Marshal(body)
	if err != nil {
		return apiResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer res.Body.Close()

	var response apiResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s: %w", method, err)
	}
	if !response.OK {
		if strings.Contains(strings.ToLower(response.Description), "can't parse entities") {
			return apiResponse{}, fmt.Errorf("%w: %s", delivery.ErrMarkupRejected, response.Description)
		}
		return apiResponse{}, fmt.Errorf("telegram %s failed: %s", method, response.Description)
	}
	return response, nil
}
