package telegram

import "encoding/json"

type getUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

type telegramUpdate struct {
	UpdateID      int64                  `json:"update_id"`
	Message       *telegramMessage       `json:"message"`
	InlineQuery   *telegramInlineQuery   `json:"inline_query"`
	CallbackQuery *telegramCallbackQuery `json:"callback_query"`
}

type telegramMessage struct {
	MessageID int64               `json:"message_id"`
	From      telegramUser        `json:"from"`
	Chat      telegramChat        `json:"chat"`
	Text      string              `json:"text"`
	Caption   string              `json:"caption"`
	Photo     []telegramPhotoSize `json:"photo"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type telegramUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	LanguageCode string `json:"language_code"`
}

type telegramPhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

type telegramInlineQuery struct {
	ID    string       `json:"id"`
	From  telegramUser `json:"from"`
	Query string       `json:"query"`
}

type telegramCallbackQuery struct {
	ID      string           `json:"id"`
	From    telegramUser     `json:"from"`
	Message *telegramMessage `json:"message"`
	Data    string           `json:"data"`
}

// apiResponse keeps result raw because its shape depends on the method:
// sendMessage returns a message object while answerCallbackQuery and
// answerInlineQuery return a bare boolean.
type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// apiResult covers the object-shaped results this connector reads.
type apiResult struct {
	MessageID int64  `json:"message_id"`
	Username  string `json:"username"`
	FilePath  string `json:"file_path"`
}
