package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dwizi/courier/internal/delivery"
	"github.com/dwizi/courier/internal/pipeline"
)

type fakeHandler struct {
	turns       []pipeline.TurnInput
	visionTurns []pipeline.TurnInput
	outcome     pipeline.TurnOutcome
	reply       string
	cleared     []int64
	reasoning   string
}

func (f *fakeHandler) HandleUserTurn(ctx context.Context, input pipeline.TurnInput, sender delivery.Sender) (pipeline.TurnOutcome, error) {
	f.turns = append(f.turns, input)
	if f.reply != "" {
		if err := sender.Send(ctx, delivery.Chunk{Text: f.reply, Final: true}, true); err != nil {
			return pipeline.TurnOutcome{}, err
		}
	}
	return f.outcome, nil
}

func (f *fakeHandler) HandleVisionTurn(ctx context.Context, input pipeline.TurnInput, sender delivery.Sender) (pipeline.TurnOutcome, error) {
	f.visionTurns = append(f.visionTurns, input)
	return f.outcome, nil
}

func (f *fakeHandler) HandleInlineQuery(ctx context.Context, input pipeline.TurnInput, respond func(ctx context.Context, results []pipeline.InlineResult)) {
	respond(ctx, []pipeline.InlineResult{{ID: "r1", Title: "Answer", Text: "inline answer"}})
}

func (f *fakeHandler) ShowReasoning(ctx context.Context, messageID, langCode string) string {
	return f.reasoning
}

func (f *fakeHandler) ClearHistory(ctx context.Context, userID int64) error {
	f.cleared = append(f.cleared, userID)
	return nil
}

type staticTranslator struct{}

func (staticTranslator) Text(key, langCode string) string {
	return key
}

type apiCall struct {
	method string
	body   map[string]any
}

// fakeBotAPI records every bot method call and serves canned responses.
type fakeBotAPI struct {
	server        *httptest.Server
	calls         []apiCall
	rejectParsing bool
	failAnswers   bool
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	api := &fakeBotAPI{}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			json.NewDecoder(r.Body).Decode(&body)
		}
		method := r.URL.Path[len("/bottoken/"):]
		api.calls = append(api.calls, apiCall{method: method, body: body})

		if method == "sendMessage" && api.rejectParsing {
			if _, hasParseMode := body["parse_mode"]; hasParseMode {
				io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`)
				return
			}
		}
		// The answer methods return a bare boolean, not an object.
		if method == "answerCallbackQuery" || method == "answerInlineQuery" {
			if api.failAnswers {
				io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: query is too old"}`)
				return
			}
			io.WriteString(w, `{"ok":true,"result":true}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":{"message_id":77}}`)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (api *fakeBotAPI) callsOf(method string) []apiCall {
	var matched []apiCall
	for _, call := range api.calls {
		if call.method == method {
			matched = append(matched, call)
		}
	}
	return matched
}

func newTestConnector(t *testing.T, handler *fakeHandler) (*Connector, *fakeBotAPI) {
	api := newFakeBotAPI(t)
	connector := New("token", api.server.URL, 1, handler, staticTranslator{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return connector, api
}

func TestHandleMessageDispatchesTurn(t *testing.T) {
	handler := &fakeHandler{reply: "<b>answer</b>"}
	connector, api := newTestConnector(t, handler)

	err := connector.handleMessage(context.Background(), telegramMessage{
		MessageID: 1,
		From:      telegramUser{ID: 42, Username: "alice", LanguageCode: "en"},
		Chat:      telegramChat{ID: 42, Type: "private"},
		Text:      "hello",
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(handler.turns) != 1 {
		t.Fatalf("got %d turns", len(handler.turns))
	}
	if handler.turns[0].UserID != 42 || handler.turns[0].Text != "hello" {
		t.Fatalf("input = %+v", handler.turns[0])
	}

	sends := api.callsOf("sendMessage")
	if len(sends) != 1 {
		t.Fatalf("got %d sends", len(sends))
	}
	if sends[0].body["parse_mode"] != "HTML" {
		t.Fatalf("parse_mode = %v", sends[0].body["parse_mode"])
	}
	if sends[0].body["disable_web_page_preview"] != true {
		t.Fatalf("preview not disabled")
	}
}

func TestSendMessageMapsParseRejection(t *testing.T) {
	connector, api := newTestConnector(t, &fakeHandler{})
	api.rejectParsing = true

	_, err := connector.sendMessage(context.Background(), 1, 0, "<broken", true)
	if !errors.Is(err, delivery.ErrMarkupRejected) {
		t.Fatalf("expected markup rejection sentinel, got %v", err)
	}

	// A plain send with the same API state succeeds.
	if _, err := connector.sendMessage(context.Background(), 1, 0, "plain", false); err != nil {
		t.Fatalf("plain send failed: %v", err)
	}
}

func TestGroupMessagesRequireMention(t *testing.T) {
	handler := &fakeHandler{}
	connector, _ := newTestConnector(t, handler)
	connector.botUsername = "courier_bot"

	message := telegramMessage{
		From: telegramUser{ID: 42},
		Chat: telegramChat{ID: -100, Type: "supergroup"},
		Text: "just chatting",
	}
	if err := connector.handleMessage(context.Background(), message); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(handler.turns) != 0 {
		t.Fatalf("unaddressed group message dispatched")
	}

	message.Text = "@courier_bot what time is it"
	if err := connector.handleMessage(context.Background(), message); err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(handler.turns) != 1 {
		t.Fatalf("mention not dispatched")
	}
	if handler.turns[0].Text != "what time is it" {
		t.Fatalf("mention not stripped: %q", handler.turns[0].Text)
	}
}

func TestClearCommand(t *testing.T) {
	handler := &fakeHandler{}
	connector, api := newTestConnector(t, handler)

	err := connector.handleMessage(context.Background(), telegramMessage{
		From: telegramUser{ID: 42, LanguageCode: "en"},
		Chat: telegramChat{ID: 42, Type: "private"},
		Text: "/clear",
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(handler.cleared) != 1 || handler.cleared[0] != 42 {
		t.Fatalf("cleared = %#v", handler.cleared)
	}
	sends := api.callsOf("sendMessage")
	if len(sends) != 1 || sends[0].body["text"] != "clear_done" {
		t.Fatalf("sends = %#v", sends)
	}
}

func TestReasoningButtonAttachedToLastChunk(t *testing.T) {
	handler := &fakeHandler{
		reply:   "answer",
		outcome: pipeline.TurnOutcome{MessageID: "msg-uuid", HasReasoning: true},
	}
	connector, api := newTestConnector(t, handler)

	err := connector.handleMessage(context.Background(), telegramMessage{
		From: telegramUser{ID: 42, LanguageCode: "en"},
		Chat: telegramChat{ID: 42, Type: "private"},
		Text: "hello",
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	edits := api.callsOf("editMessageReplyMarkup")
	if len(edits) != 1 {
		t.Fatalf("got %d edits", len(edits))
	}
	if edits[0].body["message_id"] != float64(77) {
		t.Fatalf("message_id = %v", edits[0].body["message_id"])
	}
}

func TestCallbackQuerySendsReasoning(t *testing.T) {
	handler := &fakeHandler{reasoning: "step by step"}
	connector, api := newTestConnector(t, handler)

	err := connector.handleCallbackQuery(context.Background(), telegramCallbackQuery{
		ID:   "cb-1",
		From: telegramUser{ID: 42, LanguageCode: "en"},
		Data: "reasoning:msg-uuid",
		Message: &telegramMessage{
			Chat: telegramChat{ID: 42, Type: "private"},
		},
	})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if len(api.callsOf("answerCallbackQuery")) != 1 {
		t.Fatalf("callback not acknowledged")
	}
	sends := api.callsOf("sendMessage")
	if len(sends) != 1 {
		t.Fatalf("got %d sends", len(sends))
	}
	text := sends[0].body["text"].(string)
	if text != "reasoning_title\n\nstep by step" {
		t.Fatalf("text = %q", text)
	}
}

func TestInlineQueryAnswered(t *testing.T) {
	connector, api := newTestConnector(t, &fakeHandler{})

	connector.handleInlineQuery(context.Background(), telegramInlineQuery{
		ID:    "iq-1",
		From:  telegramUser{ID: 42, LanguageCode: "en"},
		Query: "long enough question",
	})
	answers := api.callsOf("answerInlineQuery")
	if len(answers) != 1 {
		t.Fatalf("got %d answers", len(answers))
	}
	results := answers[0].body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %#v", results)
	}
	article := results[0].(map[string]any)
	if article["type"] != "article" || article["id"] != "r1" {
		t.Fatalf("article = %#v", article)
	}
}

func TestAnswerMethodsAcceptBooleanResult(t *testing.T) {
	connector, _ := newTestConnector(t, &fakeHandler{})

	if err := connector.answerCallbackQuery(context.Background(), "cb-1"); err != nil {
		t.Fatalf("answerCallbackQuery: %v", err)
	}
	err := connector.answerInlineQuery(context.Background(), "iq-1", []pipeline.InlineResult{
		{ID: "r1", Title: "Answer", Text: "inline answer"},
	})
	if err != nil {
		t.Fatalf("answerInlineQuery: %v", err)
	}
}

func TestAnswerInlineQueryReportsAPIFailure(t *testing.T) {
	connector, api := newTestConnector(t, &fakeHandler{})
	api.failAnswers = true

	err := connector.answerInlineQuery(context.Background(), "iq-1", []pipeline.InlineResult{
		{ID: "r1", Title: "Answer", Text: "inline answer"},
	})
	if err == nil || !strings.Contains(err.Error(), "query is too old") {
		t.Fatalf("expected API failure, got %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	if command, ok := parseCommand("/start"); !ok || command != "start" {
		t.Fatalf("got %q ok=%v", command, ok)
	}
	if command, ok := parseCommand("/clear@courier_bot"); !ok || command != "clear" {
		t.Fatalf("got %q ok=%v", command, ok)
	}
	if _, ok := parseCommand("not a command"); ok {
		t.Fatalf("plain text parsed as command")
	}
}

func TestPhotoMessageDispatchesVisionTurn(t *testing.T) {
	handler := &fakeHandler{}
	api := newFakeBotAPI(t)
	// getFile and file download both go through the same fake server.
	api.server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottoken/getFile":
			io.WriteString(w, `{"ok":true,"result":{"file_path":"photos/1.jpg"}}`)
		case "/file/bottoken/photos/1.jpg":
			w.Write([]byte("jpegbytes"))
		default:
			io.WriteString(w, `{"ok":true,"result":{"message_id":1}}`)
		}
	})
	connector := New("token", api.server.URL, 1, handler, staticTranslator{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := connector.handleMessage(context.Background(), telegramMessage{
		From:    telegramUser{ID: 42, LanguageCode: "en"},
		Chat:    telegramChat{ID: 42, Type: "private"},
		Caption: "what is this",
		Photo: []telegramPhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "large", Width: 800, Height: 600},
		},
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
	if len(handler.visionTurns) != 1 {
		t.Fatalf("got %d vision turns", len(handler.visionTurns))
	}
	input := handler.visionTurns[0]
	if input.Text != "what is this" {
		t.Fatalf("caption lost: %q", input.Text)
	}
	if len(input.Images) != 1 || input.Images[0] != "anBlZ2J5dGVz" {
		t.Fatalf("images = %#v", input.Images)
	}
}
