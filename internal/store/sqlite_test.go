package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestGetOrCreateUserDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	user, err := st.GetOrCreateUser(ctx, 42, "alice", "")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if user.ID != 42 || user.Username != "alice" {
		t.Fatalf("got %+v", user)
	}
	if user.LanguageCode != "en" {
		t.Fatalf("language should default to en, got %q", user.LanguageCode)
	}
	if user.ChatCount != 0 || user.LastChatDate != "" {
		t.Fatalf("fresh user should have empty quota, got %+v", user)
	}
}

func TestGetOrCreateUserRefreshesUsername(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetOrCreateUser(ctx, 42, "oldname", "id"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	user, err := st.GetOrCreateUser(ctx, 42, "newname", "id")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if user.Username != "newname" {
		t.Fatalf("username not refreshed, got %q", user.Username)
	}
	if user.LanguageCode != "id" {
		t.Fatalf("language lost, got %q", user.LanguageCode)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetOrCreateUser(ctx, 1, "u", "en"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.AppendMessage(ctx, 1, "user", "question", ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	assistantID, err := st.AppendMessage(ctx, 1, "assistant", "answer", "rationale")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	history, err := st.History(ctx, 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d messages", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("order wrong: %q then %q", history[0].Role, history[1].Role)
	}

	reasoningText, err := st.GetMessageReasoning(ctx, assistantID)
	if err != nil {
		t.Fatalf("get reasoning: %v", err)
	}
	if reasoningText != "rationale" {
		t.Fatalf("got %q", reasoningText)
	}
}

func TestHistoryLimitKeepsNewest(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetOrCreateUser(ctx, 1, "u", "en"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, content := range []string{"one", "two", "three", "four"} {
		if _, err := st.AppendMessage(ctx, 1, "user", content, ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	history, err := st.History(ctx, 1, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d messages", len(history))
	}
	if history[0].Content != "three" || history[1].Content != "four" {
		t.Fatalf("got %q then %q", history[0].Content, history[1].Content)
	}
}

func TestDeleteMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetOrCreateUser(ctx, 1, "u", "en"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.AppendMessage(ctx, 1, "user", "hello", ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.DeleteMessages(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	history, err := st.History(ctx, 1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("got %d messages after delete", len(history))
	}
}

func TestQuotaRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetOrCreateUser(ctx, 1, "u", "en"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := st.SetUserQuota(ctx, 1, 5, "2025-06-15"); err != nil {
		t.Fatalf("set quota: %v", err)
	}
	if err := st.IncrementChatCount(ctx, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	count, windowDate, err := st.GetUserQuota(ctx, 1)
	if err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if count != 6 || windowDate != "2025-06-15" {
		t.Fatalf("got count=%d window=%q", count, windowDate)
	}
}

func TestGetUserQuotaUnknownUser(t *testing.T) {
	st := newTestStore(t)
	count, windowDate, err := st.GetUserQuota(context.Background(), 999)
	if err != nil {
		t.Fatalf("get quota: %v", err)
	}
	if count != 0 || windowDate != "" {
		t.Fatalf("got count=%d window=%q", count, windowDate)
	}
}

func TestUserSettings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetOrCreateUser(ctx, 1, "u", "en"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := st.SetActiveModel(ctx, 1, "some-model"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if err := st.SetLanguage(ctx, 1, "id"); err != nil {
		t.Fatalf("set language: %v", err)
	}
	if err := st.SetSystemPrompt(ctx, 1, "be terse"); err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	user, err := st.GetOrCreateUser(ctx, 1, "u", "en")
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if user.ActiveModel != "some-model" || user.LanguageCode != "id" || user.SystemPrompt != "be terse" {
		t.Fatalf("got %+v", user)
	}
}
