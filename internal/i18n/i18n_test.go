package i18n

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeLocale(t *testing.T, dir, lang, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, lang+".json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write locale: %v", err)
	}
}

func newTestTranslator(t *testing.T) (*Translator, string) {
	t.Helper()
	dir := t.TempDir()
	writeLocale(t, dir, "en", `{"greeting": "hello", "only_en": "english only"}`)
	writeLocale(t, dir, "id", `{"greeting": "halo"}`)
	translator, err := NewTranslator(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new translator: %v", err)
	}
	return translator, dir
}

func TestTextResolvesLanguage(t *testing.T) {
	translator, _ := newTestTranslator(t)
	if got := translator.Text("greeting", "id"); got != "halo" {
		t.Fatalf("got %q", got)
	}
	if got := translator.Text("greeting", "en"); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestTextFallsBackToEnglish(t *testing.T) {
	translator, _ := newTestTranslator(t)
	if got := translator.Text("only_en", "id"); got != "english only" {
		t.Fatalf("got %q", got)
	}
	if got := translator.Text("greeting", "fr"); got != "hello" {
		t.Fatalf("unknown language should fall back, got %q", got)
	}
}

func TestTextMissingKeyIsVisible(t *testing.T) {
	translator, _ := newTestTranslator(t)
	if got := translator.Text("does_not_exist", "en"); got != "<does_not_exist>" {
		t.Fatalf("got %q", got)
	}
}

func TestNewTranslatorRequiresEnglish(t *testing.T) {
	dir := t.TempDir()
	writeLocale(t, dir, "id", `{"greeting": "halo"}`)
	if _, err := NewTranslator(dir, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error without en.json")
	}
}

func TestNewTranslatorRejectsBrokenLocale(t *testing.T) {
	dir := t.TempDir()
	writeLocale(t, dir, "en", `{"greeting": "hello"`)
	if _, err := NewTranslator(dir, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestLanguages(t *testing.T) {
	translator, _ := newTestTranslator(t)
	langs := translator.Languages()
	if len(langs) != 2 {
		t.Fatalf("got %v", langs)
	}
}

func TestShippedLocalesShareKeys(t *testing.T) {
	translator, err := NewTranslator(filepath.Join("..", "..", "locales"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("load shipped locales: %v", err)
	}
	translator.mu.RLock()
	defer translator.mu.RUnlock()
	english := translator.locales["en"]
	for lang, messages := range translator.locales {
		for key := range english {
			if _, ok := messages[key]; !ok {
				t.Errorf("locale %s missing key %s", lang, key)
			}
		}
		for key := range messages {
			if _, ok := english[key]; !ok {
				t.Errorf("locale %s has extra key %s", lang, key)
			}
		}
	}
}
