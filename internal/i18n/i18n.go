// Package i18n loads response templates from per-language JSON files and
// reloads them when the files change on disk.
package i18n

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const fallbackLang = "en"

// Translator resolves message keys for a language, falling back to English
// and then to the bracketed key itself when a translation is missing.
type Translator struct {
	mu      sync.RWMutex
	dir     string
	locales map[string]map[string]string
	logger  *slog.Logger
}

func NewTranslator(dir string, logger *slog.Logger) (*Translator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	translator := &Translator{
		dir:     dir,
		locales: make(map[string]map[string]string),
		logger:  logger,
	}
	if err := translator.loadAll(); err != nil {
		return nil, err
	}
	return translator, nil
}

func (t *Translator) loadAll() error {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	loaded := make(map[string]map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		lang := strings.TrimSuffix(entry.Name(), ".json")
		messages, err := loadLocaleFile(filepath.Join(t.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("locale %s: %w", lang, err)
		}
		loaded[lang] = messages
	}
	if _, ok := loaded[fallbackLang]; !ok {
		return fmt.Errorf("locale %s.json is required in %s", fallbackLang, t.dir)
	}
	t.mu.Lock()
	t.locales = loaded
	t.mu.Unlock()
	return nil
}

func loadLocaleFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return messages, nil
}

// Text returns the template for key in langCode. Unknown languages and
// missing keys fall back to English; a key absent there too comes back as
// "<key>" so the gap is visible instead of silent.
func (t *Translator) Text(key, langCode string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if messages, ok := t.locales[langCode]; ok {
		if text, ok := messages[key]; ok {
			return text
		}
	}
	if messages, ok := t.locales[fallbackLang]; ok {
		if text, ok := messages[key]; ok {
			return text
		}
	}
	return "<" + key + ">"
}

// Languages lists the loaded locale codes.
func (t *Translator) Languages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	langs := make([]string, 0, len(t.locales))
	for lang := range t.locales {
		langs = append(langs, lang)
	}
	return langs
}

// Watch reloads all locales whenever a JSON file in the directory changes.
// It blocks until ctx is cancelled.
func (t *Translator) Watch(ctx context.Context) error {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fileWatcher.Close()

	if err := fileWatcher.Add(t.dir); err != nil {
		return fmt.Errorf("watch locales dir: %w", err)
	}
	t.logger.Info("locale watcher started", "dir", t.dir)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("locale watcher stopped")
			return nil
		case event := <-fileWatcher.Events:
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			t.logger.Info("locale changed, reloading", "path", event.Name, "op", event.Op.String())
			if err := t.loadAll(); err != nil {
				t.logger.Error("locale reload failed, keeping previous set", "error", err)
			}
		case err := <-fileWatcher.Errors:
			if err != nil {
				t.logger.Error("locale watcher error", "error", err)
			}
		}
	}
}
