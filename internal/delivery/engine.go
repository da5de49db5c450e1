// Package delivery paginates sanitized markup into transport-sized,
// independently well-formed chunks and dispatches them in order.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dwizi/courier/internal/markup"
	"golang.org/x/time/rate"
)

// ErrMarkupRejected is returned by a Sender when the transport refuses the
// formatted text. The engine recovers by resending the chunk escaped, with
// no markup interpretation.
var ErrMarkupRejected = errors.New("transport rejected markup")

// DefaultChunkLimit matches the Telegram message length ceiling.
const DefaultChunkLimit = 4096

type Chunk struct {
	Text  string
	Index int
	Final bool
}

// Sender delivers one chunk. Only the final chunk should carry whatever
// interactive affordance is attached to the whole answer.
type Sender interface {
	Send(ctx context.Context, chunk Chunk, asMarkup bool) error
}

type Engine struct {
	limit  int
	pacer  *rate.Limiter
	logger *slog.Logger
}

func New(limit int, pace time.Duration, logger *slog.Logger) *Engine {
	if limit < 1 {
		limit = DefaultChunkLimit
	}
	if pace <= 0 {
		pace = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		limit:  limit,
		pacer:  rate.NewLimiter(rate.Every(pace), 1),
		logger: logger,
	}
}

// Deliver sends markupText through sender in sequence order, pacing the
// sends to respect transport throughput limits.
func (e *Engine) Deliver(ctx context.Context, markupText string, sender Sender) error {
	chunks := Paginate(markupText, e.limit)
	for index, text := range chunks {
		if err := e.pacer.Wait(ctx); err != nil {
			return err
		}
		chunk := Chunk{
			Text:  text,
			Index: index,
			Final: index == len(chunks)-1,
		}
		if err := e.sendChunk(ctx, sender, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk tries the formatted send first and falls back to escaped plain
// text for this chunk only. A failed fallback ends the turn.
func (e *Engine) sendChunk(ctx context.Context, sender Sender, chunk Chunk) error {
	err := sender.Send(ctx, chunk, true)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMarkupRejected) {
		e.logger.Warn("markup rejected by transport, resending plain", "chunk", chunk.Index)
	} else {
		e.logger.Error("chunk send failed, retrying plain", "chunk", chunk.Index, "error", err)
	}
	fallback := chunk
	fallback.Text = markup.EscapeText(chunk.Text)
	if err := sender.Send(ctx, fallback, false); err != nil {
		e.logger.Error("plain-text fallback failed", "chunk", chunk.Index, "error", err)
		return err
	}
	return nil
}

var tagTokenPattern = regexp.MustCompile(`<(/)?([a-zA-Z0-9_-]+)[^>]*>`)

// Paginate splits text into pieces not exceeding limit, preferring the last
// newline inside each window. Tags left open at a split point are closed
// synthetically and reopened at the head of the remainder, so every piece
// parses independently with balanced tags.
func Paginate(text string, limit int) []string {
	if limit < 1 || len(text) <= limit {
		return []string{text}
	}

	var parts []string
	for len(text) > 0 {
		if len(text) <= limit {
			parts = append(parts, text)
			break
		}
		window := TruncateAtRuneBoundary(text, limit)
		splitPos := len(window)
		if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
			splitPos = idx
		}
		part := text[:splitPos]

		openTags := scanOpenTags(part)
		var piece strings.Builder
		piece.WriteString(part)
		for i := len(openTags) - 1; i >= 0; i-- {
			piece.WriteString("</" + openTags[i] + ">")
		}
		parts = append(parts, piece.String())

		var reopen strings.Builder
		for _, tag := range openTags {
			reopen.WriteString("<" + tag + ">")
		}
		text = reopen.String() + strings.TrimLeft(text[splitPos:], " \t\r\n")
	}
	return parts
}

// scanOpenTags returns the stack of tags still open at the end of part.
// Self-closing tokens are ignored; a closing token pops only a matching
// top of stack.
func scanOpenTags(part string) []string {
	var open []string
	for _, match := range tagTokenPattern.FindAllStringSubmatch(part, -1) {
		name := strings.ToLower(match[2])
		if match[1] != "" {
			if len(open) > 0 && open[len(open)-1] == name {
				open = open[:len(open)-1]
			}
			continue
		}
		if strings.HasSuffix(match[0], "/>") {
			continue
		}
		open = append(open, name)
	}
	return open
}

// TruncateAtRuneBoundary returns the longest prefix of text not exceeding
// limit bytes that does not split a UTF-8 sequence.
func TruncateAtRuneBoundary(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
