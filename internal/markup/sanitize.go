// Package markup converts loosely formatted model output into the HTML
// subset the transport renders natively. Sanitize is pure and never fails:
// anything it cannot parse degrades to fully escaped plain text.
package markup

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// allowedTags is the fixed set of elements the transport accepts. Anything
// else is unwrapped, keeping its children.
var allowedTags = map[string]bool{
	"b": true, "strong": true,
	"i": true, "em": true,
	"u": true, "ins": true,
	"s": true, "strike": true, "del": true,
	"span": true, "tg-spoiler": true,
	"a":       true,
	"tg-emoji": true,
	"code": true, "pre": true,
	"blockquote": true,
}

// EscapeText escapes the three characters the transport treats as markup.
func EscapeText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

// Emphasis spans require a non-space character immediately inside the
// delimiters so a stray "**" never matches. The lazy-optional inner group
// keeps matches as short as the original lookaround patterns produced.
var (
	boldPattern          = regexp.MustCompile(`\*\*(\S(?:.*?\S)??)\*\*`)
	italicStarPattern    = regexp.MustCompile(`\*(\S(?:.*?\S)??)\*`)
	italicUnderPattern   = regexp.MustCompile(`_(\S(?:.*?\S)??)_`)
	strikethroughPattern = regexp.MustCompile(`~~(\S(?:.*?\S)??)~~`)
	codeFencePattern     = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)\\n```")
)

func convertEmphasis(text string) string {
	text = boldPattern.ReplaceAllString(text, "<b>$1</b>")
	text = italicStarPattern.ReplaceAllString(text, "<i>$1</i>")
	text = italicUnderPattern.ReplaceAllString(text, "<i>$1</i>")
	text = strikethroughPattern.ReplaceAllString(text, "<s>$1</s>")
	return text
}

// convertCodeFences rewrites triple-backtick blocks into pre/code elements.
// The literal contents are escaped first so markup-special characters
// inside a fence cannot be reinterpreted downstream.
func convertCodeFences(text string) string {
	return codeFencePattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := codeFencePattern.FindStringSubmatch(match)
		lang := sub[1]
		code := EscapeText(strings.TrimSpace(sub[2]))
		if lang != "" {
			return `<pre><code class="language-` + lang + `">` + code + `</code></pre>`
		}
		return "<pre>" + code + "</pre>"
	})
}

// Sanitize normalizes lightweight markdown into HTML and filters the result
// against the transport allow-list. The output contains only allow-listed,
// validity-satisfying elements and is stable under re-sanitization, with
// one caveat: a leftover emphasis delimiter from a partial match, as in
// "__x__", can pair up again on a later pass, so callers sanitize exactly
// once.
func Sanitize(rawText string) string {
	if rawText == "" {
		return ""
	}
	normalized := convertEmphasis(rawText)
	normalized = convertCodeFences(normalized)
	return filterTree(normalized)
}

func filterTree(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return EscapeText(content)
	}
	body := findElement(doc, "body")
	if body == nil {
		return EscapeText(content)
	}
	filterChildren(body)

	var buf bytes.Buffer
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return EscapeText(content)
		}
	}
	return buf.String()
}

func findElement(node *html.Node, name string) *html.Node {
	if node.Type == html.ElementNode && node.Data == name {
		return node
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}

// filterChildren walks depth-first so a child's subtree is already clean
// before the child itself is unwrapped and its children hoisted.
func filterChildren(parent *html.Node) {
	child := parent.FirstChild
	for child != nil {
		next := child.NextSibling
		if child.Type == html.ElementNode {
			filterChildren(child)
			switch {
			case shouldUnwrap(child):
				unwrap(parent, child)
			case child.Data == "pre":
				ensureCodeChild(child)
			}
		}
		child = next
	}
}

func shouldUnwrap(node *html.Node) bool {
	if !allowedTags[node.Data] {
		return true
	}
	if node.Data == "span" && !hasClass(node, "tg-spoiler") {
		return true
	}
	if node.Data == "a" && attrValue(node, "href") == "" {
		return true
	}
	return false
}

func unwrap(parent, node *html.Node) {
	for node.FirstChild != nil {
		grandchild := node.FirstChild
		node.RemoveChild(grandchild)
		parent.InsertBefore(grandchild, node)
	}
	parent.RemoveChild(node)
}

// ensureCodeChild wraps the contents of a bare pre element in a code
// element so downstream renderers see a consistent shape.
func ensureCodeChild(pre *html.Node) {
	for child := pre.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "code" {
			return
		}
	}
	code := &html.Node{Type: html.ElementNode, Data: "code"}
	for pre.FirstChild != nil {
		child := pre.FirstChild
		pre.RemoveChild(child)
		code.AppendChild(child)
	}
	pre.AppendChild(code)
}

func hasClass(node *html.Node, name string) bool {
	for _, class := range strings.Fields(attrValue(node, "class")) {
		if class == name {
			return true
		}
	}
	return false
}

func attrValue(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
