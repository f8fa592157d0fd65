// Package simplify shrinks rendered HTML down to the parts that matter for
// writing extraction code, and pulls out JSON embedded in scripts.
package simplify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("github.com/Anko59/AutoHubble/internal/simplify")

// MaxJSONChars caps each extracted JSON blob.
const MaxJSONChars = 10000

const truncationMarker = "...TRUNCATED..."

// maxScriptCandidates bounds how many object literals are tried per script.
const maxScriptCandidates = 32

var defaultTags = []string{
	"html", "head", "body", "title",
	"a", "abbr", "address", "article", "aside", "b", "blockquote", "button",
	"caption", "cite", "code", "data", "datalist", "dd", "details", "div",
	"dl", "dt", "em", "figcaption", "figure", "footer", "form",
	"h1", "h2", "h3", "h4", "h5", "h6", "header", "img", "input", "label",
	"li", "main", "nav", "ol", "option", "p", "pre", "section", "select",
	"span", "strong", "summary", "table", "tbody", "td", "tfoot", "th",
	"thead", "time", "tr", "ul",
}

var defaultAttrs = []string{
	"accept", "action", "alt", "aria-label", "class", "content", "href", "id",
	"name", "placeholder", "property", "role", "src", "title", "type", "value",
}

// EmbeddedJSON is a JSON document found in a script element.
type EmbeddedJSON struct {
	ScriptIndex int    `json:"script_index"`
	Data        string `json:"data"`
}

// Result is the simplified page.
type Result struct {
	Markup string
	JSON   []EmbeddedJSON
}

// Simplifier removes noise from HTML. The zero value is not usable; call New.
type Simplifier struct {
	tags   map[string]bool
	attrs  map[string]bool
	logger *zap.Logger
}

// Option customizes a Simplifier.
type Option func(*Simplifier)

// WithTags replaces the set of retained elements.
func WithTags(tags ...string) Option {
	return func(s *Simplifier) { s.tags = toSet(tags) }
}

// WithAttributes replaces the attribute whitelist. data-* attributes are
// always retained.
func WithAttributes(attrs ...string) Option {
	return func(s *Simplifier) { s.attrs = toSet(attrs) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simplifier) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Simplifier with the default tag and attribute sets.
func New(opts ...Option) *Simplifier {
	s := &Simplifier{
		tags:   toSet(defaultTags),
		attrs:  toSet(defaultAttrs),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Simplify extracts script JSON, then drops irrelevant elements, attributes
// and comments, and finally collapses empty elements.
func (s *Simplifier) Simplify(ctx context.Context, raw string) (Result, error) {
	_, span := tracer.Start(ctx, "simplify.html")
	defer span.End()
	span.SetAttributes(attribute.Int("html.input_bytes", len(raw)))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("parse html: %w", err)
	}

	var blobs []EmbeddedJSON
	doc.Find("script").Each(func(i int, sel *goquery.Selection) {
		typ, _ := sel.Attr("type")
		if data, ok := scriptJSON(typ, sel.Text()); ok {
			blobs = append(blobs, EmbeddedJSON{ScriptIndex: i, Data: data})
		}
		sel.Remove()
	})

	for _, root := range doc.Nodes {
		s.prune(root)
		s.collapse(root)
	}

	var buf bytes.Buffer
	for _, root := range doc.Nodes {
		if err := html.Render(&buf, root); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, fmt.Errorf("render html: %w", err)
		}
	}

	span.SetAttributes(
		attribute.Int("html.output_bytes", buf.Len()),
		attribute.Int("html.json_blobs", len(blobs)),
	)
	s.logger.Debug("html simplified",
		zap.Int("input_bytes", len(raw)),
		zap.Int("output_bytes", buf.Len()),
		zap.Int("json_blobs", len(blobs)),
	)
	return Result{Markup: buf.String(), JSON: blobs}, nil
}

// prune removes comments, doctypes, irrelevant elements and attributes.
func (s *Simplifier) prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode, html.DoctypeNode:
			n.RemoveChild(c)
		case html.ElementNode:
			if !s.tags[c.Data] {
				n.RemoveChild(c)
			} else {
				c.Attr = s.filterAttrs(c.Attr)
				s.prune(c)
			}
		}
		c = next
	}
}

func (s *Simplifier) filterAttrs(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		if s.attrs[a.Key] || strings.HasPrefix(a.Key, "data-") {
			kept = append(kept, a)
		}
	}
	return kept
}

// collapse removes, bottom-up, elements without attributes, children or
// visible text, along with whitespace-only text. The document skeleton is
// kept.
func (s *Simplifier) collapse(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			s.collapse(c)
			if isEmpty(c) {
				n.RemoveChild(c)
			}
		} else if c.Type == html.TextNode && n.Data != "pre" && strings.TrimSpace(c.Data) == "" {
			n.RemoveChild(c)
		}
		c = next
	}
}

func isEmpty(n *html.Node) bool {
	switch n.Data {
	case "html", "head", "body":
		return false
	}
	if len(n.Attr) > 0 {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return false
		}
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return false
		}
	}
	return true
}

// scriptJSON returns the first JSON value found in a script body, compacted
// and truncated.
func scriptJSON(typ, body string) (string, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}
	typ = strings.ToLower(typ)
	if strings.Contains(typ, "json") {
		if v, ok := decode(body); ok {
			return v, true
		}
	}
	for i, tries := 0, 0; i < len(body) && tries < maxScriptCandidates; i++ {
		if body[i] != '{' && body[i] != '[' {
			continue
		}
		end := matchBracket(body, i)
		if end < 0 {
			continue
		}
		tries++
		if v, ok := decode(body[i : end+1]); ok {
			return v, true
		}
	}
	return "", false
}

func decode(src string) (string, bool) {
	var v interface{}
	if err := json5.Unmarshal([]byte(src), &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return "", false
		}
	case []interface{}:
		if len(t) == 0 {
			return "", false
		}
	default:
		return "", false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return Truncate(strings.TrimSpace(buf.String()), MaxJSONChars), true
}

// matchBracket returns the index of the bracket closing the one at start,
// skipping string literals, or -1.
func matchBracket(src string, start int) int {
	depth := 0
	var quote byte
	for i := start; i < len(src); i++ {
		ch := src[i]
		if quote != 0 {
			switch ch {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			quote = ch
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Truncate keeps the first and last max/2 runes of s joined by a marker.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	half := max / 2
	return string(r[:half]) + truncationMarker + string(r[len(r)-half:])
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[strings.ToLower(it)] = true
	}
	return out
}
