package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"github.com/titanous/json5"
)

// Schema is a compiled JSON schema describing an expected reply.
type Schema struct {
	Name     string
	raw      []byte
	doc      map[string]any
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(name string, raw []byte) (*Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, raw: raw, doc: doc, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name string, raw []byte) *Schema {
	s, err := CompileSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Document returns the decoded schema. Callers must not modify it.
func (s *Schema) Document() map[string]any {
	return s.doc
}

// String returns the schema source.
func (s *Schema) String() string {
	return string(s.raw)
}

// Validate checks a JSON document against the schema.
func (s *Schema) Validate(data []byte) error {
	result := s.compiled.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors))
	for path, e := range result.Errors {
		details = append(details, fmt.Sprintf("%v: %v", path, e))
	}
	sort.Strings(details)
	return &ValidationError{Schema: s.Name, Details: strings.Join(details, "; ")}
}

// ParsePermissive extracts a JSON value from model output. Code fences,
// surrounding prose, comments, single quotes and trailing commas are
// tolerated. The result is canonical JSON.
func ParsePermissive(text string) ([]byte, error) {
	body := extractJSON(stripFences(text))
	if body == "" {
		return nil, &DecodeError{Err: errors.New("no JSON value found")}
	}
	var v any
	if err := json5.Unmarshal([]byte(body), &v); err != nil {
		return nil, &DecodeError{Err: err}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return out, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}

// extractJSON returns the span between the first opening brace or bracket
// and the last matching closer.
func extractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return ""
	}
	return text[start : end+1]
}

// Serialize renders request content for a model. Strings pass through;
// anything else becomes canonical JSON with sorted keys and no HTML
// escaping.
func Serialize(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		return "", fmt.Errorf("serialize content: %w", err)
	}
	out, err := jcs.Transform(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		return "", fmt.Errorf("canonicalize content: %w", err)
	}
	return string(out), nil
}
