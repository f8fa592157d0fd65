// Package browser loads pages for analysis and records what the page did on
// the network while loading.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Anko59/AutoHubble/internal/config"
	"github.com/Anko59/AutoHubble/internal/scrape"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Request is a network request observed while a page loaded.
type Request struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Type         string            `json:"type"`
	Headers      map[string]string `json:"headers,omitempty"`
	ResponseType string            `json:"response_type,omitempty"`
}

// Page is a loaded document with its side channels.
type Page struct {
	URL      string
	Title    string
	HTML     string
	Requests []Request
	Tokens   []scrape.Token
}

// Loader fetches and renders pages. Start is called once before a batch of
// loads and Quit once after; loads are sequential.
type Loader interface {
	Start(ctx context.Context) error
	Load(ctx context.Context, url string) (*Page, error)
	Quit() error
}

// Cookie is the subset of a cookie used for token discovery.
type Cookie struct {
	Name    string
	Value   string
	Expires string
}

var tokenKeywords = []string{"token", "auth", "api", "key"}

// IsTokenName reports whether a storage key or cookie name looks like a credential.
func IsTokenName(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range tokenKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractTokens picks credential-looking entries out of localStorage and cookies.
func ExtractTokens(storage [][]string, cookies []Cookie) []scrape.Token {
	var tokens []scrape.Token
	for _, kv := range storage {
		if len(kv) != 2 || !IsTokenName(kv[0]) {
			continue
		}
		tokens = append(tokens, scrape.Token{
			Token:     kv[0],
			Value:     kv[1],
			ExpiresAt: "unknown",
			Selector:  "localStorage",
			TokenType: "localStorage",
		})
	}
	for _, c := range cookies {
		if !IsTokenName(c.Name) {
			continue
		}
		expires := c.Expires
		if expires == "" {
			expires = "unknown"
		}
		tokens = append(tokens, scrape.Token{
			Token:     c.Name,
			Value:     c.Value,
			ExpiresAt: expires,
			Selector:  "cookie",
			TokenType: "cookie",
		})
	}
	return tokens
}

var (
	irrelevantExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".ico", ".css", ".woff", ".woff2", ".ttf", ".eot", ".mp4", ".webm", ".mp3"}
	irrelevantMIMEs      = []string{"image/", "text/css", "font/", "video/", "audio/"}
)

// IsRelevantRequest filters out static assets that never carry data.
func IsRelevantRequest(url, mimeType string) bool {
	if url == "" {
		return false
	}
	lower := strings.ToLower(url)
	if q := strings.IndexAny(lower, "?#"); q >= 0 {
		lower = lower[:q]
	}
	for _, ext := range irrelevantExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	mimeType = strings.ToLower(mimeType)
	for _, m := range irrelevantMIMEs {
		if strings.HasPrefix(mimeType, m) {
			return false
		}
	}
	return true
}

func unixExpiry(sec float64) string {
	if sec <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(sec), 10)
}

// NewLoader builds the loader selected by cfg.Driver.
func NewLoader(cfg config.BrowserConfig, logger *zap.Logger) (Loader, error) {
	switch cfg.Driver {
	case "", "chrome":
		return NewChromeLoader(ChromeOptions{
			Headless:          cfg.Headless,
			UserAgent:         cfg.UserAgent,
			PageLoadWait:      cfg.PageLoadWait,
			NavigationTimeout: cfg.NavigationTimeout,
		}, logger), nil
	case "http":
		return NewHTTPLoader(HTTPOptions{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.NavigationTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
