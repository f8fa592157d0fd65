package llm

import (
	"crypto/sha256"
	"fmt"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE vocabulary used for budgeting.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens in text. Counts only need to be close to the
// backend's own accounting, not exact.
type Tokenizer interface {
	Count(text string) int
}

// BPETokenizer counts tokens with a tiktoken vocabulary and memoizes results.
type BPETokenizer struct {
	enc   *tiktoken.Tiktoken
	cache *lru.Cache[[sha256.Size]byte, int]
}

// NewTokenizer loads the named encoding. cacheSize <= 0 disables memoization.
func NewTokenizer(encoding string, cacheSize int) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	t := &BPETokenizer{enc: enc}
	if cacheSize > 0 {
		cache, err := lru.New[[sha256.Size]byte, int](cacheSize)
		if err != nil {
			return nil, err
		}
		t.cache = cache
	}
	return t, nil
}

func (t *BPETokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.cache == nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	key := sha256.Sum256([]byte(text))
	if n, ok := t.cache.Get(key); ok {
		return n
	}
	n := len(t.enc.Encode(text, nil, nil))
	t.cache.Add(key, n)
	return n
}

// HeuristicTokenizer estimates four characters per token. It is used when no
// vocabulary can be loaded.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
