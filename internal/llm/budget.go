package llm

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultBudgetRatio is the share of a context window a request may fill.
	DefaultBudgetRatio = 0.8

	anchorShare  = 10
	maxFitRounds = 8
)

var chunkBoundary = regexp.MustCompile(`\n{2,}|\. `)

// TruncationPlan records how a payload was fitted into a model window.
type TruncationPlan struct {
	Available     int
	SystemTokens  int
	ContentTokens int
	FinalTokens   int
	Truncated     bool
	KeepChars     int
	HeadChars     int
	TailChars     int
	ChunksTotal   int
	ChunksKept    int
	Rounds        int
}

// Budgeter fits request content into the token budget of a model. The
// head and tail of the content are always kept verbatim; the middle is
// sampled chunk by chunk.
type Budgeter struct {
	tokenizer Tokenizer
	ratio     float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBudgeter builds a budgeter. A nil rng is seeded from the clock.
func NewBudgeter(tok Tokenizer, ratio float64, rng *rand.Rand) *Budgeter {
	if tok == nil {
		tok = HeuristicTokenizer{}
	}
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultBudgetRatio
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Budgeter{tokenizer: tok, ratio: ratio, rng: rng}
}

// Available is the token budget for one request to spec.
func (b *Budgeter) Available(spec ModelSpec) int {
	return int(float64(spec.ContextLength) * b.ratio)
}

// Tokenizer returns the counter used for budgeting.
func (b *Budgeter) Tokenizer() Tokenizer {
	return b.tokenizer
}

// Fit returns content unchanged when system+content fit the budget of spec,
// and a truncated version otherwise. ErrPromptTooLarge is returned when the
// system prompt alone does not fit.
func (b *Budgeter) Fit(system, content string, spec ModelSpec) (string, TruncationPlan, error) {
	plan := TruncationPlan{
		Available:     b.Available(spec),
		SystemTokens:  b.tokenizer.Count(system),
		ContentTokens: b.tokenizer.Count(content),
	}
	if plan.SystemTokens+plan.ContentTokens <= plan.Available {
		plan.FinalTokens = plan.SystemTokens + plan.ContentTokens
		return content, plan, nil
	}

	contentBudget := plan.Available - plan.SystemTokens
	if contentBudget <= 0 {
		return "", plan, fmt.Errorf("%w: %s needs %d tokens, %d available", ErrPromptTooLarge, spec.ID, plan.SystemTokens, plan.Available)
	}

	plan.Truncated = true
	runes := []rune(content)
	keep := int(float64(contentBudget) / float64(plan.ContentTokens) * float64(len(runes)))

	for plan.Rounds < maxFitRounds && keep > 0 {
		plan.Rounds++
		out, head, total, kept := b.sample(runes, keep)
		plan.ChunksTotal, plan.ChunksKept = total, kept
		tokens := b.tokenizer.Count(out)
		if tokens <= contentBudget {
			plan.setResult(keep, head, plan.SystemTokens+tokens)
			return out, plan, nil
		}
		next := int(float64(keep) * float64(contentBudget) / float64(tokens))
		if next >= keep {
			next = keep - 1
		}
		keep = next
	}

	// Sampling did not converge; keep only the anchors and shrink them.
	for keep > 0 {
		head := keep / anchorShare
		plan.ChunksKept = 0
		out := string(runes[:head]) + string(runes[len(runes)-head:])
		tokens := b.tokenizer.Count(out)
		if tokens <= contentBudget {
			plan.setResult(keep, head, plan.SystemTokens+tokens)
			return out, plan, nil
		}
		keep /= 2
	}
	plan.setResult(0, 0, plan.SystemTokens)
	return "", plan, nil
}

func (p *TruncationPlan) setResult(keep, anchor, final int) {
	p.KeepChars = keep
	p.HeadChars = anchor
	p.TailChars = anchor
	p.FinalTokens = final
}

// sample keeps keep/10 runes at each end and fills the remaining share of
// keep with randomly drawn middle chunks, emitted in draw order.
func (b *Budgeter) sample(runes []rune, keep int) (out string, anchor, total, kept int) {
	anchor = keep / anchorShare
	if 2*anchor > len(runes) {
		anchor = len(runes) / 2
	}
	middle := string(runes[anchor : len(runes)-anchor])
	chunks := splitChunks(middle)

	b.mu.Lock()
	order := b.rng.Perm(len(chunks))
	b.mu.Unlock()

	budget := keep - 2*anchor
	var sb strings.Builder
	sb.WriteString(string(runes[:anchor]))
	used := 0
	for _, i := range order {
		if used >= budget {
			break
		}
		n := utf8.RuneCountInString(chunks[i])
		if used+n > budget {
			continue
		}
		sb.WriteString(chunks[i])
		used += n
		kept++
	}
	sb.WriteString(string(runes[len(runes)-anchor:]))
	return sb.String(), anchor, len(chunks), kept
}

// splitChunks cuts s after each paragraph break or sentence end. Separators
// stay attached to the chunk they close.
func splitChunks(s string) []string {
	var chunks []string
	prev := 0
	for _, loc := range chunkBoundary.FindAllStringIndex(s, -1) {
		chunks = append(chunks, s[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(s) {
		chunks = append(chunks, s[prev:])
	}
	return chunks
}
