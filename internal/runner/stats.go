package runner

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	statsHeader = regexp.MustCompile(`Dumping Scrapy stats:`)
	statsEntry  = regexp.MustCompile(`^\s*\{?\s*'([^']+)':\s*(.*?),?\s*\}?\s*$`)
	errorLine   = regexp.MustCompile(`\[([A-Za-z0-9_.-]+)\]\s+ERROR:\s+(.*)$`)
)

// Stats is the statistics dump Scrapy prints when a crawl closes.
type Stats struct {
	Values map[string]string `json:"values,omitempty"`
	Errors []string          `json:"errors,omitempty"`
}

// Int returns the integer stat key, or 0 when missing or not numeric.
func (s Stats) Int(key string) int {
	n, err := strconv.Atoi(s.Values[key])
	if err != nil {
		return 0
	}
	return n
}

// ItemsScraped is item_scraped_count.
func (s Stats) ItemsScraped() int { return s.Int("item_scraped_count") }

// ErrorCount is log_count/ERROR.
func (s Stats) ErrorCount() int { return s.Int("log_count/ERROR") }

// FinishReason is why the engine stopped (finished, shutdown, closespider_timeout, ...).
func (s Stats) FinishReason() string { return s.Values["finish_reason"] }

// Empty reports whether no dump was found.
func (s Stats) Empty() bool { return len(s.Values) == 0 }

// ParseStats extracts the stats dump and ERROR log lines from a Scrapy log.
// Scrapy writes both to stderr by default; stdout is accepted too.
func ParseStats(output string) Stats {
	stats := Stats{Values: map[string]string{}}
	inDump := false
	for _, line := range strings.Split(output, "\n") {
		if m := errorLine.FindStringSubmatch(line); len(m) == 3 {
			stats.Errors = append(stats.Errors, strings.TrimSpace(m[1]+": "+m[2]))
		}
		if statsHeader.MatchString(line) {
			inDump = true
			continue
		}
		if !inDump {
			continue
		}
		m := statsEntry.FindStringSubmatch(line)
		if len(m) != 3 {
			inDump = false
			continue
		}
		stats.Values[m[1]] = strings.Trim(strings.TrimSpace(m[2]), `'"`)
		if strings.HasSuffix(strings.TrimSpace(line), "}") {
			inDump = false
		}
	}
	stats.Errors = unique(stats.Errors)
	return stats
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
