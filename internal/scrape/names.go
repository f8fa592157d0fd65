package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	nonIdent      = regexp.MustCompile(`[^a-z0-9]`)
	spiderNameRef = regexp.MustCompile(`(?m)^\s*name\s*=\s*["']([^"']+)["']`)
)

// SpiderName derives a spider identifier from the second-to-last host label
// of baseURL, e.g. "https://www.books.toscrape.com" gives "toscrape".
func SpiderName(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	labels := strings.Split(host, ".")
	label := labels[0]
	if len(labels) >= 2 {
		label = labels[len(labels)-2]
	}
	name := nonIdent.ReplaceAllString(strings.ToLower(label), "_")
	if name == "" {
		return "", fmt.Errorf("base url %q yields an empty spider name", baseURL)
	}
	return name, nil
}

// SpiderNameFromSource returns the value of the first `name = "..."`
// assignment in a spider source file.
func SpiderNameFromSource(src string) (string, bool) {
	m := spiderNameRef.FindStringSubmatch(src)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Origin returns scheme://host of raw.
func Origin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// ResolveLink resolves href against base. Only http(s) results are valid;
// fragments are dropped.
func ResolveLink(base, href string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	u := b.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}
