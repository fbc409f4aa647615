package parser

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeProductURL rewrites the German locale prefix to English and drops the
// fragment so one product reached from several listings dedupes to a single key.
func NormalizeProductURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	if strings.HasPrefix(u.Path, "/de/") {
		u.Path = "/en/" + strings.TrimPrefix(u.Path, "/de/")
	} else if u.Path == "/de" {
		u.Path = "/en"
	}
	return u.String()
}

// WithQuery returns raw with key set to value, keeping the other query parameters.
func WithQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WithPage sets the listing page parameter.
func WithPage(raw string, page int) (string, error) {
	return WithQuery(raw, "p", strconv.Itoa(page))
}
