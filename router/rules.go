package router

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hairizuan-noorazman/testflow/testcase"
)

// Rules maps a backend type to the keywords that suggest it.
type Rules map[testcase.Type][]string

// DefaultRules returns the built-in keyword table.
func DefaultRules() Rules {
	return Rules{
		testcase.TypeUI: {
			"click", "button", "page", "navigate", "browser", "screen",
			"field", "form", "link", "enter", "selector", "login page",
		},
		testcase.TypeAPI: {
			"api", "endpoint", "request", "response", "status code",
			"get", "post", "put", "patch", "delete", "json", "header", "url",
		},
		testcase.TypeMobile: {
			"tap", "swipe", "app", "device", "android", "ios", "mobile", "gesture",
		},
		testcase.TypeDatabase: {
			"query", "table", "row", "rows", "database", "sql", "select",
			"insert", "record", "column", "db",
		},
	}
}

// Match returns the type with the strictly highest number of matching
// keywords, or "" when nothing matched or the top types tie.
func (r Rules) Match(text string) testcase.Type {
	padded := " " + normalizeWords(text) + " "
	best, bestHits, tie := testcase.Type(""), 0, false
	for _, t := range testcase.Types {
		hits := 0
		for _, kw := range r[t] {
			kw = normalizeWords(kw)
			if kw != "" && strings.Contains(padded, " "+kw+" ") {
				hits++
			}
		}
		switch {
		case hits > bestHits:
			best, bestHits, tie = t, hits, false
		case hits == bestHits && hits > 0:
			tie = true
		}
	}
	if bestHits == 0 || tie {
		return ""
	}
	return best
}

// normalizeWords lowercases s and collapses every run of non-alphanumeric
// characters into one space.
func normalizeWords(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// stepText is the text the rule table is matched against: the description
// followed by the structured action's keys and scalar values.
func stepText(step *testcase.Step) string {
	parts := []string{step.Description}
	keys := make([]string, 0, len(step.Action))
	for k := range step.Action {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k)
		switch v := step.Action[k].(type) {
		case string:
			parts = append(parts, v)
		case float64, int, bool:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}
