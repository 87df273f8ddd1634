package bedrock

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrSuspiciousContent is returned when step text looks like a prompt injection.
var ErrSuspiciousContent = errors.New("content contains suspicious patterns")

var (
	suspiciousPatterns = []string{
		"ignore previous instructions",
		"ignore all previous",
		"disregard previous",
		"forget all previous",
		"new instructions:",
		"system:",
		"<step>",
		"</step>",
		"<context>",
		"</context>",
	}

	inlineSpace = regexp.MustCompile(`[ \t]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// sanitize strips control and non-printable characters, collapses
// whitespace and truncates to max runes.
func sanitize(s string, max int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if !unicode.IsPrint(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}

	out := blankLines.ReplaceAllString(b.String(), "\n\n")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	out = strings.Join(lines, "\n")

	if runes := []rune(out); max > 0 && len(runes) > max {
		out = string(runes[:max])
	}
	return strings.TrimSpace(out)
}

// checkSuspicious rejects text carrying injection phrases or an unusual
// share of control characters.
func checkSuspicious(s string) error {
	lower := strings.ToLower(s)
	for _, p := range suspiciousPatterns {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: %q", ErrSuspiciousContent, p)
		}
	}

	control := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			control++
		}
	}
	threshold := len(s) / 20
	if threshold < 5 {
		threshold = 5
	}
	if control > threshold {
		return fmt.Errorf("%w: excessive control characters", ErrSuspiciousContent)
	}
	return nil
}
