package browser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// textCandidates limits text matching to elements a user would interact
// with; matching "*" would select the document root first.
const textCandidates = "button, a, [role=button], input[type=submit], label, span, h1, h2, h3, p, li, td"

// textPattern builds the JavaScript regex rod's ElementR expects for an
// exact, case-insensitive text match.
func textPattern(text string) string {
	escaped := strings.ReplaceAll(regexp.QuoteMeta(strings.TrimSpace(text)), "/", `\/`)
	return "/^\\s*" + escaped + "\\s*$/i"
}

// accessibilitySelector matches the common accessibility hooks for an id.
func accessibilitySelector(id string) string {
	return fmt.Sprintf("[aria-label=%q], [data-testid=%q]", id, id)
}

// parseCoordinates reads an "x,y" value.
func parseCoordinates(v string) (float64, float64, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid coordinates %q", v)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid x coordinate %q: %w", parts[0], err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid y coordinate %q: %w", parts[1], err)
	}
	return x, y, nil
}
