package versioning

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultSimilarityMaxRunes bounds character-level comparison; longer
// texts are compared line by line.
const DefaultSimilarityMaxRunes = 20000

// Similarity returns 1 - distance/max(len) for two texts given as lines.
// Two empty texts are identical. When either side exceeds maxRunes each
// line is treated as a single symbol.
func Similarity(a, b []string, maxRunes int) float64 {
	textA := strings.Join(a, "\n")
	textB := strings.Join(b, "\n")
	lenA := utf8.RuneCountInString(textA)
	lenB := utf8.RuneCountInString(textB)

	if lenA == 0 && lenB == 0 {
		return 1
	}
	if maxRunes <= 0 || (lenA <= maxRunes && lenB <= maxRunes) {
		return ratio(levenshtein.ComputeDistance(textA, textB), lenA, lenB)
	}

	symA, symB := lineSymbols(a, b)
	return ratio(levenshtein.ComputeDistance(symA, symB), len(a), len(b))
}

func ratio(distance, lenA, lenB int) float64 {
	longest := lenA
	if lenB > longest {
		longest = lenB
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(distance)/float64(longest)
}

// lineSymbols maps each distinct line to one rune so the edit distance
// counts whole-line insertions, deletions and substitutions.
func lineSymbols(a, b []string) (string, string) {
	symbols := make(map[string]rune)
	next := rune(0xF0000) // supplementary private use area
	encode := func(lines []string) string {
		var sb strings.Builder
		for _, l := range lines {
			r, ok := symbols[l]
			if !ok {
				r = next
				symbols[l] = r
				next++
			}
			sb.WriteRune(r)
		}
		return sb.String()
	}
	return encode(a), encode(b)
}
