// Package fuzzy resolves user-typed entity names against a canonical list.
package fuzzy

import "strings"

const (
	// AutocorrectDistance is the largest edit distance accepted without confirmation.
	AutocorrectDistance = 1
	// SuggestionDistance is the largest edit distance offered back as a suggestion.
	SuggestionDistance = 2
)

// Result is one of Exact, Autocorrect, Suggestion or NoMatch.
type Result interface {
	isResult()
}

type Exact struct{ Name string }

type Autocorrect struct {
	Name     string
	Distance int
}

type Suggestion struct {
	Name     string
	Distance int
}

type NoMatch struct{}

func (Exact) isResult()       {}
func (Autocorrect) isResult() {}
func (Suggestion) isResult()  {}
func (NoMatch) isResult()     {}

// Match compares input with every candidate. Ties keep the earliest candidate.
func Match(input string, candidates []string) Result {
	input = strings.TrimSpace(input)
	if input == "" || len(candidates) == 0 {
		return NoMatch{}
	}

	for _, c := range candidates {
		if strings.EqualFold(c, input) {
			return Exact{Name: c}
		}
	}

	lowered := strings.ToLower(input)
	best, bestDistance := "", -1
	for _, c := range candidates {
		d := Distance(lowered, strings.ToLower(c))
		if bestDistance < 0 || d < bestDistance {
			best, bestDistance = c, d
		}
	}

	switch {
	case bestDistance <= AutocorrectDistance:
		return Autocorrect{Name: best, Distance: bestDistance}
	case bestDistance <= SuggestionDistance:
		return Suggestion{Name: best, Distance: bestDistance}
	default:
		return NoMatch{}
	}
}

// Distance is the Levenshtein distance between a and b, counted in runes.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
