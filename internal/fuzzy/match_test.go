package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"crm-project", "crm-projct", 1},
		{"crm-project", "crm-projects", 1},
		{"crm-project", "crmproject", 1},
		{"flaw", "lawn", 2},
		{"žluť", "zlut", 2},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Distance(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestDistanceSymmetricAndReflexive(t *testing.T) {
	words := []string{"", "a", "crm-project", "sales-app", "Sprint 7", "ÄÖü", "release", "relaese"}
	for _, a := range words {
		assert.Equal(t, 0, Distance(a, a))
		for _, b := range words {
			assert.Equal(t, Distance(a, b), Distance(b, a), "%q vs %q", a, b)
		}
	}
}

func TestMatch(t *testing.T) {
	projects := []string{"crm-project", "sales-app"}

	tests := []struct {
		input string
		want  Result
	}{
		{"crm-project", Exact{Name: "crm-project"}},
		{"CRM-Project", Exact{Name: "crm-project"}},
		{"crm-projct", Autocorrect{Name: "crm-project", Distance: 1}},
		{"crm-projects", Autocorrect{Name: "crm-project", Distance: 1}},
		{"crm projet", Suggestion{Name: "crm-project", Distance: 2}},
		{"sales-ap", Autocorrect{Name: "sales-app", Distance: 1}},
		{"xyz", NoMatch{}},
		{"", NoMatch{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.input, projects))
		})
	}
}

func TestMatchSuggestionAtDistanceTwo(t *testing.T) {
	got := Match("crmprojet", []string{"crm-project", "sales-app"})
	assert.Equal(t, Suggestion{Name: "crm-project", Distance: 2}, got)
}

func TestMatchNoCandidates(t *testing.T) {
	assert.Equal(t, NoMatch{}, Match("crm-project", nil))
}

func TestMatchTieKeepsFirst(t *testing.T) {
	got := Match("ab", []string{"ax", "ay"})
	assert.Equal(t, Autocorrect{Name: "ax", Distance: 1}, got)
}
