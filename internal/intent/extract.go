package intent

import (
	"regexp"
	"strings"
)

// Extractor pulls one slot value out of message text.
type Extractor func(text string) (string, bool)

// FirstOf tries extractors in order and returns the first non-empty result.
func FirstOf(extractors ...Extractor) Extractor {
	return func(text string) (string, bool) {
		for _, extract := range extractors {
			if v, ok := extract(text); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

const nameToken = `["']?([\w.-]+(?:\s+project)?)["']?`

var (
	releaseProjectPattern = regexp.MustCompile(`(?i)\brelease\s+date\s+(?:for|of|in)\s+(?:the\s+)?(?:project\s+)?` + nameToken)
	defectScopePattern    = regexp.MustCompile(`(?i)\bdefects?\b|\bbugs?\b`)
	scopedNamePattern     = regexp.MustCompile(`(?i)\b(?:for|in|of)\s+(?:the\s+)?(?:project\s+)?` + nameToken)
	summaryProjectPattern = regexp.MustCompile(`(?i)\b(?:summary|overview|status|summari[sz]e)\s+(?:of|for|on)?\s*(?:the\s+)?(?:project\s+)?` + nameToken)
	looseDefectPattern    = regexp.MustCompile(`(?i)\bdefects?\s+` + nameToken)

	conversationalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:for|in|on|to)\s+(?:the\s+)?project\s+["']?([\w.-]+)["']?`),
		regexp.MustCompile(`(?i)^\s*["']?([\w.-]+)["']?\s+(?:requirement|defect)\b`),
		regexp.MustCompile(`(?i)\b(?:for|in|on|to)\s+(?:the\s+)?["']?([\w.-]+)["']?\s+project\b`),
	}

	titleKeywordPattern = regexp.MustCompile(`(?i)\b(?:titled|called|named|title\s+is)\s+(?:"([^"]+)"|'([^']+)'|(.+?))(?:\s+(?:for|in|on|to|with|and)\b|$)`)
	titleColonPattern   = regexp.MustCompile(`:\s*(.+)$`)
	titleLeadingPattern = regexp.MustCompile(`(?i)^\s*["']([^"']+)["']\s+title\b`)

	sprintPrefixPattern = regexp.MustCompile(`(?i)\b(?:in\s+)?sprint\s+#?([\w.-]+)`)
	sprintSuffixPattern = regexp.MustCompile(`(?i)\b([\w.-]+)\s+sprint\b`)

	trailingProjectWord = regexp.MustCompile(`(?i)\s+project$`)
)

// stopWords are never accepted as a project name or sprint.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "new": true, "create": true, "add": true,
	"for": true, "in": true, "of": true, "on": true, "to": true, "with": true, "and": true,
	"sprint": true, "project": true, "status": true, "all": true, "open": true, "closed": true,
	"done": true, "undone": true, "are": true, "is": true, "there": true, "do": true,
	"does": true, "we": true, "have": true, "i": true, "my": true, "this": true, "that": true,
	"it": true, "me": true, "please": true, "current": true, "next": true, "last": true,
}

func acceptName(raw string) (string, bool) {
	name := trimValue(trailingProjectWord.ReplaceAllString(strings.TrimSpace(raw), ""))
	if name == "" || stopWords[strings.ToLower(name)] {
		return "", false
	}
	return name, true
}

func firstSubmatch(re *regexp.Regexp) Extractor {
	return func(text string) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		return acceptName(m[1])
	}
}

// anySubmatch returns the first accepted capture among all matches of re.
func anySubmatch(re *regexp.Regexp) Extractor {
	return func(text string) (string, bool) {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if name, ok := acceptName(m[1]); ok {
				return name, true
			}
		}
		return "", false
	}
}

// afterDefectWord applies next only to the text following the first defect keyword.
func afterDefectWord(next Extractor) Extractor {
	return func(text string) (string, bool) {
		loc := defectScopePattern.FindStringIndex(text)
		if loc == nil {
			return "", false
		}
		return next(text[loc[1]:])
	}
}

// ExtractProject applies the templates for the given intent, then the loose
// defect fallback for defect intents.
func ExtractProject(text string, in Intent) (string, bool) {
	var chain []Extractor
	switch in {
	case ReleaseDate:
		chain = append(chain, firstSubmatch(releaseProjectPattern))
	case ListDefects, CountDefects:
		chain = append(chain, afterDefectWord(anySubmatch(scopedNamePattern)))
	case ProjectSummary:
		chain = append(chain, firstSubmatch(summaryProjectPattern), anySubmatch(scopedNamePattern))
	default:
		chain = append(chain, firstSubmatch(releaseProjectPattern), anySubmatch(scopedNamePattern))
	}
	if in == ListDefects || in == CountDefects {
		chain = append(chain, firstSubmatch(looseDefectPattern))
	}
	return FirstOf(chain...)(text)
}

// ExtractConversationalProject finds the project in item-creation phrasing
// such as "for project X" or "X requirement ...".
func ExtractConversationalProject(text string) (string, bool) {
	chain := make([]Extractor, len(conversationalPatterns))
	for i, re := range conversationalPatterns {
		chain[i] = firstSubmatch(re)
	}
	return FirstOf(chain...)(text)
}

var titleExtractors = []Extractor{
	func(text string) (string, bool) {
		m := titleKeywordPattern.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		for _, g := range m[1:] {
			if v := trimValue(g); v != "" {
				return v, true
			}
		}
		return "", false
	},
	func(text string) (string, bool) {
		m := titleColonPattern.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		v := trimValue(m[1])
		return v, v != ""
	},
	func(text string) (string, bool) {
		m := titleLeadingPattern.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		v := trimValue(m[1])
		return v, v != ""
	},
}

func ExtractTitle(text string) (string, bool) {
	return FirstOf(titleExtractors...)(text)
}

func ExtractSprint(text string) (string, bool) {
	return FirstOf(firstSubmatch(sprintPrefixPattern), firstSubmatch(sprintSuffixPattern))(text)
}

var itemTypePattern = regexp.MustCompile(`(?i)\b(requirements?|defects?|bugs?)\b`)

// ExtractItemType maps "requirement" or "defect"/"bug" onto the item kind.
func ExtractItemType(text string) (string, bool) {
	m := itemTypePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(m[1]), "requirement") {
		return "requirement", true
	}
	return "defect", true
}

// trimValue strips surrounding whitespace, quotes and trailing punctuation.
func trimValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".,;:!?")
	s = strings.Trim(s, "\"'`“”‘’")
	return strings.TrimSpace(s)
}
