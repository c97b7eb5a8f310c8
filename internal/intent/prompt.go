package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const classifierInstruction = `Classify the user's message for a project-tracking assistant.

Intents:
- list_defects: list defects of a project, optionally filtered by status
- count_defects: count defects of a project, optionally filtered by status
- create_item: create a requirement or a defect
- release_date: when a release of a project is, or which release is current
- project_summary: summary or overview of a project
- weather: weather in a city
- nameday: whose name day it is today
- joke: tell a joke
- general_info: any other question about projects, requirements, defects, notes or retrospectives
- unknown: anything else

Parameters (omit the ones you cannot find):
%s

Status values: undone, done, closed, all, in_progress.
Item types: requirement, defect.

Respond with a single JSON object and nothing else:
{"intent": "<intent>", "parameters": {"<name>": "<value>"}}
`

// BuildPrompt renders the classifier prompt for a message.
func BuildPrompt(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, classifierInstruction, "- "+strings.Join(Slots, "\n- "))
	if ctx := strings.TrimSpace(msg.ProjectContext); ctx != "" {
		fmt.Fprintf(&b, "\nThe user is currently looking at project %q; use it only if the message names no project.\n", ctx)
	}
	fmt.Fprintf(&b, "\nMessage: %s\n", msg.Text)
	return b.String()
}

// ParsedIntent is the validated classifier response.
type ParsedIntent struct {
	Intent Intent
	Params Parameters
}

type rawIntent struct {
	Intent     *string                    `json:"intent"`
	Parameters map[string]json.RawMessage `json:"parameters"`
}

var errNoIntent = errors.New("response has no intent")

// ParseResponse decodes classifier output, tolerating code fences around the JSON.
// Intent names outside the taxonomy become Unknown.
func ParseResponse(text string) (*ParsedIntent, error) {
	body := stripCodeFence(text)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var raw rawIntent
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	if raw.Intent == nil || strings.TrimSpace(*raw.Intent) == "" {
		return nil, errNoIntent
	}

	parsed := &ParsedIntent{
		Intent: Intent(strings.ToLower(strings.TrimSpace(*raw.Intent))),
		Params: Parameters{},
	}
	if !parsed.Intent.Valid() {
		parsed.Intent = Unknown
	}

	for key, value := range raw.Parameters {
		s, err := scalarString(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		if s = trimValue(s); s != "" {
			parsed.Params[key] = s
		}
	}
	return parsed, nil
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// scalarString accepts strings, numbers, booleans and null.
func scalarString(value json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
