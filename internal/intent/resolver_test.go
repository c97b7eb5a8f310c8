package intent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackbot/backend/internal/llm"
)

type fakeClassifier struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeClassifier) Classify(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func fixedClock() time.Time {
	return time.Date(2026, time.October, 15, 9, 30, 0, 0, time.UTC)
}

func TestResolveDeterministic(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		intent    Intent
		replyPart string
	}{
		{"greeting", "Hello!", "", "Hello!"},
		{"how are you", "hey, how are you?", "", "doing well"},
		{"today", "What's the date today?", "", "Thursday, October 15, 2026"},
		{"nameday", "Who has a name day today?", Nameday, ""},
		{"joke", "tell me a joke", Joke, ""},
		{"weather", "What's the weather in Prague?", Weather, ""},
		{"release guard", "when is the next release of crm-project", "", "release date"},
		{"date guard", "what date is the demo", "", "Which date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := &fakeClassifier{err: errors.New("must not be called")}
			r := NewResolver(classifier, WithClock(fixedClock), WithLocation(time.UTC))

			res, err := r.Resolve(context.Background(), Message{Text: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.intent, res.Intent)
			if tt.replyPart != "" {
				assert.Contains(t, res.Reply, tt.replyPart)
			} else {
				assert.False(t, res.Answered())
			}
			assert.Empty(t, classifier.prompts)
		})
	}
}

func TestResolveWeatherCity(t *testing.T) {
	r := NewResolver(&fakeClassifier{})

	res, err := r.Resolve(context.Background(), Message{Text: "what's the weather like in New York today?"})
	require.NoError(t, err)
	assert.Equal(t, Weather, res.Intent)
	assert.Equal(t, "New York", res.Params.Get(ParamCity))

	res, err = r.Resolve(context.Background(), Message{Text: "weather please"})
	require.NoError(t, err)
	assert.Empty(t, res.Params.Get(ParamCity))
}

func TestResolveGuardsUseWholeWords(t *testing.T) {
	classifier := &fakeClassifier{response: `{"intent": "create_item", "parameters": {}}`}
	r := NewResolver(classifier)

	res, err := r.Resolve(context.Background(), Message{Text: "update the defect for project crm-project"})
	require.NoError(t, err)
	assert.Equal(t, CreateItem, res.Intent)
	assert.Len(t, classifier.prompts, 1)
}

func TestResolveClassifier(t *testing.T) {
	classifier := &fakeClassifier{response: "```json\n{\"intent\": \"count_defects\", \"parameters\": {\"status\": \"undone\"}}\n```"}
	r := NewResolver(classifier)

	res, err := r.Resolve(context.Background(), Message{Text: "how many undone defects for crm-project?"})
	require.NoError(t, err)
	assert.Equal(t, CountDefects, res.Intent)
	assert.Equal(t, "undone", res.Params.Get(ParamStatus))
	assert.Equal(t, "crm-project", res.Params.Get(ParamProject))

	require.Len(t, classifier.prompts, 1)
	assert.Contains(t, classifier.prompts[0], "count_defects")
	assert.Contains(t, classifier.prompts[0], "how many undone defects for crm-project?")
}

func TestResolveCreateItemFillsSlots(t *testing.T) {
	classifier := &fakeClassifier{response: `{"intent": "create_item", "parameters": {"item_type": "requirement"}}`}
	r := NewResolver(classifier)

	res, err := r.Resolve(context.Background(), Message{
		Text: `create a requirement titled "User Profile V2" for project crm-project in sprint 7`,
	})
	require.NoError(t, err)
	assert.Equal(t, "requirement", res.Params.Get(ParamItemType))
	assert.Equal(t, "User Profile V2", res.Params.Get(ParamTitle))
	assert.Equal(t, "crm-project", res.Params.Get(ParamProject))
	assert.Equal(t, "7", res.Params.Get(ParamSprint))
}

func TestResolveProjectContextIsFallback(t *testing.T) {
	classifier := &fakeClassifier{response: `{"intent": "list_defects", "parameters": {}}`}
	r := NewResolver(classifier)

	res, err := r.Resolve(context.Background(), Message{Text: "show me open defects", ProjectContext: "sales-app"})
	require.NoError(t, err)
	assert.Equal(t, "sales-app", res.Params.Get(ParamProject))
	assert.Contains(t, classifier.prompts[0], `"sales-app"`)

	res, err = r.Resolve(context.Background(), Message{Text: "show me open defects for crm-project", ProjectContext: "sales-app"})
	require.NoError(t, err)
	assert.Equal(t, "crm-project", res.Params.Get(ParamProject))
}

func TestResolveClassifierFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"invalid credentials", fmt.Errorf("x: %w", llm.ErrInvalidCredentials), KindInvalidCredentials},
		{"rate limited", fmt.Errorf("x: %w", llm.ErrRateLimited), KindBusy},
		{"unavailable", fmt.Errorf("x: %w", llm.ErrUnavailable), KindUnavailable},
		{"other", errors.New("connection reset"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&fakeClassifier{err: tt.err})

			_, err := r.Resolve(context.Background(), Message{Text: "show open defects for crm-project"})
			var cerr *ClassifierError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.kind, cerr.Kind)
			assert.NotEmpty(t, cerr.Reply())
		})
	}
}

func TestResolveUnparseableResponse(t *testing.T) {
	r := NewResolver(&fakeClassifier{response: "I think they want defects"})

	_, err := r.Resolve(context.Background(), Message{Text: "show open defects for crm-project"})
	var cerr *ClassifierError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindParse, cerr.Kind)
	assert.Contains(t, cerr.Reply(), "rephrase")
}

func TestParseResponse(t *testing.T) {
	parsed, err := ParseResponse(`Sure! {"intent": "Release_Date", "parameters": {"project_name": " crm-project ", "item_id": null}}`)
	require.NoError(t, err)
	assert.Equal(t, ReleaseDate, parsed.Intent)
	assert.Equal(t, Parameters{"project_name": "crm-project"}, parsed.Params)

	parsed, err = ParseResponse(`{"intent": "book_flight", "parameters": {"sprint": 7}}`)
	require.NoError(t, err)
	assert.Equal(t, Unknown, parsed.Intent)
	assert.Equal(t, "7", parsed.Params.Get(ParamSprint))

	_, err = ParseResponse(`{"parameters": {}}`)
	assert.Error(t, err)

	_, err = ParseResponse(`{"intent": "joke", "parameters": {"title": ["a", "b"]}}`)
	assert.Error(t, err)
}
