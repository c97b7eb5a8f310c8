// Package intent turns a chat message into an intent and its parameter slots.
package intent

import "context"

type Intent string

const (
	ListDefects    Intent = "list_defects"
	CountDefects   Intent = "count_defects"
	CreateItem     Intent = "create_item"
	ReleaseDate    Intent = "release_date"
	ProjectSummary Intent = "project_summary"
	Weather        Intent = "weather"
	Nameday        Intent = "nameday"
	Joke           Intent = "joke"
	GeneralInfo    Intent = "general_info"
	Unknown        Intent = "unknown"
)

// Known lists every intent the classifier may return.
var Known = []Intent{
	ListDefects, CountDefects, CreateItem, ReleaseDate, ProjectSummary,
	Weather, Nameday, Joke, GeneralInfo, Unknown,
}

func (i Intent) Valid() bool {
	for _, k := range Known {
		if i == k {
			return true
		}
	}
	return false
}

// Parameter slots.
const (
	ParamProject     = "project_name"
	ParamStatus      = "status"
	ParamItemType    = "item_type"
	ParamTitle       = "title"
	ParamSprint      = "sprint"
	ParamItemID      = "item_id"
	ParamQuery       = "query"
	ParamCity        = "city"
	ParamDescription = "description"
	ParamPriority    = "priority"
	ParamSeverity    = "severity"
)

// Slots lists the parameter names the classifier is asked to fill.
var Slots = []string{
	ParamProject, ParamStatus, ParamItemType, ParamTitle, ParamSprint, ParamItemID,
	ParamQuery, ParamCity, ParamDescription, ParamPriority, ParamSeverity,
}

type Parameters map[string]string

// Get returns the trimmed slot value, or "".
func (p Parameters) Get(key string) string {
	if p == nil {
		return ""
	}
	return trimValue(p[key])
}

// Message is one inbound chat message. ProjectContext is a hint from the UI, not authoritative.
type Message struct {
	Text           string
	ProjectContext string
}

// Resolution is the outcome of resolving a message. A non-empty Reply answers
// the message directly and Intent is left empty.
type Resolution struct {
	Intent Intent
	Params Parameters
	Reply  string
}

func (r *Resolution) Answered() bool {
	return r.Reply != ""
}

// Classifier sends a prompt to a language model and returns its raw text.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}
