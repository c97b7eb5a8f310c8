package zilliz

import (
	"fmt"
	"sort"
	"strings"
)

// Scalar fields that carry a payload index.
const (
	FieldID      = "doc_id"
	FieldVector  = "embedding"
	FieldText    = "text"
	FieldType    = "doc_type"
	FieldItemID  = "item_id"
	FieldProject = "project"
	FieldStatus  = "status"
	FieldTitle   = "title"
	FieldPayload = "payload"
)

// IndexedFields are declared as payload indexes on every rebuild.
var IndexedFields = []string{FieldProject, FieldType, FieldStatus, FieldTitle}

type Metric string

const (
	MetricCosine Metric = "COSINE"
	MetricL2     Metric = "L2"
	MetricIP     Metric = "IP"
)

// Document is one flattened tracker record. ID is the record fingerprint.
type Document struct {
	ID        string
	Text      string
	Type      string
	ItemID    string
	Project   string
	Status    string
	Title     string
	Payload   map[string]any
	Embedding []float32
}

type SearchResult struct {
	Document
	Score float32
}

// Filter is an exact-match conjunction over payload fields. Empty fields are ignored.
type Filter struct {
	Type     string
	Project  string
	ItemID   string
	Title    string
	Statuses []string
}

func (f Filter) IsEmpty() bool {
	return f.Type == "" && f.Project == "" && f.ItemID == "" && f.Title == "" && len(f.Statuses) == 0
}

// Expr renders the filter as a Milvus boolean expression.
func (f Filter) Expr() string {
	var clauses []string
	add := func(field, value string) {
		if value != "" {
			clauses = append(clauses, fmt.Sprintf("%s == %s", field, quote(value)))
		}
	}

	add(FieldType, f.Type)
	add(FieldProject, f.Project)
	add(FieldItemID, f.ItemID)
	add(FieldTitle, f.Title)

	switch len(f.Statuses) {
	case 0:
	case 1:
		add(FieldStatus, f.Statuses[0])
	default:
		statuses := append([]string(nil), f.Statuses...)
		sort.Strings(statuses)
		quoted := make([]string, len(statuses))
		for i, s := range statuses {
			quoted[i] = quote(s)
		}
		clauses = append(clauses, fmt.Sprintf("%s in [%s]", FieldStatus, strings.Join(quoted, ", ")))
	}

	return strings.Join(clauses, " && ")
}

func quote(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return `"` + value + `"`
}
