package indexsync

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/internal/vector/zilliz"
	"github.com/trackbot/backend/pkg/utils"
)

// DateLayout is the payload format of release dates.
const DateLayout = "2006-01-02"

// Snapshot holds every record read for one rebuild.
type Snapshot struct {
	Requirements []models.Requirement
	Defects      []models.Defect
	Notes        []models.Note
	RetroItems   []models.RetroItem
	Releases     []models.Release
}

var whitespace = regexp.MustCompile(`\s+`)

// Documents flattens the snapshot in source order: requirements, defects,
// notes, retro items, releases. Records with an empty key are skipped.
func (s *Snapshot) Documents() []zilliz.Document {
	docs := make([]zilliz.Document, 0,
		len(s.Requirements)+len(s.Defects)+len(s.Notes)+len(s.RetroItems)+len(s.Releases))

	add := func(doc zilliz.Document, ok bool) {
		if ok {
			docs = append(docs, doc)
		}
	}
	for _, r := range s.Requirements {
		add(requirementDocument(r))
	}
	for _, d := range s.Defects {
		add(defectDocument(d))
	}
	for _, n := range s.Notes {
		add(noteDocument(n))
	}
	for _, r := range s.RetroItems {
		add(retroDocument(r))
	}
	for _, r := range s.Releases {
		add(releaseDocument(r))
	}
	return docs
}

func newDocument(kind, key, project, status, title string) (zilliz.Document, bool) {
	id := utils.Fingerprint(kind, key)
	if id == "" {
		return zilliz.Document{}, false
	}
	return zilliz.Document{
		ID:      id,
		Type:    kind,
		ItemID:  key,
		Project: project,
		Status:  status,
		Title:   title,
		Payload: map[string]any{},
	}, true
}

func requirementDocument(r models.Requirement) (zilliz.Document, bool) {
	doc, ok := newDocument(models.KindRequirement, r.GroupID, r.ProjectName, r.Status, r.Title)
	if !ok {
		return doc, false
	}

	var b textBuilder
	b.line("Requirement %s: %s", r.GroupID, r.Title)
	b.field("Project", r.ProjectName)
	b.field("Status", r.Status)
	b.field("Priority", r.Priority)
	b.field("Sprint", r.Sprint)
	b.field("Release", r.ReleaseName)
	b.field("Linked defects", strings.Join(r.LinkedDefects, ", "))
	b.field("Description", plainText(r.Description))
	doc.Text = b.String()

	doc.Payload["version"] = r.Version
	doc.Payload["priority"] = r.Priority
	doc.Payload["sprint"] = r.Sprint
	doc.Payload["release"] = r.ReleaseName
	doc.Payload["linked_defects"] = nonNil(r.LinkedDefects)
	return doc, true
}

func defectDocument(d models.Defect) (zilliz.Document, bool) {
	doc, ok := newDocument(models.KindDefect, d.ID, d.ProjectName, d.Status, d.Title)
	if !ok {
		return doc, false
	}

	var b textBuilder
	b.line("Defect %s: %s", d.ID, d.Title)
	b.field("Project", d.ProjectName)
	b.field("Status", d.Status)
	b.field("Severity", d.Severity)
	b.field("Priority", d.Priority)
	b.field("Sprint", d.Sprint)
	b.field("Linked requirements", strings.Join(d.LinkedRequirements, ", "))
	b.field("Description", plainText(d.Description))
	doc.Text = b.String()

	doc.Payload["severity"] = d.Severity
	doc.Payload["priority"] = d.Priority
	doc.Payload["sprint"] = d.Sprint
	doc.Payload["linked_requirements"] = nonNil(d.LinkedRequirements)
	return doc, true
}

func noteDocument(n models.Note) (zilliz.Document, bool) {
	doc, ok := newDocument(models.KindNote, n.ID, n.ProjectName, "", n.Title)
	if !ok {
		return doc, false
	}

	var b textBuilder
	b.line("Note: %s", n.Title)
	b.field("Project", n.ProjectName)
	b.field("Content", plainText(n.Content))
	doc.Text = b.String()
	return doc, true
}

func retroDocument(r models.RetroItem) (zilliz.Document, bool) {
	title := r.Category
	if title == "" {
		title = "Retrospective item"
	}
	doc, ok := newDocument(models.KindRetroItem, r.ID, r.ProjectName, "", title)
	if !ok {
		return doc, false
	}

	var b textBuilder
	b.line("Retrospective item (%s)", title)
	b.field("Project", r.ProjectName)
	b.field("Sprint", r.Sprint)
	b.field("Votes", fmt.Sprint(r.Votes))
	b.field("Content", plainText(r.Content))
	doc.Text = b.String()

	doc.Payload["sprint"] = r.Sprint
	doc.Payload["category"] = r.Category
	doc.Payload["votes"] = r.Votes
	return doc, true
}

func releaseDocument(r models.Release) (zilliz.Document, bool) {
	doc, ok := newDocument(models.KindRelease, r.ID, r.ProjectName, "", r.Name)
	if !ok {
		return doc, false
	}

	date := ""
	if !r.ReleaseDate.IsZero() {
		date = r.ReleaseDate.Format(DateLayout)
	}

	var b textBuilder
	b.line("Release %s", r.Name)
	b.field("Project", r.ProjectName)
	b.field("Version", r.Version)
	b.field("Release date", date)
	if r.IsCurrent {
		b.field("Current release", "yes")
	}
	doc.Text = b.String()

	doc.Payload["name"] = r.Name
	doc.Payload["version"] = r.Version
	doc.Payload["release_date"] = date
	doc.Payload["is_current"] = r.IsCurrent
	return doc, true
}

type textBuilder struct {
	strings.Builder
}

func (b *textBuilder) line(format string, args ...any) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	fmt.Fprintf(b, format, args...)
}

func (b *textBuilder) field(name, value string) {
	if value = strings.TrimSpace(value); value != "" {
		b.line("%s: %s", name, value)
	}
}

// plainText strips markup from rich-text fields and collapses whitespace.
func plainText(s string) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style").Remove()
			s = doc.Text()
		}
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
