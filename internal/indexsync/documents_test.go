package indexsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/pkg/utils"
)

func TestDocumentsSkipEmptyKeys(t *testing.T) {
	snap := Snapshot{
		Requirements: []models.Requirement{{GroupID: "", Title: "orphan"}},
		Defects:      []models.Defect{{ID: "DEF-1", Title: "kept"}, {ID: "  ", Title: "blank"}},
	}

	docs := snap.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "DEF-1", docs[0].ItemID)
}

func TestDocumentFingerprint(t *testing.T) {
	snap := Snapshot{Requirements: []models.Requirement{{GroupID: "REQ-9", Title: "a", Version: 1}}}
	first := snap.Documents()[0].ID

	snap.Requirements[0].Title = "b"
	snap.Requirements[0].Version = 2
	second := snap.Documents()[0].ID

	assert.Equal(t, first, second)
	assert.Equal(t, utils.Fingerprint("requirement", "REQ-9"), first)
}

func TestRequirementDocument(t *testing.T) {
	doc, ok := requirementDocument(models.Requirement{
		GroupID:       "REQ-1",
		ProjectName:   "crm-project",
		Title:         "User Profile V2",
		Status:        "in_progress",
		Sprint:        "7",
		ReleaseName:   "2.0",
		LinkedDefects: []string{"DEF-1", "DEF-2"},
		Description:   "<p>Allow <b>editing</b></p>\n<p>avatars</p>",
	})
	require.True(t, ok)

	assert.Equal(t, "requirement", doc.Type)
	assert.Equal(t, "crm-project", doc.Project)
	assert.Equal(t, "in_progress", doc.Status)
	assert.Contains(t, doc.Text, "Requirement REQ-1: User Profile V2")
	assert.Contains(t, doc.Text, "Linked defects: DEF-1, DEF-2")
	assert.Contains(t, doc.Text, "Description: Allow editing avatars")
	assert.NotContains(t, doc.Text, "Priority:")
	assert.Equal(t, "7", doc.Payload["sprint"])
}

func TestReleaseDocument(t *testing.T) {
	doc, ok := releaseDocument(models.Release{
		ID:          "rel-2",
		ProjectName: "crm-project",
		Name:        "Spring",
		Version:     "2.0",
		ReleaseDate: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		IsCurrent:   true,
	})
	require.True(t, ok)

	assert.Equal(t, "2026-04-30", doc.Payload["release_date"])
	assert.Equal(t, true, doc.Payload["is_current"])
	assert.Equal(t, "Spring", doc.Title)
	assert.Contains(t, doc.Text, "Current release: yes")
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain text", plainText("  plain \n text "))
	assert.Equal(t, "Went well: pairing", plainText("<div>Went well: <i>pairing</i><script>x()</script></div>"))
}
