package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackbot/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_ProjectNames(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.InsertProject(ctx, "crm-project", "")
	require.NoError(t, err)
	_, err = c.InsertProject(ctx, "sales-app", "")
	require.NoError(t, err)

	names, err := c.ProjectNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"crm-project", "sales-app"}, names)
}

func TestClient_CreateRequirementAndList(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.InsertProject(ctx, "crm-project", "")
	require.NoError(t, err)
	require.NoError(t, c.InsertRelease(ctx, &models.Release{
		ID: "rel-1", ProjectName: "crm-project", Name: "Spring", Version: "1.0",
		ReleaseDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), IsCurrent: true,
	}))

	req, err := c.CreateRequirement(ctx, models.NewRequirement{
		ProjectName: "CRM-Project",
		Title:       "User Profile V2",
		Sprint:      "7",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, req.Status)

	_, err = c.db.Exec(`UPDATE requirements SET release_id = 'rel-1' WHERE group_id = ?`, req.GroupID)
	require.NoError(t, err)
	_, err = c.db.Exec(`INSERT INTO requirements (group_id, version, project_id, title, created_at)
		SELECT group_id, 2, project_id, 'User Profile V2.1', created_at FROM requirements WHERE group_id = ?`, req.GroupID)
	require.NoError(t, err)
	_, err = c.db.Exec(`INSERT INTO requirement_statuses (group_id, status, changed_at) VALUES (?, 'In Progress', ?)`,
		req.GroupID, time.Now().Add(time.Hour).Unix())
	require.NoError(t, err)

	def, err := c.CreateDefect(ctx, models.NewDefect{ProjectName: "crm-project", Title: "Avatar upload fails"})
	require.NoError(t, err)
	require.NoError(t, c.LinkDefect(ctx, def.ID, req.GroupID))

	reqs, err := c.ListRequirements(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, req.GroupID, reqs[0].GroupID)
	assert.Equal(t, 2, reqs[0].Version)
	assert.Equal(t, "User Profile V2.1", reqs[0].Title)
	assert.Equal(t, models.StatusInProgress, reqs[0].Status)
	assert.Equal(t, "crm-project", reqs[0].ProjectName)
	assert.Equal(t, []string{def.ID}, reqs[0].LinkedDefects)

	defects, err := c.ListDefects(ctx)
	require.NoError(t, err)
	require.Len(t, defects, 1)
	assert.Equal(t, []string{req.GroupID}, defects[0].LinkedRequirements)

	releases, err := c.ListReleases(ctx)
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.True(t, releases[0].IsCurrent)
	assert.Equal(t, "2026-03-01", releases[0].ReleaseDate.Format("2006-01-02"))
}

func TestClient_UnknownProject(t *testing.T) {
	c := newTestClient(t)

	_, err := c.CreateDefect(context.Background(), models.NewDefect{ProjectName: "nope", Title: "x"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestClient_OrphanRowsKeepEmptyKeys(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.db.Exec(`INSERT INTO requirements (group_id, version, title, created_at) VALUES (NULL, 1, 'orphan', 0)`)
	require.NoError(t, err)
	_, err = c.db.Exec(`INSERT INTO notes (id, title, content, created_at) VALUES ('n1', 'loose', '<p>hi</p>', 0)`)
	require.NoError(t, err)

	reqs, err := c.ListRequirements(ctx)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].GroupID)

	notes, err := c.ListNotes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Empty(t, notes[0].ProjectName)
}

func TestClient_ChatHistory(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i, msg := range []string{"first", "second"} {
		require.NoError(t, c.InsertChatRecord(ctx, &models.ChatRecord{
			ID:        msg,
			Message:   msg,
			Intent:    "joke",
			Reply:     "ok",
			CreatedAt: time.Unix(int64(1000+i), 0),
		}))
	}

	records, err := c.GetChatHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Message)
}

func TestNewClient_UnopenablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "tracker.db")

	c, err := NewClient(path)
	assert.Nil(t, c)
	assert.ErrorContains(t, err, "failed to enable foreign keys")
}
