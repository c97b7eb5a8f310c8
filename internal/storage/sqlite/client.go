package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/pkg/logger"
)

var ErrProjectNotFound = errors.New("project not found")

const releaseDateLayout = "2006-01-02"

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A shared single connection keeps ":memory:" databases alive across calls.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS releases (
		id TEXT PRIMARY KEY,
		project_id INTEGER REFERENCES projects(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		version TEXT,
		release_date TEXT,
		is_current INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_releases_project ON releases(project_id);

	CREATE TABLE IF NOT EXISTS requirements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		project_id INTEGER REFERENCES projects(id) ON DELETE CASCADE,
		release_id TEXT REFERENCES releases(id) ON DELETE SET NULL,
		title TEXT NOT NULL,
		description TEXT,
		priority TEXT,
		sprint TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requirements_group ON requirements(group_id, version);

	CREATE TABLE IF NOT EXISTS requirement_statuses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL,
		status TEXT NOT NULL,
		changed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requirement_statuses_group ON requirement_statuses(group_id, changed_at);

	CREATE TABLE IF NOT EXISTS defects (
		id TEXT PRIMARY KEY,
		project_id INTEGER REFERENCES projects(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		severity TEXT,
		priority TEXT,
		sprint TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_defects_project ON defects(project_id);

	CREATE TABLE IF NOT EXISTS defect_requirement_links (
		defect_id TEXT NOT NULL REFERENCES defects(id) ON DELETE CASCADE,
		requirement_group_id TEXT NOT NULL,
		PRIMARY KEY (defect_id, requirement_group_id)
	);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		project_id INTEGER REFERENCES projects(id) ON DELETE CASCADE,
		title TEXT,
		content TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS retro_items (
		id TEXT PRIMARY KEY,
		project_id INTEGER REFERENCES projects(id) ON DELETE CASCADE,
		sprint TEXT,
		category TEXT,
		content TEXT,
		votes INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_history (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		message TEXT NOT NULL,
		intent TEXT,
		reply TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_history_created ON chat_history(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) ProjectNames(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

func (c *Client) InsertProject(ctx context.Context, name, description string) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO projects (name, description, created_at) VALUES (?, ?, ?)`,
		name, description, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert project: %w", err)
	}
	return res.LastInsertId()
}

func (c *Client) projectID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE name = ? COLLATE NOCASE`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up project: %w", err)
	}
	return id, nil
}

func (c *Client) ListRequirements(ctx context.Context) ([]models.Requirement, error) {
	query := `
		SELECT r.group_id, r.version, p.name, r.title, r.description, r.priority, r.sprint, rel.name,
			(SELECT s.status FROM requirement_statuses s
				WHERE s.group_id = r.group_id
				ORDER BY s.changed_at DESC, s.id DESC LIMIT 1),
			r.created_at
		FROM requirements r
		LEFT JOIN projects p ON p.id = r.project_id
		LEFT JOIN releases rel ON rel.id = r.release_id
		WHERE r.group_id IS NULL
			OR r.version = (SELECT MAX(r2.version) FROM requirements r2 WHERE r2.group_id = r.group_id)
		ORDER BY r.id
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list requirements: %w", err)
	}
	defer rows.Close()

	var requirements []models.Requirement
	for rows.Next() {
		var r models.Requirement
		var groupID, project, description, priority, sprint, release, status sql.NullString
		var createdAt int64

		err := rows.Scan(&groupID, &r.Version, &project, &r.Title, &description, &priority,
			&sprint, &release, &status, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}

		r.GroupID = groupID.String
		r.ProjectName = project.String
		r.Description = description.String
		r.Priority = priority.String
		r.Sprint = sprint.String
		r.ReleaseName = release.String
		r.Status = normalizeStatus(status.String)
		if r.Status == "" {
			r.Status = models.StatusNew
		}
		r.UpdatedAt = time.Unix(createdAt, 0)
		requirements = append(requirements, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := c.links(ctx)
	if err != nil {
		return nil, err
	}
	for i := range requirements {
		requirements[i].LinkedDefects = links.defectsByRequirement[requirements[i].GroupID]
	}

	return requirements, nil
}

func (c *Client) ListDefects(ctx context.Context) ([]models.Defect, error) {
	query := `
		SELECT d.id, p.name, d.title, d.description, d.status, d.severity, d.priority, d.sprint, d.created_at
		FROM defects d
		LEFT JOIN projects p ON p.id = d.project_id
		ORDER BY d.created_at, d.id
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list defects: %w", err)
	}
	defer rows.Close()

	var defects []models.Defect
	for rows.Next() {
		var d models.Defect
		var project, description, severity, priority, sprint sql.NullString
		var createdAt int64

		err := rows.Scan(&d.ID, &project, &d.Title, &description, &d.Status, &severity, &priority, &sprint, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan defect: %w", err)
		}

		d.ProjectName = project.String
		d.Description = description.String
		d.Severity = severity.String
		d.Priority = priority.String
		d.Sprint = sprint.String
		d.Status = normalizeStatus(d.Status)
		d.CreatedAt = time.Unix(createdAt, 0)
		defects = append(defects, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := c.links(ctx)
	if err != nil {
		return nil, err
	}
	for i := range defects {
		defects[i].LinkedRequirements = links.requirementsByDefect[defects[i].ID]
	}

	return defects, nil
}

func (c *Client) ListNotes(ctx context.Context) ([]models.Note, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT n.id, p.name, n.title, n.content, n.created_at
		FROM notes n
		LEFT JOIN projects p ON p.id = n.project_id
		ORDER BY n.created_at, n.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		var n models.Note
		var project, title, content sql.NullString
		var createdAt int64

		if err := rows.Scan(&n.ID, &project, &title, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}

		n.ProjectName = project.String
		n.Title = title.String
		n.Content = content.String
		n.CreatedAt = time.Unix(createdAt, 0)
		notes = append(notes, n)
	}

	return notes, rows.Err()
}

func (c *Client) ListRetroItems(ctx context.Context) ([]models.RetroItem, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.id, p.name, r.sprint, r.category, r.content, r.votes, r.created_at
		FROM retro_items r
		LEFT JOIN projects p ON p.id = r.project_id
		ORDER BY r.created_at, r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list retro items: %w", err)
	}
	defer rows.Close()

	var items []models.RetroItem
	for rows.Next() {
		var item models.RetroItem
		var project, sprint, category, content sql.NullString
		var createdAt int64

		if err := rows.Scan(&item.ID, &project, &sprint, &category, &content, &item.Votes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan retro item: %w", err)
		}

		item.ProjectName = project.String
		item.Sprint = sprint.String
		item.Category = category.String
		item.Content = content.String
		item.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, item)
	}

	return items, rows.Err()
}

func (c *Client) ListReleases(ctx context.Context) ([]models.Release, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.id, p.name, r.name, r.version, r.release_date, r.is_current
		FROM releases r
		LEFT JOIN projects p ON p.id = r.project_id
		ORDER BY r.release_date, r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var releases []models.Release
	for rows.Next() {
		var r models.Release
		var project, version, releaseDate sql.NullString
		var isCurrent int

		if err := rows.Scan(&r.ID, &project, &r.Name, &version, &releaseDate, &isCurrent); err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}

		r.ProjectName = project.String
		r.Version = version.String
		r.IsCurrent = isCurrent != 0
		if releaseDate.Valid && releaseDate.String != "" {
			parsed, err := time.Parse(releaseDateLayout, releaseDate.String)
			if err != nil {
				logger.Warn("Skipping unparsable release date",
					zap.String("release_id", r.ID),
					zap.String("release_date", releaseDate.String),
				)
			} else {
				r.ReleaseDate = parsed
			}
		}
		releases = append(releases, r)
	}

	return releases, rows.Err()
}

func (c *Client) InsertRelease(ctx context.Context, r *models.Release) error {
	projectID, err := c.projectID(ctx, r.ProjectName)
	if err != nil {
		return err
	}

	var releaseDate any
	if !r.ReleaseDate.IsZero() {
		releaseDate = r.ReleaseDate.Format(releaseDateLayout)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO releases (id, project_id, name, version, release_date, is_current) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, projectID, r.Name, r.Version, releaseDate, boolToInt(r.IsCurrent),
	)
	if err != nil {
		return fmt.Errorf("failed to insert release: %w", err)
	}
	return nil
}

// CreateRequirement starts a new requirement group at version 1 with status "new".
func (c *Client) CreateRequirement(ctx context.Context, req models.NewRequirement) (*models.Requirement, error) {
	projectID, err := c.projectID(ctx, req.ProjectName)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	groupID := "REQ-" + strings.ToUpper(uuid.New().String()[:8])

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requirements (group_id, version, project_id, title, description, priority, sprint, created_at)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?)`,
		groupID, projectID, req.Title, req.Description, req.Priority, req.Sprint, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert requirement: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO requirement_statuses (group_id, status, changed_at) VALUES (?, ?, ?)`,
		groupID, models.StatusNew, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert requirement status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit requirement: %w", err)
	}

	logger.Info("Requirement created",
		zap.String("group_id", groupID),
		zap.String("project", req.ProjectName),
	)

	return &models.Requirement{
		GroupID:     groupID,
		Version:     1,
		ProjectName: req.ProjectName,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Sprint:      req.Sprint,
		Status:      models.StatusNew,
		UpdatedAt:   now,
	}, nil
}

func (c *Client) CreateDefect(ctx context.Context, req models.NewDefect) (*models.Defect, error) {
	projectID, err := c.projectID(ctx, req.ProjectName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	id := "DEF-" + strings.ToUpper(uuid.New().String()[:8])

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO defects (id, project_id, title, description, status, severity, priority, sprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, projectID, req.Title, req.Description, models.StatusNew, req.Severity, req.Priority, req.Sprint, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert defect: %w", err)
	}

	logger.Info("Defect created",
		zap.String("defect_id", id),
		zap.String("project", req.ProjectName),
	)

	return &models.Defect{
		ID:          id,
		ProjectName: req.ProjectName,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.StatusNew,
		Severity:    req.Severity,
		Priority:    req.Priority,
		Sprint:      req.Sprint,
		CreatedAt:   now,
	}, nil
}

func (c *Client) LinkDefect(ctx context.Context, defectID, requirementGroupID string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO defect_requirement_links (defect_id, requirement_group_id) VALUES (?, ?)`,
		defectID, requirementGroupID,
	)
	if err != nil {
		return fmt.Errorf("failed to link defect: %w", err)
	}
	return nil
}

type linkIndex struct {
	defectsByRequirement map[string][]string
	requirementsByDefect map[string][]string
}

func (c *Client) links(ctx context.Context) (*linkIndex, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT defect_id, requirement_group_id FROM defect_requirement_links ORDER BY defect_id, requirement_group_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list defect links: %w", err)
	}
	defer rows.Close()

	idx := &linkIndex{
		defectsByRequirement: make(map[string][]string),
		requirementsByDefect: make(map[string][]string),
	}
	for rows.Next() {
		var defectID, groupID string
		if err := rows.Scan(&defectID, &groupID); err != nil {
			return nil, fmt.Errorf("failed to scan defect link: %w", err)
		}
		idx.defectsByRequirement[groupID] = append(idx.defectsByRequirement[groupID], defectID)
		idx.requirementsByDefect[defectID] = append(idx.requirementsByDefect[defectID], groupID)
	}

	return idx, rows.Err()
}

func (c *Client) InsertChatRecord(ctx context.Context, record *models.ChatRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, user_id, message, intent, reply, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.Message,
		record.Intent,
		record.Reply,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}

	logger.Debug("Chat recorded",
		zap.String("chat_id", record.ID),
		zap.String("intent", record.Intent),
	)
	return nil
}

func (c *Client) GetChatHistory(ctx context.Context, limit int) ([]models.ChatRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, message, intent, reply, latency_ms, created_at
		FROM chat_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	defer rows.Close()

	var records []models.ChatRecord
	for rows.Next() {
		var r models.ChatRecord
		var userID, intentName, reply sql.NullString
		var latency sql.NullInt64
		var createdAt int64

		if err := rows.Scan(&r.ID, &userID, &r.Message, &intentName, &reply, &latency, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat record: %w", err)
		}

		r.UserID = userID.String
		r.Intent = intentName.String
		r.Reply = reply.String
		r.LatencyMS = int(latency.Int64)
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
