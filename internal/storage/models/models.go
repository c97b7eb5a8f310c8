package models

import "time"

// Item kinds as they appear in the vector index payload.
const (
	KindRequirement = "requirement"
	KindDefect      = "defect"
	KindNote        = "note"
	KindRetroItem   = "retro_item"
	KindRelease     = "release"
)

// Canonical statuses. Stored lower-case with underscores.
const (
	StatusNew        = "new"
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusReopened   = "reopened"
	StatusResolved   = "resolved"
	StatusDone       = "done"
	StatusClosed     = "closed"
)

type Project struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Requirement is the latest version of a requirement group joined with its
// current status and release.
type Requirement struct {
	GroupID       string
	Version       int
	ProjectName   string
	Title         string
	Description   string
	Priority      string
	Sprint        string
	Status        string
	ReleaseName   string
	LinkedDefects []string
	UpdatedAt     time.Time
}

type Defect struct {
	ID                 string
	ProjectName        string
	Title              string
	Description        string
	Status             string
	Severity           string
	Priority           string
	Sprint             string
	LinkedRequirements []string
	CreatedAt          time.Time
}

type Note struct {
	ID          string
	ProjectName string
	Title       string
	Content     string
	CreatedAt   time.Time
}

type RetroItem struct {
	ID          string
	ProjectName string
	Sprint      string
	Category    string
	Content     string
	Votes       int
	CreatedAt   time.Time
}

type Release struct {
	ID          string
	ProjectName string
	Name        string
	Version     string
	ReleaseDate time.Time
	IsCurrent   bool
}

type NewRequirement struct {
	ProjectName string
	Title       string
	Description string
	Priority    string
	Sprint      string
}

type NewDefect struct {
	ProjectName string
	Title       string
	Description string
	Severity    string
	Priority    string
	Sprint      string
}

type ChatRecord struct {
	ID        string
	UserID    string
	Message   string
	Intent    string
	Reply     string
	LatencyMS int
	CreatedAt time.Time
}
