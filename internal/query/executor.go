package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trackbot/backend/internal/external"
	"github.com/trackbot/backend/internal/fuzzy"
	"github.com/trackbot/backend/internal/intent"
	"github.com/trackbot/backend/internal/metrics"
	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/internal/vector/zilliz"
	"github.com/trackbot/backend/pkg/logger"
)

const (
	weatherApology   = "Sorry, I couldn't get the weather right now. Please try again later."
	namedayApology   = "Sorry, I couldn't find out whose name day it is today."
	jokeApology      = "Sorry, I'm out of jokes for the moment."
	generateApology  = "Sorry, I couldn't put an answer together right now. Please try again later."
	indexApology     = "Sorry, I couldn't search the project data right now. Please try again later."
	projectsApology  = "Sorry, I couldn't load the list of projects right now. Please try again later."
	nothingRelevant  = "I couldn't find anything relevant in the tracker for that question."
	createApology    = "Sorry, I couldn't create the %s right now. Please try again later."
	defaultPageSize  = 100
	defaultTopK      = 5
	defaultCreateLag = 2 * time.Second
)

// Store is the relational side the executor reads and writes.
type Store interface {
	ProjectNames(ctx context.Context) ([]string, error)
	CreateRequirement(ctx context.Context, req models.NewRequirement) (*models.Requirement, error)
	CreateDefect(ctx context.Context, req models.NewDefect) (*models.Defect, error)
}

// Index is the read side of the vector index.
type Index interface {
	Scroll(ctx context.Context, filter zilliz.Filter, limit int) ([]zilliz.Document, error)
	Count(ctx context.Context, filter zilliz.Filter) (int, error)
	Search(ctx context.Context, vec []float32, topK int, filter zilliz.Filter) ([]zilliz.SearchResult, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ExternalData interface {
	Weather(ctx context.Context, city string) (*external.Weather, error)
	Nameday(ctx context.Context) (string, error)
	Joke(ctx context.Context) (string, error)
}

// Syncer starts an index rebuild in the background after a delay.
type Syncer interface {
	RunAfter(delay time.Duration)
}

type Deps struct {
	Store     Store
	Index     Index
	Embedder  Embedder
	Generator Generator
	External  ExternalData
	Syncer    Syncer
}

type Options struct {
	PageSize    int
	TopK        int
	DefaultCity string
	CreateDelay time.Duration
}

type Executor struct {
	deps Deps
	opts Options
}

func NewExecutor(deps Deps, opts Options) *Executor {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.CreateDelay <= 0 {
		opts.CreateDelay = defaultCreateLag
	}
	return &Executor{deps: deps, opts: opts}
}

// Execute runs the resolved intent and returns the reply text. Every failure
// is turned into a reply.
func (x *Executor) Execute(ctx context.Context, msg intent.Message, res *intent.Resolution) string {
	if res.Answered() {
		return res.Reply
	}

	switch res.Intent {
	case intent.ListDefects:
		return x.defects(ctx, msg, res.Params, false)
	case intent.CountDefects:
		return x.defects(ctx, msg, res.Params, true)
	case intent.ReleaseDate:
		return x.releaseDate(ctx, res.Params)
	case intent.CreateItem:
		return x.createItem(ctx, res.Params)
	case intent.ProjectSummary:
		return x.semanticAnswer(ctx, msg, res.Params, true)
	case intent.Weather:
		return x.weather(ctx, res.Params)
	case intent.Nameday:
		return x.nameday(ctx)
	case intent.Joke:
		return x.joke(ctx)
	default:
		return x.semanticAnswer(ctx, msg, res.Params, false)
	}
}

// resolveProject applies the fuzzy policy: exact and autocorrect proceed,
// suggestion and no-match produce a reply instead of a project.
func (x *Executor) resolveProject(ctx context.Context, name string) (string, string) {
	names, err := x.deps.Store.ProjectNames(ctx)
	if err != nil {
		logger.Error("Failed to load project names", zap.Error(err))
		return "", projectsApology
	}

	if strings.TrimSpace(name) == "" {
		return "", fmt.Sprintf("Which project do you mean? Known projects: %s.", knownProjects(names))
	}

	switch m := fuzzy.Match(name, names).(type) {
	case fuzzy.Exact:
		metrics.ProjectMatches.WithLabelValues("exact").Inc()
		return m.Name, ""
	case fuzzy.Autocorrect:
		metrics.ProjectMatches.WithLabelValues("autocorrect").Inc()
		logger.Info("Project name autocorrected", zap.String("input", name), zap.String("project", m.Name))
		return m.Name, ""
	case fuzzy.Suggestion:
		metrics.ProjectMatches.WithLabelValues("suggestion").Inc()
		return "", fmt.Sprintf("I couldn't find a project named %q. Did you mean %q? Please repeat your request with that name.", name, m.Name)
	default:
		metrics.ProjectMatches.WithLabelValues("no_match").Inc()
		return "", fmt.Sprintf("I couldn't find a project named %q. Known projects: %s.", name, knownProjects(names))
	}
}

func knownProjects(names []string) string {
	if len(names) == 0 {
		return "none yet"
	}
	return strings.Join(names, ", ")
}

type statusScope struct {
	label    string
	statuses []string
}

var (
	scopeUndone     = statusScope{"undone", []string{models.StatusNew, models.StatusOpen, models.StatusInProgress, models.StatusReopened}}
	scopeDone       = statusScope{"done", []string{models.StatusResolved, models.StatusDone}}
	scopeClosed     = statusScope{"closed", []string{models.StatusClosed}}
	scopeAll        = statusScope{"", nil}
	scopeInProgress = statusScope{"in progress", []string{models.StatusInProgress}}

	undoneWords = regexp.MustCompile(`\b(undone|not done|unresolved|open|outstanding|pending|remaining)\b`)
	doneWords   = regexp.MustCompile(`\b(done|resolved|fixed|completed|finished)\b`)
	closedWords = regexp.MustCompile(`\bclosed\b`)
	allWords    = regexp.MustCompile(`\b(all|every|total)\b`)
)

// statusScopeFor reads the status slot first, then sniffs the message.
func statusScopeFor(param, text string) statusScope {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(param), " ", "_")) {
	case "undone", "open", "unresolved", "not_done", "pending":
		return scopeUndone
	case "done", "resolved", "fixed", "completed":
		return scopeDone
	case "closed":
		return scopeClosed
	case "all", "any":
		return scopeAll
	case "in_progress":
		return scopeInProgress
	}

	lower := strings.ToLower(text)
	switch {
	case undoneWords.MatchString(lower):
		return scopeUndone
	case closedWords.MatchString(lower):
		return scopeClosed
	case doneWords.MatchString(lower):
		return scopeDone
	case allWords.MatchString(lower):
		return scopeAll
	default:
		return scopeInProgress
	}
}

func (s statusScope) describe(n int) string {
	noun := "defects"
	if n == 1 {
		noun = "defect"
	}
	if s.label == "" {
		return noun
	}
	return s.label + " " + noun
}

func (x *Executor) defects(ctx context.Context, msg intent.Message, params intent.Parameters, count bool) string {
	project, reply := x.resolveProject(ctx, params.Get(intent.ParamProject))
	if reply != "" {
		return reply
	}

	scope := statusScopeFor(params.Get(intent.ParamStatus), msg.Text)
	filter := zilliz.Filter{Type: models.KindDefect, Project: project, Statuses: scope.statuses}

	if count {
		n, err := x.deps.Index.Count(ctx, filter)
		if err != nil {
			logger.Error("Defect count failed", zap.Error(err), zap.String("project", project))
			return indexApology
		}
		verb := "are"
		if n == 1 {
			verb = "is"
		}
		return fmt.Sprintf("There %s %d %s in %s.", verb, n, scope.describe(n), project)
	}

	docs, err := x.deps.Index.Scroll(ctx, filter, x.opts.PageSize)
	if err != nil {
		logger.Error("Defect listing failed", zap.Error(err), zap.String("project", project))
		return indexApology
	}
	metrics.VectorResultsCount.Observe(float64(len(docs)))
	if len(docs) == 0 {
		return fmt.Sprintf("There are no %s in %s.", scope.describe(0), project)
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ItemID < docs[j].ItemID })

	var b strings.Builder
	fmt.Fprintf(&b, "%s in %s (%d):", upperFirst(scope.describe(len(docs))), project, len(docs))
	for _, d := range docs {
		fmt.Fprintf(&b, "\n- %s: %s [%s]", d.ItemID, d.Title, d.Status)
	}
	if len(docs) == x.opts.PageSize {
		fmt.Fprintf(&b, "\n(showing the first %d)", x.opts.PageSize)
	}
	return b.String()
}

func (x *Executor) releaseDate(ctx context.Context, params intent.Parameters) string {
	if id := params.Get(intent.ParamItemID); id != "" {
		docs, err := x.deps.Index.Scroll(ctx, zilliz.Filter{Type: models.KindRelease, ItemID: id}, 1)
		if err != nil {
			logger.Error("Release lookup failed", zap.Error(err), zap.String("item_id", id))
			return indexApology
		}
		if len(docs) == 0 {
			return fmt.Sprintf("I found no release information for %s.", id)
		}
		return describeRelease(docs[0])
	}

	project, reply := x.resolveProject(ctx, params.Get(intent.ParamProject))
	if reply != "" {
		return reply
	}

	docs, err := x.deps.Index.Scroll(ctx, zilliz.Filter{Type: models.KindRelease, Project: project}, x.opts.PageSize)
	if err != nil {
		logger.Error("Release listing failed", zap.Error(err), zap.String("project", project))
		return indexApology
	}
	if len(docs) == 0 {
		return fmt.Sprintf("I found no release information for %s.", project)
	}

	// YYYY-MM-DD sorts lexically; undated releases go last.
	sort.SliceStable(docs, func(i, j int) bool {
		return payloadString(docs[i], "release_date") > payloadString(docs[j], "release_date")
	})
	return describeRelease(docs[0])
}

func describeRelease(doc zilliz.Document) string {
	label := "latest"
	if payloadBool(doc, "is_current") {
		label = "current"
	}

	name := doc.Title
	if v := payloadString(doc, "version"); v != "" && v != name {
		name = fmt.Sprintf("%s (version %s)", name, v)
	}

	date := payloadString(doc, "release_date")
	if date == "" {
		return fmt.Sprintf("The %s release of %s is %s. It has no release date yet.", label, doc.Project, name)
	}
	return fmt.Sprintf("The %s release of %s is %s, with release date %s.", label, doc.Project, name, date)
}

func normalizeItemType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "requirement", "requirements", "req", "story", "user story":
		return models.KindRequirement
	case "defect", "defects", "bug", "bugs", "issue":
		return models.KindDefect
	}
	return ""
}

func (x *Executor) createItem(ctx context.Context, params intent.Parameters) string {
	kind := normalizeItemType(params.Get(intent.ParamItemType))
	if kind == "" {
		return "Would you like to create a requirement or a defect?"
	}

	title := params.Get(intent.ParamTitle)
	if title == "" {
		return fmt.Sprintf("What should the new %s be called? For example: create a %s titled \"Login page\" for project crm-project.", kind, kind)
	}

	name := params.Get(intent.ParamProject)
	if name == "" {
		return fmt.Sprintf("Which project should the %s %q belong to?", kind, title)
	}
	project, reply := x.resolveProject(ctx, name)
	if reply != "" {
		return reply
	}

	sprint := params.Get(intent.ParamSprint)
	if kind == models.KindRequirement && sprint == "" {
		return fmt.Sprintf("Which sprint should the requirement %q be planned for?", title)
	}

	var id string
	switch kind {
	case models.KindRequirement:
		req, err := x.deps.Store.CreateRequirement(ctx, models.NewRequirement{
			ProjectName: project,
			Title:       title,
			Description: params.Get(intent.ParamDescription),
			Priority:    params.Get(intent.ParamPriority),
			Sprint:      sprint,
		})
		if err != nil {
			logger.Error("Failed to create requirement", zap.Error(err), zap.String("project", project))
			return fmt.Sprintf(createApology, kind)
		}
		id = req.GroupID
	default:
		def, err := x.deps.Store.CreateDefect(ctx, models.NewDefect{
			ProjectName: project,
			Title:       title,
			Description: params.Get(intent.ParamDescription),
			Severity:    params.Get(intent.ParamSeverity),
			Priority:    params.Get(intent.ParamPriority),
			Sprint:      sprint,
		})
		if err != nil {
			logger.Error("Failed to create defect", zap.Error(err), zap.String("project", project))
			return fmt.Sprintf(createApology, kind)
		}
		id = def.ID
	}

	if x.deps.Syncer != nil {
		x.deps.Syncer.RunAfter(x.opts.CreateDelay)
	}

	logger.Info("Item created from chat", zap.String("type", kind), zap.String("id", id), zap.String("project", project))

	created := fmt.Sprintf("Created %s %s %q in %s", kind, id, title, project)
	if sprint != "" {
		created += fmt.Sprintf(" for sprint %s", sprint)
	}
	return created + "."
}

func (x *Executor) semanticAnswer(ctx context.Context, msg intent.Message, params intent.Parameters, summary bool) string {
	var filter zilliz.Filter
	project := ""
	if name := params.Get(intent.ParamProject); name != "" {
		var reply string
		if project, reply = x.resolveProject(ctx, name); reply != "" {
			return reply
		}
		filter.Project = project
	}

	question := params.Get(intent.ParamQuery)
	if question == "" {
		question = msg.Text
	}

	vec, err := x.deps.Embedder.Embed(ctx, question)
	if err != nil {
		logger.Error("Failed to embed question", zap.Error(err))
		return indexApology
	}

	results, err := x.deps.Index.Search(ctx, vec, x.opts.TopK, filter)
	if err != nil {
		logger.Error("Semantic search failed", zap.Error(err))
		return indexApology
	}
	metrics.VectorResultsCount.Observe(float64(len(results)))
	if len(results) == 0 {
		return nothingRelevant
	}

	answer, err := x.deps.Generator.Generate(ctx, buildAnswerPrompt(msg.Text, project, summary, results))
	if err != nil {
		logger.Error("Failed to generate answer", zap.Error(err))
		return generateApology
	}
	return answer
}

func buildAnswerPrompt(question, project string, summary bool, results []zilliz.SearchResult) string {
	var b strings.Builder
	b.WriteString("Records from the project tracker:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s %s %q (project %s, relevance %.2f)\n%s\n", i+1, r.Type, r.ItemID, r.Title, r.Project, r.Score, r.Text)
	}
	if summary {
		target := "the project"
		if project != "" {
			target = "project " + project
		}
		fmt.Fprintf(&b, "\nWrite a short status summary of %s based on these records.", target)
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}

func (x *Executor) weather(ctx context.Context, params intent.Parameters) string {
	city := params.Get(intent.ParamCity)
	if city == "" {
		city = x.opts.DefaultCity
	}
	if city == "" {
		return "Which city would you like the weather for?"
	}

	w, err := x.deps.External.Weather(ctx, city)
	if err != nil {
		if errors.Is(err, external.ErrCityNotFound) {
			return fmt.Sprintf("I don't know a city called %q.", city)
		}
		logger.Warn("Weather fetch failed", zap.Error(err), zap.String("city", city))
		return weatherApology
	}

	place := w.City
	if w.Country != "" {
		place += ", " + w.Country
	}
	return fmt.Sprintf("Weather in %s: %.1f°C, %s, wind %.0f km/h.", place, w.Temperature, w.Description(), w.WindSpeed)
}

func (x *Executor) nameday(ctx context.Context) string {
	names, err := x.deps.External.Nameday(ctx)
	if err != nil {
		logger.Warn("Nameday fetch failed", zap.Error(err))
		return namedayApology
	}
	return fmt.Sprintf("Today's name day: %s.", names)
}

func (x *Executor) joke(ctx context.Context) string {
	joke, err := x.deps.External.Joke(ctx)
	if err != nil || joke == "" {
		return jokeApology
	}
	return joke
}

func payloadString(doc zilliz.Document, key string) string {
	switch v := doc.Payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func payloadBool(doc zilliz.Document, key string) bool {
	switch v := doc.Payload[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "true" || v == "1"
	}
	return false
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
