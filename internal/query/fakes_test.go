package query

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trackbot/backend/internal/external"
	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/internal/vector/zilliz"
)

type fakeStore struct {
	projects     []string
	requirements []models.NewRequirement
	defects      []models.NewDefect
	createErr    error
	history      []*models.ChatRecord
}

func (f *fakeStore) ProjectNames(context.Context) ([]string, error) {
	return f.projects, nil
}

func (f *fakeStore) CreateRequirement(_ context.Context, req models.NewRequirement) (*models.Requirement, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.requirements = append(f.requirements, req)
	return &models.Requirement{GroupID: "REQ-0000AAAA", ProjectName: req.ProjectName, Title: req.Title}, nil
}

func (f *fakeStore) CreateDefect(_ context.Context, req models.NewDefect) (*models.Defect, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.defects = append(f.defects, req)
	return &models.Defect{ID: "DEF-0000BBBB", ProjectName: req.ProjectName, Title: req.Title}, nil
}

func (f *fakeStore) InsertChatRecord(_ context.Context, record *models.ChatRecord) error {
	f.history = append(f.history, record)
	return nil
}

type fakeIndex struct {
	docs      []zilliz.Document
	err       error
	lastTopK  int
	lastQuery zilliz.Filter
}

func (f *fakeIndex) matching(filter zilliz.Filter) []zilliz.Document {
	var out []zilliz.Document
	for _, d := range f.docs {
		if filter.Type != "" && d.Type != filter.Type ||
			filter.Project != "" && d.Project != filter.Project ||
			filter.ItemID != "" && d.ItemID != filter.ItemID ||
			filter.Title != "" && d.Title != filter.Title {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, d.Status) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (f *fakeIndex) Scroll(_ context.Context, filter zilliz.Filter, limit int) ([]zilliz.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastQuery = filter
	docs := f.matching(filter)
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (f *fakeIndex) Count(_ context.Context, filter zilliz.Filter) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.lastQuery = filter
	return len(f.matching(filter)), nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, topK int, filter zilliz.Filter) ([]zilliz.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastTopK, f.lastQuery = topK, filter
	var out []zilliz.SearchResult
	for _, d := range f.matching(filter) {
		if len(out) == topK {
			break
		}
		out = append(out, zilliz.SearchResult{Document: d, Score: 0.9})
	}
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fakeGenerator struct {
	prompts []string
	err     error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return "generated answer", nil
}

type fakeExternal struct {
	err error
}

func (f fakeExternal) Weather(_ context.Context, city string) (*external.Weather, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &external.Weather{City: city, Country: "Czechia", Temperature: 21.4, WindSpeed: 9.6, Code: 0}, nil
}

func (f fakeExternal) Nameday(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Tereza", nil
}

func (f fakeExternal) Joke(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "a joke", nil
}

type fakeSyncer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSyncer) RunAfter(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
}

type fakeClassifier struct {
	response string
	err      error
}

func (f fakeClassifier) Classify(context.Context, string) (string, error) {
	return f.response, f.err
}

var errUpstream = errors.New("upstream failed")

func defectDoc(id, project, status string) zilliz.Document {
	return zilliz.Document{ID: "fp-" + id, Type: models.KindDefect, ItemID: id, Project: project, Status: status, Title: "Defect " + id}
}

func releaseDoc(id, project, name, date string, current bool) zilliz.Document {
	return zilliz.Document{
		ID: "fp-" + id, Type: models.KindRelease, ItemID: id, Project: project, Title: name,
		Payload: map[string]any{"release_date": date, "is_current": current, "version": name},
	}
}

type fixture struct {
	store     *fakeStore
	index     *fakeIndex
	generator *fakeGenerator
	syncer    *fakeSyncer
	executor  *Executor
}

func newFixture(docs ...zilliz.Document) *fixture {
	f := &fixture{
		store:     &fakeStore{projects: []string{"crm-project", "sales-app"}},
		index:     &fakeIndex{docs: docs},
		generator: &fakeGenerator{},
		syncer:    &fakeSyncer{},
	}
	f.executor = NewExecutor(Deps{
		Store:     f.store,
		Index:     f.index,
		Embedder:  fakeEmbedder{},
		Generator: f.generator,
		External:  fakeExternal{},
		Syncer:    f.syncer,
	}, Options{DefaultCity: "Prague", CreateDelay: time.Second})
	return f
}
