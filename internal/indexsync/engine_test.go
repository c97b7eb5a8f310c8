package indexsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackbot/backend/internal/llm"
	"github.com/trackbot/backend/internal/storage/models"
	"github.com/trackbot/backend/internal/vector/zilliz"
	"github.com/trackbot/backend/pkg/retry"
)

type fakeSource struct {
	snap Snapshot
	err  error
}

func (f *fakeSource) ListRequirements(context.Context) ([]models.Requirement, error) {
	return f.snap.Requirements, f.err
}

func (f *fakeSource) ListDefects(context.Context) ([]models.Defect, error) {
	return f.snap.Defects, nil
}

func (f *fakeSource) ListNotes(context.Context) ([]models.Note, error) {
	return f.snap.Notes, nil
}

func (f *fakeSource) ListRetroItems(context.Context) ([]models.RetroItem, error) {
	return f.snap.RetroItems, nil
}

func (f *fakeSource) ListReleases(context.Context) ([]models.Release, error) {
	return f.snap.Releases, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
	dim   int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

type fakeIndex struct {
	ops     []string
	batches [][]zilliz.Document
	dim     int
	metric  zilliz.Metric
}

func (f *fakeIndex) DropCollection(context.Context) error {
	f.ops = append(f.ops, "drop")
	f.batches = nil
	return nil
}

func (f *fakeIndex) CreateCollection(_ context.Context, dim int, metric zilliz.Metric) error {
	f.ops = append(f.ops, "create")
	f.dim, f.metric = dim, metric
	return nil
}

func (f *fakeIndex) CreatePayloadIndex(_ context.Context, field string) error {
	f.ops = append(f.ops, "index:"+field)
	return nil
}

func (f *fakeIndex) Load(context.Context) error {
	f.ops = append(f.ops, "load")
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, docs []zilliz.Document) error {
	f.ops = append(f.ops, "upsert")
	f.batches = append(f.batches, docs)
	return nil
}

func (f *fakeIndex) ids() []string {
	var ids []string
	for _, b := range f.batches {
		for _, d := range b {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func noWait(int) time.Duration { return 0 }

func sampleSnapshot() Snapshot {
	return Snapshot{
		Requirements: []models.Requirement{
			{GroupID: "REQ-1", ProjectName: "crm-project", Title: "Login", Status: "in_progress"},
		},
		Defects: []models.Defect{
			{ID: "DEF-1", ProjectName: "crm-project", Title: "Crash", Status: "open"},
			{ID: "DEF-2", ProjectName: "crm-project", Title: "Typo", Status: "closed"},
		},
		Notes:      []models.Note{{ID: "n1", ProjectName: "crm-project", Title: "Kickoff", Content: "<p>hello</p>"}},
		RetroItems: []models.RetroItem{{ID: "r1", ProjectName: "crm-project", Category: "went well"}},
		Releases: []models.Release{
			{ID: "rel-1", ProjectName: "crm-project", Name: "1.0", ReleaseDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestRebuildOrdering(t *testing.T) {
	index := &fakeIndex{}
	e := NewEngine(&fakeSource{snap: sampleSnapshot()}, &fakeEmbedder{dim: 8}, index, WithDimension(8))

	n, err := e.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	assert.Equal(t, []string{
		"drop", "create",
		"index:project", "index:doc_type", "index:status", "index:title",
		"load", "upsert",
	}, index.ops)
	assert.Equal(t, 8, index.dim)
	assert.Equal(t, zilliz.MetricCosine, index.metric)
}

func TestRebuildIsIdempotent(t *testing.T) {
	index := &fakeIndex{}
	e := NewEngine(&fakeSource{snap: sampleSnapshot()}, &fakeEmbedder{dim: 4}, index, WithDimension(4))

	_, err := e.Rebuild(context.Background())
	require.NoError(t, err)
	first := index.ids()

	_, err = e.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, index.ids())
	assert.Len(t, first, 6)
}

func TestRebuildBatches(t *testing.T) {
	var snap Snapshot
	for i := 0; i < 250; i++ {
		snap.Defects = append(snap.Defects, models.Defect{ID: fmt.Sprintf("DEF-%03d", i), ProjectName: "p"})
	}
	index := &fakeIndex{}
	embedder := &fakeEmbedder{dim: 2}
	e := NewEngine(&fakeSource{snap: snap}, embedder, index, WithDimension(2))

	n, err := e.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	require.Len(t, index.batches, 3)
	assert.Len(t, index.batches[0], 100)
	assert.Len(t, index.batches[1], 100)
	assert.Len(t, index.batches[2], 50)
	assert.Equal(t, 3, embedder.calls)
	assert.Equal(t, "DEF-000", index.batches[0][0].ItemID)
	assert.Equal(t, "DEF-249", index.batches[2][49].ItemID)
}

func TestEmbedRetriesExactlyFiveTimes(t *testing.T) {
	embedder := &fakeEmbedder{err: fmt.Errorf("embeddings: %w", llm.ErrRateLimited)}
	index := &fakeIndex{}
	e := NewEngine(&fakeSource{snap: sampleSnapshot()}, embedder, index, WithBackoff(noWait))

	_, err := e.Rebuild(context.Background())
	require.Error(t, err)
	assert.Equal(t, 5, embedder.calls)
	assert.ErrorIs(t, err, llm.ErrRateLimited)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Empty(t, index.batches)
}

func TestEmbedDoesNotRetryOtherErrors(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("invalid input")}
	e := NewEngine(&fakeSource{snap: sampleSnapshot()}, embedder, &fakeIndex{}, WithBackoff(noWait))

	_, err := e.Rebuild(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, embedder.calls)
}

func TestRebuildSourceFailureLeavesIndexAlone(t *testing.T) {
	index := &fakeIndex{}
	e := NewEngine(&fakeSource{err: errors.New("db locked")}, &fakeEmbedder{}, index)

	_, err := e.Rebuild(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requirements")
	assert.Empty(t, index.ops)
}

func TestRebuildEmptySource(t *testing.T) {
	index := &fakeIndex{}
	embedder := &fakeEmbedder{}
	e := NewEngine(&fakeSource{}, embedder, index)

	n, err := e.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, embedder.calls)
	assert.Contains(t, index.ops, "load")
}
