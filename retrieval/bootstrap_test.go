package retrieval

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubObjects struct {
	mu      sync.Mutex
	objects map[string]string
	calls   map[string]int
	fail    error
}

func newStubObjects(objects map[string]string) *stubObjects {
	return &stubObjects{objects: objects, calls: map[string]int{}}
}

func (s *stubObjects) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	if s.fail != nil {
		return nil, s.fail
	}
	body, ok := s.objects[name]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestDefaultManifest(t *testing.T) {
	got := DefaultManifest("rag/collections_2/", "pirls_2021")
	assert.Equal(t, []string{
		"rag/collections_2/7b08d22f-fe86-4bfe-a546-051e34289f4b/length.bin",
		"rag/collections_2/7b08d22f-fe86-4bfe-a546-051e34289f4b/link_lists.bin",
		"rag/collections_2/7b08d22f-fe86-4bfe-a546-051e34289f4b/data_level0.bin",
		"rag/collections_2/7b08d22f-fe86-4bfe-a546-051e34289f4b/header.bin",
		"rag/collections_2/chroma.sqlite3",
		"rag/collections_2/pirls_2021.gob.gz",
	}, got)
}

func TestBootstrapperDownloadsOnce(t *testing.T) {
	dir := t.TempDir()
	manifest := []string{"rag/c/seg/header.bin", "rag/c/chroma.sqlite3"}
	src := newStubObjects(map[string]string{
		"rag/c/seg/header.bin":  "header",
		"rag/c/chroma.sqlite3": "catalog",
	})
	boot := NewBootstrapper(src, "rag/c", dir, manifest, nil)

	require.NoError(t, boot.Ensure(context.Background()))
	require.NoError(t, boot.Ensure(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "seg", "header.bin"))
	require.NoError(t, err)
	assert.Equal(t, "header", string(data))
	assert.Equal(t, 1, src.calls["rag/c/seg/header.bin"])

	leftovers, err := filepath.Glob(filepath.Join(dir, "seg", "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBootstrapperSkipsExistingArtifacts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chroma.sqlite3"), []byte("local"), 0o644))

	src := newStubObjects(map[string]string{"rag/c/chroma.sqlite3": "remote"})
	boot := NewBootstrapper(src, "rag/c", dir, []string{"rag/c/chroma.sqlite3"}, nil)
	require.NoError(t, boot.Ensure(context.Background()))

	assert.Zero(t, src.calls["rag/c/chroma.sqlite3"])
	data, _ := os.ReadFile(filepath.Join(dir, "chroma.sqlite3"))
	assert.Equal(t, "local", string(data))
}

func TestBootstrapperRetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	src := newStubObjects(map[string]string{"rag/c/chroma.sqlite3": "remote"})
	src.fail = errors.New("bucket unreachable")
	boot := NewBootstrapper(src, "rag/c", dir, []string{"rag/c/chroma.sqlite3"}, nil)

	err := boot.Ensure(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
	assert.ErrorIs(t, err, src.fail)

	src.fail = nil
	require.NoError(t, boot.Ensure(context.Background()))
	assert.Equal(t, 2, src.calls["rag/c/chroma.sqlite3"])
}

func TestBootstrapperConcurrentEnsure(t *testing.T) {
	dir := t.TempDir()
	src := newStubObjects(map[string]string{"rag/c/chroma.sqlite3": "remote"})
	boot := NewBootstrapper(src, "rag/c", dir, []string{"rag/c/chroma.sqlite3"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, boot.Ensure(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, src.calls["rag/c/chroma.sqlite3"])
}

func axisEmbedding(ctx context.Context, text string) ([]float32, error) {
	switch {
	case strings.Contains(text, "gender"):
		return []float32{0.1, 1, 0}, nil
	default:
		return []float32{1, 0.1, 0}, nil
	}
}

func writeExport(t *testing.T, dir string) {
	t.Helper()
	db := chromem.NewDB()
	col, err := db.CreateCollection("pirls_2021", nil, axisEmbedding)
	require.NoError(t, err)
	require.NoError(t, col.AddDocuments(context.Background(), []chromem.Document{
		{ID: "1", Content: "Reading scores by country", Metadata: map[string]string{"source": "https://pirls2021.org/results"}, Embedding: []float32{1, 0, 0}},
		{ID: "2", Content: "Girls outperformed boys", Metadata: map[string]string{"source": "https://www.youtube.com/watch?v=2D1RnQhyAZU"}, Embedding: []float32{0, 1, 0}},
		{ID: "3", Content: "School resources", Metadata: map[string]string{"source": "https://www.iea.nl"}, Embedding: []float32{0, 0, 1}},
	}, 1))
	require.NoError(t, db.Export(filepath.Join(dir, ExportFileName("pirls_2021")), true, ""))
}

func TestChromemRetrieverRanksPassages(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir)

	src := newStubObjects(nil)
	boot := NewBootstrapper(src, "rag/c", dir, DefaultManifest("rag/c", "pirls_2021")[5:], nil)
	r := NewChromemRetriever(boot, "pirls_2021", axisEmbedding, nil)

	passages, err := r.Retrieve(context.Background(), "differences by gender", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, Passage{Content: "Girls outperformed boys", Source: "https://www.youtube.com/watch?v=2D1RnQhyAZU", Rank: 1}, passages[0])
	assert.Equal(t, 2, passages[1].Rank)

	all, err := r.Retrieve(context.Background(), "scores", 20)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "Reading scores by country", all[0].Content)
}

func TestChromemRetrieverUnavailable(t *testing.T) {
	src := newStubObjects(nil)
	boot := NewBootstrapper(src, "rag/c", t.TempDir(), DefaultManifest("rag/c", "pirls_2021"), nil)
	r := NewChromemRetriever(boot, "pirls_2021", axisEmbedding, nil)

	_, err := r.Retrieve(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
}

func TestChromemRetrieverMissingCollection(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir)
	require.NoError(t, os.Rename(filepath.Join(dir, ExportFileName("pirls_2021")), filepath.Join(dir, ExportFileName("other"))))

	boot := NewBootstrapper(newStubObjects(nil), "rag/c", dir, nil, nil)
	r := NewChromemRetriever(boot, "other", axisEmbedding, nil)

	_, err := r.Retrieve(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
}
