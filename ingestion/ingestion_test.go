package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/survey-agent/artifact"
	"github.com/fabfab/survey-agent/embeddings"
	"github.com/fabfab/survey-agent/retrieval"
)

// keywordEmbedder places texts on one axis per keyword.
type keywordEmbedder struct{ calls int }

var keywords = []string{"cake", "reading", "math"}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		v := make([]float32, len(keywords)+1)
		for j, w := range keywords {
			v[j] = float32(strings.Count(lower, w))
		}
		v[len(keywords)] = 0.1
		out[i] = v
	}
	return out, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestChunkMarkdownRespectsOverlap(t *testing.T) {
	text := "# Title\n\n" +
		"Paragraph one." +
		"\n\n" +
		"Paragraph two is quite a bit longer than the first paragraph and should trigger a split." +
		"\n\n" +
		"Paragraph three." +
		"\n\n" +
		"Paragraph four."

	chunks := ChunkMarkdown(text, 50, 10)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.NotEqual(t, chunks[0], chunks[1])
	for i := 1; i < len(chunks); i++ {
		assert.NotEqual(t, chunks[i-1], chunks[i], "duplicate chunk %d", i)
	}
	assert.Empty(t, ChunkMarkdown("\n\n", 100, 20))
}

func TestExtractors(t *testing.T) {
	assert.Equal(t, "Heading One", ExtractTitle("Some intro\n# Heading One\nMore text", "fallback"))
	assert.Equal(t, "fallback", ExtractTitle("no heading", "fallback"))
	assert.Equal(t, []string{"Results", "Method"}, ExtractTopics("# T\n## Results\ntext\n## Method"))
	assert.Equal(t, "https://www.youtube.com/watch?v=2D1RnQhyAZU",
		ExtractSource("# Talk\nSOURCE: https://www.youtube.com/watch?v=2D1RnQhyAZU\n\ntext", "talk.md"))
	assert.Equal(t, "talk.md", ExtractSource("# Talk\n\ntext", "talk.md"))
}

func TestParseFormats(t *testing.T) {
	doc, err := Parse(context.Background(), "notes/report.md", []byte("# PIRLS Report\nSource: https://pirls2021.org\n\n## Results\n\nGirls outperformed boys."))
	require.NoError(t, err)
	assert.Equal(t, "PIRLS Report", doc.Title)
	assert.Equal(t, "https://pirls2021.org", doc.Source)
	assert.Equal(t, FormatMarkdown, doc.Format)
	assert.Equal(t, []string{"Results"}, doc.Topics)
	assert.NotEmpty(t, doc.Chunks)

	doc, err = Parse(context.Background(), "data/scores.csv", []byte("Country,Score\nPoland,549\nIreland,577\n"))
	require.NoError(t, err)
	assert.Equal(t, "data/scores.csv", doc.Source)
	assert.Equal(t, []string{"Country", "Score"}, doc.Topics)
	require.Len(t, doc.Chunks, 1)
	assert.Contains(t, doc.Chunks[0], "Row 2\nCountry: Ireland\nScore: 577")

	doc, err = Parse(context.Background(), "transcript.txt", []byte("\r\nWelcome to the talk\r\n\r\nReading matters."))
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the talk", doc.Title)

	_, err = Parse(context.Background(), "image.png", []byte{0x89})
	require.Error(t, err)

	_, err = Parse(context.Background(), "broken.pdf", []byte("not a pdf"))
	require.Error(t, err)
}

func TestIngestDirectoryMissingEmbedder(t *testing.T) {
	svc := NewService(Options{})
	_, err := svc.IngestDirectory(context.Background(), t.TempDir())
	require.Error(t, err)
}

func TestIngestDirectoryMissingDir(t *testing.T) {
	svc := NewService(Options{Embedder: &keywordEmbedder{}})
	_, err := svc.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

// The export written here is what the chromem retriever serves after
// bootstrapping it from the artifact store.
func TestIngestPublishAndRetrieve(t *testing.T) {
	data := t.TempDir()
	writeFile(t, data, "baking.md", "# Baking at home\nSource: https://example.org/baking\n\nParents bake a cake with their children.")
	writeFile(t, data, "talks/reading.md", "# Reading talk\nSource: https://www.youtube.com/watch?v=2D1RnQhyAZU\n\nReading for fun declined since 2016.")
	writeFile(t, data, "math.txt", "Math is not part of PIRLS.")
	writeFile(t, data, "empty.md", "\n\n")
	writeFile(t, data, "ignored.png", "binary")

	embedder := &keywordEmbedder{}
	export := filepath.Join(t.TempDir(), "out", retrieval.ExportFileName("pirls_2021"))
	svc := NewService(Options{Embedder: embedder, Collection: "pirls_2021", ExportPath: export})

	report, err := svc.IngestDirectory(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, Report{Documents: 3, Chunks: 3, Skipped: 1}, report)
	require.FileExists(t, export)

	store := artifact.NewMemoryStore("survey-assets")
	name, err := svc.Publish(context.Background(), store, "rag/collections_2/")
	require.NoError(t, err)
	assert.Equal(t, "rag/collections_2/pirls_2021.gob.gz", name)

	cache := t.TempDir()
	boot := retrieval.NewBootstrapper(store, "rag/collections_2", cache, []string{name}, nil)
	r := retrieval.NewChromemRetriever(boot, "pirls_2021", embeddings.ChromemFunc(embedder), nil)

	passages, err := r.Retrieve(context.Background(), "cake", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "https://example.org/baking", passages[0].Source)
	assert.Contains(t, passages[0].Content, "bake a cake")
	assert.Equal(t, 1, passages[0].Rank)

	passages, err = r.Retrieve(context.Background(), "reading", 10)
	require.NoError(t, err)
	require.Len(t, passages, 3)
	assert.Equal(t, "https://www.youtube.com/watch?v=2D1RnQhyAZU", passages[0].Source)
}

func TestPublishWithoutExport(t *testing.T) {
	svc := NewService(Options{Embedder: &keywordEmbedder{}})
	_, err := svc.Publish(context.Background(), artifact.NewMemoryStore("b"), "rag")
	require.Error(t, err)
}
