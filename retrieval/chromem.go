package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/fabfab/survey-agent/logging"
)

// ChromemRetriever answers queries from the chromem export mirrored by a
// Bootstrapper. The index is loaded on first use.
type ChromemRetriever struct {
	boot       *Bootstrapper
	collection string
	embed      chromem.EmbeddingFunc
	log        *logging.Logger

	mu  sync.Mutex
	col *chromem.Collection
}

func NewChromemRetriever(boot *Bootstrapper, collection string, embed chromem.EmbeddingFunc, logger *logging.Logger) *ChromemRetriever {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ChromemRetriever{boot: boot, collection: collection, embed: embed, log: logger}
}

func (r *ChromemRetriever) Retrieve(ctx context.Context, prompt string, k int) ([]Passage, error) {
	col, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 20
	}
	if n := col.Count(); k > n {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, prompt, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrRetrievalUnavailable, r.collection, err)
	}

	passages := make([]Passage, 0, len(results))
	for i, res := range results {
		passages = append(passages, Passage{
			Content: res.Content,
			Source:  res.Metadata["source"],
			Rank:    i + 1,
		})
	}
	r.log.Debug("passages retrieved", "collection", r.collection, "count", len(passages))
	return passages, nil
}

func (r *ChromemRetriever) open(ctx context.Context) (*chromem.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.col != nil {
		return r.col, nil
	}
	if err := r.boot.Ensure(ctx); err != nil {
		return nil, err
	}

	exportPath := filepath.Join(r.boot.Dir(), ExportFileName(r.collection))
	db := chromem.NewDB()
	if err := db.Import(exportPath, ""); err != nil {
		return nil, fmt.Errorf("%w: import %s: %w", ErrRetrievalUnavailable, exportPath, err)
	}

	col := db.GetCollection(r.collection, r.embed)
	if col == nil {
		return nil, fmt.Errorf("%w: collection %q not found in %s", ErrRetrievalUnavailable, r.collection, exportPath)
	}
	r.col = col
	return col, nil
}

var _ Retriever = (*ChromemRetriever)(nil)
