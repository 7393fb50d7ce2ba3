package retrieval

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fabfab/survey-agent/logging"
)

// Chroma segment of the published collection.
const chromaSegment = "7b08d22f-fe86-4bfe-a546-051e34289f4b"

// ObjectSource reads named objects from durable storage.
type ObjectSource interface {
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}

// DefaultManifest lists the artifacts published under prefix: the Chroma
// segment files, the Chroma catalog and the chromem export of collection.
func DefaultManifest(prefix, collection string) []string {
	prefix = strings.TrimSuffix(prefix, "/")
	files := []string{
		path.Join(prefix, chromaSegment, "length.bin"),
		path.Join(prefix, chromaSegment, "link_lists.bin"),
		path.Join(prefix, chromaSegment, "data_level0.bin"),
		path.Join(prefix, chromaSegment, "header.bin"),
		path.Join(prefix, "chroma.sqlite3"),
	}
	return append(files, path.Join(prefix, ExportFileName(collection)))
}

// ExportFileName is the name of the gzipped chromem export of a collection.
func ExportFileName(collection string) string {
	return collection + ".gob.gz"
}

// Bootstrapper mirrors the index artifacts into a local directory. Artifacts
// already present are skipped. Each download lands in a temp file that is
// renamed into place, so concurrent processes never observe partial files.
type Bootstrapper struct {
	source   ObjectSource
	prefix   string
	dir      string
	manifest []string
	log      *logging.Logger

	mu   sync.Mutex
	done bool
}

func NewBootstrapper(source ObjectSource, prefix, dir string, manifest []string, logger *logging.Logger) *Bootstrapper {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bootstrapper{
		source:   source,
		prefix:   strings.TrimSuffix(prefix, "/"),
		dir:      dir,
		manifest: manifest,
		log:      logger,
	}
}

// Dir is the local directory the artifacts are mirrored into.
func (b *Bootstrapper) Dir() string {
	return b.dir
}

// Ensure downloads missing artifacts. A successful run is remembered; a
// failed one is retried on the next call.
func (b *Bootstrapper) Ensure(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return nil
	}

	for _, name := range b.manifest {
		local := b.LocalPath(name)
		if _, err := os.Stat(local); err == nil {
			continue
		}
		if err := b.fetch(ctx, name, local); err != nil {
			return fmt.Errorf("%w: bootstrap %s: %w", ErrRetrievalUnavailable, name, err)
		}
		b.log.Info("index artifact downloaded", "name", name, "path", local)
	}

	b.done = true
	return nil
}

// LocalPath maps an object name to its location under the cache directory.
func (b *Bootstrapper) LocalPath(name string) string {
	rel := strings.TrimPrefix(strings.TrimPrefix(name, b.prefix), "/")
	return filepath.Join(b.dir, filepath.FromSlash(rel))
}

func (b *Bootstrapper) fetch(ctx context.Context, name, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	rc, err := b.source.Get(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), filepath.Base(local)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, local)
}
