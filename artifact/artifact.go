// Package artifact stores the binary artifacts the pipeline publishes and
// consumes: rendered charts, banner and meme images, and the retrieval index.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by Get for a missing object.
var ErrNotFound = errors.New("artifact not found")

const (
	BannerName  = "img/insighted_banner.jpg"
	MemeCount   = 8
	ContentPNG  = "image/png"
	ContentJPEG = "image/jpeg"
)

// Store is durable, publicly addressable object storage.
type Store interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	URL(name string) string
}

// MemeName is the object name of meme n, counted from 1.
func MemeName(n int) string {
	return fmt.Sprintf("img/insighted_meme_%d.png", n)
}
