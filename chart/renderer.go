// Package chart runs model-written plotting code in a sandbox, rasterises the
// figure it draws and publishes the PNG to the artifact store.
package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/survey-agent/artifact"
	"github.com/fabfab/survey-agent/logging"
)

// ErrRenderFailed wraps every failure of Render.
var ErrRenderFailed = errors.New("chart render failed")

const DefaultTimeout = 10 * time.Second

type Renderer struct {
	store   artifact.Store
	timeout time.Duration
	log     *logging.Logger
}

func NewRenderer(store artifact.Store, timeout time.Duration, logger *logging.Logger) *Renderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{store: store, timeout: timeout, log: logger.With("component", "chart")}
}

// Render executes code, draws the resulting figure and uploads it, returning
// the public URL of the image.
func (r *Renderer) Render(ctx context.Context, code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("%w: no chart code", ErrRenderFailed)
	}

	fig := NewFigure()
	defer fig.Close()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	if err := execute(runCtx, code, fig); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	if err := fig.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	png, err := rasterize(fig)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}

	name := NewObjectName()
	url, err := r.store.Put(ctx, name, artifact.ContentPNG, bytes.NewReader(png))
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", ErrRenderFailed, name, err)
	}
	r.log.Info("chart rendered", "name", name, "bytes", len(png), "elapsed", time.Since(start))
	return url, nil
}

// NewObjectName returns a fresh 32-character alphanumeric PNG name.
func NewObjectName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ".png"
}
