// Package pipeline answers one survey question end to end: retrieval,
// augmentation, the crew run, section synthesis, chart rendering and
// assembly of the final markdown document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fabfab/survey-agent/artifact"
	"github.com/fabfab/survey-agent/crew"
	"github.com/fabfab/survey-agent/logging"
	"github.com/fabfab/survey-agent/metrics"
	"github.com/fabfab/survey-agent/retrieval"
	"github.com/fabfab/survey-agent/synth"
)

// ErrEmptyPrompt is returned by Run for a blank question.
var ErrEmptyPrompt = errors.New("prompt is empty")

const (
	DefaultTopK             = 20
	DefaultSynthesisTimeout = 90 * time.Second
)

type Orchestrator interface {
	Run(ctx context.Context, input string) (crew.StepResult, error)
}

type Synthesizer interface {
	Short(ctx context.Context, query, answer string) (string, error)
	Complex(ctx context.Context, query, answer string) (string, error)
	Chart(ctx context.Context, query, answer string) (synth.ChartCode, error)
	Joke(ctx context.Context, query, answer string) (string, error)
}

type ChartRenderer interface {
	Render(ctx context.Context, code string) (string, error)
}

// Options wires a Pipeline. Catalog, Renderer, Rand and Metrics are optional.
type Options struct {
	Retriever        retrieval.Retriever
	Catalog          retrieval.SourceCatalog
	Normalization    retrieval.Normalization
	Crew             Orchestrator
	Synthesizer      Synthesizer
	Renderer         ChartRenderer
	Store            artifact.Store
	TopK             int
	SynthesisTimeout time.Duration
	Rand             *rand.Rand
	Metrics          *metrics.Metrics
	Logger           *logging.Logger
}

type Pipeline struct {
	retriever retrieval.Retriever
	catalog   retrieval.SourceCatalog
	norm      retrieval.Normalization
	crew      Orchestrator
	synth     Synthesizer
	renderer  ChartRenderer
	store     artifact.Store
	topK      int
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *logging.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Retriever == nil:
		return nil, fmt.Errorf("pipeline: retriever is required")
	case opts.Crew == nil:
		return nil, fmt.Errorf("pipeline: crew is required")
	case opts.Synthesizer == nil:
		return nil, fmt.Errorf("pipeline: synthesizer is required")
	case opts.Store == nil:
		return nil, fmt.Errorf("pipeline: artifact store is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.SynthesisTimeout <= 0 {
		opts.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Normalization.Content == nil && opts.Normalization.SourceTitles == nil {
		opts.Normalization = retrieval.DefaultNormalization()
	}
	return &Pipeline{
		retriever: opts.Retriever,
		catalog:   opts.Catalog,
		norm:      opts.Normalization,
		crew:      opts.Crew,
		synth:     opts.Synthesizer,
		renderer:  opts.Renderer,
		store:     opts.Store,
		topK:      opts.TopK,
		timeout:   opts.SynthesisTimeout,
		metrics:   opts.Metrics,
		log:       opts.Logger.With("component", "pipeline"),
		rand:      opts.Rand,
	}, nil
}

// Run answers prompt with a markdown document. Only an empty prompt, an
// unavailable index or a failed crew abort the run; every other failure
// drops or degrades a single section.
func (p *Pipeline) Run(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	doc, err := p.run(ctx, prompt)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		outcome = "empty_prompt"
	case errors.Is(err, retrieval.ErrRetrievalUnavailable):
		outcome = "retrieval_unavailable"
	case errors.Is(err, crew.ErrOrchestration):
		outcome = "orchestration_failed"
	case err != nil:
		outcome = "error"
	}
	p.metrics.PipelineRun(outcome, time.Since(start))
	if err != nil {
		p.log.Error("pipeline run failed", "outcome", outcome, "error", err)
		return "", err
	}
	p.log.Info("pipeline run finished", "elapsed", time.Since(start))
	return doc, nil
}

func (p *Pipeline) run(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	passages, err := p.retriever.Retrieve(ctx, prompt, p.topK)
	if err != nil {
		return "", fmt.Errorf("retrieve passages: %w", err)
	}
	p.log.Debug("passages retrieved", "count", len(passages))

	augmented := retrieval.Augment(prompt, passages, p.normalization(ctx, passages))

	result, err := p.crew.Run(ctx, augmented)
	if err != nil {
		return "", fmt.Errorf("run crew: %w", err)
	}
	var firstStep string
	if len(result.StepOutputs) > 0 {
		firstStep = result.StepOutputs[0].Raw
	}

	doc := p.synthesize(ctx, prompt, result.Raw, firstStep)
	doc.BannerURL = p.store.URL(artifact.BannerName)
	return Assemble(doc), nil
}

// normalization adds catalog titles for the retrieved sources. A failing
// catalog only costs the titles.
func (p *Pipeline) normalization(ctx context.Context, passages []retrieval.Passage) retrieval.Normalization {
	if p.catalog == nil || len(passages) == 0 {
		return p.norm
	}
	titles, err := p.catalog.Titles(ctx, retrieval.Sources(passages))
	if err != nil {
		p.log.Warn("source catalog lookup failed", "error", err)
		return p.norm
	}
	return p.norm.WithTitles(titles)
}

// synthesize fans the section synthesizers out under one shared timeout,
// then renders the chart with the renderer's own budget.
func (p *Pipeline) synthesize(ctx context.Context, query, answer, firstStep string) Document {
	meme := p.pickMeme()

	synthCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var (
		doc      Document
		chart    synth.ChartCode
		chartErr error
		markdown string
	)

	g, gctx := errgroup.WithContext(synthCtx)
	g.Go(func() error {
		text, err := p.synth.Short(gctx, query, answer)
		p.degraded(SectionShort, err)
		doc.Short = textOutcome(SectionShort, text)
		return nil
	})
	g.Go(func() error {
		text, err := p.synth.Complex(gctx, query, answer)
		p.degraded(SectionComplex, err)
		doc.Details = textOutcome(SectionComplex, text)
		return nil
	})
	g.Go(func() error {
		chart, chartErr = p.synth.Chart(gctx, query, answer)
		return nil
	})
	g.Go(func() error {
		if md := synth.ExtractMarkdown(firstStep); md != synth.NoChartData {
			markdown = md
		}
		return nil
	})
	if meme > 0 {
		doc.Fun = Outcome{Section: Section{Kind: SectionMeme, URL: p.store.URL(artifact.MemeName(meme))}}
	} else {
		g.Go(func() error {
			text, err := p.synth.Joke(gctx, query, answer)
			p.degraded(SectionJoke, err)
			doc.Fun = textOutcome(SectionJoke, text)
			return nil
		})
	}
	_ = g.Wait()

	doc.Chart = p.chart(ctx, chart, chartErr, markdown)
	for _, o := range []Outcome{doc.Short, doc.Details, doc.Chart, doc.Fun} {
		if o.Skip != nil {
			p.metrics.SectionSkipped(string(o.Section.Kind))
		}
	}
	return doc
}

func (p *Pipeline) chart(ctx context.Context, code synth.ChartCode, err error, markdown string) Outcome {
	switch {
	case err != nil:
		p.log.Warn("chart synthesis failed", "error", err)
		return skipped(SectionChart, err)
	case code.NoData:
		return skipped(SectionChart, ErrNoChartData)
	case strings.TrimSpace(code.Code) == "":
		return skipped(SectionChart, errEmptySection)
	case p.renderer == nil:
		return skipped(SectionChart, errors.New("no chart renderer configured"))
	}

	url, err := p.renderer.Render(ctx, code.Code)
	if err != nil {
		p.log.Warn("chart omitted", "error", err)
		return skipped(SectionChart, err)
	}
	return Outcome{Section: Section{Kind: SectionChart, Code: code.Code, Markdown: markdown, URL: url}}
}

func (p *Pipeline) degraded(kind SectionKind, err error) {
	if err != nil {
		p.log.Warn("section degraded", "section", string(kind), "error", err)
	}
}

// pickMeme flips the fun-section coin. It returns a meme number in
// 1..artifact.MemeCount, or 0 when the section should be a joke.
func (p *Pipeline) pickMeme() int {
	p.randMu.Lock()
	defer p.randMu.Unlock()
	if p.rand.Float64() < 0.5 {
		return p.rand.Intn(artifact.MemeCount) + 1
	}
	return 0
}
