package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/survey-agent/artifact"
	"github.com/fabfab/survey-agent/chart"
	"github.com/fabfab/survey-agent/crew"
	"github.com/fabfab/survey-agent/llm"
	"github.com/fabfab/survey-agent/retrieval"
	"github.com/fabfab/survey-agent/synth"
	"github.com/fabfab/survey-agent/tools"
)

// fixedSource makes the coin deterministic: Float64 returns v/2^63.
type fixedSource struct{ v int64 }

func (s fixedSource) Int63() int64 { return s.v }
func (s fixedSource) Seed(int64)   {}

func jokeCoin() *rand.Rand { return rand.New(fixedSource{v: 3 << 61}) }
func memeCoin() *rand.Rand { return rand.New(fixedSource{v: 1 << 61}) }

type stubRetriever struct {
	passages []retrieval.Passage
	err      error
	k        int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]retrieval.Passage, error) {
	s.k = k
	return s.passages, s.err
}

type stubCrew struct {
	result crew.StepResult
	err    error
	inputs []string
}

func (s *stubCrew) Run(_ context.Context, input string) (crew.StepResult, error) {
	s.inputs = append(s.inputs, input)
	return s.result, s.err
}

type stubSynth struct {
	short, complex, joke string
	chart                synth.ChartCode
	chartErr             error
	block                bool

	mu        sync.Mutex
	jokeCalls int
}

func (s *stubSynth) wait(ctx context.Context) error {
	if !s.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubSynth) Short(ctx context.Context, _, _ string) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	return s.short, nil
}

func (s *stubSynth) Complex(ctx context.Context, _, _ string) (string, error) {
	return s.complex, nil
}

func (s *stubSynth) Chart(ctx context.Context, _, _ string) (synth.ChartCode, error) {
	return s.chart, s.chartErr
}

func (s *stubSynth) Joke(ctx context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	s.jokeCalls++
	s.mu.Unlock()
	return s.joke, nil
}

type stubRenderer struct {
	url string
	err error
}

func (s stubRenderer) Render(context.Context, string) (string, error) { return s.url, s.err }

type stubCatalog struct {
	titles map[string]string
	err    error
}

func (s stubCatalog) Titles(context.Context, []string) (map[string]string, error) {
	return s.titles, s.err
}

const chartEmbed = "![Cake baking by country](https://survey-assets.storage.googleapis.com/4f1c2a.png)"

func defaultSynth() *stubSynth {
	return &stubSynth{
		short:   "🎂 Yes, you can!",
		complex: "**Baking** 🍰 is covered by home activity questions.",
		joke:    "*Why did the cake fail the test?* It was too *crumby*! 😂",
		chart:   synth.ChartCode{Code: `plt.Bar("share", []string{"a"}, []float64{1})`},
	}
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.Retriever == nil {
		opts.Retriever = &stubRetriever{passages: []retrieval.Passage{{Content: "PEARLS asks about home activities", Source: "https://pirls2021.org/results", Rank: 1}}}
	}
	if opts.Crew == nil {
		opts.Crew = &stubCrew{result: crew.StepResult{
			Raw:         "Yes. 63% of parents bake with their children.",
			StepOutputs: []crew.StepOutput{{Raw: "Chart: " + chartEmbed}, {Raw: "Yes. 63% of parents bake with their children."}},
		}}
	}
	if opts.Synthesizer == nil {
		opts.Synthesizer = defaultSynth()
	}
	if opts.Store == nil {
		opts.Store = artifact.NewMemoryStore("survey-assets")
	}
	if opts.Rand == nil {
		opts.Rand = jokeCoin()
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func TestRunJokeDocument(t *testing.T) {
	p := newTestPipeline(t, Options{Renderer: stubRenderer{url: "https://survey-assets.storage.googleapis.com/abc.png"}})

	doc, err := p.Run(context.Background(), "Is it possible to cook a cake?")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "![Banner](https://survey-assets.storage.googleapis.com/img/insighted_banner.jpg)"))
	assert.Contains(t, doc, shortHeading+"\n\n🎂 Yes, you can!")
	assert.Contains(t, doc, chartHeading+"\n\n"+chartEmbed+"\n\n"+`!["Lack of appropriate data for visualization purpose"](https://survey-assets.storage.googleapis.com/abc.png)`)
	assert.Contains(t, doc, detailsHeading+"\n\n**Baking**")
	assert.Contains(t, doc, jokeIntro)
	assert.Contains(t, doc, "too *crumby*")
	assert.NotContains(t, doc, memeIntro)

	order := []string{shortHeading, chartHeading, detailsHeading, funHeading}
	last := -1
	for _, heading := range order {
		idx := strings.Index(doc, heading)
		require.Greater(t, idx, last, heading)
		last = idx
	}
}

func TestRunMemeDocument(t *testing.T) {
	s := defaultSynth()
	p := newTestPipeline(t, Options{Synthesizer: s, Rand: memeCoin()})

	doc, err := p.Run(context.Background(), "Is it possible to cook a cake?")
	require.NoError(t, err)
	assert.Contains(t, doc, memeIntro+"\n\n![Meme](https://survey-assets.storage.googleapis.com/img/insighted_meme_1.png)")
	assert.NotContains(t, doc, jokeIntro)
	assert.Zero(t, s.jokeCalls)
}

func TestRunAugmentsPrompt(t *testing.T) {
	c := &stubCrew{result: crew.StepResult{Raw: "answer", StepOutputs: []crew.StepOutput{{Raw: "answer"}}}}
	r := &stubRetriever{passages: []retrieval.Passage{{Content: "PEARLS 2021", Source: "https://pirls2021.org/results", Rank: 1}}}
	p := newTestPipeline(t, Options{
		Retriever: r,
		Crew:      c,
		Catalog:   stubCatalog{titles: map[string]string{"https://pirls2021.org/results": "PIRLS 2021 Results"}},
		TopK:      7,
	})

	_, err := p.Run(context.Background(), "How did girls do?")
	require.NoError(t, err)
	require.Len(t, c.inputs, 1)
	assert.Equal(t, 7, r.k)
	assert.Contains(t, c.inputs[0], "Answer this query How did girls do?.")
	assert.Contains(t, c.inputs[0], `source: ["PIRLS 2021 Results"](https://pirls2021.org/results), content: PIRLS 2021`)
}

func TestRunIgnoresCatalogFailure(t *testing.T) {
	c := &stubCrew{result: crew.StepResult{Raw: "answer", StepOutputs: []crew.StepOutput{{Raw: "answer"}}}}
	p := newTestPipeline(t, Options{Crew: c, Catalog: stubCatalog{err: errors.New("neo4j down")}})

	_, err := p.Run(context.Background(), "How did girls do?")
	require.NoError(t, err)
	assert.Contains(t, c.inputs[0], "source: https://pirls2021.org/results, content: PIRLS asks")
}

func TestRunFailures(t *testing.T) {
	t.Run("empty prompt", func(t *testing.T) {
		p := newTestPipeline(t, Options{})
		_, err := p.Run(context.Background(), "  \n")
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	})

	t.Run("retrieval unavailable", func(t *testing.T) {
		c := &stubCrew{}
		p := newTestPipeline(t, Options{
			Retriever: &stubRetriever{err: retrieval.ErrRetrievalUnavailable},
			Crew:      c,
		})
		_, err := p.Run(context.Background(), "question")
		assert.ErrorIs(t, err, retrieval.ErrRetrievalUnavailable)
		assert.Empty(t, c.inputs)
	})

	t.Run("orchestration", func(t *testing.T) {
		p := newTestPipeline(t, Options{Crew: &stubCrew{err: crew.ErrOrchestration}})
		_, err := p.Run(context.Background(), "question")
		assert.ErrorIs(t, err, crew.ErrOrchestration)
	})
}

func TestChartOmitted(t *testing.T) {
	cases := map[string]Options{
		"no data":        {Synthesizer: &stubSynth{short: "s", complex: "c", joke: "j", chart: synth.ChartCode{NoData: true}}, Renderer: stubRenderer{url: "https://x/y.png"}},
		"render failure": {Renderer: stubRenderer{err: chart.ErrRenderFailed}},
		"no renderer":    {},
		"empty code":     {Synthesizer: &stubSynth{short: "s", complex: "c", joke: "j"}, Renderer: stubRenderer{url: "https://x/y.png"}},
		"chart error":    {Synthesizer: &stubSynth{short: "s", complex: "c", joke: "j", chartErr: errors.New("model down")}, Renderer: stubRenderer{url: "https://x/y.png"}},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestPipeline(t, opts)
			doc, err := p.Run(context.Background(), "question")
			require.NoError(t, err)
			assert.NotContains(t, doc, chartHeading)
			assert.NotContains(t, doc, "Lack of appropriate data")
			assert.Contains(t, doc, shortHeading)
			assert.Contains(t, doc, detailsHeading)
		})
	}
}

func TestSynthesisTimeoutDegradesOneSection(t *testing.T) {
	s := defaultSynth()
	s.block = true
	p := newTestPipeline(t, Options{Synthesizer: s, SynthesisTimeout: 50 * time.Millisecond})

	start := time.Now()
	doc, err := p.Run(context.Background(), "question")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Contains(t, doc, shortHeading+"\n\n"+detailsHeading)
	assert.Contains(t, doc, "**Baking**")
}

func TestAssembleSkipsSections(t *testing.T) {
	doc := Assemble(Document{
		Short:   textOutcome(SectionShort, "short"),
		Chart:   skipped(SectionChart, ErrNoChartData),
		Details: textOutcome(SectionComplex, "   "),
		Fun:     Outcome{Section: Section{Kind: SectionJoke, Text: "joke"}},
	})
	assert.Equal(t, shortHeading+"\n\nshort\n\n"+detailsHeading+"\n\n"+funHeading+"\n\n"+jokeIntro+"\n\njoke\n", doc)
}

// End to end with the real crew, synthesizers and chart renderer; only the
// model and the index are stubbed.
func TestRunWithRealComponents(t *testing.T) {
	def, err := crew.ParseDefinition([]byte(`
roles:
  data_scientist:
    role: Data Scientist
    goal: Visualise the data behind {{ .Question }}
    backstory: You plot survey data.
  lead_data_analyst:
    role: Lead Data Analyst
    goal: Answer survey questions.
    backstory: You lead the team.
tasks:
  - name: data_science_task
    description: "Prepare a chart for: {{ .Question }}"
    expected_output: Markdown with the chart.
    role: data_scientist
  - name: answer_question_task
    description: "Answer: {{ .Question }}"
    expected_output: The answer.
    role: lead_data_analyst
    context: [data_science_task]
`))
	require.NoError(t, err)

	model := &cakeModel{}
	c, err := crew.New(def, model, tools.NewRegistry(), nil)
	require.NoError(t, err)

	store := artifact.NewMemoryStore("survey-assets")
	p, err := New(Options{
		Retriever:   &stubRetriever{passages: []retrieval.Passage{{Content: "Early literacy activities include baking.", Source: "https://pirls2021.org/encyclopedia", Rank: 1}}},
		Crew:        c,
		Synthesizer: synth.New(model, nil),
		Renderer:    chart.NewRenderer(store, 0, nil),
		Store:       store,
		Rand:        jokeCoin(),
	})
	require.NoError(t, err)

	doc, err := p.Run(context.Background(), "Is it possible to cook a cake?")
	require.NoError(t, err)

	assert.Contains(t, doc, shortHeading+"\n\n🎂 Yes, cakes can be baked at home.")
	assert.Contains(t, doc, detailsHeading+"\n\n**Home activities** 🍰")
	assert.Contains(t, doc, chartEmbed)
	assert.Regexp(t, `\]\(https://survey-assets\.storage\.googleapis\.com/[0-9a-f]{32}\.png\)`, doc)
	assert.Equal(t, 1, strings.Count(doc, jokeIntro))
	assert.NotContains(t, doc, memeIntro)
	assert.Len(t, store.Names(), 1)
}

// cakeModel serves both the crew and the synthesizers.
type cakeModel struct{}

func (cakeModel) Complete(_ context.Context, messages []llm.Message, _ []llm.ToolDef) (llm.Message, error) {
	if strings.HasPrefix(messages[0].Content, "You are Data Scientist.") {
		return llm.Message{Role: llm.RoleAssistant, Content: "Here is the chart:\n" + chartEmbed}, nil
	}
	return llm.Message{Role: llm.RoleAssistant, Content: "Yes, 63% of parents report baking with their children."}, nil
}

func (m cakeModel) Generate(_ context.Context, messages []llm.Message) (string, error) {
	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "extract from the answer short answer"):
		return "🎂 Yes, cakes can be baked at home.", nil
	case strings.Contains(prompt, "complex well-structured explanation"):
		return "**Home activities** 🍰 63% of parents bake with their children.", nil
	case strings.Contains(prompt, "the plt package"):
		return "```go\nplt.Title(\"Baking at home\")\nplt.Pie([]string{\"bake\", \"do not\"}, []float64{63, 37})\nplt.Show()\n```", nil
	case strings.Contains(prompt, "dad joke"):
		return "*Why did the cake go to the doctor?* It was feeling crumby! 😂", nil
	}
	return "", nil
}
