// Package synth turns the crew's raw answer into the sections of the final
// document. Every synthesizer is a single stateless model call that sees only
// the user's query and the raw answer.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/fabfab/survey-agent/llm"
	"github.com/fabfab/survey-agent/logging"
)

// NoChartData is the reply meaning there is nothing worth plotting.
const NoChartData = "''"

// ChartCode is the chart synthesizer's result. NoData is set when the model
// found nothing to plot; Code is then empty.
type ChartCode struct {
	Code   string
	NoData bool
}

type Synthesizer struct {
	client llm.Client
	log    *logging.Logger
}

func New(client llm.Client, logger *logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Synthesizer{client: client, log: logger.With("component", "synth")}
}

// Short returns a compact answer. It falls back to the raw answer when the
// model fails or replies with nothing.
func (s *Synthesizer) Short(ctx context.Context, query, answer string) (string, error) {
	return s.withFallback(ctx, shortTemplate, query, answer)
}

// Complex returns a structured markdown explanation, with the same fallback
// as Short.
func (s *Synthesizer) Complex(ctx context.Context, query, answer string) (string, error) {
	return s.withFallback(ctx, complexTemplate, query, answer)
}

func (s *Synthesizer) withFallback(ctx context.Context, tmpl *template.Template, query, answer string) (string, error) {
	reply, err := s.generate(ctx, tmpl, query, answer)
	if reply != "" {
		return reply, nil
	}
	fallback := strings.TrimSpace(answer)
	if err != nil {
		s.log.Warn("section fell back to raw answer", "section", tmpl.Name(), "error", err)
		return fallback, err
	}
	return fallback, nil
}

var (
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")
	showPattern  = regexp.MustCompile(`(?m)^\s*(plt|plot)\.[Ss]how\(\s*\)\s*;?\s*$`)
)

// Chart asks for plotting code against the plt package.
func (s *Synthesizer) Chart(ctx context.Context, query, answer string) (ChartCode, error) {
	reply, err := s.generate(ctx, chartTemplate, query, answer)
	if err != nil {
		return ChartCode{NoData: true}, err
	}
	return ParseChartCode(reply), nil
}

// ParseChartCode normalises a chart reply: fenced code is unwrapped and
// display calls are removed. The quoted empty-string sentinel, in either
// quote style, and prose that never calls plt become NoData. An empty reply
// is neither code nor NoData and yields the zero ChartCode.
func ParseChartCode(reply string) ChartCode {
	code := strings.TrimSpace(reply)
	if m := fencePattern.FindStringSubmatch(code); m != nil {
		code = strings.TrimSpace(m[1])
	}
	switch code {
	case "":
		return ChartCode{}
	case NoChartData, `""`:
		return ChartCode{NoData: true}
	}
	code = strings.TrimSpace(showPattern.ReplaceAllString(code, ""))
	if !strings.Contains(code, "plt.") {
		return ChartCode{NoData: true}
	}
	return ChartCode{Code: code}
}

// Joke returns a topical dad joke, or a canned one when the model fails,
// replies with nothing or just repeats the answer.
func (s *Synthesizer) Joke(ctx context.Context, query, answer string) (string, error) {
	reply, err := s.generate(ctx, jokeTemplate, query, answer)
	if err != nil {
		s.log.Warn("joke fell back to canned text", "error", err)
		return cannedJoke, err
	}
	if reply == "" || reply == strings.TrimSpace(answer) {
		return cannedJoke, nil
	}
	return reply, nil
}

const cannedJoke = "**Why did the survey go to school?** 📚 To improve its *reading* scores! 😄"

func (s *Synthesizer) generate(ctx context.Context, tmpl *template.Template, query, answer string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("%s: no model client configured", tmpl.Name())
	}
	prompt, err := render(tmpl, query, answer)
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	reply, err := s.client.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(reply), nil
}
