// Package metrics records pipeline, crew and tool activity as Prometheus
// series. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	sectionSkips     *prometheus.CounterVec
	crewSteps        *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
}

// New registers every series on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_agent_pipeline_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "survey_agent_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		sectionSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_agent_section_skips_total",
			Help: "Response sections left out, by section.",
		}, []string{"section"}),
		crewSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_agent_crew_steps_total",
			Help: "Crew task steps by task and status.",
		}, []string{"task", "status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_agent_tool_calls_total",
			Help: "Tool invocations by tool.",
		}, []string{"tool"}),
	}

	all := []prometheus.Collector{
		m.pipelineRuns, m.pipelineDuration, m.sectionSkips, m.crewSteps, m.toolCalls,
		collectors.NewGoCollector(),
	}
	for _, c := range all {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PipelineRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
	m.pipelineDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) SectionSkipped(section string) {
	if m == nil {
		return
	}
	m.sectionSkips.WithLabelValues(section).Inc()
}

func (m *Metrics) CrewStep(task, status string) {
	if m == nil {
		return
	}
	m.crewSteps.WithLabelValues(task, status).Inc()
}

func (m *Metrics) ToolCall(tool string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
}

// Registry exposes the underlying registry to tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
