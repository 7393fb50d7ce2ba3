// Package crew runs a fixed sequence of tasks, each bound to a role that may
// call tools and delegate to coworker roles, under per-role budgets.
package crew

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fabfab/survey-agent/llm"
	"github.com/fabfab/survey-agent/logging"
	"github.com/fabfab/survey-agent/metrics"
	"github.com/fabfab/survey-agent/tools"
)

var (
	// ErrStepBudgetExceeded marks a step cut short by its time or iteration
	// ceiling. The step still carries its partial output.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	// ErrOrchestration means the crew produced nothing usable.
	ErrOrchestration = errors.New("orchestration failed")
)

type StepStatus string

const (
	StepCompleted      StepStatus = "completed"
	StepBudgetExceeded StepStatus = "budget_exceeded"
	StepFailed         StepStatus = "failed"
)

type StepOutput struct {
	Task       string
	Role       string
	Raw        string
	Status     StepStatus
	Iterations int
	Err        error
}

// StepResult is the outcome of a run. StepOutputs are in execution order and
// Raw is the output of the last task that produced any.
type StepResult struct {
	Raw         string
	StepOutputs []StepOutput
}

const forceFinalAnswer = "Now it's time you MUST give your absolute best final answer. " +
	"You'll ignore all previous instructions, stop using any tools, and just return your absolute BEST Final answer."

type Crew struct {
	def      Definition
	client   llm.ToolClient
	registry *tools.Registry
	log      *logging.Logger
	metrics  *metrics.Metrics
	backoff  time.Duration
}

type Option func(*Crew)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Crew) { c.metrics = m }
}

// WithBackoff sets the base delay between retries of a failed model call.
func WithBackoff(d time.Duration) Option {
	return func(c *Crew) { c.backoff = d }
}

// New checks that every tool a role names is registered.
func New(def Definition, client llm.ToolClient, registry *tools.Registry, logger *logging.Logger, opts ...Option) (*Crew, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	for _, role := range def.Roles {
		if _, err := registry.Subset(role.Tools); err != nil {
			return nil, fmt.Errorf("role %s: %w", role.Name, err)
		}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	c := &Crew{
		def:      def,
		client:   client,
		registry: registry,
		log:      logger.With("component", "crew"),
		backoff:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes the tasks in order. Budget overruns degrade a step to its
// partial output; only a run where no task produced anything fails.
func (c *Crew) Run(ctx context.Context, input string) (StepResult, error) {
	if c.client == nil {
		return StepResult{}, fmt.Errorf("%w: no llm client configured", ErrOrchestration)
	}

	outputs := make(map[string]string, len(c.def.Tasks))
	result := StepResult{StepOutputs: make([]StepOutput, 0, len(c.def.Tasks))}
	var lastErr error

	for _, task := range c.def.Tasks {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %w", ErrOrchestration, err)
		}

		role := c.def.Roles[task.Role]
		prompt, err := c.taskPrompt(task, input, outputs)
		if err != nil {
			return result, fmt.Errorf("%w: render task %s: %w", ErrOrchestration, task.Name, err)
		}

		c.log.Info("crew task started", "task", task.Name, "role", role.Name)
		out := c.runStep(ctx, role, prompt, task.ExpectedOutput, true)
		out.Task = task.Name
		c.log.Info("crew task finished", "task", task.Name, "status", string(out.Status), "iterations", out.Iterations)
		c.metrics.CrewStep(task.Name, string(out.Status))

		if out.Err != nil {
			lastErr = out.Err
			c.log.Warn("crew task degraded", "task", task.Name, "error", out.Err)
		}
		outputs[task.Name] = out.Raw
		result.StepOutputs = append(result.StepOutputs, out)
		if strings.TrimSpace(out.Raw) != "" {
			result.Raw = out.Raw
		}
	}

	if c.producedNothing(result) && lastErr != nil && !errors.Is(lastErr, ErrStepBudgetExceeded) {
		return result, fmt.Errorf("%w: %w", ErrOrchestration, lastErr)
	}
	return result, nil
}

func (c *Crew) producedNothing(result StepResult) bool {
	for _, out := range result.StepOutputs {
		if strings.TrimSpace(out.Raw) != "" {
			return false
		}
	}
	return true
}

func (c *Crew) taskPrompt(task Task, input string, outputs map[string]string) (string, error) {
	desc, err := task.render(input)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(desc))
	if len(task.Context) > 0 {
		sb.WriteString("\n\nThis is the context you're working with:\n")
		for _, dep := range task.Context {
			sb.WriteString(outputs[dep])
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func systemPrompt(role Role) string {
	return fmt.Sprintf("You are %s. %s\nYour personal goal is: %s",
		role.Title, strings.TrimSpace(role.Backstory), strings.TrimSpace(role.Goal))
}

func userPrompt(task, expected string) string {
	if strings.TrimSpace(expected) == "" {
		return task
	}
	return fmt.Sprintf("%s\n\nThis is the expected criteria for your final answer: %s\n"+
		"You MUST return the actual complete content as the final answer, not a summary.",
		task, strings.TrimSpace(expected))
}
