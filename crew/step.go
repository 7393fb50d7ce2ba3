package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fabfab/survey-agent/llm"
	"github.com/fabfab/survey-agent/tools"
)

// runStep drives one role through a tool-calling loop until it answers
// without tool calls or its budget runs out. Delegation tools are offered
// only at the top level, so coworkers cannot delegate further.
func (c *Crew) runStep(ctx context.Context, role Role, prompt, expected string, topLevel bool) StepOutput {
	budget := c.def.Budget(role)
	out := StepOutput{Role: role.Name}

	ctx, cancel := context.WithTimeout(ctx, budget.MaxExecutionTime)
	defer cancel()

	available, err := c.registry.Subset(role.Tools)
	if err != nil {
		out.Status, out.Err = StepFailed, err
		return out
	}
	if topLevel && role.AllowDelegation {
		delegation, err := c.delegationTools(role)
		if err != nil {
			out.Status, out.Err = StepFailed, err
			return out
		}
		available = append(available, delegation...)
	}
	byName := make(map[string]tools.Tool, len(available))
	for _, t := range available {
		byName[t.Name()] = t
	}
	defs := tools.Definitions(available)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(role)},
		{Role: llm.RoleUser, Content: userPrompt(prompt, expected)},
	}
	var partial string

	for out.Iterations < budget.MaxIterations {
		out.Iterations++

		msg, err := c.complete(ctx, messages, defs, budget.MaxRetries)
		if err != nil {
			if ctx.Err() != nil {
				return exceeded(out, partial, err)
			}
			out.Status, out.Err, out.Raw = StepFailed, err, partial
			return out
		}
		if text := strings.TrimSpace(msg.Content); text != "" {
			partial = text
		}
		if len(msg.ToolCalls) == 0 {
			out.Status, out.Raw = StepCompleted, strings.TrimSpace(msg.Content)
			return out
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			observation := c.invoke(ctx, byName, call)
			if strings.TrimSpace(observation) != "" {
				partial = observation
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: observation, ToolCallID: call.ID})
		}
		if ctx.Err() != nil {
			return exceeded(out, partial, ctx.Err())
		}
	}

	// Iteration ceiling reached: one last call without tools.
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: forceFinalAnswer})
	msg, err := c.complete(ctx, messages, nil, budget.MaxRetries)
	if err == nil && strings.TrimSpace(msg.Content) != "" {
		partial = strings.TrimSpace(msg.Content)
	}
	return exceeded(out, partial, fmt.Errorf("%d iterations used", out.Iterations))
}

func exceeded(out StepOutput, partial string, cause error) StepOutput {
	out.Status = StepBudgetExceeded
	out.Raw = partial
	out.Err = fmt.Errorf("%w: %w", ErrStepBudgetExceeded, cause)
	return out
}

// complete calls the model, retrying failures with exponential backoff.
func (c *Crew) complete(ctx context.Context, messages []llm.Message, defs []llm.ToolDef, retries int) (llm.Message, error) {
	delay := c.backoff
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying model call", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return llm.Message{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		msg, err := c.client.Complete(ctx, messages, defs)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return llm.Message{}, ctx.Err()
		}
	}
	return llm.Message{}, fmt.Errorf("model call failed after %d attempts: %w", retries+1, lastErr)
}

// invoke runs one tool call. Every failure becomes an observation the model
// can read.
func (c *Crew) invoke(ctx context.Context, byName map[string]tools.Tool, call llm.ToolCall) string {
	tool, ok := byName[call.Name]
	if !ok {
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		return fmt.Sprintf("Error: tool %q is not available. Available tools: %s.", call.Name, strings.Join(names, ", "))
	}

	c.metrics.ToolCall(call.Name)
	args := json.RawMessage(call.Arguments)
	if strings.TrimSpace(call.Arguments) == "" {
		args = json.RawMessage("{}")
	}
	observation, err := tool.Call(ctx, args)
	if err != nil {
		c.log.Warn("tool call failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error executing tool %s: %v", call.Name, err)
	}
	c.log.Debug("tool call finished", "tool", call.Name, "bytes", len(observation))
	return observation
}

type delegateArgs struct {
	Coworker string `json:"coworker" jsonschema:"required" jsonschema_description:"The role of the coworker to delegate to."`
	Task     string `json:"task" jsonschema:"required" jsonschema_description:"The task to delegate."`
	Context  string `json:"context" jsonschema_description:"Everything the coworker needs to know to do the task."`
}

type askArgs struct {
	Coworker string `json:"coworker" jsonschema:"required" jsonschema_description:"The role of the coworker to ask."`
	Question string `json:"question" jsonschema:"required" jsonschema_description:"The question to ask."`
	Context  string `json:"context" jsonschema_description:"Everything the coworker needs to know to answer."`
}

func (c *Crew) delegationTools(self Role) ([]tools.Tool, error) {
	coworkers := c.coworkers(self)
	list := strings.Join(coworkers, ", ")

	delegate, err := tools.NewFunction("delegate_work",
		"Delegate a specific task to one of the following coworkers: "+list+". "+
			"Provide all necessary context, the coworker knows nothing about the task otherwise.",
		func(ctx context.Context, args delegateArgs) (string, error) {
			return c.delegate(ctx, self, args.Coworker, args.Task, args.Context), nil
		})
	if err != nil {
		return nil, err
	}

	ask, err := tools.NewFunction("ask_question",
		"Ask a specific question to one of the following coworkers: "+list+". "+
			"Provide all necessary context, the coworker knows nothing about the question otherwise.",
		func(ctx context.Context, args askArgs) (string, error) {
			return c.delegate(ctx, self, args.Coworker, args.Question, args.Context), nil
		})
	if err != nil {
		return nil, err
	}
	return []tools.Tool{delegate, ask}, nil
}

func (c *Crew) delegate(ctx context.Context, self Role, coworker, work, extra string) string {
	target, ok := c.findRole(coworker)
	if !ok {
		return fmt.Sprintf("Error: coworker %q not found. Choose one of: %s.", coworker, strings.Join(c.coworkers(self), ", "))
	}
	if target.Name == self.Name {
		return "Error: you cannot delegate work to yourself."
	}

	prompt := work
	if strings.TrimSpace(extra) != "" {
		prompt = fmt.Sprintf("%s\n\nThis is the context you're working with:\n%s", work, extra)
	}

	c.log.Info("work delegated", "from", self.Name, "to", target.Name)
	out := c.runStep(ctx, target, prompt, "Your best answer to your coworker asking you this, accounting for the context shared.", false)
	if out.Err != nil {
		c.log.Warn("delegated step degraded", "role", target.Name, "status", string(out.Status), "error", out.Err)
	}
	if strings.TrimSpace(out.Raw) == "" && out.Err != nil {
		return fmt.Sprintf("Error: %s could not complete the work: %v", target.Title, out.Err)
	}
	return out.Raw
}

// findRole matches a role key or title, ignoring case.
func (c *Crew) findRole(name string) (Role, bool) {
	name = strings.TrimSpace(name)
	if role, ok := c.def.Roles[name]; ok {
		return role, true
	}
	for _, role := range c.def.Roles {
		if strings.EqualFold(role.Title, name) || strings.EqualFold(role.Name, name) {
			return role, true
		}
	}
	return Role{}, false
}

func (c *Crew) coworkers(self Role) []string {
	var names []string
	for _, name := range sortedRoleNames(c.def.Roles) {
		if name == self.Name {
			continue
		}
		names = append(names, c.def.Roles[name].Title)
	}
	return names
}
