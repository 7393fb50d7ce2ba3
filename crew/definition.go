package crew

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed crew.yaml
var defaultDefinition []byte

// Budget bounds one step. Zero fields inherit the crew defaults.
type Budget struct {
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	MaxIterations    int           `yaml:"max_iter"`
	MaxRetries       int           `yaml:"max_retry_limit"`
}

func (b Budget) orDefault(def Budget) Budget {
	if b.MaxExecutionTime <= 0 {
		b.MaxExecutionTime = def.MaxExecutionTime
	}
	if b.MaxIterations <= 0 {
		b.MaxIterations = def.MaxIterations
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = def.MaxRetries
	}
	return b
}

type Role struct {
	Name            string   `yaml:"-"`
	Title           string   `yaml:"role"`
	Goal            string   `yaml:"goal"`
	Backstory       string   `yaml:"backstory"`
	Tools           []string `yaml:"tools"`
	AllowDelegation bool     `yaml:"allow_delegation"`
	Budget          `yaml:",inline"`
}

// Task is one step of the sequential plan. Description is a text/template
// rendered with the crew input as .Question.
type Task struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	ExpectedOutput string   `yaml:"expected_output"`
	Role           string   `yaml:"role"`
	Context        []string `yaml:"context"`
}

// Definition is the whole crew: a role table and an ordered task list.
type Definition struct {
	Defaults Budget          `yaml:"defaults"`
	Roles    map[string]Role `yaml:"roles"`
	Tasks    []Task          `yaml:"tasks"`
}

// LoadDefinition reads the crew file at path, or the built-in crew when path
// is empty.
func LoadDefinition(path string) (Definition, error) {
	data := defaultDefinition
	if strings.TrimSpace(path) != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return Definition{}, fmt.Errorf("read crew definition: %w", err)
		}
	}
	return ParseDefinition(data)
}

func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse crew definition: %w", err)
	}
	for name, role := range def.Roles {
		role.Name = name
		def.Roles[name] = role
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate checks that tasks name known roles, context only points at
// earlier tasks and every template parses.
func (d Definition) Validate() error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("crew definition has no tasks")
	}
	seen := make(map[string]bool, len(d.Tasks))
	for _, task := range d.Tasks {
		if task.Name == "" {
			return fmt.Errorf("crew task without a name")
		}
		if seen[task.Name] {
			return fmt.Errorf("duplicate crew task %q", task.Name)
		}
		if _, ok := d.Roles[task.Role]; !ok {
			return fmt.Errorf("task %q references unknown role %q", task.Name, task.Role)
		}
		for _, dep := range task.Context {
			if !seen[dep] {
				return fmt.Errorf("task %q context %q is not an earlier task", task.Name, dep)
			}
		}
		if _, err := template.New(task.Name).Parse(task.Description); err != nil {
			return fmt.Errorf("task %q description: %w", task.Name, err)
		}
		seen[task.Name] = true
	}
	return nil
}

var fallbackBudget = Budget{MaxExecutionTime: 300 * time.Second, MaxIterations: 2, MaxRetries: 2}

// Budget returns the effective budget of a role.
func (d Definition) Budget(role Role) Budget {
	return role.Budget.orDefault(d.Defaults).orDefault(fallbackBudget)
}

func (t Task) render(question string) (string, error) {
	tmpl, err := template.New(t.Name).Parse(t.Description)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Question string }{question}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedRoleNames(roles map[string]Role) []string {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
