// ABOUTME: Tagged task payload resolved into agent program text.
// ABOUTME: Raw code passes through; descriptions render through the agent template.

package program

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// ErrInvalidTask indicates a task payload cannot be turned into a program.
var ErrInvalidTask = errors.New("invalid task")

// Kind selects how a Task becomes program text.
type Kind string

const (
	// KindCode carries program text verbatim.
	KindCode Kind = "code"
	// KindDescribe generates a program from a task description.
	KindDescribe Kind = "describe"
)

// Task is the payload a caller submits to create an agent.
type Task struct {
	Kind         Kind     `json:"kind"`
	Code         string   `json:"code,omitempty"`
	Description  string   `json:"description,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Code returns a task carrying program text verbatim.
func Code(text string) Task {
	return Task{Kind: KindCode, Code: text}
}

// Describe returns a task that generates a program from a description.
func Describe(description string, dependencies ...string) Task {
	return Task{Kind: KindDescribe, Description: description, Dependencies: dependencies}
}

var importPath = regexp.MustCompile(`^[a-z][a-z0-9_]*(/[a-z][a-z0-9_]*)*$`)

// Resolve returns the program text for the task.
func (t Task) Resolve() (string, error) {
	switch t.Kind {
	case KindCode:
		if strings.TrimSpace(t.Code) == "" {
			return "", fmt.Errorf("%w: code is empty", ErrInvalidTask)
		}
		return t.Code, nil
	case KindDescribe:
		return Generate(t.Description, t.Dependencies)
	case "":
		return "", fmt.Errorf("%w: kind is required", ErrInvalidTask)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, t.Kind)
	}
}

var agentTemplate = template.Must(template.New("agent").Parse(`// Generated agent
// Task: {{.Summary}}

package agent

import (
	"log"
	"strings"
{{- range .Dependencies}}
	_ "{{.}}"
{{- end}}
)

const task = {{printf "%q" .Description}}

// Main is the agent entry point.
func Main(args []any, kwargs map[string]any) (any, error) {
	log.Printf("agent started with args: %v, kwargs: %v", args, kwargs)
	log.Printf("executing task: %s", task)

	if strings.Contains(strings.ToLower(task), "greeting") {
		greeting := "Hello! I am your greeting agent. Nice to meet you!"
		log.Printf("greeting message displayed: %s", greeting)
		return greeting, nil
	}

	log.Printf("task completed")
	return "Task completed successfully", nil
}
`))

// Generate renders the agent template for a task description. Each
// dependency becomes a blank import and must be a standard library path.
func Generate(description string, dependencies []string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", fmt.Errorf("%w: description is empty", ErrInvalidTask)
	}

	deps := make([]string, 0, len(dependencies))
	seen := make(map[string]bool)
	for _, dep := range dependencies {
		dep = strings.TrimSpace(dep)
		if dep == "" || seen[dep] || dep == "log" || dep == "strings" {
			continue
		}
		if !importPath.MatchString(dep) {
			return "", fmt.Errorf("%w: bad dependency %q", ErrInvalidTask, dep)
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	var buf bytes.Buffer
	err := agentTemplate.Execute(&buf, struct {
		Summary      string
		Description  string
		Dependencies []string
	}{
		Summary:      strings.Join(strings.Fields(description), " "),
		Description:  description,
		Dependencies: deps,
	})
	if err != nil {
		return "", fmt.Errorf("rendering agent template: %w", err)
	}
	return buf.String(), nil
}
