// Package config parses the declarative workflow description format (see
// the wire format in the engine's external-interfaces design) from YAML
// text into a workflow.Description the engine can load.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/swarmguard/flowengine/workflow"
)

// document mirrors the wire format's top-level keys. Unknown keys are
// accepted by yaml.v3 without complaint and simply dropped; the core
// doesn't need to round-trip them.
type document struct {
	Metadata struct {
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
		Name        string `yaml:"name"`
	} `yaml:"metadata"`
	Input struct {
		Name string         `yaml:"name"`
		Data map[string]any `yaml:"data"`
	} `yaml:"input"`
	Executors []taskDocument `yaml:"executors"`
	Output    struct {
		Name string         `yaml:"name"`
		Data map[string]any `yaml:"data"`
	} `yaml:"output"`
}

type taskDocument struct {
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Func       string         `yaml:"func"`
	CustomVars map[string]any `yaml:"custom_vars"`
	DependsOn  []string       `yaml:"depends_on"`
	TimeoutSec float64        `yaml:"timeout"`
	Retry      int            `yaml:"retry"`
	Cacheable  bool           `yaml:"cacheable"`
}

// defaultTimeout is applied when a task spec omits `timeout`.
const defaultTimeout = 30 * time.Second

// Parse reads a single workflow description out of raw YAML text.
func Parse(raw []byte) (workflow.Description, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return workflow.Description{}, fmt.Errorf("config: parse workflow: %w", err)
	}

	if doc.Input.Name == "" {
		return workflow.Description{}, fmt.Errorf("config: workflow input node must have a name")
	}
	if doc.Output.Name == "" {
		return workflow.Description{}, fmt.Errorf("config: workflow output node must have a name")
	}

	tasks := make([]workflow.TaskSpec, 0, len(doc.Executors))
	for _, t := range doc.Executors {
		if t.Type != "" && t.Type != "task" {
			continue
		}
		timeout := defaultTimeout
		if t.TimeoutSec > 0 {
			timeout = time.Duration(t.TimeoutSec * float64(time.Second))
		}
		tasks = append(tasks, workflow.TaskSpec{
			Name:       t.Name,
			Func:       t.Func,
			CustomVars: t.CustomVars,
			DependsOn:  t.DependsOn,
			Timeout:    timeout,
			Retry:      t.Retry,
			Cacheable:  t.Cacheable,
		})
	}

	return workflow.Description{
		Metadata: workflow.Metadata{
			Name:        doc.Metadata.Name,
			Version:     doc.Metadata.Version,
			Description: doc.Metadata.Description,
		},
		Input: workflow.InputNode{
			Name: doc.Input.Name,
			Data: doc.Input.Data,
		},
		Tasks: tasks,
		Output: workflow.OutputNode{
			Name: doc.Output.Name,
			Data: doc.Output.Data,
		},
	}, nil
}
