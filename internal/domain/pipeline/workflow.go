package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkflowDefinition describes the stage chain for a request type. Stage
// workers use it to resolve the next destination queue after committing a
// stage; the relay never consults it.
type WorkflowDefinition struct {
	WorkflowID  string     `yaml:"workflow_id" json:"workflow_id"`
	Version     string     `yaml:"version" json:"version"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	SyncFlow    FlowConfig `yaml:"sync_flow" json:"sync_flow"`
	AsyncFlow   FlowConfig `yaml:"async_flow" json:"async_flow"`
}

type FlowConfig struct {
	Stages []StageDef `yaml:"stages" json:"stages"`
}

type StageDef struct {
	Name           string `yaml:"name" json:"name"`
	Type           string `yaml:"type,omitempty" json:"type,omitempty"`
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
	Queue          string `yaml:"queue,omitempty" json:"queue,omitempty"`
	Service        string `yaml:"service,omitempty" json:"service,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxRetries     int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	NextStage      string `yaml:"next_stage,omitempty" json:"next_stage,omitempty"`
	ErrorStage     string `yaml:"error_stage,omitempty" json:"error_stage,omitempty"`
}

// LoadWorkflow reads a workflow definition from a YAML file.
func LoadWorkflow(path string) (*WorkflowDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseWorkflow(raw)
}

// ParseWorkflow decodes a workflow definition from YAML bytes.
func ParseWorkflow(raw []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if def.WorkflowID == "" {
		return nil, fmt.Errorf("workflow_id is required")
	}
	return &def, nil
}

// Stage finds a stage by name in the flow, or nil.
func (f *FlowConfig) Stage(name string) *StageDef {
	for i := range f.Stages {
		if f.Stages[i].Name == name {
			return &f.Stages[i]
		}
	}
	return nil
}

// NextQueue resolves the destination queue for the stage after the named one.
// Returns "" when the named stage is terminal or unknown.
func (f *FlowConfig) NextQueue(stageName string) string {
	s := f.Stage(stageName)
	if s == nil || s.NextStage == "" {
		return ""
	}
	next := f.Stage(s.NextStage)
	if next == nil {
		return ""
	}
	return next.Queue
}
