package pipeline

import (
	"strings"
	"testing"
)

const sampleWorkflow = `
workflow_id: prior-auth-standard
version: "1.0"
description: standard prior-auth chain
async_flow:
  stages:
    - name: parse
      queue: parse-queue
      service: pagw-parser
      next_stage: enrich
    - name: enrich
      queue: enrich-queue
      service: pagw-enricher
      next_stage: decide
    - name: decide
      queue: decision-queue
      service: pagw-decision
`

func TestParseWorkflow(t *testing.T) {
	def, err := ParseWorkflow([]byte(sampleWorkflow))
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}
	if def.WorkflowID != "prior-auth-standard" {
		t.Fatalf("workflow_id = %q", def.WorkflowID)
	}
	if got := len(def.AsyncFlow.Stages); got != 3 {
		t.Fatalf("stages = %d, want 3", got)
	}
}

func TestParseWorkflowRequiresID(t *testing.T) {
	_, err := ParseWorkflow([]byte(`version: "1.0"`))
	if err == nil || !strings.Contains(err.Error(), "workflow_id") {
		t.Fatalf("expected workflow_id error, got %v", err)
	}
}

func TestNextQueue(t *testing.T) {
	def, err := ParseWorkflow([]byte(sampleWorkflow))
	if err != nil {
		t.Fatalf("ParseWorkflow: %v", err)
	}
	flow := def.AsyncFlow

	if q := flow.NextQueue("parse"); q != "enrich-queue" {
		t.Fatalf("NextQueue(parse) = %q, want enrich-queue", q)
	}
	if q := flow.NextQueue("decide"); q != "" {
		t.Fatalf("NextQueue(decide) = %q, want empty (terminal)", q)
	}
	if q := flow.NextQueue("missing"); q != "" {
		t.Fatalf("NextQueue(missing) = %q, want empty", q)
	}
}

func TestStageLookup(t *testing.T) {
	def, _ := ParseWorkflow([]byte(sampleWorkflow))
	s := def.AsyncFlow.Stage("enrich")
	if s == nil || s.Service != "pagw-enricher" {
		t.Fatalf("Stage(enrich) = %+v", s)
	}
	if def.AsyncFlow.Stage("nope") != nil {
		t.Fatal("Stage(nope) should be nil")
	}
}
