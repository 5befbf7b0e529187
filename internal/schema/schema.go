// Package schema compiles and validates the JSON Schemas quick-gate's
// outbound artifacts must satisfy before being written, via
// jsonschema.NewCompiler().AddResource(...).Compile(...).
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind identifies which embedded schema to validate against.
type Kind string

const (
	KindFailuresReport Kind = "failures_report"
	KindAgentBrief     Kind = "agent_brief"
	KindLighthouse     Kind = "lighthouse_assertion_results"
)

var (
	compileOnce sync.Once
	compiled    map[Kind]*jsonschema.Schema
	compileErr  error
)

func compileAll() {
	compiled = map[Kind]*jsonschema.Schema{}
	sources := map[Kind]string{
		KindFailuresReport: failuresReportSchema,
		KindAgentBrief:     agentBriefSchema,
		KindLighthouse:     lighthouseAssertionResultsSchema,
	}
	for kind, src := range sources {
		c := jsonschema.NewCompiler()
		resourceURL := string(kind) + ".json"
		if err := c.AddResource(resourceURL, strings.NewReader(src)); err != nil {
			compileErr = fmt.Errorf("schema %s: add resource: %w", kind, err)
			return
		}
		s, err := c.Compile(resourceURL)
		if err != nil {
			compileErr = fmt.Errorf("schema %s: compile: %w", kind, err)
			return
		}
		compiled[kind] = s
	}
}

// Validate decodes data as generic JSON and validates it against the named
// schema. It is used as the last step before writing failures.json and
// agent-brief.json, and on the Lighthouse assertion-results artifact before
// extraction; run-metadata.json, repair-report.json and escalation.json are
// written without validation.
func Validate(kind Kind, data []byte) error {
	compileOnce.Do(compileAll)
	if compileErr != nil {
		return compileErr
	}
	s, ok := compiled[kind]
	if !ok {
		return fmt.Errorf("unknown schema kind %q", kind)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode for validation: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return err
	}
	return nil
}

const failuresReportSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "run_id", "mode", "status", "timestamp", "changed_files", "gates", "findings"],
  "properties": {
    "version": {"type": "integer"},
    "run_id": {"type": "string", "minLength": 1},
    "mode": {"type": "string", "enum": ["canary", "full"]},
    "status": {"type": "string", "enum": ["pass", "fail"]},
    "timestamp": {"type": "string", "minLength": 1},
    "repo": {"type": "string"},
    "branch": {"type": "string"},
    "changed_files": {"type": "array", "items": {"type": "string"}},
    "gates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "status", "duration_ms"],
        "properties": {
          "name": {"type": "string", "enum": ["lint", "typecheck", "build", "lighthouse"]},
          "status": {"type": "string", "enum": ["pass", "fail", "skipped"]},
          "duration_ms": {"type": "integer", "minimum": 0}
        }
      }
    },
    "findings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "gate", "severity", "summary", "files", "status"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "gate": {"type": "string", "enum": ["lint", "typecheck", "build", "lighthouse"]},
          "severity": {"type": "string", "enum": ["high", "critical"]},
          "summary": {"type": "string"},
          "files": {"type": "array", "items": {"type": "string"}},
          "route": {"type": "string"},
          "metric": {"type": "string"},
          "actual": {"type": "string"},
          "threshold": {"type": "string"},
          "status": {"type": "string", "enum": ["fail"]},
          "raw": {"type": "object"}
        }
      }
    },
    "inferred_hints": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "finding_id": {"type": "string"},
          "hint": {"type": "string"}
        }
      }
    }
  }
}`

const agentBriefSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["run_id", "mode", "status", "total_findings", "by_gate", "by_severity", "top_findings", "generated_at"],
  "properties": {
    "run_id": {"type": "string"},
    "mode": {"type": "string"},
    "status": {"type": "string", "enum": ["pass", "fail"]},
    "total_findings": {"type": "integer", "minimum": 0},
    "by_gate": {"type": "object"},
    "by_severity": {"type": "object"},
    "top_findings": {"type": "array"},
    "generated_at": {"type": "string"}
  }
}`

const lighthouseAssertionResultsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["passed", "url", "assertion"],
    "properties": {
      "passed": {"type": "boolean"},
      "url": {"type": "string"},
      "assertion": {"type": "string"},
      "numericValue": {"type": "number"},
      "expected": {},
      "message": {"type": "string"},
      "level": {"type": "string"},
      "auditProperty": {"type": "string"}
    }
  }
}`
