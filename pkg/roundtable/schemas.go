package roundtable

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON Schemas for the executor's wire types. Kept by hand so external
// consumers get a stable contract independent of Go struct layout.
const taskSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://ioa-labs.dev/schemas/roundtable/task.json",
  "title": "RoundtableTask",
  "type": "object",
  "required": ["task_id", "prompt"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "prompt": {"type": "string", "minLength": 1},
    "capability": {"type": "string"},
    "submitted_at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": false
}`

const voteSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://ioa-labs.dev/schemas/roundtable/vote.json",
  "title": "RoundtableVote",
  "type": "object",
  "required": ["agent_id", "state"],
  "properties": {
    "agent_id": {"type": "string", "minLength": 1},
    "option": {"type": "string"},
    "ranking": {"type": "array", "items": {"type": "string"}, "uniqueItems": true},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "weight": {"type": "number", "minimum": 0},
    "produced_at": {"type": "string", "format": "date-time"},
    "latency": {"type": "integer"},
    "state": {"enum": ["ready", "timed_out", "errored"]},
    "error_kind": {"type": "string"}
  },
  "additionalProperties": false
}`

const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://ioa-labs.dev/schemas/roundtable/result.json",
  "title": "RoundtableResult",
  "type": "object",
  "required": ["task_id", "mode", "votes", "consensus_achieved", "consensus_score", "quorum_ratio"],
  "properties": {
    "task_id": {"type": "string", "minLength": 1},
    "mode": {"enum": ["majority", "weighted", "borda"]},
    "votes": {"type": "array", "items": {"$ref": "vote.json"}},
    "winning_option": {"type": "string"},
    "consensus_achieved": {"type": "boolean"},
    "consensus_score": {"type": "number", "minimum": 0, "maximum": 1},
    "tie_breaker_applied": {"enum": ["none", "highest_confidence", "highest_weight", "earliest", "lex"]},
    "quorum_ratio": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "wall_time": {"type": "integer"},
    "agent_timings": {"type": "object", "additionalProperties": {"type": "integer"}},
    "explanation": {"type": "string"}
  },
  "additionalProperties": false
}`

var exportedSchemas = map[string]string{
	"task.json":   taskSchema,
	"vote.json":   voteSchema,
	"result.json": resultSchema,
}

// ExportSchemas writes the executor's JSON Schemas under target and returns
// a map from schema name to the written file path. Each document is
// compiled before it is written so a malformed schema never ships.
func ExportSchemas(target string) (map[string]string, error) {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("schema export: %w", err)
	}

	const schemaBase = "https://ioa-labs.dev/schemas/roundtable/"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	for name, doc := range exportedSchemas {
		if err := compiler.AddResource(schemaBase+name, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	for name := range exportedSchemas {
		if _, err := compiler.Compile(schemaBase + name); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}

	locations := make(map[string]string, len(exportedSchemas))
	for name, doc := range exportedSchemas {
		path := filepath.Join(target, name)
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		locations[name] = path
	}
	return locations, nil
}
