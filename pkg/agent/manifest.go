package agent

import (
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// manifestSchema constrains the onboarding document shape.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "agent_id", "capabilities"],
  "properties": {
    "schema_version": {"type": "string", "minLength": 1},
    "agent_id": {"type": "string", "pattern": "^[a-z0-9][a-z0-9._-]*$"},
    "display_name": {"type": "string"},
    "capabilities": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1,
      "uniqueItems": true
    },
    "weight": {"type": "number", "minimum": 0},
    "trust": {
      "type": "object",
      "properties": {
        "successes": {"type": "number", "minimum": 0},
        "failures": {"type": "number", "minimum": 0}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

// supportedSchemaVersions is the semver range of manifest documents this
// build understands.
const supportedSchemaVersions = "^1.0.0"

var compiledManifestSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://ioa.schemas.local/agent_manifest.schema.json"
	if err := c.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
		panic(fmt.Sprintf("agent manifest schema is invalid: %v", err))
	}
	return c.MustCompile(url)
}()

// Manifest is the YAML onboarding document for one agent.
type Manifest struct {
	SchemaVersion string   `yaml:"schema_version" json:"schema_version"`
	AgentID       string   `yaml:"agent_id" json:"agent_id"`
	DisplayName   string   `yaml:"display_name" json:"display_name,omitempty"`
	Capabilities  []string `yaml:"capabilities" json:"capabilities"`
	Weight        float64  `yaml:"weight" json:"weight,omitempty"`
	Trust         struct {
		Successes float64 `yaml:"successes" json:"successes,omitempty"`
		Failures  float64 `yaml:"failures" json:"failures,omitempty"`
	} `yaml:"trust" json:"trust,omitempty"`
}

// ParseManifest validates a YAML manifest against the document schema and
// the supported schema-version range.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest is not valid YAML: %w", err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("manifest failed schema validation: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest decode failed: %w", err)
	}

	version, err := semver.NewVersion(m.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("manifest schema_version %q is not a semantic version: %w", m.SchemaVersion, err)
	}
	constraint, err := semver.NewConstraint(supportedSchemaVersions)
	if err != nil {
		return nil, fmt.Errorf("supported version range is invalid: %w", err)
	}
	if !constraint.Check(version) {
		return nil, fmt.Errorf("manifest schema_version %s is outside the supported range %s", m.SchemaVersion, supportedSchemaVersions)
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// Registration converts the manifest into a registry entry.
func (m *Manifest) Registration() Registration {
	name := m.DisplayName
	if name == "" {
		name = m.AgentID
	}
	return Registration{
		AgentID:      m.AgentID,
		DisplayName:  name,
		Capabilities: append([]string(nil), m.Capabilities...),
		Weight:       m.Weight,
		Successes:    m.Trust.Successes,
		Failures:     m.Trust.Failures,
	}
}

// Onboard parses a manifest and registers the agent under it.
func (r *Registry) Onboard(data []byte, a Agent) (*Manifest, error) {
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	if err := r.Register(m.Registration(), a); err != nil {
		return nil, err
	}
	return m, nil
}
