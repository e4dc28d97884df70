package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validManifest = `
schema_version: "1.2.0"
agent_id: summarizer
display_name: Summarizer
capabilities:
  - general
  - summarization
weight: 1.5
trust:
  successes: 10
  failures: 2
`

func TestParseManifest_Valid(t *testing.T) {
	m, err := ParseManifest([]byte(validManifest))
	require.NoError(t, err)
	require.Equal(t, "summarizer", m.AgentID)
	require.Equal(t, []string{"general", "summarization"}, m.Capabilities)
	require.Equal(t, 1.5, m.Weight)
	require.Equal(t, 10.0, m.Trust.Successes)

	reg := m.Registration()
	require.Equal(t, "Summarizer", reg.DisplayName)
	require.InDelta(t, 11.0/14.0, reg.TrustScore(), 1e-9)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", `{{nope`},
		{"missing agent_id", "schema_version: \"1.0.0\"\ncapabilities: [general]"},
		{"empty capabilities", "schema_version: \"1.0.0\"\nagent_id: a\ncapabilities: []"},
		{"bad agent id shape", "schema_version: \"1.0.0\"\nagent_id: \"Bad Name!\"\ncapabilities: [general]"},
		{"negative weight", "schema_version: \"1.0.0\"\nagent_id: a\ncapabilities: [general]\nweight: -2"},
		{"unknown field", "schema_version: \"1.0.0\"\nagent_id: a\ncapabilities: [general]\ncolor: red"},
		{"unparsable version", "schema_version: \"latest\"\nagent_id: a\ncapabilities: [general]"},
		{"unsupported major version", "schema_version: \"2.0.0\"\nagent_id: a\ncapabilities: [general]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.doc))
			require.Error(t, err)
		})
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validManifest), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, "summarizer", m.AgentID)

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRegistry_Onboard(t *testing.T) {
	r := NewRegistry()
	m, err := r.Onboard([]byte(validManifest), echoAgent("ok", 0.8))
	require.NoError(t, err)
	require.Equal(t, "summarizer", m.AgentID)

	reg, _, err := r.Get("summarizer")
	require.NoError(t, err)
	require.Equal(t, 1.5, reg.Weight)
	require.Equal(t, 10.0, reg.Successes)
}
