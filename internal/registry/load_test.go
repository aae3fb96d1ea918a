package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().IDs(), reg.IDs())
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	content := `
fields:
  - id: company
    label: Entreprise
    synonyms: [raison sociale, societe]
  - id: siren
    label: SIREN
    type: siret
    synonyms: [numero siren]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"company", "siren"}, reg.IDs())

	f, ok := reg.ByID("siren")
	require.True(t, ok)
	assert.Equal(t, TypeSIRET, f.Type)
	assert.Equal(t, []string{"numero siren"}, f.Synonyms)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: read")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields: [::"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse fields file")
}
