package workflow

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/99scratch/WALKOFF/pkg/apps/builtin"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `
id: wf-file
name: threshold
start: measure
actions:
  - id: measure
    app_name: builtin
    action_name: echo
    arguments:
      - name: data
        value: 42
  - id: high
    app_name: builtin
    action_name: echo
    arguments:
      - name: data
        reference: measure
branches:
  - id: measure-high
    source_id: measure
    destination_id: high
    condition:
      id: root
      operator: or
      conditions:
        - id: gt
          app_name: builtin
          action_name: expression
          arguments:
            - name: expression
              value: data > 40
      children:
        - id: nested
          operator: xor
`

func builtinRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.NewRegistry(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	app, err := builtin.NewApp()
	require.NoError(t, err)
	reg.RegisterApp(app)

	return reg
}

func TestLoadFile_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definition), 0o600))

	wf, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "wf-file", wf.ID)
	require.Len(t, wf.Actions, 2)
	assert.Equal(t, "measure", wf.Actions[1].Arguments[0].Reference)

	condition := wf.Branches[0].Condition
	require.NotNil(t, condition)
	assert.Equal(t, models.OperatorOr, condition.Operator)
	require.Len(t, condition.Children, 1)
	assert.Equal(t, models.OperatorXor, condition.Children[0].Operator)
	assert.Equal(t, "root", condition.Children[0].ParentID)

	assert.True(t, Validate(wf, builtinRegistry(t)), wf.Errors)
}

func TestDecode_JSON(t *testing.T) {
	t.Parallel()

	data := `{"id":"wf-json","name":"json","start":"a","actions":[` +
		`{"id":"a","app_name":"builtin","action_name":"echo","arguments":[{"name":"data","value":"x"}]}]}`

	wf, err := Decode([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "wf-json", wf.ID)
	assert.True(t, Validate(wf, builtinRegistry(t)), wf.Errors)
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"unknown field", "id: x\nname: x\nsteps: []\n"},
		{"unknown operator", "id: x\nname: x\nbranches:\n  - id: b\n    source_id: a\n    destination_id: c\n    condition:\n      operator: nand\n"},
		{"not a mapping", "- just\n- a list\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestValidate_ReportsUnknownCapabilities(t *testing.T) {
	t.Parallel()

	wf, err := Decode([]byte(definition))
	require.NoError(t, err)

	wf.Actions[0].ActionName = "nope"
	wf.Branches[0].Condition.Conditions[0].ActionName = "nope"

	assert.False(t, Validate(wf, builtinRegistry(t)))
	assert.Len(t, wf.Errors, 2)
}

func TestLoadFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
