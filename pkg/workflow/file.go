package workflow

import (
	"bytes"
	"fmt"
	"os"

	"github.com/99scratch/WALKOFF/pkg/models"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a workflow definition from a YAML or JSON file.
func LoadFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	return Decode(data)
}

// Decode parses a YAML or JSON workflow definition and links its condition
// trees. Unknown fields are rejected.
func Decode(data []byte) (*models.Workflow, error) {
	var wf models.Workflow

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err := decoder.Decode(&wf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}

	wf.Link()

	return &wf, nil
}
