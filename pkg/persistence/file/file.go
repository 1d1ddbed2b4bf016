// Package file provides file-based persistence implementation for workflows and executions.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/99scratch/WALKOFF/pkg/persistence"
)

const (
	workflowsDir  = "workflows"
	executionsDir = "executions"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{
		root: strings.Replace(root, "file://", "", 1),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (fp *Persistence) write(dir, id string, value any) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	fullDir := filepath.Join(fp.root, dir)

	err = os.MkdirAll(fullDir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	err = os.WriteFile(filepath.Join(fullDir, id+".json"), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	return nil
}

// read decodes root/dir/id.json into value and reports false when the file
// does not exist.
func (fp *Persistence) read(dir, id string, value any) (bool, error) {
	err := validateID(id)
	if err != nil {
		return false, err
	}

	filePath := filepath.Join(fp.root, dir, id+".json")

	// #nosec G304 -- id is validated against path traversal above
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", id, err)
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return true, nil
}

func (fp *Persistence) remove(dir, id string) (bool, error) {
	err := validateID(id)
	if err != nil {
		return false, err
	}

	err = os.Remove(filepath.Join(fp.root, dir, id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to delete %s: %w", id, err)
	}

	return true, nil
}

// ids lists the stored ids in dir, sorted.
func (fp *Persistence) ids(dir string) ([]string, error) {
	jsonFiles, err := fs.Glob(os.DirFS(filepath.Join(fp.root, dir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, file := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	sort.Strings(ids)

	return ids, nil
}
