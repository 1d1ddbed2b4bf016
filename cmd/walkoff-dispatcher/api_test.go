package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/99scratch/WALKOFF/pkg/cmd"
	"github.com/99scratch/WALKOFF/pkg/dispatcher"
	"github.com/99scratch/WALKOFF/pkg/models"
	"github.com/99scratch/WALKOFF/pkg/persistence/file"
	"github.com/99scratch/WALKOFF/pkg/registry"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleController struct{}

func (idleController) Submit(context.Context, dispatcher.SubmitRequest) (string, error) {
	return "", dispatcher.ErrStopped
}

func (idleController) Pause(context.Context, string) (bool, error)  { return false, nil }
func (idleController) Resume(context.Context, string) (bool, error) { return false, nil }
func (idleController) Abort(context.Context, string) (bool, error)  { return false, nil }

func (idleController) SendDataToTrigger(context.Context, any, []string, []models.Argument) ([]string, error) {
	return nil, nil
}

func (idleController) WaitingExecutions(context.Context) ([]*models.Execution, error) {
	return nil, nil
}

func (idleController) Snapshot(context.Context) (dispatcher.Snapshot, error) {
	return dispatcher.Snapshot{}, nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	return cmd.NewRegistry(slog.New(slog.NewTextHandler(os.Stdout, nil)), t.TempDir())
}

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	api := NewAPI(
		slog.New(slog.NewTextHandler(os.Stdout, nil)),
		file.NewPersistence(t.TempDir()),
		newTestRegistry(t),
		idleController{},
	)

	return api.App()
}

func get(t *testing.T, app *fiber.App, path string) (int, []byte) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "WALKOFF API", string(body))
}

func TestAPI_LivenessEndpoint(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/livez")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))
}

func TestAPI_GetWorkflows_Empty(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/workflows")
	require.Equal(t, http.StatusOK, status)

	var response struct {
		Workflows  []*models.Workflow `json:"workflows"`
		TotalCount int                `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Empty(t, response.Workflows)
	assert.Zero(t, response.TotalCount)
}

func TestAPI_Health(t *testing.T) {
	t.Parallel()

	status, _ := get(t, setupTestApp(t), "/health")

	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_ShutdownBeforeStart(t *testing.T) {
	t.Parallel()

	api := NewAPI(slog.Default(), file.NewPersistence(t.TempDir()), newTestRegistry(t), idleController{})

	assert.NoError(t, api.Shutdown(t.Context()))
}
