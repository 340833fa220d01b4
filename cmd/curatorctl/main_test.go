package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator"
	"github.com/tensorzero/curator/internal/testutil"
	sdk "github.com/tensorzero/curator/sdk/go/curator"
)

const catalogTOML = `
[functions.write_haiku]
type = "chat"
variants = ["baseline", "creative"]

[metrics.haiku_rating]
type = "float"
optimize = "max"
level = "inference"

[metrics.notes]
type = "comment"
`

type cliTestEnv struct {
	url string
}

// setupCLITestEnv serves a seeded in-memory curator: 20 write_haiku
// inferences, each with a rating, every fourth with a comment and every
// fifth with a demonstration.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	app, err := curator.New(context.Background(),
		curator.WithDatabaseURL("memory:"),
		curator.WithCatalogTOML([]byte(catalogTOML)),
		curator.WithLogger(testutil.TestLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })

	_, err = app.Seed(context.Background(), curator.SeedOptions{PerFunction: 20, Seed: 3})
	require.NoError(t, err)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return &cliTestEnv{url: srv.URL}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", e.url}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliTestEnv) runJSON(t *testing.T, dest any, args ...string) {
	t.Helper()
	out, err := e.run(t, append([]string{"--json"}, args...)...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), dest), out)
}

func TestInferencesCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "inferences", "count", "write_haiku")
	require.NoError(t, err)
	assert.Equal(t, "20\n", out)

	out, err = env.run(t, "inferences", "count", "write_haiku", "--variant", "creative")
	require.NoError(t, err)
	assert.Equal(t, "10\n", out)

	var page sdk.Page[sdk.Inference]
	env.runJSON(t, &page, "inferences", "list", "write_haiku", "-n", "7")
	require.Len(t, page.Data, 7)
	assert.True(t, page.PageInfo.HasOlder)

	var next sdk.Page[sdk.Inference]
	env.runJSON(t, &next, "inferences", "list", "write_haiku", "-n", "7", "--before", page.Data[6].ID.String())
	require.Len(t, next.Data, 7)
	assert.Less(t, next.Data[0].ID.String(), page.Data[6].ID.String())

	out, err = env.run(t, "inferences", "list", "write_haiku", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "response #19")
	assert.Contains(t, out, "older: --before ")
	assert.NotContains(t, out, "newer:")

	var bounds sdk.Bounds
	env.runJSON(t, &bounds, "inferences", "bounds", "write_haiku")
	require.NotNil(t, bounds.LastID)
	assert.Equal(t, page.Data[0].ID, *bounds.LastID)
}

func TestInferencesCommands_Errors(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "inferences", "list", "nope")
	assert.True(t, sdk.IsNotFound(err))

	_, err = env.run(t, "inferences", "list", "write_haiku", "--before", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--before")

	_, err = env.run(t, "inferences", "list", "write_haiku", "--page-size=-1")
	assert.True(t, sdk.IsInvalidInput(err))
}

func TestFeedbackCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "feedback", "count", "float", "--metric", "haiku_rating")
	require.NoError(t, err)
	assert.Equal(t, "20\n", out)

	var inferences sdk.Page[sdk.Inference]
	env.runJSON(t, &inferences, "inferences", "list", "write_haiku", "--after", "00000000-0000-7000-8000-000000000000", "-n", "1")
	require.Len(t, inferences.Data, 1)
	oldest := inferences.Data[0].ID.String()

	var merged sdk.Page[sdk.Feedback]
	env.runJSON(t, &merged, "feedback", "list", "--target", oldest)
	// The oldest inference gets a rating, a comment and a demonstration.
	require.Len(t, merged.Data, 3)
	kinds := []string{merged.Data[0].Type, merged.Data[1].Type, merged.Data[2].Type}
	assert.ElementsMatch(t, []string{"float", "comment", "demonstration"}, kinds)

	var counts sdk.TargetFeedbackCount
	env.runJSON(t, &counts, "feedback", "count", "--target", oldest)
	assert.EqualValues(t, 3, counts.Total)

	out, err = env.run(t, "feedback", "latest", oldest)
	require.NoError(t, err)
	assert.Contains(t, out, "haiku_rating")

	_, err = env.run(t, "feedback", "list")
	require.Error(t, err)
	_, err = env.run(t, "feedback", "list", "--target", oldest, "--metric", "haiku_rating")
	require.Error(t, err)
}

func TestCurateCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	var res sdk.CurationResponse
	env.runJSON(t, &res, "curate", "write_haiku", "-m", "demonstration")
	assert.Equal(t, 4, res.Count)

	path := filepath.Join(t.TempDir(), "data.jsonl")
	out, err := env.run(t, "curate", "write_haiku", "-m", "demonstration", "--export", path)
	require.NoError(t, err)
	assert.Equal(t, "wrote 4 examples to "+path+"\n", out)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "ideal response")

	_, err = env.run(t, "curate", "write_haiku", "-m", "notes")
	assert.True(t, sdk.IsUnsupportedPolicy(err))

	_, err = env.run(t, "curate", "write_haiku", "-m", "haiku_rating")
	assert.True(t, sdk.IsInvalidInput(err), "float metrics need a threshold")

	env.runJSON(t, &res, "curate", "write_haiku", "-m", "haiku_rating", "--threshold", "-1", "--max-samples", "5")
	assert.Equal(t, 5, res.Count)
}

func TestFineTuneCommands_NoProvider(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "finetune", "launch", "write_haiku", "--base-model", "m", "-m", "demonstration")
	require.Error(t, err)
	assert.True(t, sdk.IsInvalidInput(err), "no launcher is registered for openai")

	_, err = env.run(t, "finetune", "launch", "write_haiku")
	require.ErrorContains(t, err, "--base-model")

	_, err = env.run(t, "finetune", "status", "00000000-0000-7000-8000-000000000001")
	assert.True(t, sdk.IsNotFound(err))
}
