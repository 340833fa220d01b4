package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/internal/model"
)

func readResource(uri string) mcplib.ReadResourceRequest {
	return mcplib.ReadResourceRequest{Params: mcplib.ReadResourceParams{URI: uri}}
}

func resourceJSON(t *testing.T, contents []mcplib.ResourceContents, v any) {
	t.Helper()
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)
	require.NoError(t, json.Unmarshal([]byte(text.Text), v))
}

func TestCatalogResource(t *testing.T) {
	f := newFixture(t)

	contents, err := f.server.handleCatalog(context.Background(), readResource(catalogURI))
	require.NoError(t, err)

	var view catalogView
	resourceJSON(t, contents, &view)
	assert.Equal(t, model.FunctionTypeChat, view.Functions["write_haiku"].Type)
	assert.Equal(t, []string{"baseline"}, view.Functions["write_haiku"].Variants)
	assert.Equal(t, model.FeedbackFloat, view.Metrics["haiku_rating"].Kind)
	assert.Equal(t, model.FeedbackDemonstration, view.Metrics[model.DemonstrationMetric].Kind,
		"the built-in demonstration metric is always listed")
}

func TestFunctionStatsResource(t *testing.T) {
	f := newFixture(t)

	contents, err := f.server.handleFunctionStats(context.Background(),
		readResource("curator://functions/write_haiku/stats"))
	require.NoError(t, err)

	var out struct {
		Count  int64        `json:"count"`
		Bounds model.Bounds `json:"bounds"`
	}
	resourceJSON(t, contents, &out)
	assert.EqualValues(t, 12, out.Count)
	assert.Equal(t, f.inferences[0].ID, *out.Bounds.FirstID)
	assert.Equal(t, f.inferences[11].ID, *out.Bounds.LastID)

	_, err = f.server.handleFunctionStats(context.Background(),
		readResource("curator://functions/missing/stats"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFunctionFromURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{"curator://functions/write_haiku/stats", "write_haiku", false},
		{"curator://functions//stats", "", true},
		{"curator://functions/a/b/stats", "", true},
		{"curator://other/write_haiku/stats", "", true},
	}
	for _, tt := range tests {
		got, err := functionFromURI(tt.uri)
		if tt.wantErr {
			assert.Error(t, err, tt.uri)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
