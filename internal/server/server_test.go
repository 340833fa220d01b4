package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/curator/api"
	"github.com/tensorzero/curator/internal/config"
	"github.com/tensorzero/curator/internal/mcp"
	"github.com/tensorzero/curator/internal/model"
	"github.com/tensorzero/curator/internal/ratelimit"
	"github.com/tensorzero/curator/internal/server"
	"github.com/tensorzero/curator/internal/service/curation"
	"github.com/tensorzero/curator/internal/service/finetune"
	"github.com/tensorzero/curator/internal/service/merge"
	"github.com/tensorzero/curator/internal/service/pagination"
	"github.com/tensorzero/curator/internal/storage/memstore"
	"github.com/tensorzero/curator/internal/testutil"
)

const catalogTOML = `
[functions.write_haiku]
type = "chat"

[metrics.haiku_rating]
type = "float"
optimize = "max"
level = "inference"

[metrics.notes]
type = "comment"
`

// twoStepLauncher produces jobs that report running, then succeeded.
type twoStepLauncher struct{ examples int }

func (l *twoStepLauncher) Name() string { return "fake" }

func (l *twoStepLauncher) Launch(_ context.Context, dataset []byte, opts finetune.LaunchOptions) (finetune.Job, error) {
	l.examples = opts.Examples
	return &twoStepJob{state: finetune.State{Status: finetune.StatusRunning, ProviderJobID: "ft-1"}}, nil
}

type twoStepJob struct{ state finetune.State }

func (j *twoStepJob) Provider() string      { return "fake" }
func (j *twoStepJob) State() finetune.State { return j.state }
func (j *twoStepJob) Poll(context.Context) (finetune.State, error) {
	j.state.Status = finetune.StatusSucceeded
	j.state.FineTunedModel = "ft:haiku"
	return j.state, nil
}

type env struct {
	srv        *httptest.Server
	store      *memstore.Store
	gen        *testutil.IDGen
	inferences []model.Inference // ascending
	launcher   *twoStepLauncher
}

// newEnv serves 15 write_haiku inferences; every third is rated 0.9, the
// rest 0.1.
func newEnv(t *testing.T) *env {
	t.Helper()
	catalog, err := config.ParseCatalog([]byte(catalogTOML))
	require.NoError(t, err)

	store := memstore.New()
	logger := testutil.TestLogger()
	pager := pagination.New(store, logger)
	merger := merge.New(pager, logger)
	curator := curation.New(store, catalog, logger)
	launcher := &twoStepLauncher{}
	mcpSrv := mcp.New(mcp.Deps{
		Pager: pager, Merger: merger, Curator: curator, Catalog: catalog,
		Logger: logger, Version: "test", DefaultPageSize: 10, MaxPageSize: 50,
	})

	srv := server.New(server.ServerConfig{
		Pager:               pager,
		Merger:              merger,
		Curator:             curator,
		Catalog:             catalog,
		Backend:             store.Backend(),
		Logger:              logger,
		FineTune:            finetune.NewService(curator, logger, launcher),
		Limiter:             ratelimit.NoopLimiter{},
		MCPServer:           mcpSrv.MCPServer(),
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		DefaultPageSize:     10,
		MaxPageSize:         50,
		OpenAPISpec:         api.OpenAPISpec,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	e := &env{srv: ts, store: store, gen: &testutil.IDGen{}, launcher: launcher}
	for i := range 15 {
		inf := e.gen.Inference("write_haiku", e.gen.Next(), fmt.Sprintf("haiku %d", i))
		testutil.MustInsert(t, store, inf)
		rating := 0.1
		if i%3 == 0 {
			rating = 0.9
		}
		testutil.MustInsert(t, store, e.gen.Float(inf.ID, "haiku_rating", rating))
		e.inferences = append(e.inferences, inf)
	}
	return e
}

func (e *env) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *env) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type inferencePage struct {
	Data     []model.Inference  `json:"data"`
	PageSize int                `json:"page_size"`
	PageInfo model.PageInfo     `json:"page_info"`
	Bounds   model.Bounds       `json:"bounds"`
	Meta     model.ResponseMeta `json:"meta"`
}

type feedbackPage struct {
	Data     model.FeedbackList `json:"data"`
	PageInfo model.PageInfo     `json:"page_info"`
	Bounds   model.Bounds       `json:"bounds"`
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Data
}

func requireError(t *testing.T, resp *http.Response, status int, code string) model.APIError {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	apiErr := decode[model.APIError](t, resp)
	assert.Equal(t, code, apiErr.Error.Code)
	return apiErr
}

func TestListInferences_WalkOlder(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, "/v1/functions/write_haiku/inferences?page_size=6")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[inferencePage](t, resp)
	require.Len(t, page.Data, 6)
	assert.Equal(t, 6, page.PageSize)
	assert.Equal(t, e.inferences[14].ID, page.Data[0].ID)
	assert.True(t, page.PageInfo.HasOlder)
	assert.False(t, page.PageInfo.HasNewer)
	assert.NotEmpty(t, page.Meta.RequestID)

	var seen []uuid.UUID
	for {
		for _, inf := range page.Data {
			seen = append(seen, inf.ID)
		}
		if !page.PageInfo.HasOlder {
			break
		}
		last := page.Data[len(page.Data)-1].ID
		page = decode[inferencePage](t, e.get(t, "/v1/functions/write_haiku/inferences?page_size=6&before="+last.String()))
	}
	require.Len(t, seen, 15)
	for i, u := range seen {
		assert.Equal(t, e.inferences[14-i].ID, u)
	}
}

func TestListInferences_AfterCursor(t *testing.T) {
	e := newEnv(t)
	cursor := e.inferences[4].ID

	page := decode[inferencePage](t, e.get(t, "/v1/functions/write_haiku/inferences?page_size=3&after="+cursor.String()))
	require.Len(t, page.Data, 3)
	// The three records just newer than the cursor, still sorted descending.
	assert.Equal(t, e.inferences[7].ID, page.Data[0].ID)
	assert.Equal(t, e.inferences[5].ID, page.Data[2].ID)
	assert.True(t, page.PageInfo.HasNewer)
	assert.True(t, page.PageInfo.HasOlder)
}

func TestListInferences_DefaultAndClampedPageSize(t *testing.T) {
	e := newEnv(t)

	page := decode[inferencePage](t, e.get(t, "/v1/functions/write_haiku/inferences"))
	assert.Len(t, page.Data, 10)
	assert.Equal(t, 10, page.PageSize)

	page = decode[inferencePage](t, e.get(t, "/v1/functions/write_haiku/inferences?page_size=500"))
	assert.Len(t, page.Data, 15)
	assert.Equal(t, 50, page.PageSize)
}

func TestListInferences_Filters(t *testing.T) {
	e := newEnv(t)
	episode := e.inferences[3].EpisodeID

	page := decode[inferencePage](t, e.get(t, "/v1/functions/write_haiku/inferences?episode_id="+episode.String()))
	require.Len(t, page.Data, 1)
	assert.Equal(t, e.inferences[3].ID, page.Data[0].ID)

	page = decode[inferencePage](t, e.get(t, "/v1/functions/write_haiku/inferences?variant_name=nope"))
	assert.Empty(t, page.Data)
	assert.NotNil(t, page.Data, "empty pages serialize as []")
}

func TestListInferences_Errors(t *testing.T) {
	e := newEnv(t)
	some := e.inferences[2].ID.String()

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown function", "/v1/functions/nope/inferences", http.StatusNotFound, model.ErrCodeNotFound},
		{"both cursors", "/v1/functions/write_haiku/inferences?before=" + some + "&after=" + some, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"bad cursor", "/v1/functions/write_haiku/inferences?before=yesterday", http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"zero page size", "/v1/functions/write_haiku/inferences?page_size=0", http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"non-numeric page size", "/v1/functions/write_haiku/inferences?page_size=ten", http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"bad episode", "/v1/functions/write_haiku/inferences?episode_id=1", http.StatusBadRequest, model.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireError(t, e.get(t, tt.path), tt.status, tt.code)
		})
	}
}

func TestInferenceBoundsAndCount(t *testing.T) {
	e := newEnv(t)

	bounds := decodeData[model.Bounds](t, e.get(t, "/v1/functions/write_haiku/inferences/bounds"))
	assert.Equal(t, e.inferences[0].ID, *bounds.FirstID)
	assert.Equal(t, e.inferences[14].ID, *bounds.LastID)

	count := decodeData[model.CountResponse](t, e.get(t, "/v1/functions/write_haiku/inferences/count"))
	assert.EqualValues(t, 15, count.Count)
}

func TestFeedbackByKind(t *testing.T) {
	e := newEnv(t)
	target := e.inferences[0].ID

	page := decode[feedbackPage](t, e.get(t, "/v1/feedback/float?page_size=4"))
	require.Len(t, page.Data, 4)
	assert.True(t, page.PageInfo.HasOlder)

	page = decode[feedbackPage](t, e.get(t, "/v1/feedback/float?target_id="+target.String()))
	require.Len(t, page.Data, 1)
	fb, ok := page.Data[0].(model.FloatMetricFeedback)
	require.True(t, ok)
	assert.Equal(t, 0.9, fb.Value)

	count := decodeData[model.CountResponse](t, e.get(t, "/v1/feedback/float/count?metric_name=haiku_rating"))
	assert.EqualValues(t, 15, count.Count)

	bounds := decodeData[model.Bounds](t, e.get(t, "/v1/feedback/comment/bounds"))
	assert.True(t, bounds.Empty())

	requireError(t, e.get(t, "/v1/feedback/thumbs"), http.StatusBadRequest, model.ErrCodeInvalidInput)
	requireError(t, e.get(t, "/v1/feedback/comment?metric_name=x"), http.StatusBadRequest, model.ErrCodeInvalidInput)
}

func TestTargetFeedback_Merged(t *testing.T) {
	e := newEnv(t)
	target := e.inferences[1].ID
	var comments []uuid.UUID
	for i := range 5 {
		c := e.gen.Comment(target, fmt.Sprintf("comment %d", i))
		testutil.MustInsert(t, e.store, c)
		comments = append(comments, c.ID)
	}
	demo := e.gen.Demonstration(target, "an improved haiku")
	testutil.MustInsert(t, e.store, demo)

	page := decode[feedbackPage](t, e.get(t, "/v1/targets/"+target.String()+"/feedback?page_size=3"))
	require.Len(t, page.Data, 3)
	assert.Equal(t, demo.ID, page.Data[0].FeedbackID())
	assert.Equal(t, comments[4], page.Data[1].FeedbackID())
	assert.Equal(t, comments[3], page.Data[2].FeedbackID())
	assert.True(t, page.PageInfo.HasOlder)

	last := page.Data[2].FeedbackID()
	page = decode[feedbackPage](t, e.get(t, "/v1/targets/"+target.String()+"/feedback?page_size=10&before="+last.String()))
	require.Len(t, page.Data, 4)
	assert.Equal(t, model.FeedbackFloat, page.Data[3].Kind(), "the rating is the oldest record")
	assert.False(t, page.PageInfo.HasOlder)

	count := decodeData[model.TargetFeedbackCount](t, e.get(t, "/v1/targets/"+target.String()+"/feedback/count"))
	assert.EqualValues(t, 7, count.Total)
	assert.EqualValues(t, 5, count.ByKind[model.FeedbackComment])

	bounds := decodeData[model.Bounds](t, e.get(t, "/v1/targets/"+target.String()+"/feedback/bounds"))
	assert.Equal(t, demo.ID, *bounds.LastID)

	latest := decodeData[[]model.MetricValue](t, e.get(t, "/v1/targets/"+target.String()+"/feedback/latest"))
	require.Len(t, latest, 1)
	assert.Equal(t, "haiku_rating", latest[0].MetricName)
	assert.Equal(t, 0.1, latest[0].Value)

	requireError(t, e.get(t, "/v1/targets/not-a-uuid/feedback"), http.StatusBadRequest, model.ErrCodeInvalidInput)
}

func TestTargetFeedback_Empty(t *testing.T) {
	e := newEnv(t)

	page := decode[feedbackPage](t, e.get(t, "/v1/targets/"+uuid.NewString()+"/feedback"))
	assert.Empty(t, page.Data)
	assert.True(t, page.Bounds.Empty())
	assert.Equal(t, model.PageInfo{}, page.PageInfo)
}

func TestCurate(t *testing.T) {
	e := newEnv(t)
	threshold := 0.5

	resp := e.post(t, "/v1/curation", model.CurationRequest{
		FunctionName: "write_haiku",
		MetricName:   "haiku_rating",
		Threshold:    &threshold,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeData[model.CurationResponse](t, resp)
	assert.Equal(t, 5, out.Count)
	assert.Len(t, out.Inferences, 5)

	resp = e.post(t, "/v1/curation", model.CurationRequest{FunctionName: "write_haiku"})
	out = decodeData[model.CurationResponse](t, resp)
	assert.Equal(t, 15, out.Count, "no metric keeps everything")
}

func TestCurate_Errors(t *testing.T) {
	e := newEnv(t)

	requireError(t, e.post(t, "/v1/curation", model.CurationRequest{FunctionName: "write_haiku", MetricName: "notes"}),
		http.StatusBadRequest, model.ErrCodeUnsupportedPolicy)
	requireError(t, e.post(t, "/v1/curation", model.CurationRequest{FunctionName: "write_haiku", MetricName: "haiku_rating"}),
		http.StatusBadRequest, model.ErrCodeInvalidInput)
	requireError(t, e.post(t, "/v1/curation", model.CurationRequest{FunctionName: "missing"}),
		http.StatusNotFound, model.ErrCodeNotFound)
	requireError(t, e.post(t, "/v1/curation", map[string]any{"function": "write_haiku"}),
		http.StatusBadRequest, model.ErrCodeInvalidInput)
}

func TestExportCuration(t *testing.T) {
	e := newEnv(t)
	threshold := 0.5

	resp := e.post(t, "/v1/curation/export", model.CurationRequest{
		FunctionName: "write_haiku",
		MetricName:   "haiku_rating",
		Threshold:    &threshold,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, "5", resp.Header.Get("X-Example-Count"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "write_haiku-")

	var lines int
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ex curation.Example
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ex))
		require.NotEmpty(t, ex.Messages)
		assert.Equal(t, "assistant", ex.Messages[len(ex.Messages)-1].Role)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 5, lines)
}

func TestFineTuneJobs(t *testing.T) {
	e := newEnv(t)
	threshold := 0.5

	resp := e.post(t, "/v1/fine_tuning/jobs", model.FineTuneRequest{
		Provider:  "fake",
		BaseModel: "gpt-4o-mini",
		Curation:  model.CurationRequest{FunctionName: "write_haiku", MetricName: "haiku_rating", Threshold: &threshold},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decodeData[model.FineTuneJob](t, resp)
	assert.Equal(t, "running", job.Status)
	assert.Equal(t, 5, job.Examples)
	assert.Equal(t, 5, e.launcher.examples)

	polled := decodeData[model.FineTuneJob](t, e.get(t, "/v1/fine_tuning/jobs/"+job.ID.String()))
	assert.Equal(t, "succeeded", polled.Status)
	assert.Equal(t, "ft:haiku", polled.FineTunedModel)

	requireError(t, e.get(t, "/v1/fine_tuning/jobs/"+uuid.NewString()), http.StatusNotFound, model.ErrCodeNotFound)
	requireError(t, e.post(t, "/v1/fine_tuning/jobs", model.FineTuneRequest{
		Provider: "nope", BaseModel: "m", Curation: model.CurationRequest{FunctionName: "write_haiku"},
	}), http.StatusBadRequest, model.ErrCodeInvalidInput)
}

func TestHealthMetricsAndSpec(t *testing.T) {
	e := newEnv(t)

	resp := e.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeData[model.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Backend)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	// Generate one request so the HTTP counters have a sample.
	e.get(t, "/v1/functions/write_haiku/inferences/count")
	resp = e.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "curator_http_requests_total")

	resp = e.get(t, "/openapi.yaml")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	spec, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(spec), "openapi:"))
}
