package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/guildsight/internal/agents"
	"github.com/kestrelworks/guildsight/internal/config"
	"github.com/kestrelworks/guildsight/internal/llm"
	"github.com/kestrelworks/guildsight/internal/logging"
	"github.com/kestrelworks/guildsight/internal/queue"
	"github.com/kestrelworks/guildsight/internal/retrieval"
	"github.com/kestrelworks/guildsight/internal/router"
	"github.com/kestrelworks/guildsight/internal/store"
	"github.com/kestrelworks/guildsight/internal/thematic"
)

type fakeAsker struct {
	answer *agents.Answer
	err    error
}

func (f *fakeAsker) Ask(context.Context, agents.Request) (*agents.Answer, error) {
	return f.answer, f.err
}

type fakeRouter struct{}

func (fakeRouter) Route(context.Context, string) (router.Intent, bool) {
	return router.IntentAnalyticsDB, true
}

type fakeSearcher struct {
	results []retrieval.Result
	err     error
}

func (f *fakeSearcher) Search(context.Context, retrieval.Params) ([]retrieval.Result, error) {
	return f.results, f.err
}

type fakeTopics struct {
	analysis *thematic.Analysis
	err      error
}

func (f *fakeTopics) Cached(int64) (*thematic.Analysis, error) { return f.analysis, f.err }

type fakeHealth struct{ health *store.SyncHealth }

func (f *fakeHealth) Health(context.Context, int64) (*store.SyncHealth, error) {
	return f.health, nil
}

type fakeQueue struct {
	tasks      []queue.Task
	priorities []queue.Priority
}

func (f *fakeQueue) Enqueue(ctx context.Context, task queue.Task) error {
	return f.EnqueueWithPriority(ctx, task, queue.DefaultPriority(task.Kind))
}
func (f *fakeQueue) EnqueueWithPriority(_ context.Context, task queue.Task, p queue.Priority) error {
	f.tasks = append(f.tasks, task)
	f.priorities = append(f.priorities, p)
	return nil
}

type fakeProvider struct {
	client   *llm.Client
	applyErr error
	applied  []llm.Overrides
}

func (f *fakeProvider) Client() *llm.Client { return f.client }
func (f *fakeProvider) Apply(_ context.Context, ov llm.Overrides) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, ov)
	return nil
}

type fakeAdminStore struct {
	channels   []store.Channel
	indexed    map[int64]bool
	directives map[int64]string
	settings   map[string]string
	messages   []store.Message
	dm         []store.DMMessage
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		indexed:    make(map[int64]bool),
		directives: make(map[int64]string),
		settings:   make(map[string]string),
	}
}

func (f *fakeAdminStore) Ping(context.Context) error { return nil }
func (f *fakeAdminStore) Channels(context.Context, int64) ([]store.Channel, error) {
	return f.channels, nil
}
func (f *fakeAdminStore) SetChannelIndexed(_ context.Context, _, channelID int64, indexed bool) error {
	f.indexed[channelID] = indexed
	return nil
}
func (f *fakeAdminStore) GetTenantStats(context.Context, int64) (*store.TenantStats, error) {
	return &store.TenantStats{}, nil
}
func (f *fakeAdminStore) MessageTimeseries(context.Context, int64, int) ([]store.DayCount, error) {
	return nil, nil
}
func (f *fakeAdminStore) TopChannels(context.Context, int64, int) ([]store.ChannelCount, error) {
	return nil, nil
}
func (f *fakeAdminStore) GetDirective(_ context.Context, tenantID int64) (string, error) {
	return f.directives[tenantID], nil
}
func (f *fakeAdminStore) SetDirective(_ context.Context, tenantID int64, directive string) error {
	f.directives[tenantID] = directive
	return nil
}
func (f *fakeAdminStore) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := f.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}
func (f *fakeAdminStore) PutSetting(_ context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}
func (f *fakeAdminStore) MessagesSince(context.Context, int64, int64, time.Time) ([]store.Message, error) {
	return f.messages, nil
}
func (f *fakeAdminStore) InsertDMMessage(_ context.Context, m store.DMMessage) error {
	f.dm = append(f.dm, m)
	return nil
}
func (f *fakeAdminStore) RecentDMMessages(context.Context, int64, int) ([]store.DMMessage, error) {
	return nil, nil
}

type testServer struct {
	srv   *Server
	queue *fakeQueue
	store *fakeAdminStore
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	q := &fakeQueue{}
	st := newFakeAdminStore()
	deps := Deps{
		Asker:    &fakeAsker{answer: &agents.Answer{Answer: "fine", RoutedTo: "GENERAL_KNOWLEDGE", Sources: []agents.Source{}}},
		Router:   fakeRouter{},
		Searcher: &fakeSearcher{},
		Topics:   &fakeTopics{err: thematic.ErrNoAnalysis},
		Health:   &fakeHealth{health: &store.SyncHealth{TenantID: 7, Health: store.HealthHealthy, Percentage: 100}},
		Queue:    q,
		Provider: &fakeProvider{},
		Store:    st,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := NewServer(deps, config.ServerConfig{Host: "127.0.0.1", Port: 8800}, logging.NewNopLogger())
	require.NoError(t, err)
	return &testServer{srv: srv, queue: q, store: st}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, echoJSON)
	}
	rec := httptest.NewRecorder()
	ts.srv.echo.ServeHTTP(rec, req)
	return rec
}

const (
	echoContentType = "Content-Type"
	echoJSON        = "application/json"
)

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Version)
}

func TestAskRequiresTenant(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/v1/ask", `{"query":"hello"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskReturnsAnswerShape(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/v1/ask", `{"tenant_id":7,"query":"how are things"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fine", resp.Answer)
	assert.Equal(t, "GENERAL_KNOWLEDGE", resp.RoutedTo)
	assert.NotNil(t, resp.Sources)
}

func TestAskEmptyQueryIsBadRequest(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Asker = &fakeAsker{err: agents.ErrEmptyQuery}
	})
	rec := ts.do(http.MethodPost, "/api/v1/ask", `{"tenant_id":7,"query":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassify(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/v1/classify", `{"query":"how many messages"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(router.IntentAnalyticsDB), resp.Intent)
	assert.True(t, resp.Deterministic)
}

func TestSearchMapsResults(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Searcher = &fakeSearcher{results: []retrieval.Result{
			{Score: 0.9, SourceType: "chat", Preview: "raid at nine", ChannelID: 5},
			{Score: 0.5, SourceType: "document", Preview: "setup guide", ParentFile: "guide.pdf"},
		}}
	})
	rec := ts.do(http.MethodPost, "/api/v1/search", `{"tenant_id":7,"query":"raid"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "guide.pdf", resp.Results[1].ParentFile)
}

func TestSummaryFallbackWithoutProvider(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.messages = []store.Message{
		{AuthorID: 1, Content: "sourdough starter needs feeding"},
		{AuthorID: 2, Content: "sourdough bake tonight"},
		{AuthorID: 1, Content: "[deleted]", Deleted: true},
	}
	rec := ts.do(http.MethodPost, "/api/v1/summary", `{"tenant_id":7,"channel_id":5,"hours":24}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Participants)
	assert.Equal(t, 2, resp.Messages)
	assert.Contains(t, resp.Keywords, "sourdough")
	assert.NotEmpty(t, resp.Summary)
}

func TestChatWithoutProviderIsUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/v1/chat", `{"user_id":9,"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChannelIndexTogglesAndReindexes(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPatch, "/api/v1/tenants/7/channels/5/index", `{"indexed":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ts.store.indexed[5])
	require.Len(t, ts.queue.tasks, 1)
	assert.Equal(t, queue.KindReindex, ts.queue.tasks[0].Kind)

	rec = ts.do(http.MethodPatch, "/api/v1/tenants/7/channels/5/index", `{"indexed":false}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, ts.store.indexed[5])
	assert.Len(t, ts.queue.tasks, 1, "disabling indexing queues nothing")
}

func TestTenantScopeFailsClosed(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{
		"/api/v1/tenants/abc/channels",
		"/api/v1/tenants/0/channels",
	} {
		rec := ts.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "path: %s", path)
	}
}

func TestTopicsNotFoundBeforeFirstBuild(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/api/v1/tenants/7/topics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTopicsRebuildQueues(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/v1/tenants/7/topics/rebuild", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ts.queue.tasks, 1)
	assert.Equal(t, queue.KindAnalyzeTopics, ts.queue.tasks[0].Kind)
	assert.Equal(t, int64(7), ts.queue.tasks[0].TenantID)
}

func TestForgetTenantQueuesHighPriorityPurge(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodDelete, "/api/v1/tenants/42", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ts.queue.tasks, 1)
	assert.Equal(t, queue.KindPurgeTenant, ts.queue.tasks[0].Kind)
	assert.Equal(t, queue.PriorityHigh, ts.queue.priorities[0])
}

func TestDirectiveRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPut, "/api/v1/tenants/7/personality-directive", `{"directive":"talk like a pirate"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/tenants/7/personality-directive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DirectiveBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "talk like a pirate", resp.Directive)
}

func TestAPIKeysAreMaskedOnRead(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPut, "/api/v1/settings/api-keys", `{"keys":{"openai":"sk-abcdef1234567890wxyz"}}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/settings/api-keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp APIKeysBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sk-a...wxyz", resp.Keys["openai"])
	assert.NotContains(t, rec.Body.String(), "abcdef1234567890")
}

func TestAPIKeysEmptyValueRemoves(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(http.MethodPut, "/api/v1/settings/api-keys", `{"keys":{"openai":"sk-abcdef1234567890wxyz"}}`)
	ts.do(http.MethodPut, "/api/v1/settings/api-keys", `{"keys":{"openai":""}}`)

	rec := ts.do(http.MethodGet, "/api/v1/settings/api-keys", "")
	var resp APIKeysBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Keys)
}

func TestProviderUnavailableWithoutClient(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/api/v1/settings/provider", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPutProviderApplies(t *testing.T) {
	provider := &fakeProvider{}
	ts := newTestServer(t, func(d *Deps) { d.Provider = provider })
	rec := ts.do(http.MethodPut, "/api/v1/settings/provider", `{"provider":"anthropic","model":"claude-sonnet-4-5"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, provider.applied, 1)
	assert.Equal(t, "anthropic", provider.applied[0].Provider)
}

func TestTenantHealthProjection(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/api/v1/tenants/7/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp store.SyncHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, store.HealthHealthy, resp.Health)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "****", maskSecret("12345678"))
	assert.Equal(t, "sk-a...wxyz", maskSecret("sk-abcdef1234567890wxyz"))
}

func TestTopKeywordsStableOrder(t *testing.T) {
	lines := []string{"alpha alpha beta", "beta gamma", "alpha"}
	got := topKeywords(lines, 2)
	assert.Equal(t, []string{"alpha", "beta"}, got)
}
