package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
	"github.com/hugo-lorenzo-mato/casework/internal/events"
	"github.com/hugo-lorenzo-mato/casework/internal/service/analysis"
	"github.com/hugo-lorenzo-mato/casework/internal/telemetry"
)

const testThread core.ThreadID = "3f1c7d2e-1111-4222-8333-944455556666"

// fakeThreads records calls and returns canned answers.
type fakeThreads struct {
	mu sync.Mutex

	startBackground string
	startOpts       core.AnalysisOptions
	resumeDecision  any
	stopped         []core.ThreadID

	err      error
	report   string
	revise   bool
	statuses map[core.ThreadID]core.ThreadStatus
	list     []core.ThreadSummary
}

func newFakeThreads() *fakeThreads {
	return &fakeThreads{
		statuses: map[core.ThreadID]core.ThreadStatus{
			testThread: {ThreadID: testThread, Node: core.NodeApprovalGate, Status: core.StatusAwaitingApproval},
		},
	}
}

func (f *fakeThreads) DefaultOptions() core.AnalysisOptions { return core.DefaultAnalysisOptions() }

func (f *fakeThreads) approval() *core.ApprovalRequest {
	return &core.ApprovalRequest{
		ThreadID:     testThread,
		Plan:         []core.AnalysisCategory{{Name: "Liability", Description: "Breach", RequiresSearch: true}},
		PlanRevision: 1,
		Message:      "approve?",
	}
}

func (f *fakeThreads) Start(_ context.Context, background string, opts core.AnalysisOptions) (*core.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startBackground, f.startOpts = background, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.approval(), nil
}

func (f *fakeThreads) Resume(_ context.Context, id core.ThreadID, decision any) (*analysis.ResumeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeDecision = decision
	if f.err != nil {
		return nil, f.err
	}
	if f.revise {
		return &analysis.ResumeResult{ThreadID: id, Approval: f.approval()}, nil
	}
	status := core.ThreadStatus{ThreadID: id, Node: core.NodeGatherCategories, Status: core.StatusRunning, Live: true}
	return &analysis.ResumeResult{ThreadID: id, Status: &status}, nil
}

func (f *fakeThreads) Stop(_ context.Context, id core.ThreadID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stopped = append(f.stopped, id)
	f.statuses[id] = core.ThreadStatus{ThreadID: id, Status: core.StatusStopped}
	return nil
}

func (f *fakeThreads) Status(_ context.Context, id core.ThreadID) (*core.ThreadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return nil, core.ErrNotFound("thread", string(id))
	}
	return &st, nil
}

func (f *fakeThreads) Approval(_ context.Context, id core.ThreadID) (*core.ApprovalRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.approval(), nil
}

func (f *fakeThreads) Report(_ context.Context, id core.ThreadID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.report, nil
}

func (f *fakeThreads) List(context.Context) ([]core.ThreadSummary, error) {
	return f.list, f.err
}

func newTestServer(t *testing.T, threads ThreadService, opts ...ServerOption) (*httptest.Server, *events.EventBus) {
	t.Helper()
	bus := events.New(16)
	srv := httptest.NewServer(NewServer(threads, bus, opts...).Handler())
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})
	return srv, bus
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, newFakeThreads())
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body, "resources")
}

func TestHealth_Detail(t *testing.T) {
	srv, _ := newTestServer(t, newFakeThreads(), WithHealthDetail(func() any {
		return map[string]int{"goroutines": 12}
	}))
	_, body := do(t, http.MethodGet, srv.URL+"/health", "")
	require.Contains(t, body, "resources")
	assert.Equal(t, map[string]any{"goroutines": float64(12)}, body["resources"])
}

func TestMetrics(t *testing.T) {
	m := telemetry.NewMetrics()
	m.ThreadStarted()
	srv, _ := newTestServer(t, newFakeThreads(), WithMetrics(m))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var sb strings.Builder
	_, _ = bufio.NewReader(resp.Body).WriteTo(&sb)
	assert.Contains(t, sb.String(), "casework_")
}

func TestMetrics_Disabled(t *testing.T) {
	srv, _ := newTestServer(t, newFakeThreads())
	resp, _ := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartThread(t *testing.T) {
	threads := newFakeThreads()
	srv, _ := newTestServer(t, threads)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/threads",
		`{"background":"Acme sued Widget.","options":{"max_search_depth":4}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/api/v1/threads/"+string(testThread), resp.Header.Get("Location"))
	assert.Equal(t, string(testThread), body["thread_id"])
	assert.EqualValues(t, 1, body["plan_revision"])

	assert.Equal(t, "Acme sued Widget.", threads.startBackground)
	want := core.DefaultAnalysisOptions()
	want.MaxSearchDepth = 4
	assert.Equal(t, want, threads.startOpts)
}

func TestStartThread_BadBodies(t *testing.T) {
	handler := NewServer(newFakeThreads(), nil).Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty", body: "", want: http.StatusBadRequest},
		{name: "not json", body: "{", want: http.StatusBadRequest},
		{name: "unknown field", body: `{"background":"x","prompt":"y"}`, want: http.StatusBadRequest},
		{name: "too large", body: `{"background":"` + strings.Repeat("a", maxBodyBytes) + `"}`, want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/threads", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestDomainErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrValidation(core.CodeEmptyBackground, "background is required"), http.StatusUnprocessableEntity},
		{core.ErrContractViolation(core.CodeInvalidDecision, "bad"), http.StatusBadRequest},
		{core.ErrNotFound("thread", "x"), http.StatusNotFound},
		{core.ErrState(core.CodeNotAwaiting, "not waiting"), http.StatusConflict},
		{core.ErrConflict(core.CodeAlreadyRunning, "running"), http.StatusConflict},
		{core.ErrRateLimit("slow down"), http.StatusTooManyRequests},
		{core.ErrTimeout("took too long"), http.StatusGatewayTimeout},
		{core.ErrPlanning(core.CodePlannerFailed, "no plan"), http.StatusBadGateway},
		{core.ErrProvider(core.CodeCompletionFailed, "down", true), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			threads := newFakeThreads()
			threads.err = tt.err
			srv, _ := newTestServer(t, threads)

			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/threads", `{"background":"x"}`)
			assert.Equal(t, tt.want, resp.StatusCode)

			var de *core.DomainError
			require.True(t, errors.As(tt.err, &de))
			assert.Equal(t, de.Code, body["code"])
			assert.Equal(t, string(de.Category), body["category"])
		})
	}
}

func TestPlainErrorIsInternal(t *testing.T) {
	threads := newFakeThreads()
	threads.err = errors.New("disk on fire")
	srv, _ := newTestServer(t, threads)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/threads", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", body["error"])
}

func TestResumeThread(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		revise bool
		want   int
		passed any
	}{
		{name: "approve", body: `{"decision":true}`, want: http.StatusAccepted, passed: true},
		{name: "revise", body: `{"decision":"drop strategy"}`, revise: true, want: http.StatusOK, passed: "drop strategy"},
		{name: "number passes through", body: `{"decision":7}`, want: http.StatusAccepted, passed: float64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			threads := newFakeThreads()
			threads.revise = tt.revise
			srv, _ := newTestServer(t, threads)

			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/threads/"+string(testThread)+"/resume", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, string(testThread), body["thread_id"])
			assert.Equal(t, tt.passed, threads.resumeDecision)
			if tt.revise {
				assert.NotNil(t, body["approval"])
			} else {
				assert.NotNil(t, body["status"])
			}
		})
	}
}

func TestResumeThread_MissingDecision(t *testing.T) {
	threads := newFakeThreads()
	srv, _ := newTestServer(t, threads)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/threads/"+string(testThread)+"/resume", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "decision is required", body["error"])
	assert.Nil(t, threads.resumeDecision)
}

func TestStopThread(t *testing.T) {
	threads := newFakeThreads()
	srv, _ := newTestServer(t, threads)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/threads/"+string(testThread)+"/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(core.StatusStopped), body["status"])
	assert.Equal(t, []core.ThreadID{testThread}, threads.stopped)
}

func TestGetThread(t *testing.T) {
	srv, _ := newTestServer(t, newFakeThreads())

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/threads/"+string(testThread), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(core.StatusAwaitingApproval), body["status"])

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/threads/unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, core.CodeNotFound, body["code"])
}

func TestGetApproval(t *testing.T) {
	srv, _ := newTestServer(t, newFakeThreads())
	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/threads/"+string(testThread)+"/approval", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approve?", body["message"])
}

func TestListThreads(t *testing.T) {
	threads := newFakeThreads()
	threads.list = []core.ThreadSummary{
		{ThreadID: "a", Status: core.StatusCompleted},
		{ThreadID: "b", Status: core.StatusAwaitingApproval},
	}
	srv, _ := newTestServer(t, threads)

	for _, tc := range []struct {
		query string
		want  int
	}{{"", 2}, {"?status=completed", 1}, {"?status=failed", 0}} {
		resp, err := http.Get(srv.URL + "/api/v1/threads" + tc.query)
		require.NoError(t, err)
		var got []core.ThreadSummary
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		resp.Body.Close()
		assert.Len(t, got, tc.want, tc.query)
		assert.NotNil(t, got)
	}
}

func TestGetReport(t *testing.T) {
	threads := newFakeThreads()
	threads.report = "# Case Analysis\n"
	srv, _ := newTestServer(t, threads)
	url := srv.URL + "/api/v1/threads/" + string(testThread) + "/report"

	resp, body := do(t, http.MethodGet, url, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "# Case Analysis\n", body["report"])

	raw, err := http.Get(url + "?format=markdown")
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, "text/markdown; charset=utf-8", raw.Header.Get("Content-Type"))
	var sb strings.Builder
	_, _ = bufio.NewReader(raw.Body).WriteTo(&sb)
	assert.Equal(t, "# Case Analysis\n", sb.String())
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, newFakeThreads(), WithCORSOrigins([]string{"https://desk.example"}))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://desk.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://desk.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://elsewhere.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSSE_StreamsThreadEvents(t *testing.T) {
	srv, bus := newTestServer(t, newFakeThreads(), WithKeepAlive(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?thread="+string(testThread), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	frame := func() (string, string) {
		t.Helper()
		var typ, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				typ = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && typ != "":
				return typ, data
			}
		}
	}

	typ, _ := frame()
	require.Equal(t, "connected", typ)

	bus.Publish(events.NewPlanReadyEvent("other-thread", 1, 3))
	bus.Publish(events.NewCategoryCompletedEvent(string(testThread), "Liability", 2, false, 1, 3))

	typ, data := frame()
	assert.Equal(t, events.TypeCategoryCompleted, typ)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, string(testThread), payload["thread_id"])
	assert.Equal(t, "Liability", payload["category"])
}
