package handlers

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
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/longtask/checkpoint"
	"github.com/BaSui01/longtask/internal/idempotency"
	"github.com/BaSui01/longtask/persistence"
	"github.com/BaSui01/longtask/task"
	"github.com/BaSui01/longtask/testutil/fixtures"
	"github.com/BaSui01/longtask/types"
)

func newTaskServer(t *testing.T) (*httptest.Server, *task.Orchestrator) {
	return newTaskServerWith(t, nil)
}

func newTaskServerWith(t *testing.T, idem idempotency.Store) (*httptest.Server, *task.Orchestrator) {
	registry := task.NewRegistry()
	registry.MustRegister(fixtures.EchoDefinition())
	orch := task.NewOrchestrator(task.DefaultOrchestratorConfig(), registry,
		persistence.NewMemoryTaskStore(), checkpoint.NewMemoryStore(), zaptest.NewLogger(t))

	mux := http.NewServeMux()
	h := NewTaskHandler(orch, zaptest.NewLogger(t))
	if idem != nil {
		h.WithIdempotency(idem, time.Hour)
	}
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, orch
}

type taskEnvelope struct {
	Success bool       `json:"success"`
	Data    task.Task  `json:"data"`
	Error   *ErrorInfo `json:"error"`
}

// doJSON 发送请求并返回原始 JSON 响应；headers 为 key, value 交替
func doJSON(t *testing.T, method, url, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	return resp, raw
}

func TestTaskHandler_TriggerAndGet(t *testing.T) {
	srv, _ := newTaskServer(t)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", `{"definition":"echo","input":{"message":"hi"},"tenant":"root"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	var created taskEnvelope
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.True(t, created.Success)
	assert.Equal(t, task.StatusPending, created.Data.Status)
	assert.Equal(t, "echo", created.Data.DefinitionID)
	assert.Equal(t, "Echo", created.Data.Name)
	assert.Equal(t, "root", created.Data.Tenant)
	assert.JSONEq(t, `{"message":"hi"}`, string(created.Data.Input))

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+created.Data.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got taskEnvelope
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, created.Data.ID, got.Data.ID)
}

func TestTaskHandler_TriggerErrors(t *testing.T) {
	srv, _ := newTaskServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"missing definition", `{"input":{}}`, http.StatusBadRequest, types.ErrValidation},
		{"unknown definition", `{"definition":"nope"}`, http.StatusNotFound, types.ErrDefinitionNotFound},
		{"invalid input", `{"definition":"echo","input":{"message":""}}`, http.StatusBadRequest, types.ErrValidation},
		{"unknown input field", `{"definition":"echo","input":{"message":"x","bogus":1}}`, http.StatusBadRequest, types.ErrValidation},
		{"unknown body field", `{"definition":"echo","extra":true}`, http.StatusBadRequest, types.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(raw))
			var env taskEnvelope
			require.NoError(t, json.Unmarshal(raw, &env))
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tt.wantCode), env.Error.Code)
		})
	}
}

func TestTaskHandler_GetMissing(t *testing.T) {
	srv, _ := newTaskServer(t)
	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), "TASK_NOT_FOUND")
}

func TestTaskHandler_AbortPendingFinalizes(t *testing.T) {
	srv, orch := newTaskServer(t)
	tk, err := orch.Trigger(context.Background(), task.TriggerParams{DefinitionID: fixtures.EchoID, Input: fixtures.EchoInput{Message: "x"}})
	require.NoError(t, err)

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+tk.ID+"/abort", `{"message":"stop please"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var env taskEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, task.StatusAborted, env.Data.Status)
	assert.True(t, env.Data.AbortRequested)
	assert.Equal(t, "stop please", env.Data.Message)

	// 已结束的任务再次中止返回 409
	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+tk.ID+"/abort", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(raw), "TASK_FINISHED")
}

func TestTaskHandler_List(t *testing.T) {
	srv, orch := newTaskServer(t)
	ctx := context.Background()
	for _, tenant := range []string{"a", "a", "b"} {
		_, err := orch.Trigger(ctx, task.TriggerParams{DefinitionID: fixtures.EchoID, Input: fixtures.EchoInput{Message: "x"}, Tenant: tenant})
		require.NoError(t, err)
	}

	var list struct {
		Data struct {
			Tasks []task.Task `json:"tasks"`
			Count int         `json:"count"`
			Limit int         `json:"limit"`
		} `json:"data"`
	}
	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?tenant=a&status=pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, 2, list.Data.Count)
	assert.Equal(t, defaultListLimit, list.Data.Limit)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=done", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, 0, list.Data.Count)
	assert.NotNil(t, list.Data.Tasks)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=weird", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskHandler_ListDefinitions(t *testing.T) {
	srv, _ := newTaskServer(t)
	resp, raw := doJSON(t, http.MethodGet, srv.URL+"/api/v1/definitions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"id":"echo"`)
}

func TestTaskHandler_TriggerIdempotency(t *testing.T) {
	idem := idempotency.NewMemoryStore(0, nil)
	srv, orch := newTaskServerWith(t, idem)
	body := `{"definition":"echo","input":{"message":"hi"},"tenant":"root"}`

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", body, IdempotencyKeyHeader, "req-1")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	var first taskEnvelope
	require.NoError(t, json.Unmarshal(raw, &first))

	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", body, IdempotencyKeyHeader, "req-1")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	var replay taskEnvelope
	require.NoError(t, json.Unmarshal(raw, &replay))
	assert.Equal(t, first.Data.ID, replay.Data.ID)

	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", body, IdempotencyKeyHeader, "req-2")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	var second taskEnvelope
	require.NoError(t, json.Unmarshal(raw, &second))
	assert.NotEqual(t, first.Data.ID, second.Data.ID)

	tasks, err := orch.ListTasks(context.Background(), task.Filter{DefinitionID: fixtures.EchoID})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	t.Run("rejected trigger releases the key", func(t *testing.T) {
		bad := `{"definition":"echo","input":{"message":""},"tenant":"root"}`
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", bad, IdempotencyKeyHeader, "req-3")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", body, IdempotencyKeyHeader, "req-3")
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	})

	t.Run("in progress", func(t *testing.T) {
		key, err := idempotency.Key("root", fixtures.EchoID, "req-4")
		require.NoError(t, err)
		_, claimed, err := idem.Claim(context.Background(), key, time.Hour)
		require.NoError(t, err)
		require.True(t, claimed)

		resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", body, IdempotencyKeyHeader, "req-4")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		var env taskEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrRequestInProgress), env.Error.Code)
	})

	t.Run("key too long", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", body, IdempotencyKeyHeader, strings.Repeat("k", 300))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

// newTenantServer 模拟认证中间件写入的租户
func newTenantServer(t *testing.T, tenant string) (*httptest.Server, *task.Orchestrator) {
	registry := task.NewRegistry()
	registry.MustRegister(fixtures.EchoDefinition())
	orch := task.NewOrchestrator(task.DefaultOrchestratorConfig(), registry,
		persistence.NewMemoryTaskStore(), checkpoint.NewMemoryStore(), zaptest.NewLogger(t))

	mux := http.NewServeMux()
	NewTaskHandler(orch, zaptest.NewLogger(t)).Register(mux)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(types.WithTenantID(r.Context(), tenant)))
	}))
	t.Cleanup(srv.Close)
	return srv, orch
}

func TestTaskHandler_AuthenticatedTenantWins(t *testing.T) {
	srv, orch := newTenantServer(t, "acme")
	ctx := context.Background()

	resp, raw := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", `{"definition":"echo","input":{"message":"hi"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	var created taskEnvelope
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Equal(t, "acme", created.Data.Tenant)

	resp, raw = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", `{"definition":"echo","input":{"message":"hi"},"tenant":"globex"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(raw), "FORBIDDEN")

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?tenant=globex", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	foreign, err := orch.Trigger(ctx, task.TriggerParams{DefinitionID: fixtures.EchoID, Input: fixtures.EchoInput{Message: "x"}, Tenant: "globex"})
	require.NoError(t, err)

	var list struct {
		Data struct {
			Tasks []task.Task `json:"tasks"`
		} `json:"data"`
	}
	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Data.Tasks, 1)
	assert.Equal(t, created.Data.ID, list.Data.Tasks[0].ID)

	resp, raw = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+foreign.ID, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), "TASK_NOT_FOUND")

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/"+foreign.ID+"/abort", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	stored, err := orch.GetTask(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, stored.Status)
	assert.False(t, stored.AbortRequested)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+created.Data.ID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
