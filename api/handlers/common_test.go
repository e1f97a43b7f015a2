package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/longtask/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON_Headers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-42"))
	w := httptest.NewRecorder()

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", types.NewError(types.ErrValidation, "bad input"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"task not found", types.NewError(types.ErrTaskNotFound, "missing"), http.StatusNotFound, "TASK_NOT_FOUND"},
		{"already deleting", types.NewError(types.ErrAlreadyBeingDeleted, "busy"), http.StatusConflict, "ALREADY_BEING_DELETED"},
		{"finished", types.NewError(types.ErrTaskFinished, "done"), http.StatusConflict, "TASK_FINISHED"},
		{"explicit status", types.NewError(types.ErrStore, "down").WithHTTPStatus(http.StatusServiceUnavailable), http.StatusServiceUnavailable, "STORE_ERROR"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			WriteError(w, r, tt.err, zaptest.NewLogger(t))

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestWriteError_IncludesData(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrAlreadyBeingDeleted, "busy").WithData("taskId", "t-1")
	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), err, nil)

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "t-1", resp.Error.Data["taskId"])
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		var p payload
		require.NoError(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, "x", p.Name)
	})

	t.Run("unknown field", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := `{"name":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestValidateContentType(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"text/plain":                      false,
		"":                                false,
	} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", ct)
		assert.Equal(t, want, ValidateContentType(w, r, nil), ct)
		if !want {
			assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		}
	}
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // 第二次忽略
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusTeapot, rw.StatusCode)
	assert.Equal(t, 5, rw.BytesWritten)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Same(t, http.ResponseWriter(rec), rw.Unwrap())
}
