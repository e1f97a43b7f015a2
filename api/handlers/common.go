package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/longtask/types"
	"go.uber.org/zap"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	HTTPStatus int            `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败只能放弃
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteStatus(w, r, http.StatusOK, data)
}

// WriteStatus 以指定状态码写入成功响应
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(r),
	})
}

// WriteError 写入错误响应；非 *types.Error 按 INTERNAL_ERROR 处理
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	apiErr, ok := types.AsError(err)
	if !ok {
		apiErr = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}

	status := apiErr.HTTPStatus
	if status == 0 {
		status = types.HTTPStatusFor(apiErr.Code)
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(apiErr.Code)),
			zap.String("message", apiErr.Message),
			zap.Int("status", status),
		}
		if apiErr.Cause != nil {
			fields = append(fields, zap.Error(apiErr.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(apiErr.Code),
			Message:    apiErr.Message,
			Data:       apiErr.Data,
			Retryable:  apiErr.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now().UTC(),
		RequestID: requestID(r),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), logger)
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := types.RequestID(r.Context())
	return id
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 严格解码 JSON 请求体（拒绝未知字段，限制 1 MB）。
// 失败时已写出错误响应。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewError(types.ErrValidation, "request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		msg := "invalid JSON body"
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			msg = "request body too large"
		}
		apiErr := types.NewError(types.ErrValidation, msg).WithCause(err).WithHTTPStatus(status)
		WriteError(w, r, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType 要求 application/json
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "application/json; charset=utf-8" {
		WriteErrorMessage(w, r, http.StatusUnsupportedMediaType, types.ErrValidation,
			"Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码与写出字节数
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int
	Written      bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 记录首次写出的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 标记已写入并累计字节数
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += n
	return n, err
}

// Unwrap 供 http.ResponseController 访问底层 writer
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
