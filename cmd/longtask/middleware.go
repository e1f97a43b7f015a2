package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/longtask/api/handlers"
	"github.com/BaSui01/longtask/internal/metrics"
	"github.com/BaSui01/longtask/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个位于最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// publicPaths 不需要认证与限流的端点
var publicPaths = []string{"/health", "/healthz", "/ready", "/version"}

// Recovery 把 panic 转成 500 错误信封
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					handlers.WriteErrorMessage(w, r, http.StatusInternalServerError,
						types.ErrInternalError, "internal server error", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 透传或生成 X-Request-ID 并写入 context
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = "req-" + uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders 添加通用安全响应头
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// Observe 每个请求写一条访问日志并记录 HTTP 指标；5xx 用 Warn 级别
func Observe(logger *zap.Logger, collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := normalizePath(r.URL.Path)
			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, rw.StatusCode, elapsed,
					max(r.ContentLength, 0), int64(rw.BytesWritten))
			}

			fields := append(make([]zap.Field, 0, 7),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", elapsed),
			)
			fields = append(fields, types.LogFields(r.Context())...)
			if rw.StatusCode >= http.StatusInternalServerError {
				logger.Warn("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

// normalizePath 将路径中的 id 段替换为 :id，限制标签基数：
//
//	/api/v1/tasks/8f14e45f-...        -> /api/v1/tasks/:id
//	/api/v1/tasks/8f14e45f-.../abort  -> /api/v1/tasks/:id/abort
//	/api/v1/models/article/delete     -> /api/v1/models/:id/delete
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/version", "/metrics":
		return path
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 3 || len(segments) > 5 || segments[0] != "api" || segments[1] != "v1" {
		return "/other"
	}
	switch segments[2] {
	case "tasks", "models", "definitions":
	default:
		return "/other"
	}
	if len(segments) > 3 {
		segments[3] = ":id"
	}
	return "/" + strings.Join(segments, "/")
}

// =============================================================================
// 🔭 OpenTelemetry
// =============================================================================

// OTelTracing 为每个请求创建服务端 span，并从请求头提取上游 trace context
func OTelTracing() Middleware {
	tracer := otel.Tracer("longtask/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}
