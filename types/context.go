package types

import (
	"context"

	"go.uber.org/zap"
)

// ctxKey 的取值同时用作日志字段名
type ctxKey string

const (
	keyTraceID   ctxKey = "trace_id"
	keyRequestID ctxKey = "request_id"
	keyTenantID  ctxKey = "tenant"
	keyUserID    ctxKey = "user_id"
	keyLocale    ctxKey = "locale"
	keyTaskID    ctxKey = "task_id"
)

// LogFields 的输出顺序
var logKeys = []ctxKey{keyRequestID, keyTraceID, keyTenantID, keyUserID, keyTaskID}

func with(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// lookup 空字符串视为未设置
func lookup(ctx context.Context, k ctxKey) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

func WithTraceID(ctx context.Context, id string) context.Context { return with(ctx, keyTraceID, id) }
func WithRequestID(ctx context.Context, id string) context.Context { return with(ctx, keyRequestID, id) }
func WithTenantID(ctx context.Context, id string) context.Context { return with(ctx, keyTenantID, id) }
func WithUserID(ctx context.Context, id string) context.Context { return with(ctx, keyUserID, id) }
func WithLocale(ctx context.Context, tag string) context.Context { return with(ctx, keyLocale, tag) }

// WithTaskID 标记当前正在调用的任务
func WithTaskID(ctx context.Context, id string) context.Context { return with(ctx, keyTaskID, id) }

func TraceID(ctx context.Context) (string, bool) { return lookup(ctx, keyTraceID) }
func RequestID(ctx context.Context) (string, bool) { return lookup(ctx, keyRequestID) }
func TenantID(ctx context.Context) (string, bool) { return lookup(ctx, keyTenantID) }
func UserID(ctx context.Context) (string, bool) { return lookup(ctx, keyUserID) }
func Locale(ctx context.Context) (string, bool) { return lookup(ctx, keyLocale) }
func TaskID(ctx context.Context) (string, bool) { return lookup(ctx, keyTaskID) }

// LogFields 把 ctx 中已设置的请求标识转成 zap 字段，locale 不输出
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, k := range logKeys {
		if v, ok := lookup(ctx, k); ok {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return fields
}
