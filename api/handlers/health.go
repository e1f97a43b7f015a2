package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	checkPass       = "pass"
	checkFail       = "fail"
)

// HealthCheck 就绪探针依赖的一个后端：任务存储、检查点存储、Redis、数据库
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type HealthHandler struct {
	logger  *zap.Logger
	started time.Time
	// timeout 整个 /ready 的预算，所有检查并发执行
	timeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		started: time.Now(),
		timeout: 5 * time.Second,
	}
}

func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

// HandleHealth 进程存活即返回 200，不访问任何后端
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleHealthz Kubernetes liveness 别名
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 任一检查失败返回 503，响应中包含每个检查的结果
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	results := h.runChecks(ctx, checks)

	status := HealthStatus{Status: statusHealthy, Timestamp: time.Now().UTC(), Checks: make(map[string]CheckResult, len(checks))}
	for i, c := range checks {
		status.Checks[c.Name()] = results[i]
		if results[i].Status == checkFail {
			status.Status = statusUnhealthy
		}
	}

	code := http.StatusOK
	if status.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) runChecks(ctx context.Context, checks []HealthCheck) []CheckResult {
	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)

			results[i] = CheckResult{Status: checkPass, LatencyMS: elapsed.Milliseconds()}
			if err != nil {
				results[i].Status = checkFail
				results[i].Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", c.Name()),
					zap.Duration("latency", elapsed),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
	return results
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

func (h *HealthHandler) HandleVersion(info VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// PingCheck 把任意 Ping(ctx) error 包装成 HealthCheck
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
