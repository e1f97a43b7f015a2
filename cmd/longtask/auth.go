package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/longtask/api/handlers"
	"github.com/BaSui01/longtask/config"
	"github.com/BaSui01/longtask/types"
)

// =============================================================================
// 🔐 JWTAuth
// =============================================================================

// verifier 持有 HS256 密钥与 RS256 公钥，任一为空则拒绝对应算法
type verifier struct {
	secret []byte
	pub    *rsa.PublicKey
	opts   []jwt.ParserOption
}

func newVerifier(cfg config.JWTConfig, logger *zap.Logger) *verifier {
	v := &verifier{
		secret: []byte(cfg.Secret),
		opts:   []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})},
	}
	if cfg.PublicKey != "" {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKey))
		if err != nil {
			logger.Warn("jwt public key unusable, RS256 disabled", zap.Error(err))
		}
		v.pub = pub
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v
}

func (v *verifier) key(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("hs256 not configured")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.pub == nil {
			return nil, errors.New("rs256 not configured")
		}
		return v.pub, nil
	}
	return nil, fmt.Errorf("signing method %s not accepted", token.Method.Alg())
}

// claimsContext 写入 tenant_id、user_id（缺省取 sub）与 locale
func claimsContext(ctx context.Context, claims jwt.MapClaims) context.Context {
	str := func(name string) string {
		s, _ := claims[name].(string)
		return s
	}
	if tenant := str("tenant_id"); tenant != "" {
		ctx = types.WithTenantID(ctx, tenant)
	}
	user := str("user_id")
	if user == "" {
		user, _ = claims.GetSubject()
	}
	if user != "" {
		ctx = types.WithUserID(ctx, user)
	}
	if locale := str("locale"); locale != "" {
		ctx = types.WithLocale(ctx, locale)
	}
	return ctx
}

// JWTAuth 校验 Authorization: Bearer 令牌，skipPaths 中的路径直接放行
func JWTAuth(cfg config.JWTConfig, skipPaths []string, logger *zap.Logger) Middleware {
	v := newVerifier(cfg, logger)
	skip := pathSet(skipPaths)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				handlers.WriteErrorMessage(w, r, http.StatusUnauthorized, types.ErrUnauthorized,
					"missing or malformed Authorization header", nil)
				return
			}
			claims := jwt.MapClaims{}
			if _, err := jwt.ParseWithClaims(raw, claims, v.key, v.opts...); err != nil {
				logger.Debug("jwt rejected", zap.Error(err))
				handlers.WriteErrorMessage(w, r, http.StatusUnauthorized, types.ErrUnauthorized,
					"invalid or expired token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(claimsContext(r.Context(), claims)))
		})
	}
}

// =============================================================================
// 🚦 RateLimiter
// =============================================================================

// visitorTTL 之内没有请求的 limiter 会被回收
const visitorTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitorSet struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	visitors map[string]*visitor
}

func (s *visitorSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	s.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (s *visitorSet) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, v := range s.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(s.visitors, key)
			removed++
		}
	}
	return removed
}

// limitKey 认证后按租户，否则按客户端 IP
func limitKey(r *http.Request) string {
	if tenant, ok := types.TenantID(r.Context()); ok {
		return "tenant:" + tenant
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimiter 须放在 JWTAuth 之后；rps <= 0 时不限流。ctx 结束后停止回收。
func RateLimiter(ctx context.Context, rps float64, burst int, skipPaths []string) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	set := &visitorSet{rps: rate.Limit(rps), burst: max(burst, 1), visitors: make(map[string]*visitor)}
	skip := pathSet(skipPaths)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				set.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || set.allow(limitKey(r), time.Now()) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", "1")
			handlers.WriteErrorMessage(w, r, http.StatusTooManyRequests, types.ErrRateLimited,
				"too many requests", nil)
		})
	}
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}
