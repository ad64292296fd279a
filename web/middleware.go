package web

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DavidLandup0/mitsuki/config"
)

// requestLogger logs one structured line per request.
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", chimiddleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
			)
		})
	}
}

// ipAllowlist admits only the listed client addresses or CIDR ranges.
func ipAllowlist(allowlist []string, logger *zap.Logger) func(next http.Handler) http.Handler {
	var nets []*net.IPNet
	var hosts []string
	for _, entry := range allowlist {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		hosts = append(hosts, entry)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			allowed := false
			for _, h := range hosts {
				if h == host {
					allowed = true
					break
				}
			}
			if !allowed {
				if ip := net.ParseIP(host); ip != nil {
					for _, ipnet := range nets {
						if ipnet.Contains(ip) {
							allowed = true
							break
						}
					}
				}
			}

			if !allowed {
				logger.Warn("management endpoint access denied",
					zap.String("remoteAddr", r.RemoteAddr),
					zap.String("path", r.URL.Path),
				)
				WriteJSON(w, http.StatusForbidden, map[string]interface{}{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter applies a per-client token bucket.
func rateLimiter(rps float64, burst int, logger *zap.Logger) func(next http.Handler) http.Handler {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !limiterFor(host).Allow() {
				logger.Warn("rate limit exceeded", zap.String("remoteAddr", r.RemoteAddr))
				WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// claimsContextKey carries validated JWT claims through the request
// context.
type claimsContextKey struct{}

// ClaimsFromContext returns the validated token claims, when the security
// guard admitted the request.
func ClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(jwt.MapClaims)
	return claims, ok
}

// securityGuard enforces bearer-token authentication on routes carrying
// security tags.
type securityGuard struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// newSecurityGuard reads the mitsuki.security.jwt.* keys. It returns nil
// when the guard is disabled.
func newSecurityGuard(store *config.Store, logger *zap.Logger) (*securityGuard, error) {
	enabled, err := store.BoolDefault("mitsuki.security.jwt.enabled", false)
	if err != nil || !enabled {
		return nil, err
	}
	secret := store.StringDefault("mitsuki.security.jwt.secret", "")
	issuer := store.StringDefault("mitsuki.security.jwt.issuer", "")
	return &securityGuard{secret: []byte(secret), issuer: issuer, logger: logger}, nil
}

// wrap guards one endpoint with bearer-token validation.
func (g *securityGuard) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			WriteJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "missing bearer token"})
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.MapClaims{}
		parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
		if g.issuer != "" {
			parserOpts = append(parserOpts, jwt.WithIssuer(g.issuer))
		}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return g.secret, nil
		}, parserOpts...)
		if err != nil || !token.Valid {
			g.logger.Warn("rejected bearer token", zap.Error(err))
			WriteJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "invalid bearer token"})
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next(w, r.WithContext(ctx))
	}
}
