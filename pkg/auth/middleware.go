package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/loophive/hiveboard/pkg/model"
	"github.com/loophive/hiveboard/pkg/storage"
)

// Context keys set by the middleware for downstream handlers.
const (
	ContextTenantID = "auth.tenant_id"
	ContextKeyID    = "auth.key_id"
	ContextKeyType  = "auth.key_type"
)

// publicPaths bypass API-key authentication. The streaming endpoint
// authenticates itself via a query-parameter token.
var publicPaths = map[string]bool{
	"/health":       true,
	"/docs":         true,
	"/openapi.json": true,
	"/dashboard":    true,
	"/v1/stream":    true,
	"/metrics":      true,
}

func isPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}
	return strings.HasPrefix(path, "/static/")
}

// Authenticator is the API-key middleware: Bearer extraction, hash
// lookup, key-type authorisation and rate limiting.
type Authenticator struct {
	store   storage.Store
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewAuthenticator creates the middleware carrier.
func NewAuthenticator(store storage.Store, limiter *RateLimiter, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:   store,
		limiter: limiter,
		logger:  logger.With("component", "auth"),
	}
}

// Middleware returns the echo middleware function.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if isPublicPath(c.Request().URL.Path) {
				return next(c)
			}

			key, err := a.Authenticate(c.Request().Context(), extractBearer(c))
			if err != nil {
				return err
			}

			if key.Type == model.KeyTypeRead && isMutation(c.Request().Method) {
				return echo.NewHTTPError(http.StatusForbidden, "read-only key cannot perform mutations")
			}

			if err := a.applyRateLimit(c, key); err != nil {
				return err
			}

			c.Set(ContextTenantID, key.TenantID)
			c.Set(ContextKeyID, key.ID)
			c.Set(ContextKeyType, key.Type)
			return next(c)
		}
	}
}

// Authenticate resolves a raw key to its active APIKey record and
// touches last_used_at fire-and-forget.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*model.APIKey, error) {
	if raw == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
	}

	key, err := a.store.GetAPIKeyByHash(ctx, HashKey(raw))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("look up API key: %w", err)
	}
	if !key.Active {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "API key revoked")
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.TouchAPIKey(touchCtx, key.ID, time.Now().UTC()); err != nil {
			a.logger.Debug("failed to touch API key", "key_id", key.ID, "error", err)
		}
	}()

	return key, nil
}

func (a *Authenticator) applyRateLimit(c *echo.Context, key *model.APIKey) error {
	limit := DefaultLimitPerSecond
	if c.Request().URL.Path == "/v1/ingest" {
		limit = IngestLimitPerSecond
	}

	allowed, remaining, reset := a.limiter.Allow(key.ID, limit)
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))

	if !allowed {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}
	return nil
}

func extractBearer(c *echo.Context) string {
	header := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
