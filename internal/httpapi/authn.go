package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/obs"
)

const (
	authHeader      = "Authorization"
	tokenQueryParam = "access_token"
	chatSocketPath  = "/ws/chat"
)

// publicPaths are reachable without a bearer token. Paths are matched after
// obs.CanonicalPath so that templated routes compare equal.
var publicPaths = map[string]struct{}{
	"/api/building":                 {},
	"/api/auth":                     {},
	"/api/verify":                   {},
	"/api/confirm":                  {},
	"/api/signup":                   {},
	"/api/login":                    {},
	"/api/elevator":                 {},
	"/api/chat/:roomid/kickRequest": {},
	"/healthz":                      {},
	"/readyz":                       {},
	"/metrics":                      {},
	"/v1/info":                      {},
}

func isPublicPath(path string) bool {
	_, ok := publicPaths[obs.CanonicalPath(path)]
	return ok
}

// authenticate rejects requests outside the allow-list that do not carry a
// valid, non-revoked bearer token.
func (a *API) authenticate(c *gin.Context) {
	if c.Request.Method == http.MethodOptions || isPublicPath(c.Request.URL.Path) {
		c.Next()
		return
	}

	token, err := requestToken(c)
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer realm="officener"`)
		abortError(c, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	principal, err := a.accounts.Authenticate(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.Header("WWW-Authenticate", `Bearer realm="officener", error="invalid_token"`)
			abortError(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		a.logger.Error("authenticate request", zap.Error(err))
		abortError(c, http.StatusInternalServerError, "internal", "authentication error")
		return
	}

	ctx := auth.ContextWithPrincipal(c.Request.Context(), principal)
	ctx = auth.ContextWithToken(ctx, token)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// requestToken reads the bearer header. Browsers cannot set headers on a
// WebSocket handshake, so the chat socket also accepts a query parameter.
func requestToken(c *gin.Context) (string, error) {
	if h := c.GetHeader(authHeader); strings.TrimSpace(h) != "" {
		return auth.BearerToken(h)
	}
	if c.Request.URL.Path == chatSocketPath {
		if q := strings.TrimSpace(c.Query(tokenQueryParam)); q != "" {
			return q, nil
		}
	}
	return "", errors.New("missing bearer token")
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	return auth.PrincipalFromContext(c.Request.Context())
}
