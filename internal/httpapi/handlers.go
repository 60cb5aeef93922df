package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Ussu1112/back-officener/internal/account"
	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/directory"
	"github.com/Ussu1112/back-officener/internal/obs"
)

const serviceName = "back-officener"

// Pinger is satisfied by the cache client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing stores.
type ReadyProbe struct {
	DB    *sql.DB
	Cache Pinger
}

// Check pings every configured dependency.
func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AccountService is the signup/login surface used by the handlers.
type AccountService interface {
	SearchBuildings(ctx context.Context, keyword string) ([]account.BuildingWithCompanies, error)
	RequestPhoneVerification(ctx context.Context, phone string) (string, error)
	ConfirmVerification(ctx context.Context, phone, code string) error
	SignUp(ctx context.Context, req account.SignUpRequest) (*directory.User, error)
	Login(ctx context.Context, email, password string) (*account.LoginResult, error)
	Logout(ctx context.Context, principal auth.Principal, authorization string) error
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// ChatHub serves chat sockets and evicts room members.
type ChatHub interface {
	Serve(w http.ResponseWriter, r *http.Request, principal auth.Principal) error
	Kick(ctx context.Context, roomID, userID int64) int
}

// DeviceRegistrar stores push device tokens.
type DeviceRegistrar interface {
	Register(ctx context.Context, userID int64, token string) error
}

// API is the HTTP layer.
type API struct {
	engine     *gin.Engine
	accounts   AccountService
	chat       ChatHub
	devices    DeviceRegistrar
	readyProbe ReadyProbe
	version    string
	logger     *zap.Logger

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
	corsOrigins  []string
	tracing      bool
}

// Option configures API.
type Option func(*API)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRateLimit sets the per-IP token bucket. perSecond <= 0 disables it.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithTracing enables otelgin spans for every request.
func WithTracing() Option {
	return func(a *API) { a.tracing = true }
}

// New builds the router.
func New(rp ReadyProbe, version string, accounts AccountService, hub ChatHub, devices DeviceRegistrar, opts ...Option) *API {
	a := &API{
		accounts:     accounts,
		chat:         hub,
		devices:      devices,
		readyProbe:   rp,
		version:      version,
		logger:       zap.NewNop(),
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.engine = a.routes()
	return a
}

func (a *API) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(RequestLogger(a.logger))
	r.Use(NewRateLimiter(a.rateBurst, a.ratePerSec).Handler())
	r.Use(CORS(a.corsOrigins))
	if a.tracing {
		r.Use(otelgin.Middleware(serviceName))
	}
	r.Use(a.authenticate)

	r.GET("/healthz", a.Healthz)
	r.GET("/readyz", a.Ready)
	r.GET("/v1/info", a.Info)
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	api := r.Group("/api")
	{
		api.GET("/building", a.SearchBuildings)
		api.POST("/verify", a.RequestVerification)
		api.POST("/confirm", a.ConfirmVerification)
		api.POST("/signup", a.SignUp)
		api.POST("/login", a.Login)
		api.POST("/logout", a.Logout)
		api.POST("/notify/fcm-token", a.RegisterDevice)
		api.POST("/chat/:roomid/kickRequest", a.KickRequest)
	}
	r.GET(chatSocketPath, a.ChatSocket)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		writeError(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Handler returns the root http.Handler with metrics, security headers and
// the body limit applied around the router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(SecurityHeaders(MaxBodyBytes(a.engine, a.maxBodyBytes)))
}

func (a *API) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (a *API) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, errorResponse{Error: msg, Code: code, RequestID: c.GetString(requestIDKey)})
}

func abortError(c *gin.Context, status int, code, msg string) {
	writeError(c, status, code, msg)
	c.Abort()
}

// writeDomainError maps account failures to transport statuses. Unclassified
// errors are logged and reported as 500 without detail.
func (a *API) writeDomainError(c *gin.Context, err error) {
	kind := account.KindOf(err)
	var status int
	switch kind {
	case account.KindNotFound:
		status = http.StatusNotFound
	case account.KindDuplicate:
		status = http.StatusConflict
	case account.KindNotVerified, account.KindCodeMismatch, account.KindInvalidInput:
		status = http.StatusBadRequest
	case account.KindInvalidPassword:
		status = http.StatusUnauthorized
	default:
		if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		a.logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	msg := err.Error()
	var de *account.Error
	if errors.As(err, &de) {
		msg = de.Msg
	}
	writeError(c, status, kind.String(), msg)
}
