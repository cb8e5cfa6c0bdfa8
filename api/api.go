// Package api exposes the extraction engine over HTTP. Routes are
// versioned under /v1 and authenticated with bearer API keys; each key
// maps to a caller identity that scopes rate limiting.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ConvoSphere/DataExtract/engine"
)

// Credential describes one API key: the caller identity it resolves to
// and an optional per-caller rate limit override.
type Credential struct {
	Identity string

	// RateLimit overrides the default submissions-per-window budget
	// when positive.
	RateLimit int
}

// API wires the HTTP handlers for the extraction service.
type API struct {
	eng    *engine.Engine
	keys   map[string]Credential
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithAPIKey registers an API key. Keys are static for the lifetime of
// the process; rotation means restarting with a new set.
func WithAPIKey(key string, cred Credential) Option {
	return func(a *API) { a.keys[key] = cred }
}

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option {
	return func(a *API) { a.logger = lg }
}

// New creates an API over an engine. Per-key rate limit overrides are
// installed into the engine's limiter up front.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:    eng,
		keys:   make(map[string]Credential),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, cred := range a.keys {
		if cred.RateLimit > 0 {
			eng.Limiter().SetLimit(cred.Identity, cred.RateLimit)
		}
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all routes into the given router. The health
// probe is unauthenticated; everything else requires a valid API key.
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/v1/healthz", a.health)

	g := router.Group("/v1", a.authenticate)
	g.POST("/extract", a.submitExtraction)
	g.GET("/jobs", a.listJobs)
	g.GET("/jobs/:jobId", a.getJob)
	g.GET("/jobs/:jobId/result", a.getResult)
	g.DELETE("/jobs/:jobId", a.cancelJob)
	g.GET("/stats", a.getStats)
}

const identityKey = "dataextract.identity"

// authenticate resolves the bearer API key to a caller identity and
// stores it on the request context.
func (a *API) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("missing or malformed Authorization header"))
		return
	}

	cred, ok := a.keys[token]
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unknown API key"))
		return
	}

	c.Set(identityKey, cred.Identity)
	c.Next()
}

// identity returns the authenticated caller identity for a request.
func identity(c *gin.Context) string {
	return c.GetString(identityKey)
}

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

func (a *API) health(c *gin.Context) {
	if err := a.eng.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
