// Package httpapi exposes the authentication endpoints over HTTP with gin.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	identitydomain "serreconnect/backend/internal/identity/domain"
	"serreconnect/backend/internal/metrics"
)

// Deps holds the collaborators of the HTTP router.
type Deps struct {
	Auth      Authenticator
	Validator SessionAuthenticator
	// Checker backs /readyz. If nil, /readyz always reports ready.
	Checker ReadinessChecker
	// Gatherer backs /metrics. If nil, the default gatherer is used.
	Gatherer prometheus.Gatherer
	// Metrics instruments every request. If nil, no HTTP metrics are recorded.
	Metrics *metrics.HTTPMetrics
	// Audit backs GET /api/v1/admin/audit. If nil, the route is not mounted.
	Audit  AuditLister
	Logger *zap.Logger
}

// NewRouter builds the gin engine:
//
//	GET    /healthz
//	GET    /readyz
//	GET    /metrics
//	POST   /api/v1/auth/register
//	POST   /api/v1/auth/login
//	POST   /api/v1/auth/logout                   (bearer)
//	GET    /api/v1/auth/me                       (bearer)
//	DELETE /api/v1/admin/sessions/:id            (bearer, admin)
//	GET    /api/v1/admin/audit                   (bearer, admin)
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), deps.Metrics.Handler(), AccessLog(deps.Logger))

	health := &healthHandler{startedAt: time.Now().UTC(), checker: deps.Checker}
	r.GET("/healthz", health.live)
	r.GET("/readyz", health.ready)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h := &authHandler{auth: deps.Auth}
	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", h.register)
	v1.POST("/auth/login", h.login)

	protected := v1.Group("", Authenticate(deps.Validator))
	protected.POST("/auth/logout", h.logout)
	protected.GET("/auth/me", h.me)

	admin := protected.Group("/admin", RequireRole(identitydomain.RoleAdmin))
	admin.DELETE("/sessions/:id", h.revokeSession)
	if deps.Audit != nil {
		admin.GET("/audit", (&auditHandler{lister: deps.Audit}).list)
	}
	return r
}
