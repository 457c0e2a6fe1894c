package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/ipvault/internal/activity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/auth"
	"github.com/MarcoPoloResearchLab/ipvault/internal/datastore"
	"github.com/MarcoPoloResearchLab/ipvault/internal/identity"
	"github.com/MarcoPoloResearchLab/ipvault/internal/ipdata"
)

const userContextKey = "ipvault_user"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingResolver         = errors.New("identity resolver dependency required")
	errMissingDatabase         = errors.New("database dependency required")
	errMissingActivityLogger   = errors.New("activity logger dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// IdentityResolver maps verified claims to the canonical user.
type IdentityResolver interface {
	Resolve(claims auth.SessionClaims) (identity.User, error)
}

// Dependencies collects the collaborators of the HTTP API.
type Dependencies struct {
	SessionValidator SessionValidator
	Resolver         IdentityResolver
	Database         *gorm.DB
	Activity         *activity.Logger
	Realtime         *RealtimeDispatcher
	IDProvider       datastore.IDProvider
	Metrics          *datastore.Metrics
	Gatherer         prometheus.Gatherer
	Clock            func() time.Time
	Logger           *zap.Logger
}

type httpHandler struct {
	sessions  SessionValidator
	resolver  IdentityResolver
	db        *gorm.DB
	activity  *activity.Logger
	realtime  *RealtimeDispatcher
	clock     func() time.Time
	logger    *zap.Logger
	heartbeat time.Duration

	notes     datastore.Table[ipdata.Note]
	comments  datastore.Table[ipdata.Comment]
	checklist datastore.Table[ipdata.ChecklistItem]
	timeline  datastore.Table[ipdata.ActivityLog]
	links     datastore.Table[ipdata.Link]
}

// NewHTTPHandler wires the JSON API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.Activity == nil {
		return nil, errMissingActivityLogger
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := deps.IDProvider
	if ids == nil {
		ids = datastore.NewUUIDProvider()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	tables := tableFactory{db: deps.Database, ids: ids, logger: logger, metrics: deps.Metrics}
	handler := &httpHandler{
		sessions:  deps.SessionValidator,
		resolver:  deps.Resolver,
		db:        deps.Database,
		activity:  deps.Activity,
		realtime:  realtime,
		clock:     clock,
		logger:    logger,
		heartbeat: realtimeHeartbeatInterval,
	}
	var err error
	if handler.notes, err = newTable[ipdata.Note](tables); err != nil {
		return nil, err
	}
	if handler.comments, err = newTable[ipdata.Comment](tables); err != nil {
		return nil, err
	}
	if handler.checklist, err = newTable[ipdata.ChecklistItem](tables); err != nil {
		return nil, err
	}
	if handler.timeline, err = newTable[ipdata.ActivityLog](tables); err != nil {
		return nil, err
	}
	if handler.links, err = newTable[ipdata.Link](tables); err != nil {
		return nil, err
	}

	resources, err := ownedResources(handler, tables)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.Use(handler.authorizeRequest)
	for _, resource := range resources {
		resource.register(api)
	}
	api.POST("/links", handler.handleLinkCreate)
	api.DELETE("/links/:linkId", handler.handleLinkDelete)
	api.GET("/events", handler.handleEventStream)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	user, err := h.resolver.Resolve(claims)
	if err != nil {
		h.logger.Warn("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userContextKey, user)
	c.Next()
}

// session returns the identity of the authenticated caller.
func (h *httpHandler) session(c *gin.Context) *identity.Session {
	value, ok := c.Get(userContextKey)
	if !ok {
		return identity.NewSession()
	}
	user, ok := value.(identity.User)
	if !ok {
		return identity.NewSession()
	}
	return identity.NewSignedInSession(user)
}

// recordChange audits a mutation and tells the caller's other clients about it.
func (h *httpHandler) recordChange(c *gin.Context, provider identity.Provider, entry activity.Entry) {
	h.activity.WithIdentity(provider).Log(c.Request.Context(), entry)
	user, ok := provider.Current()
	if !ok {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    user.ID,
		EventType: RealtimeEventRecordChanged,
		Entity:    entry.Entity,
		Action:    entry.Action,
		Timestamp: h.clock().UTC(),
	})
}

type tableFactory struct {
	db      *gorm.DB
	ids     datastore.IDProvider
	logger  *zap.Logger
	metrics *datastore.Metrics
}

func newTable[T any](factory tableFactory) (*datastore.GormTable[T], error) {
	return datastore.NewGormTable[T](datastore.GormTableConfig{
		Database:   factory.db,
		IDProvider: factory.ids,
		Logger:     factory.logger,
		Metrics:    factory.metrics,
	})
}
