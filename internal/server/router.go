package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/auth"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const actorContextKey = "quotedeck_actor"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingActorResolver    = errors.New("actor resolver dependency required")
	errMissingQuoteService     = errors.New("quote service dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// ActorResolver maps session claims to organization members.
type ActorResolver interface {
	ResolveActor(ctx context.Context, claims auth.SessionClaims) (users.Actor, error)
	ListMembers(ctx context.Context, orgID string) ([]users.User, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	SessionValidator SessionValidator
	Actors           ActorResolver
	QuoteService     *quotes.Service
	Realtime         *RealtimeDispatcher
	MetricsHandler   http.Handler
	AllowedOrigins   []string
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the quote API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Actors == nil {
		return nil, errMissingActorResolver
	}
	if deps.QuoteService == nil {
		return nil, errMissingQuoteService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions: deps.SessionValidator,
		actors:   deps.Actors,
		quotes:   deps.QuoteService,
		realtime: realtime,
		upgrader: newWebsocketUpgrader(deps.AllowedOrigins),
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	router.POST("/share/:token/verify", handler.handleVerifyShareLink)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/users", handler.handleListMembers)

	protected.GET("/rate-cards", handler.handleListRateCards)
	protected.GET("/rate-cards/active", handler.handleActiveRateCard)
	protected.POST("/rate-cards", handler.handlePublishRateCard)

	protected.GET("/projects", handler.handleListProjects)
	protected.POST("/projects", handler.handleCreateProject)
	protected.GET("/projects/:id", handler.handleGetProject)
	protected.GET("/projects/:id/snapshot", handler.handleSnapshot)

	protected.PUT("/projects/:id/requirements", handler.handleSaveRequirements)
	protected.GET("/projects/:id/requirements", handler.handleGetRequirements)
	protected.GET("/projects/:id/estimate", handler.handleGetEstimate)
	protected.POST("/projects/:id/estimate", handler.handleComputeEstimate)

	protected.GET("/projects/:id/proposal", handler.handleListProposal)
	protected.POST("/projects/:id/proposal/generate", handler.handleGenerateProposal)
	protected.POST("/projects/:id/proposal/regenerate", handler.handleRegenerateProposal)
	protected.PUT("/projects/:id/blocks/:blockId", handler.handleUpdateBlock)

	protected.GET("/projects/:id/blocks/:blockId/comments", handler.handleListComments)
	protected.POST("/projects/:id/blocks/:blockId/comments", handler.handleOpenComment)
	protected.GET("/projects/:id/comments", handler.handleListProjectComments)
	protected.POST("/comments/:commentId/resolve", handler.handleResolveComment)

	protected.POST("/projects/:id/submit", handler.handleTransition(handler.quotes.SubmitForReview))
	protected.POST("/projects/:id/approve/pm", handler.handleTransition(handler.quotes.ApproveByPM))
	protected.POST("/projects/:id/approve/sales", handler.handleTransition(handler.quotes.ApproveBySales))
	protected.POST("/projects/:id/mark-shared", handler.handleTransition(handler.quotes.MarkShared))
	protected.POST("/projects/:id/archive", handler.handleTransition(handler.quotes.Archive))

	protected.GET("/projects/:id/share-links", handler.handleListShareLinks)
	protected.POST("/projects/:id/share-links", handler.handleCreateShareLink)
	protected.DELETE("/projects/:id/share-links/:linkId", handler.handleRevokeShareLink)

	protected.GET("/projects/:id/pdf-exports", handler.handleListPdfExports)
	protected.POST("/projects/:id/pdf-exports", handler.handleRequestPdfExport)

	protected.GET("/projects/:id/events", handler.handleProjectEvents)
	protected.GET("/projects/:id/stream", handler.handleProjectStream)

	return router, nil
}

// corsMiddleware grants cross-origin access to the listed origins only. With
// none listed no CORS headers are sent and browsers stay same-origin.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions SessionValidator
	actors   ActorResolver
	quotes   *quotes.Service
	realtime *RealtimeDispatcher
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	actor, err := h.actors.ResolveActor(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("actor resolution failed", zap.Error(err), zap.String("user_id", claims.UserID))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

func actorFrom(c *gin.Context) (users.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return users.Actor{}, false
	}
	actor, ok := value.(users.Actor)
	return actor, ok && actor.Valid()
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	members, err := h.actors.ListMembers(c.Request.Context(), actor.OrgID)
	if err != nil {
		h.logger.Error("failed to list members", zap.Error(err), zap.String("org_id", actor.OrgID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": string(quotes.KindInternal)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": members})
}
