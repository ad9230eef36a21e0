package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"waflow/internal/entities"
	"waflow/internal/infrastructure"
	"waflow/internal/repository"
	"waflow/internal/usecases"
)

type Authenticator interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
}

type ChatbotStore interface {
	List(ctx context.Context, tenantID int) ([]entities.ChatbotConfig, error)
	Create(ctx context.Context, c *entities.ChatbotConfig) error
	Update(ctx context.Context, c entities.ChatbotConfig) error
	SetActive(ctx context.Context, tenantID int, id int64, active bool) error
}

type FlowStore interface {
	TenantOf(ctx context.Context, flowID string) (int, error)
	GetGraph(ctx context.Context, flowID string) (entities.FlowGraph, error)
	SaveGraph(ctx context.Context, tenantID int, flowID string, graph entities.FlowGraph) error
}

type BroadcastStore interface {
	Create(ctx context.Context, job *entities.BroadcastJob, recipients []entities.Recipient) error
	List(ctx context.Context, tenantID int) ([]entities.BroadcastJob, error)
	Logs(ctx context.Context, tenantID int, jobID string) ([]entities.BroadcastLogEntry, error)
}

type InstanceStore interface {
	Get(ctx context.Context, instanceID string) (entities.Instance, error)
	ListByTenant(ctx context.Context, tenantID int) ([]entities.Instance, error)
}

// SessionManager pairs and controls WhatsApp sessions.
type SessionManager interface {
	Connect(ctx context.Context, inst entities.Instance) (*infrastructure.WhatsAppClient, error)
	QR(instanceID string) string
	Status(instanceID string) infrastructure.InstanceStatus
	Logout(ctx context.Context, instanceID string) error
}

type WarmerStore interface {
	List(ctx context.Context, tenantID int) ([]entities.Warmer, error)
	Create(ctx context.Context, w *entities.Warmer) error
	SetActive(ctx context.Context, tenantID int, id int64, active bool) error
}

type UsageStore interface {
	History(ctx context.Context, tenantID, days int) ([]repository.DailyUsage, error)
}

type Handler struct {
	auth       Authenticator
	chatbots   ChatbotStore
	flows      FlowStore
	broadcasts BroadcastStore
	instances  InstanceStore
	sessions   SessionManager
	warmers    WarmerStore
	usage      UsageStore
	logger     zerolog.Logger
}

type HandlerDeps struct {
	Auth       Authenticator
	Chatbots   ChatbotStore
	Flows      FlowStore
	Broadcasts BroadcastStore
	Instances  InstanceStore
	Sessions   SessionManager
	Warmers    WarmerStore
	Usage      UsageStore
}

func NewHandler(deps HandlerDeps, logger zerolog.Logger) *Handler {
	return &Handler{
		auth:       deps.Auth,
		chatbots:   deps.Chatbots,
		flows:      deps.Flows,
		broadcasts: deps.Broadcasts,
		instances:  deps.Instances,
		sessions:   deps.Sessions,
		warmers:    deps.Warmers,
		usage:      deps.Usage,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// SetupRoutes mounts the API. metrics may be nil.
func SetupRoutes(r *gin.Engine, h *Handler, middleware *Middleware, metrics http.Handler) {
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(20 << 20))
	r.Use(middleware.CORSMiddleware())

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/register", h.Register)
	}

	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerUser(5, 10))
	{
		api.GET("/chatbots", h.ListChatbots)
		api.POST("/chatbots", h.CreateChatbot)
		api.PUT("/chatbots/:id", h.UpdateChatbot)
		api.PUT("/chatbots/:id/active", h.SetChatbotActive)

		api.GET("/flows/:flowId", h.GetFlow)
		api.PUT("/flows/:flowId", h.SaveFlow)

		api.GET("/broadcasts", h.ListBroadcasts)
		api.POST("/broadcasts", h.CreateBroadcast)
		api.GET("/broadcasts/:id/logs", h.BroadcastLogs)

		api.GET("/instances", h.ListInstances)
		api.POST("/instances/:id/connect", h.ConnectInstance)
		api.GET("/instances/:id/qr", h.InstanceQR)
		api.GET("/instances/:id/status", h.InstanceStatus)
		api.POST("/instances/:id/logout", h.LogoutInstance)

		api.GET("/warmers", h.ListWarmers)
		api.POST("/warmers", h.CreateWarmer)
		api.PUT("/warmers/:id/active", h.SetWarmerActive)

		api.GET("/usage", h.UsageHistory)
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, usecases.ErrInvalidCredentials) {
			h.logger.Error().Err(err).Msg("login failed")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidSlug(req.Username) || len(req.Password) < MinPassword {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username or password (min 6 chars)"})
		return
	}
	err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, usecases.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
	case err != nil:
		h.fail(c, err, "Failed to register")
	default:
		c.JSON(http.StatusCreated, gin.H{"status": "registered"})
	}
}

// fail maps domain errors to responses. Anything unexpected is logged and
// reported as msg without details.
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, entities.ErrConfigurationInvalid), errors.Is(err, entities.ErrUnknownNodeKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Int("tenant_id", tenantID(c)).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// ownedInstance loads an instance of the caller. Instances of other tenants
// are reported as missing.
func (h *Handler) ownedInstance(ctx context.Context, tenant int, instanceID string) (entities.Instance, error) {
	inst, err := h.instances.Get(ctx, instanceID)
	if err != nil {
		return entities.Instance{}, err
	}
	if inst.TenantID != tenant {
		return entities.Instance{}, repository.ErrNotFound
	}
	return inst, nil
}

// activeBody is the payload of the activate/deactivate endpoints.
type activeBody struct {
	Active *bool `json:"active"`
}
