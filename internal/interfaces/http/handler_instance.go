package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"waflow/internal/entities"
	"waflow/internal/infrastructure"
	"waflow/internal/repository"
)

func (h *Handler) ListInstances(c *gin.Context) {
	list, err := h.instances.ListByTenant(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err, "Failed to fetch instances")
		return
	}
	out := make([]infrastructure.InstanceStatus, 0, len(list))
	for _, inst := range list {
		out = append(out, h.sessions.Status(inst.ID))
	}
	c.JSON(http.StatusOK, out)
}

// ConnectInstance claims a new instance id for the caller or reconnects one
// of theirs. Pairing continues through the QR endpoint.
func (h *Handler) ConnectInstance(c *gin.Context) {
	instanceID := c.Param("id")
	if !ValidSlug(instanceID) {
		badRequest(c, "Invalid instance id")
		return
	}
	tenant := tenantID(c)
	ctx := c.Request.Context()

	existing, err := h.instances.Get(ctx, instanceID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// unclaimed id
	case err != nil:
		h.fail(c, err, "Failed to load instance")
		return
	case existing.TenantID != tenant:
		notFound(c)
		return
	}

	if _, err := h.sessions.Connect(ctx, entities.Instance{ID: instanceID, TenantID: tenant}); err != nil {
		h.fail(c, err, "Failed to connect instance")
		return
	}
	c.JSON(http.StatusOK, h.sessions.Status(instanceID))
}

func (h *Handler) InstanceQR(c *gin.Context) {
	instanceID, ok := h.instanceParam(c)
	if !ok {
		return
	}

	code := h.sessions.QR(instanceID)
	if code == "" {
		if h.sessions.Status(instanceID).LoggedIn {
			c.JSON(http.StatusOK, gin.H{"status": "logged_in"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "waiting", "message": "QR code not yet available"})
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		h.fail(c, err, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) InstanceStatus(c *gin.Context) {
	instanceID, ok := h.instanceParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessions.Status(instanceID))
}

func (h *Handler) LogoutInstance(c *gin.Context) {
	instanceID, ok := h.instanceParam(c)
	if !ok {
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), instanceID); err != nil {
		h.fail(c, err, "Failed to log out instance")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// instanceParam resolves :id to one of the caller's instances, writing the
// error response otherwise.
func (h *Handler) instanceParam(c *gin.Context) (string, bool) {
	instanceID := c.Param("id")
	if !ValidSlug(instanceID) {
		badRequest(c, "Invalid instance id")
		return "", false
	}
	if _, err := h.ownedInstance(c.Request.Context(), tenantID(c), instanceID); err != nil {
		h.fail(c, err, "Failed to load instance")
		return "", false
	}
	return instanceID, true
}

func (h *Handler) ListWarmers(c *gin.Context) {
	warmers, err := h.warmers.List(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err, "Failed to fetch warmers")
		return
	}
	if warmers == nil {
		warmers = []entities.Warmer{}
	}
	c.JSON(http.StatusOK, warmers)
}

func (h *Handler) CreateWarmer(c *gin.Context) {
	var req struct {
		Instances []string `json:"instances"`
		Scripts   []string `json:"scripts"`
		Active    bool     `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	tenant := tenantID(c)
	ctx := c.Request.Context()

	if len(req.Instances) < 2 {
		badRequest(c, "a warmer needs at least two instances")
		return
	}
	for _, id := range req.Instances {
		if _, err := h.ownedInstance(ctx, tenant, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				badRequest(c, "Unknown instance "+id)
			} else {
				h.fail(c, err, "Failed to load instance")
			}
			return
		}
	}
	scripts := make([]string, 0, len(req.Scripts))
	for _, s := range req.Scripts {
		if s = SanitizeString(s); s != "" {
			scripts = append(scripts, s)
		}
	}
	if len(scripts) == 0 {
		badRequest(c, "at least one script is required")
		return
	}

	w := &entities.Warmer{TenantID: tenant, Instances: req.Instances, Scripts: scripts, Active: req.Active}
	if err := h.warmers.Create(ctx, w); err != nil {
		h.fail(c, err, "Failed to create warmer")
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) SetWarmerActive(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		badRequest(c, "Invalid warmer id")
		return
	}
	var body activeBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Active == nil {
		badRequest(c, "active is required")
		return
	}
	if err := h.warmers.SetActive(c.Request.Context(), tenantID(c), id, *body.Active); err != nil {
		h.fail(c, err, "Failed to update warmer")
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": *body.Active})
}

// UsageHistory returns the automated messages sent per day and instance.
func (h *Handler) UsageHistory(c *gin.Context) {
	days := 7
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxUsageDays {
			badRequest(c, "days must be between 1 and 90")
			return
		}
		days = n
	}
	history, err := h.usage.History(c.Request.Context(), tenantID(c), days)
	if err != nil {
		h.fail(c, err, "Failed to fetch usage")
		return
	}
	if history == nil {
		history = []repository.DailyUsage{}
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "usage": history})
}
