package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"waflow/internal/entities"
	"waflow/internal/repository"
)

type broadcastRequest struct {
	Title      string                   `json:"title"`
	Schedule   string                   `json:"schedule"`
	Timezone   string                   `json:"timezone"`
	DelayFrom  int                      `json:"delay_from"`
	DelayTo    int                      `json:"delay_to"`
	Instances  []string                 `json:"instances"`
	Template   entities.MessageTemplate `json:"template"`
	Recipients []entities.Recipient     `json:"recipients"`
}

// bindBroadcast reads either a JSON body or a multipart form with a JSON
// "payload" field and a "recipients" CSV file.
func bindBroadcast(c *gin.Context) (broadcastRequest, error) {
	var req broadcastRequest
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		err := c.ShouldBindJSON(&req)
		return req, err
	}

	if err := json.Unmarshal([]byte(c.PostForm("payload")), &req); err != nil {
		return req, fmt.Errorf("payload: %w", err)
	}
	header, err := c.FormFile("recipients")
	if err != nil {
		return req, fmt.Errorf("recipients file: %w", err)
	}
	f, err := header.Open()
	if err != nil {
		return req, err
	}
	defer f.Close()

	req.Recipients, err = repository.ParseRecipientsCSV(f)
	return req, err
}

func (h *Handler) CreateBroadcast(c *gin.Context) {
	req, err := bindBroadcast(c)
	if err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	tenant := tenantID(c)

	req.Title = SanitizeString(req.Title)
	if !ValidateLength(req.Title, 1, MaxTitleLength) {
		badRequest(c, "title is required")
		return
	}
	if !req.Template.Kind.IsContent() || len(req.Template.Content) == 0 {
		badRequest(c, "template must be a text, media, location or poll message")
		return
	}
	if req.DelayFrom < 0 || req.DelayTo < 0 {
		badRequest(c, "delays must not be negative")
		return
	}
	schedule, err := entities.ParseWallClock(req.Schedule, req.Timezone)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	if len(req.Instances) == 0 {
		badRequest(c, "at least one instance is required")
		return
	}
	ctx := c.Request.Context()
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

	recipients := make([]entities.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		r.Destination = strings.TrimSpace(r.Destination)
		if r.Destination != "" {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 || len(recipients) > MaxRecipients {
		badRequest(c, fmt.Sprintf("between 1 and %d recipients are required", MaxRecipients))
		return
	}

	job := &entities.BroadcastJob{
		TenantID:  tenant,
		Title:     req.Title,
		Schedule:  &schedule,
		Timezone:  req.Timezone,
		DelayFrom: req.DelayFrom,
		DelayTo:   req.DelayTo,
		Instances: req.Instances,
		Template:  req.Template,
	}
	if err := h.broadcasts.Create(ctx, job, recipients); err != nil {
		h.fail(c, err, "Failed to create broadcast")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"broadcast": job, "recipients": len(recipients)})
}

func (h *Handler) ListBroadcasts(c *gin.Context) {
	jobs, err := h.broadcasts.List(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err, "Failed to fetch broadcasts")
		return
	}
	if jobs == nil {
		jobs = []entities.BroadcastJob{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) BroadcastLogs(c *gin.Context) {
	jobID := c.Param("id")
	if !ValidSlug(jobID) {
		badRequest(c, "Invalid broadcast id")
		return
	}
	entries, err := h.broadcasts.Logs(c.Request.Context(), tenantID(c), jobID)
	if err != nil {
		h.fail(c, err, "Failed to fetch broadcast logs")
		return
	}
	if entries == nil {
		entries = []entities.BroadcastLogEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
