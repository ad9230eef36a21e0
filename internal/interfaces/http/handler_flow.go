package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"waflow/internal/entities"
	"waflow/internal/repository"
)

type chatbotRequest struct {
	Title      string `json:"title"`
	InstanceID string `json:"instance_id"`
	FlowID     string `json:"flow_id"`
	GroupReply bool   `json:"group_reply"`
	Active     bool   `json:"active"`
}

// chatbot validates the request against the caller's instances and flows.
func (h *Handler) chatbot(c *gin.Context, tenant int) (entities.ChatbotConfig, bool) {
	var req chatbotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request")
		return entities.ChatbotConfig{}, false
	}
	req.Title = SanitizeString(req.Title)
	if !ValidateLength(req.Title, 1, MaxTitleLength) || !ValidSlug(req.InstanceID) || !ValidSlug(req.FlowID) {
		badRequest(c, "title, instance_id and flow_id are required")
		return entities.ChatbotConfig{}, false
	}
	ctx := c.Request.Context()
	if _, err := h.ownedInstance(ctx, tenant, req.InstanceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			badRequest(c, "Unknown instance")
		} else {
			h.fail(c, err, "Failed to load instance")
		}
		return entities.ChatbotConfig{}, false
	}
	if err := h.flowWritable(ctx, tenant, req.FlowID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			badRequest(c, "Unknown flow")
		} else {
			h.fail(c, err, "Failed to load flow")
		}
		return entities.ChatbotConfig{}, false
	}
	return entities.ChatbotConfig{
		TenantID:   tenant,
		Title:      req.Title,
		InstanceID: req.InstanceID,
		FlowID:     req.FlowID,
		GroupReply: req.GroupReply,
		Active:     req.Active,
	}, true
}

// flowWritable accepts flows of the caller and ids not taken yet.
func (h *Handler) flowWritable(ctx context.Context, tenant int, flowID string) error {
	owner, err := h.flows.TenantOf(ctx, flowID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != tenant {
		return repository.ErrNotFound
	}
	return nil
}

func (h *Handler) ListChatbots(c *gin.Context) {
	bots, err := h.chatbots.List(c.Request.Context(), tenantID(c))
	if err != nil {
		h.fail(c, err, "Failed to fetch chatbots")
		return
	}
	if bots == nil {
		bots = []entities.ChatbotConfig{}
	}
	c.JSON(http.StatusOK, bots)
}

func (h *Handler) CreateChatbot(c *gin.Context) {
	bot, ok := h.chatbot(c, tenantID(c))
	if !ok {
		return
	}
	if err := h.chatbots.Create(c.Request.Context(), &bot); err != nil {
		h.fail(c, err, "Failed to create chatbot")
		return
	}
	c.JSON(http.StatusCreated, bot)
}

func (h *Handler) UpdateChatbot(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		badRequest(c, "Invalid chatbot id")
		return
	}
	bot, ok := h.chatbot(c, tenantID(c))
	if !ok {
		return
	}
	bot.ID = id
	if err := h.chatbots.Update(c.Request.Context(), bot); err != nil {
		h.fail(c, err, "Failed to update chatbot")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) SetChatbotActive(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		badRequest(c, "Invalid chatbot id")
		return
	}
	var body activeBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Active == nil {
		badRequest(c, "active is required")
		return
	}
	if err := h.chatbots.SetActive(c.Request.Context(), tenantID(c), id, *body.Active); err != nil {
		h.fail(c, err, "Failed to update chatbot")
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": *body.Active})
}

func (h *Handler) GetFlow(c *gin.Context) {
	flowID := c.Param("flowId")
	if !ValidSlug(flowID) {
		badRequest(c, "Invalid flow id")
		return
	}
	ctx := c.Request.Context()
	owner, err := h.flows.TenantOf(ctx, flowID)
	if err != nil {
		h.fail(c, err, "Failed to load flow")
		return
	}
	if owner != tenantID(c) {
		notFound(c)
		return
	}
	graph, err := h.flows.GetGraph(ctx, flowID)
	if err != nil {
		h.fail(c, err, "Failed to load flow")
		return
	}
	if graph.Nodes == nil {
		graph.Nodes = []entities.Node{}
	}
	if graph.Edges == nil {
		graph.Edges = []entities.Edge{}
	}
	c.JSON(http.StatusOK, graph)
}

// SaveFlow replaces the graph. Unknown node kinds and duplicate node ids are
// rejected before anything is stored.
func (h *Handler) SaveFlow(c *gin.Context) {
	flowID := c.Param("flowId")
	if !ValidSlug(flowID) {
		badRequest(c, "Invalid flow id")
		return
	}
	var body struct {
		Nodes json.RawMessage `json:"nodes"`
		Edges json.RawMessage `json:"edges"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	graph, err := entities.DecodeFlowGraph(body.Nodes, body.Edges)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.flows.SaveGraph(c.Request.Context(), tenantID(c), flowID, graph); err != nil {
		h.fail(c, err, "Failed to save flow")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "nodes": len(graph.Nodes), "edges": len(graph.Edges)})
}
