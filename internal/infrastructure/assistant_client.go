package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"waflow/internal/entities"
	"waflow/internal/interfaces"
)

// AssistantClient hands conversations over to the separate AI service.
type AssistantClient struct {
	endpoint string
	http     *http.Client
}

func NewAssistantClient(baseURL string, client *http.Client) *AssistantClient {
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := ""
	if baseURL != "" {
		endpoint = strings.TrimRight(baseURL, "/") + "/handoff"
	}
	return &AssistantClient{endpoint: endpoint, http: client}
}

type handoffPayload struct {
	TenantID     int                       `json:"tenantId"`
	ChatbotID    int64                     `json:"chatbotId"`
	InstanceID   string                    `json:"instanceId"`
	Instructions string                    `json:"instructions"`
	Message      entities.CanonicalMessage `json:"message"`
}

type handoffResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

func (c *AssistantClient) Handoff(ctx context.Context, req interfaces.AssistantRequest) error {
	if c.endpoint == "" {
		return fmt.Errorf("%w: assistant url not set", entities.ErrConfigurationInvalid)
	}

	data, err := json.Marshal(handoffPayload{
		TenantID:     req.TenantID,
		ChatbotID:    req.ChatbotID,
		InstanceID:   req.InstanceID,
		Instructions: req.Instructions,
		Message:      req.Message,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrExternalRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrExternalRequest, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: assistant returned %d", entities.ErrExternalRequest, resp.StatusCode)
	}

	var out handoffResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("%w: invalid response format", entities.ErrExternalRequest)
	}
	if !out.Success {
		return fmt.Errorf("%w: assistant declined: %s", entities.ErrExternalRequest, out.Msg)
	}
	return nil
}
