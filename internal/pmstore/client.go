// Package pmstore is the HTTP client for the upstream PM store, the CRUD
// backend that owns projects, BOQ line items, deliverables, documents and
// approval tasks. This service never writes those entities locally; every
// mutation goes through this client as one batch call. Saves are not
// retried automatically, a failed batch is reported to the caller and the
// buffered change set stays intact for a manual retry.
package pmstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/boq"
	"github.com/nordpm/dashboard-api/internal/config"
	"github.com/nordpm/dashboard-api/internal/domain"
)

const defaultHealthTimeout = 5 * time.Second

// ProjectDetails is the upstream project+vendor record. The duration fields
// arrive in whatever shape the store has for that project (day count, month
// count or an interval phrase), so they stay untyped until the schedule
// package resolves them.
type ProjectDetails struct {
	ProjectID             string  `json:"projectId"`
	Name                  string  `json:"name"`
	VendorName            string  `json:"vendorName"`
	ExecutionStartDate    string  `json:"executionStartDate"`
	ExecutionDuration     any     `json:"executionDuration"`
	MaintenanceDuration   any     `json:"maintenanceDuration"`
	ProjectTypeName       string  `json:"projectTypeName"`
	ApprovedProjectBudget float64 `json:"approvedProjectBudget"`
	PhaseName             string  `json:"phaseName"`
}

// LineItemBatch is one BOQ batch save.
type LineItemBatch struct {
	ProjectID string         `json:"projectId"`
	NewItems  []boq.LineItem `json:"newItems"`
	Updates   []boq.LineItem `json:"updates"`
	Deletions []string       `json:"deletions"`
}

// DeliverableBatch is one deliverable batch save.
type DeliverableBatch struct {
	ProjectID           string               `json:"projectId"`
	NewDeliverables     []domain.Deliverable `json:"newDeliverables"`
	UpdatedDeliverables []domain.Deliverable `json:"updatedDeliverables"`
	DeletedDeliverables []string             `json:"deletedDeliverables"`
}

// DocumentDescriptor registers an uploaded evidence file with the store.
// The binary itself stays in this service's storage; the store only tracks
// the descriptor.
type DocumentDescriptor struct {
	DeliverableID            string              `json:"deliverableId"`
	ProjectID                string              `json:"projectId"`
	DocumentType             domain.DocumentType `json:"documentType"`
	Filename                 string              `json:"filename"`
	ContentType              string              `json:"contentType"`
	Size                     int64               `json:"size"`
	InvoiceAmount            *float64            `json:"invoiceAmount,omitempty"`
	RelatedPaymentPercentage *float64            `json:"relatedPaymentPercentage,omitempty"`
}

// ProgressUpdate pushes a deliverable's progress state upstream.
type ProgressUpdate struct {
	ScopePercentage    int                      `json:"scopePercentage"`
	ProgressPercentage int                      `json:"progressPercentage"`
	Status             domain.DeliverableStatus `json:"status"`
}

// ApprovalTask requests a downstream approval. Dispatch is best-effort;
// see the approval package.
type ApprovalTask struct {
	Kind      domain.ApprovalTaskKind `json:"kind"`
	ProjectID string                  `json:"projectId"`
	EntityID  string                  `json:"entityId,omitempty"`
	Payload   map[string]any          `json:"payload,omitempty"`
}

// Error is a non-2xx response from the store.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pm store returned %d: %s", e.StatusCode, e.Body)
}

// Client talks JSON over HTTP to the PM store.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a PM store client from configuration.
func NewClient(cfg *config.UpstreamConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}

	logger.Info("Initializing PM store client",
		zap.String("base_url", cfg.BaseURL),
		zap.Int("request_timeout_seconds", cfg.RequestTimeout),
	)

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeoutDuration(),
		},
		logger: logger,
	}, nil
}

// FetchLineItems loads the persisted BOQ rows for a project.
func (c *Client) FetchLineItems(ctx context.Context, projectID string) ([]boq.LineItem, error) {
	var items []boq.LineItem
	if err := c.do(ctx, http.MethodGet, "/pm/projects/"+projectID+"/line-items", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// FetchProjectDetails loads the project+vendor record for a project.
func (c *Client) FetchProjectDetails(ctx context.Context, projectID string) (*ProjectDetails, error) {
	var details ProjectDetails
	if err := c.do(ctx, http.MethodGet, "/pm/projects/"+projectID, nil, &details); err != nil {
		return nil, err
	}
	if details.ProjectID == "" {
		details.ProjectID = projectID
	}
	return &details, nil
}

// SaveLineItems submits one BOQ batch. The store assigns ids to new rows;
// the response body is not consumed because the session is refetched after
// a successful save.
func (c *Client) SaveLineItems(ctx context.Context, batch LineItemBatch) error {
	return c.do(ctx, http.MethodPost, "/pm/projects/"+batch.ProjectID+"/line-items/batch", batch, nil)
}

// FetchDeliverables loads the persisted deliverables for a project.
func (c *Client) FetchDeliverables(ctx context.Context, projectID string) ([]domain.Deliverable, error) {
	var items []domain.Deliverable
	if err := c.do(ctx, http.MethodGet, "/deliverables/projects/"+projectID, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveDeliverables submits one deliverable batch.
func (c *Client) SaveDeliverables(ctx context.Context, batch DeliverableBatch) error {
	return c.do(ctx, http.MethodPost, "/deliverables/batch", batch, nil)
}

// RegisterDocument records an evidence document descriptor upstream and
// returns the store's id for it.
func (c *Client) RegisterDocument(ctx context.Context, desc DocumentDescriptor) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/data-management/documents", desc, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateProgress pushes a deliverable's scope/progress/status upstream.
func (c *Client) UpdateProgress(ctx context.Context, deliverableID string, upd ProgressUpdate) error {
	return c.do(ctx, http.MethodPut, "/deliverables/"+deliverableID+"/progress", upd, nil)
}

// CreateApprovalTask posts a downstream approval request.
func (c *Client) CreateApprovalTask(ctx context.Context, task ApprovalTask) error {
	return c.do(ctx, http.MethodPost, "/data-management/approval-tasks", task, nil)
}

// Health probes the store's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultHealthTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("PM store call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("pm store request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("PM store call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read; error bodies are short but untrusted.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
