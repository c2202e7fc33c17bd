// Package syncclient is the HTTP client for the remote business API. Only
// the mutation surface the sync engine needs is implemented here; the
// endpoints themselves live server-side.
package syncclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spoolworks/tally/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")

	// ErrTransient marks failures worth retrying with backoff: timeouts,
	// connection resets, 5xx responses.
	ErrTransient = errors.New("transient network error")
)

// PermanentError is a non-conflict 4xx rejection. The mutation will never
// succeed as-is; the coordinator parks the entry and surfaces it.
type PermanentError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, e.Code)
}

// Client is an HTTP client for the tally sync API.
type Client struct {
	BaseURL  string
	APIKey   string
	ClientID string
	HTTP     *http.Client
}

// New creates a new sync client.
func New(baseURL, apiKey, clientID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		ClientID: clientID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// MutationRequest is the body for a single-entity mutation.
type MutationRequest struct {
	EntryID     string       `json:"entry_id"`
	ClientID    string       `json:"client_id"`
	BaseVersion int64        `json:"base_version,omitempty"`
	Patch       models.Patch `json:"patch,omitempty"`
}

// MutationResult is the decoded outcome of a mutation call.
type MutationResult struct {
	// Conflict is true for a 409: the entity changed server-side since
	// BaseVersion. Snapshot/Version then hold the server's current state.
	Conflict bool
	Snapshot json.RawMessage
	Version  int64
}

// successBody is the 200 response shape.
type successBody struct {
	Snapshot json.RawMessage `json:"snapshot"`
	Version  int64           `json:"version"`
}

// conflictBody is the 409 response shape.
type conflictBody struct {
	CurrentSnapshot json.RawMessage `json:"current_snapshot"`
	CurrentVersion  int64           `json:"current_version"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	req, err := http.NewRequest("GET", c.BaseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: healthz HTTP %d", ErrTransient, resp.StatusCode)
	}

	var out HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode healthz: %w", err)
	}
	return &out, nil
}

// Apply sends one coalesced mutation to the server and decodes the outcome.
// The entry id travels as an Idempotency-Key header so a retried delivery of
// the same entry is a server-side no-op.
func (c *Client) Apply(op models.Operation, entityType, entityID string, req *MutationRequest) (*MutationResult, error) {
	var method string
	switch op {
	case models.OpCreate:
		method = "POST"
	case models.OpUpdate:
		method = "PATCH"
	case models.OpDelete:
		method = "DELETE"
	default:
		return nil, fmt.Errorf("unknown operation: %q", op)
	}

	path := fmt.Sprintf("/v1/entities/%s/%s", entityType, entityID)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.EntryID)
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		// Timeouts and connection errors land here.
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var ok successBody
		if err := json.Unmarshal(respBody, &ok); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		return &MutationResult{Snapshot: ok.Snapshot, Version: ok.Version}, nil

	case resp.StatusCode == http.StatusConflict:
		var conflict conflictBody
		if err := json.Unmarshal(respBody, &conflict); err != nil {
			return nil, fmt.Errorf("unmarshal conflict response: %w", err)
		}
		return &MutationResult{
			Conflict: true,
			Snapshot: conflict.CurrentSnapshot,
			Version:  conflict.CurrentVersion,
		}, nil

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)

	default:
		return nil, c.permanent(resp.StatusCode, respBody)
	}
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) permanent(status int, body []byte) error {
	var apiErr apiError
	json.Unmarshal(body, &apiErr)

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	}

	perm := &PermanentError{StatusCode: status, Code: apiErr.Code, Message: apiErr.Message}
	if perm.Code == "" {
		perm.Code = "rejected"
		perm.Message = string(body)
	}
	return perm
}
