// Package client talks to a single worker runtime over its HTTP and
// WebSocket APIs: node catalog retrieval, prompt submission, execution
// history and live status messages.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/comfygrid/comfygrid/graphapi"
)

// RuntimeClient is a connection to one worker runtime.  The client id is
// attached to every queued prompt so history entries and status messages can
// be correlated back to this client.
type RuntimeClient struct {
	baseURL  string
	clientID string
	http     *http.Client
}

// NewRuntimeClient creates a client for the runtime at baseURL
// (e.g. "http://gpu01:8188").
func NewRuntimeClient(baseURL string) *RuntimeClient {
	return &RuntimeClient{
		baseURL:  trimTrailingSlash(baseURL),
		clientID: uuid.New().String(),
		http:     &http.Client{},
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// ClientID returns the unique client id sent with queued prompts.
func (c *RuntimeClient) ClientID() string {
	return c.clientID
}

// BaseURL returns the runtime's base address.
func (c *RuntimeClient) BaseURL() string {
	return c.baseURL
}

// SetHTTPClient replaces the underlying http client.
func (c *RuntimeClient) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

func (c *RuntimeClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return body, nil
}

func (c *RuntimeClient) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// FetchObjectInfo retrieves and parses the runtime's node catalog.  Prefer
// RegistryCache.Get over calling this directly; the document is large and
// changes only when the runtime's installed nodes change.
func (c *RuntimeClient) FetchObjectInfo(ctx context.Context) (*graphapi.NodeRegistry, error) {
	body, err := c.get(ctx, "/object_info")
	if err != nil {
		return nil, err
	}
	return graphapi.ParseObjectInfo(body, c.baseURL)
}

// QueuedPrompt is the runtime's acknowledgement of a submitted prompt.
type QueuedPrompt struct {
	PromptID string                 `json:"prompt_id"`
	Number   int                    `json:"number"`
	Errors   map[string]interface{} `json:"node_errors,omitempty"`
}

type promptErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

// QueuePrompt submits a compiled prompt for execution.  A rejection body
// carrying an error message is surfaced as that message.
func (c *RuntimeClient) QueuePrompt(ctx context.Context, prompt graphapi.ApiPrompt) (*QueuedPrompt, error) {
	payload := map[string]interface{}{
		"prompt":    prompt,
		"client_id": c.clientID,
	}

	body, status, err := c.post(ctx, "/prompt", payload)
	if err != nil {
		return nil, err
	}

	retv := &QueuedPrompt{}
	if err := json.Unmarshal(body, retv); err != nil || retv.PromptID == "" {
		perror := &promptErrorBody{}
		if perr := json.Unmarshal(body, perror); perr == nil && perror.Error.Message != "" {
			return nil, errors.New(perror.Error.Message)
		}
		return nil, fmt.Errorf("queue prompt: unexpected response (status %d)", status)
	}
	return retv, nil
}

// GetHistory retrieves the raw execution history for one prompt.  The bytes
// feed graphapi.ParseResult unmodified.
func (c *RuntimeClient) GetHistory(ctx context.Context, promptID string) ([]byte, error) {
	return c.get(ctx, "/history/"+url.PathEscape(promptID))
}

// View downloads one produced file.
func (c *RuntimeClient) View(ctx context.Context, filename, subfolder, fileType string) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", filename)
	params.Add("subfolder", subfolder)
	params.Add("type", fileType)
	return c.get(ctx, "/view?"+params.Encode())
}

// SystemStats describes the runtime host and its devices.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		ComfyUIVersion string `json:"comfyui_version"`
		PythonVersion  string `json:"python_version"`
	} `json:"system"`
	Devices []struct {
		Name           string `json:"name"`
		Type           string `json:"type"`
		VRAMTotal      int64  `json:"vram_total"`
		VRAMFree       int64  `json:"vram_free"`
		TorchVRAMTotal int64  `json:"torch_vram_total"`
	} `json:"devices"`
}

// GetSystemStats retrieves the runtime's host and GPU inventory.
func (c *RuntimeClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	body, err := c.get(ctx, "/system_stats")
	if err != nil {
		return nil, err
	}
	retv := &SystemStats{}
	if err := json.Unmarshal(body, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// Interrupt stops the currently executing prompt.
func (c *RuntimeClient) Interrupt(ctx context.Context) error {
	_, status, err := c.post(ctx, "/interrupt", map[string]interface{}{})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("interrupt: status %d", status)
	}
	return nil
}
