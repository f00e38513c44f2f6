// Package mesh is the HTTP client for the private mesh-network control
// plane: devices, route approval, split DNS, auth keys, and the shared
// access-policy document.
package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshgate/meshgate/pkg/engine"
	"github.com/meshgate/meshgate/pkg/policy"
)

// DefaultBaseURL is the control plane's public API endpoint.
const DefaultBaseURL = "https://api.tailscale.com"

// Client talks to the mesh control plane for one tailnet. Methods that look
// up a single resource return (nil, nil) when the resource does not exist:
// absence is meaningful state for hydration, never an error.
type Client struct {
	baseURL string
	tailnet string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a mesh API client for the given tailnet, authenticated
// with a long-lived API key from the credential store.
func NewClient(tailnet, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		tailnet: tailnet,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "mesh").Logger(),
	}
}

// WithBaseURL overrides the API endpoint; tests point this at a local
// httptest server.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = url
	return c
}

// CreateAuthKey mints a device-registration key.
func (c *Client) CreateAuthKey(ctx context.Context, req AuthKeyRequest) (*AuthKey, error) {
	type deviceCaps struct {
		Reusable      bool     `json:"reusable"`
		Ephemeral     bool     `json:"ephemeral"`
		Preauthorized bool     `json:"preauthorized"`
		Tags          []string `json:"tags"`
	}
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"devices": map[string]interface{}{
				"create": deviceCaps{
					Reusable:      req.Reusable,
					Ephemeral:     req.Ephemeral,
					Preauthorized: req.Preauthorized,
					Tags:          req.Tags,
				},
			},
		},
	}
	if req.Expiry > 0 {
		body["expirySeconds"] = int(req.Expiry.Seconds())
	}

	var key AuthKey
	if err := c.do(ctx, http.MethodPost, c.tailnetPath("keys"), body, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// ListDevices returns every device on the tailnet.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, c.tailnetPath("devices"), nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// GetDevice fetches one device by ID. A missing device is (nil, nil).
func (c *Client) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var device Device
	err := c.do(ctx, http.MethodGet, "/api/v2/device/"+deviceID, nil, &device)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// DeleteDevice removes a device from the tailnet. Deleting a device that is
// already gone succeeds.
func (c *Client) DeleteDevice(ctx context.Context, deviceID string) error {
	err := c.do(ctx, http.MethodDelete, "/api/v2/device/"+deviceID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// GetRoutes fetches the route-approval state of a device. A missing device
// is (nil, nil).
func (c *Client) GetRoutes(ctx context.Context, deviceID string) (*Routes, error) {
	var routes Routes
	err := c.do(ctx, http.MethodGet, "/api/v2/device/"+deviceID+"/routes", nil, &routes)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &routes, nil
}

// ApproveRoutes enables the given routes on a device.
func (c *Client) ApproveRoutes(ctx context.Context, deviceID string, routes []string) error {
	body := map[string][]string{"routes": routes}
	return c.do(ctx, http.MethodPost, "/api/v2/device/"+deviceID+"/routes", body, nil)
}

// GetSplitDNS returns the tailnet's split-DNS table: domain to resolver
// addresses.
func (c *Client) GetSplitDNS(ctx context.Context) (map[string][]string, error) {
	var out map[string][]string
	if err := c.do(ctx, http.MethodGet, c.tailnetPath("dns/split-dns"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSplitDNS points lookups for domain at the given resolvers. A nil
// resolver list clears the mapping.
func (c *Client) SetSplitDNS(ctx context.Context, domain string, resolvers []string) error {
	body := map[string]interface{}{domain: resolvers}
	return c.do(ctx, http.MethodPatch, c.tailnetPath("dns/split-dns"), body, nil)
}

// GetPolicy reads the shared access-policy document.
func (c *Client) GetPolicy(ctx context.Context) (policy.Document, error) {
	var doc policy.Document
	if err := c.do(ctx, http.MethodGet, c.tailnetPath("acl"), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidatePolicy dry-runs a candidate policy document without committing it.
func (c *Client) ValidatePolicy(ctx context.Context, doc policy.Document) error {
	return c.do(ctx, http.MethodPost, c.tailnetPath("acl/validate"), doc, nil)
}

// SetPolicy commits a policy document.
func (c *Client) SetPolicy(ctx context.Context, doc policy.Document) error {
	return c.do(ctx, http.MethodPost, c.tailnetPath("acl"), doc, nil)
}

func (c *Client) tailnetPath(suffix string) string {
	return fmt.Sprintf("/api/v2/tailnet/%s/%s", c.tailnet, suffix)
}

// do performs one API call, classifying HTTP failures into engine errors.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.NewUnavailableError("mesh API unreachable", err).
			WithOperation(method + " " + path)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.NewUnavailableError("reading mesh API response", err).
			WithOperation(method + " " + path)
	}

	if resp.StatusCode >= 400 {
		return c.classify(resp.StatusCode, method+" "+path, payload)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) classify(status int, operation string, payload []byte) error {
	message := apiMessage(payload)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return engine.NewDeniedError(message, nil).
			WithCode(engine.ErrCodeScopeMissing).
			WithOperation(operation)
	case status == http.StatusNotFound:
		return engine.NewUnavailableError(message, nil).
			WithCode(engine.ErrCodeNotFound).
			WithOperation(operation)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return engine.NewRejectedError(message, nil).
			WithOperation(operation)
	default:
		return engine.NewUnavailableError(fmt.Sprintf("mesh API returned %d: %s", status, message), nil).
			WithCode(engine.ErrCodeProviderFailed).
			WithOperation(operation)
	}
}

// apiMessage extracts the control plane's stated reason from an error body.
func apiMessage(payload []byte) string {
	var out struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &out); err == nil && out.Message != "" {
		return out.Message
	}
	if len(payload) > 0 {
		return string(payload)
	}
	return "request failed"
}

func isNotFound(err error) bool {
	var e *engine.Error
	if errors.As(err, &e) {
		return e.Code == engine.ErrCodeNotFound
	}
	return false
}
