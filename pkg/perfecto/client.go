// Package perfecto lists devices the Perfecto device farm has allocated to
// this account.
package perfecto

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/httprunner/DevicePool/internal/config"
	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds one allocation query.
const DefaultTimeout = 60 * time.Second

const handsetsPath = "/services/handsets"

// Handset is one allocated device as reported by the farm.
type Handset struct {
	DeviceID     string `xml:"deviceId"`
	Model        string `xml:"model"`
	Manufacturer string `xml:"manufacturer"`
	OS           string `xml:"os"`
	OSVersion    string `xml:"osVersion"`
	Status       string `xml:"status"`
}

// DeviceName is the deterministic inventory name: model_deviceId, case-folded.
func (h Handset) DeviceName() string {
	return strings.ToLower(strings.TrimSpace(h.Model) + "_" + strings.TrimSpace(h.DeviceID))
}

// Platform maps the farm's OS label onto a device platform.
func (h Handset) Platform() device.Platform {
	os := strings.ToLower(strings.TrimSpace(h.OS))
	switch {
	case strings.Contains(os, "ios"):
		return device.PlatformIOS
	case strings.Contains(os, "android"):
		return device.PlatformAndroid
	case strings.Contains(os, "mac"):
		return device.PlatformMac
	default:
		return device.ParsePlatform(os)
	}
}

// APIError is a non-2xx answer or an errorMessage payload from the farm.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("perfecto: api error status=%d msg=%s", e.Status, e.Message)
}

// Client queries the farm's handsets API.
type Client struct {
	baseURL    string
	token      string
	user       string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient validates the farm settings. timeout <= 0 uses DefaultTimeout.
func NewClient(baseURL, token, user string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.Errorf("perfecto: $%s is required for cloud runs", config.EnvPerfectoCloudURL)
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.Errorf("perfecto: $%s is required for cloud runs", config.EnvPerfectoToken)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		user:       strings.TrimSpace(user),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// NewClientFromEnv builds a client from PERFECTO_* variables.
func NewClientFromEnv() (*Client, error) {
	return NewClient(
		config.String(config.EnvPerfectoCloudURL, ""),
		config.String(config.EnvPerfectoToken, ""),
		config.String(config.EnvPerfectoUser, ""),
		config.Duration(config.EnvPerfectoTimeout, DefaultTimeout),
	)
}

// BaseURL is the farm root, e.g. https://demo.perfectomobile.com.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SecurityToken is forwarded to remote sessions on farm devices.
func (c *Client) SecurityToken() string {
	return c.token
}

type handsetsResponse struct {
	XMLName      xml.Name  `xml:"handsets"`
	Handsets     []Handset `xml:"handset"`
	ErrorMessage string    `xml:"errorMessage"`
}

type errorResponse struct {
	ErrorMessage string `xml:"errorMessage"`
}

// ListAllocatedDevices returns the handsets currently allocated to the
// account. Any transport, auth or decode failure is returned; an empty
// result only means the farm reported no allocations.
func (c *Client) ListAllocatedDevices(ctx context.Context) ([]Handset, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("operation", "list")
	query.Set("securityToken", c.token)
	query.Set("status", "connected")
	if c.user != "" {
		query.Set("allocatedTo", c.user)
	}
	endpoint := c.baseURL + handsetsPath + "?" + query.Encode()
	log.Info().
		Str("method", http.MethodGet).
		Str("path", handsetsPath).
		Str("allocated_to", c.user).
		Msg("perfecto request")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "perfecto: build handsets request")
	}
	req.Header.Set("Accept", "application/xml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "perfecto: call handsets list")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errors.Wrap(err, "perfecto: read handsets response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := strings.TrimSpace(string(body))
		var parsed errorResponse
		if xml.Unmarshal(body, &parsed) == nil && parsed.ErrorMessage != "" {
			msg = parsed.ErrorMessage
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	var parsed handsetsResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "perfecto: decode handsets response")
	}
	if parsed.ErrorMessage != "" {
		return nil, &APIError{Status: resp.StatusCode, Message: parsed.ErrorMessage}
	}
	handsets := make([]Handset, 0, len(parsed.Handsets))
	for _, h := range parsed.Handsets {
		if strings.TrimSpace(h.DeviceID) == "" || strings.TrimSpace(h.Model) == "" {
			log.Warn().Str("device_id", h.DeviceID).Str("model", h.Model).Msg("perfecto: skip handset without model or id")
			continue
		}
		handsets = append(handsets, h)
	}
	log.Info().
		Int("http_status", resp.StatusCode).
		Int("handsets", len(handsets)).
		Msg("perfecto response")
	return handsets, nil
}
