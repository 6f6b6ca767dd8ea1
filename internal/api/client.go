// Package api wraps the session server endpoints. Calls never return errors:
// every failure is folded into an error-status response and reported through
// the status callback.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/metrics"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	EndpointStartSession   = "/start_session"
	EndpointEndSession     = "/end_session"
	EndpointLogPose        = "/log_pose"
	EndpointDownloadReport = "/download_report"
	EndpointSessionStatus  = "/session_status"

	// NetworkErrorMessage is the message of the synthetic response returned
	// when the server cannot be reached or its reply cannot be decoded.
	NetworkErrorMessage = "Network or server error"

	defaultTimeout = 15 * time.Second
)

// StatusFunc receives the human readable outcome of each call.
type StatusFunc func(status string)

type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client

	mu        sync.RWMutex
	onStatus  StatusFunc
	sessionID string
}

func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server url %q: unsupported scheme %q", baseURL, u.Scheme)
	}

	return &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}, nil
}

// OnStatus sets the status callback. A nil func disables reporting.
func (c *Client) OnStatus(fn StatusFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// SetSessionID tags subsequent requests with an X-Session-ID header.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func (c *Client) url(endpoint string) string {
	u := *c.baseURL
	u.Path = u.Path + endpoint
	return u.String()
}

// ReportURL is the link under which the latest generated report is served.
func (c *Client) ReportURL() string {
	return c.url(EndpointDownloadReport)
}

func (c *Client) report(status string) {
	c.mu.RLock()
	fn := c.onStatus
	c.mu.RUnlock()

	if fn != nil {
		fn(status)
	}
}

// FormatStatus renders a response the way it is shown in the status line.
func FormatStatus(resp models.APIResponse) string {
	if resp.OK() {
		return resp.Message
	}
	return "API Error: " + resp.Message
}

func networkError() models.APIResponse {
	return models.APIResponse{Status: models.StatusError, Message: NetworkErrorMessage}
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	c.mu.RLock()
	if c.sessionID != "" {
		req.Header.Set("X-Session-ID", c.sessionID)
	}
	c.mu.RUnlock()

	return req, nil
}

// Call issues a request and decodes the status envelope. Non-2xx replies
// that still carry a JSON envelope are returned as decoded.
func (c *Client) Call(ctx context.Context, method, endpoint string, body interface{}) models.APIResponse {
	resp, err := c.do(ctx, method, endpoint, body)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("api call failed")
		resp = networkError()
	}

	metrics.APIRequests.WithLabelValues(endpoint, resp.Status).Inc()
	c.report(FormatStatus(resp))
	return resp
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}) (models.APIResponse, error) {
	var out models.APIResponse

	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return out, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return out, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, errors.Wrapf(err, "%s %s: decode response (http %d)", method, endpoint, res.StatusCode)
	}
	if out.Status == "" {
		return out, errors.Errorf("%s %s: response without status (http %d)", method, endpoint, res.StatusCode)
	}

	return out, nil
}

func (c *Client) StartSession(ctx context.Context, userName string) models.APIResponse {
	return c.Call(ctx, http.MethodPost, EndpointStartSession, models.StartSessionRequest{UserName: userName})
}

func (c *Client) EndSession(ctx context.Context) models.APIResponse {
	return c.Call(ctx, http.MethodPost, EndpointEndSession, nil)
}

func (c *Client) LogPose(ctx context.Context, events []models.PoseEvent) models.APIResponse {
	return c.Call(ctx, http.MethodPost, EndpointLogPose, models.LogPoseRequest{PoseData: events})
}

// SessionStatus queries the server-side view of the session. It does not
// touch the status line.
func (c *Client) SessionStatus(ctx context.Context) (models.SessionStatus, error) {
	var out models.SessionStatus

	req, err := c.newRequest(ctx, http.MethodGet, EndpointSessionStatus, nil)
	if err != nil {
		return out, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return out, errors.Wrap(err, "session status")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return out, errors.Errorf("session status: http %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, errors.Wrap(err, "decode session status")
	}
	return out, nil
}

// DownloadReport copies the latest report into w. The server answers with a
// JSON error envelope instead of a file when no report exists.
func (c *Client) DownloadReport(ctx context.Context, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, EndpointDownloadReport, nil)
	if err != nil {
		return 0, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "download report")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, errors.Errorf("download report: http %d", res.StatusCode)
	}

	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		var envelope models.APIResponse
		if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
			return 0, errors.Wrap(err, "decode report response")
		}
		return 0, errors.Errorf("download report: %s", envelope.Message)
	}

	n, err := io.Copy(w, res.Body)
	if err != nil {
		return n, errors.Wrap(err, "write report")
	}
	return n, nil
}
