package liveclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skillup-live/backend/pkg/deviceid"
)

// APIError is a failed API call. Status 0 means the server was not reached.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return "liveclient: " + e.Message
	}
	return fmt.Sprintf("liveclient: %d %s", e.Status, e.Message)
}

// IsAuthExpired reports whether the call failed because the token is missing or expired.
func IsAuthExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsRetryable reports whether the call failed on connectivity or a server error.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 0 || apiErr.Status >= http.StatusInternalServerError
}

// ClientOptions configures a Client.
type ClientOptions struct {
	HTTPClient *http.Client
	Identity   deviceid.Identity
	Retry      Backoff
	Logger     *zap.Logger
}

// Client calls the live session REST API.
type Client struct {
	baseURL  string
	http     *http.Client
	identity deviceid.Identity
	retry    Backoff
	logger   *zap.Logger

	mu    sync.RWMutex
	token string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// NewClient creates a REST client for the API rooted at baseURL (e.g. https://api.example.com).
func NewClient(baseURL string, opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = RequestBackoff
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     opts.HTTPClient,
		identity: opts.Identity,
		retry:    opts.Retry,
		logger:   opts.Logger,
	}
}

// SetToken replaces the bearer token used for subsequent calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Identity returns the device identity sent with each call.
func (c *Client) Identity() deviceid.Identity { return c.identity }

type deviceBody struct {
	DeviceID           string `json:"deviceId"`
	Platform           string `json:"platform"`
	AsAdditionalDevice bool   `json:"asAdditionalDevice,omitempty"`
}

func (c *Client) deviceBody(additional bool) deviceBody {
	return deviceBody{DeviceID: c.identity.DeviceID, Platform: c.identity.Platform, AsAdditionalDevice: additional}
}

// Join joins a live session from this device. With additional set, the device joins even when
// another device of the user is already in the session.
func (c *Client) Join(ctx context.Context, sessionID string, additional bool) (*JoinResult, error) {
	var out JoinResult
	if err := c.do(ctx, http.MethodPost, "/live-sessions/"+url.PathEscape(sessionID)+"/join", c.deviceBody(additional), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Leave leaves a live session from this device.
func (c *Client) Leave(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/live-sessions/"+url.PathEscape(sessionID)+"/leave", c.deviceBody(false), nil)
}

// LeaveBeacon sends a best-effort leave during teardown. It is attempted once, carries its
// credentials in the query string and ignores the response.
func (c *Client) LeaveBeacon(ctx context.Context, sessionID string) {
	q := url.Values{}
	q.Set("token", c.bearer())
	q.Set("deviceId", c.identity.DeviceID)
	u := c.baseURL + "/live-sessions/" + url.PathEscape(sessionID) + "/leave/beacon?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("beacon leave not delivered", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// TransferHere moves the user's call in a session to this device.
func (c *Client) TransferHere(ctx context.Context, sessionID string) (*TransferResult, error) {
	var out TransferResult
	if err := c.do(ctx, http.MethodPost, "/live-sessions/"+url.PathEscape(sessionID)+"/transfer/here", c.deviceBody(false), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MyActive returns the user's current call.
func (c *Client) MyActive(ctx context.Context) (*ActiveSession, error) {
	var out ActiveSession
	if err := c.do(ctx, http.MethodGet, "/live-sessions/my-active", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns one session.
func (c *Client) Get(ctx context.Context, sessionID string) (*Session, error) {
	var out struct {
		Session *Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/live-sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

// Live returns the sessions currently live.
func (c *Client) Live(ctx context.Context) ([]Session, error) {
	return c.list(ctx, "/live-sessions/live")
}

// Upcoming returns scheduled sessions that have not started.
func (c *Client) Upcoming(ctx context.Context) ([]Session, error) {
	return c.list(ctx, "/live-sessions/upcoming")
}

// History returns ended and cancelled sessions. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]Session, error) {
	path := "/live-sessions/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return c.list(ctx, path)
}

// ByReference returns the sessions of a course, project or internship.
func (c *Client) ByReference(ctx context.Context, sessionType, referenceID string) ([]Session, error) {
	return c.list(ctx, "/live-sessions/reference/"+url.PathEscape(sessionType)+"/"+url.PathEscape(referenceID))
}

// RegisterDevice records this device after sign-in.
func (c *Client) RegisterDevice(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/devices", c.identity, nil)
}

func (c *Client) list(ctx context.Context, path string) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// do performs the call, retrying connectivity failures and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, path, raw, out)
		if err == nil || !IsRetryable(err) || attempt+1 >= c.retry.MaxAttempts {
			return err
		}
		c.logger.Debug("retrying request", zap.String("method", method), zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
		if werr := c.retry.wait(ctx, attempt); werr != nil {
			return err
		}
	}
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.identity.DeviceID != "" {
		c.identity.Apply(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest || (!env.Success && resp.StatusCode != http.StatusNoContent) {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
