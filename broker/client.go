// Package broker talks to the Definedge Integrate REST API: the two-step
// login, the trading API and the historical data API.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/tradedesk/session"
)

// Default endpoints.
const (
	DefaultAPIURL  = "https://integrate.definedgesecurities.com/dart/v1"
	DefaultDataURL = "https://data.definedgesecurities.com/sds"
	DefaultAuthURL = "https://signin.definedgesecurities.com/auth/realms/debroking/dsbpkc"

	DefaultTimeout = 30 * time.Second
)

// TransportSessionHeader carries the streaming session key on every call.
const TransportSessionHeader = "X-Transport-Session"

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 << 10

var (
	// ErrNotLoggedIn is returned before any request is sent when the
	// session is missing or inactive.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrAPICallFailed matches every non-2xx trading or data API response.
	ErrAPICallFailed = errors.New("api call failed")
)

// APIError is a non-2xx response. Body is the response body verbatim.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("api call failed: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) Is(target error) bool { return target == ErrAPICallFailed }

// Config configures a Client. Zero values take the defaults above.
type Config struct {
	APIURL     string
	DataURL    string
	AuthURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Symbols    *Master
	Now        func() time.Time
	Logger     *slog.Logger
}

// Client is safe for concurrent use. It holds no session; every call takes
// one explicitly.
type Client struct {
	apiURL  string
	dataURL string
	authURL string
	http    *http.Client
	symbols *Master
	now     func() time.Time
	logger  *slog.Logger
}

// New returns a Client.
func New(cfg Config) (*Client, error) {
	c := &Client{
		apiURL:  strings.TrimRight(orDefault(cfg.APIURL, DefaultAPIURL), "/"),
		dataURL: strings.TrimRight(orDefault(cfg.DataURL, DefaultDataURL), "/"),
		authURL: strings.TrimRight(orDefault(cfg.AuthURL, DefaultAuthURL), "/"),
		http:    cfg.HTTPClient,
		symbols: cfg.Symbols,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
	for name, raw := range map[string]string{"api": c.apiURL, "data": c.dataURL, "auth": c.authURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s url %q", name, raw)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: timeout}
	} else if c.http.Timeout == 0 {
		hc := *c.http
		hc.Timeout = timeout
		c.http = &hc
	}
	if c.symbols == nil {
		c.symbols = NewMaster(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "broker")
	return c, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Symbols returns the instrument master used for symbol lookups.
func (c *Client) Symbols() *Master { return c.symbols }

// Timeout returns the bound applied to every outbound request.
func (c *Client) Timeout() time.Duration { return c.http.Timeout }

// Call performs an authenticated trading API request and returns the raw
// JSON response. It never retries.
func (c *Client) Call(ctx context.Context, sess *session.Session, method, path string, params url.Values, body any) (json.RawMessage, error) {
	data, err := c.do(ctx, c.apiURL, sess, method, path, params, body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// callData is Call against the data API, which answers in CSV.
func (c *Client) callData(ctx context.Context, sess *session.Session, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, c.dataURL, sess, http.MethodGet, path, params, nil)
}

func (c *Client) do(ctx context.Context, base string, sess *session.Session, method, path string, params url.Values, body any) ([]byte, error) {
	if !sess.IsActive() {
		return nil, ErrNotLoggedIn
	}

	target := base + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.APISessionKey)
	req.Header.Set(TransportSessionHeader, sess.TransportSessionKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("broker request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}
	c.logger.Debug("broker call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// decode unmarshals a successful response into v.
func decode(raw []byte, v any, what string) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", what, err)
	}
	return nil
}
