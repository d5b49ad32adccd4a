package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/jmcleod/tradedesk/session"
)

var _ session.Authenticator = (*Client)(nil)

// BeginLogin exchanges the API token and secret for the intermediate
// otp_token.
func (c *Client) BeginLogin(ctx context.Context, token, secret string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authURL+"/login/"+url.PathEscape(token), nil)
	if err != nil {
		return "", fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("api_secret", secret)
	req.Header.Set("Accept", "application/json")

	status, body, err := c.send(req)
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &session.LoginError{StatusCode: status, Message: remoteMessage(body)}
	}

	var resp struct {
		OTPToken string `json:"otp_token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.OTPToken == "" {
		return "", &session.LoginError{StatusCode: status, Message: "login response did not include an otp_token"}
	}
	return resp.OTPToken, nil
}

// CompleteLogin sends the intermediate token and, when code is non-empty,
// the one-time code. The raw response body is returned for field
// extraction.
func (c *Client) CompleteLogin(ctx context.Context, intermediate, code string) (json.RawMessage, error) {
	payload := map[string]string{"otp_token": intermediate}
	if code != "" {
		payload["otp"] = code
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/token", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if status >= 200 && status <= 299 {
		return json.RawMessage(body), nil
	}

	le := &session.LoginError{StatusCode: status, Message: remoteMessage(body)}
	if code != "" && classifyRejection(status, body) == rejectedShape {
		le.Err = session.ErrCodeParamRejected
	}
	c.logger.Debug("token request rejected",
		slog.Int("status", status),
		slog.Bool("with_code", code != ""),
		slog.Bool("shape_rejected", le.Err != nil))
	return nil, le
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return 0, nil, fmt.Errorf("reading %s response: %w", req.URL.Path, err)
	}
	return resp.StatusCode, body, nil
}

type rejection int

const (
	rejectedCredentials rejection = iota
	rejectedShape
)

var shapeCodes = map[string]bool{
	"UNKNOWN_PARAMETER":     true,
	"UNSUPPORTED_PARAMETER": true,
	"UNEXPECTED_PARAMETER":  true,
}

// A message is a shape rejection only when it names otp as a request
// parameter and calls that parameter unknown or not accepted. "Unknown OTP"
// or "OTP expired or unknown" are verdicts on the code's value.
var (
	paramMention = regexp.MustCompile(`(?i)\b(parameter|param|field|member|property|attribute)s?\b[^.;]*\botp\b|\botp\b\W*\b(parameter|param|field|member|property|attribute)s?\b`)
	paramRefusal = regexp.MustCompile(`(?i)\b(unknown|unexpected|unsupported|unrecognized|unrecognised|not allowed|not permitted|not supported|not accepted|extra|additional)\b`)
)

// classifyRejection separates a refusal of the request shape (the endpoint
// does not take an otp member) from a refusal of the credentials or code.
// Only 400 and 422 can be shape rejections; authentication statuses never
// are.
func classifyRejection(status int, body []byte) rejection {
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		return rejectedCredentials
	}
	var doc struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &doc) == nil {
		if shapeCodes[strings.ToUpper(doc.Code)] || shapeCodes[strings.ToUpper(doc.Error)] {
			return rejectedShape
		}
	}
	if msg := remoteMessage(body); paramMention.MatchString(msg) && paramRefusal.MatchString(msg) {
		return rejectedShape
	}
	return rejectedCredentials
}

// remoteMessage pulls a human readable message out of an error body.
func remoteMessage(body []byte) string {
	var doc map[string]any
	if json.Unmarshal(body, &doc) == nil {
		for _, key := range []string{"message", "error_description", "emsg", "detail", "error"} {
			if s, ok := doc[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty response"
	}
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
