package remote

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

	"github.com/histsweep/histsweep/internal/creds"
	"github.com/histsweep/histsweep/internal/retry"
	"github.com/histsweep/histsweep/internal/store"
)

const (
	loginPath    = "/api/v0/users/login"
	sessionsPath = "/api/v0/chat_session/fetch_page"
	historyPath  = "/api/v0/chat/history_messages"

	maxBodyBytes = 10 * 1024 * 1024
)

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	// BaseURL is the service root, e.g. "https://chat.example.com".
	// A credential's own Endpoint, when set, overrides it.
	BaseURL string
	// Timeout applies per call, not per account.
	Timeout   time.Duration
	UserAgent string
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "histsweep/1.0"
	}
}

// HTTPClient implements Client against the chat service HTTP API.
// One http.Client is cached per proxy so transports get reused.
type HTTPClient struct {
	config HTTPConfig

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewHTTPClient creates an HTTPClient.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	cfg.defaults()
	return &HTTPClient{
		config:  cfg,
		clients: make(map[string]*http.Client),
	}
}

func (c *HTTPClient) httpClient(proxy *url.URL) *http.Client {
	key := ""
	if proxy != nil {
		key = proxy.String()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc
	}
	hc := &http.Client{Timeout: c.config.Timeout}
	if proxy != nil {
		hc.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}
	c.clients[key] = hc
	return hc
}

// API envelope: every endpoint wraps its payload in data.biz_data.

type envelope struct {
	Data struct {
		BizData json.RawMessage `json:"biz_data"`
	} `json:"data"`
}

type loginBizData struct {
	User struct {
		Token string `json:"token"`
	} `json:"user"`
}

type sessionsBizData struct {
	ChatSessions []struct {
		ID         string  `json:"id"`
		Title      string  `json:"title"`
		InsertedAt float64 `json:"inserted_at"`
	} `json:"chat_sessions"`
}

type historyBizData struct {
	ChatMessages []struct {
		MessageID  json.Number `json:"message_id"`
		Role       string      `json:"role"`
		Content    string      `json:"content"`
		InsertedAt float64     `json:"inserted_at"`
	} `json:"chat_messages"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
	AreaCode string `json:"area_code"`
	DeviceID string `json:"device_id"`
	OS       string `json:"os"`
}

// Authenticate logs in, trying the identifier first as an email and then
// as a mobile number, the way the service's own clients do.
func (c *HTTPClient) Authenticate(ctx context.Context, cred creds.Credential, proxy *url.URL) (*Handle, error) {
	base := c.config.BaseURL
	if cred.Endpoint != "" {
		base = cred.Endpoint
	}
	if base == "" {
		return nil, &Error{Op: "authenticate", Kind: retry.AuthInvalid, Err: errors.New("no endpoint configured")}
	}

	payloads := []loginPayload{
		{Email: cred.Identifier, Password: cred.Secret},
		{Mobile: cred.Identifier, Password: cred.Secret},
	}

	var lastErr error
	for _, payload := range payloads {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode login payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+loginPath, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build login request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", c.config.UserAgent)

		var biz loginBizData
		if err := c.do(req, proxy, "authenticate", &biz); err != nil {
			lastErr = err
			// Only an auth rejection is worth trying the other payload
			// shape for; everything else goes back to the retry policy.
			if KindOf(err) != retry.AuthInvalid {
				return nil, err
			}
			continue
		}
		if biz.User.Token == "" {
			lastErr = &Error{Op: "authenticate", Kind: retry.AuthInvalid, Err: errors.New("no token in response")}
			continue
		}
		return &Handle{Account: cred.Identifier, Token: biz.User.Token, BaseURL: base, Proxy: proxy}, nil
	}
	return nil, lastErr
}

func (c *HTTPClient) ListSessions(ctx context.Context, h *Handle) ([]store.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+sessionsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sessions request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)
	req.Header.Set("User-Agent", c.config.UserAgent)

	var biz sessionsBizData
	if err := c.do(req, h.Proxy, "list_sessions", &biz); err != nil {
		return nil, err
	}

	sessions := make([]store.Session, 0, len(biz.ChatSessions))
	for _, s := range biz.ChatSessions {
		sessions = append(sessions, store.Session{
			Account:   h.Account,
			ID:        s.ID,
			Title:     s.Title,
			CreatedAt: unixTime(s.InsertedAt),
		})
	}
	return sessions, nil
}

func (c *HTTPClient) FetchMessages(ctx context.Context, h *Handle, sessionID string) ([]store.Message, error) {
	u := h.BaseURL + historyPath + "?chat_session_id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.Token)
	req.Header.Set("User-Agent", c.config.UserAgent)

	var biz historyBizData
	if err := c.do(req, h.Proxy, "fetch_messages", &biz); err != nil {
		return nil, err
	}

	messages := make([]store.Message, 0, len(biz.ChatMessages))
	for i, m := range biz.ChatMessages {
		messages = append(messages, store.Message{
			Account:   h.Account,
			SessionID: sessionID,
			ID:        m.MessageID.String(),
			Role:      m.Role,
			Text:      m.Content,
			Timestamp: unixTime(m.InsertedAt),
			Seq:       i,
		})
	}
	return messages, nil
}

// do executes the request, classifies failures, and decodes the biz_data
// payload into out.
func (c *HTTPClient) do(req *http.Request, proxy *url.URL, op string, out interface{}) error {
	resp, err := c.httpClient(proxy).Do(req)
	if err != nil {
		return &Error{Op: op, Kind: retry.NetworkTimeout, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if kind, hint, bad := classifyStatus(resp); bad {
		return &Error{Op: op, Kind: kind, Hint: hint, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Op: op, Kind: retry.NetworkTimeout, Err: fmt.Errorf("read body: %w", err)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &Error{Op: op, Kind: retry.MalformedResponse, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if len(env.Data.BizData) == 0 {
		return &Error{Op: op, Kind: retry.MalformedResponse, Err: errors.New("missing biz_data")}
	}
	if err := json.Unmarshal(env.Data.BizData, out); err != nil {
		return &Error{Op: op, Kind: retry.MalformedResponse, Err: fmt.Errorf("decode biz_data: %w", err)}
	}
	return nil
}

func classifyStatus(resp *http.Response) (kind retry.ErrorKind, hint time.Duration, bad bool) {
	switch {
	case resp.StatusCode == http.StatusOK:
		return 0, 0, false
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.AuthInvalid, 0, true
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.RateLimited, parseRetryAfter(resp.Header.Get("Retry-After")), true
	case resp.StatusCode == http.StatusRequestTimeout:
		return retry.NetworkTimeout, 0, true
	case resp.StatusCode >= 500:
		return retry.ServerError, 0, true
	default:
		return retry.MalformedResponse, 0, true
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func unixTime(secs float64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(secs), int64((secs-float64(int64(secs)))*1e9)).UTC()
}
