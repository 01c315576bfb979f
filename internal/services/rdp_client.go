package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketdash/backend-go/internal/config"
	"marketdash/backend-go/internal/models"
)

var (
	ErrCircuitOpen   = errors.New("rdp circuit breaker open")
	ErrNoCredentials = errors.New("rdp session credentials incomplete")
)

const maxBodyBytes = 8 << 20

// Vendor is the request/response side of the data platform.
type Vendor interface {
	Headlines(ctx context.Context, query string, limit int) (models.VendorResponse, error)
	Story(ctx context.Context, storyID string) (models.VendorResponse, error)
	Fundamentals(ctx context.Context, symbol string) (models.VendorResponse, error)
	ESG(ctx context.Context, symbol string) (models.VendorResponse, error)
	History(ctx context.Context, symbol string, q models.HistoryQuery) (models.VendorResponse, error)
}

type RDPClient struct {
	baseURL string
	hc      *http.Client
	cb      *circuitBreaker
	tokens  *tokenSource
	cache   Cache
	ttl     cacheTTLs
	backoff time.Duration
	log     *slog.Logger
}

type cacheTTLs struct {
	news         time.Duration
	story        time.Duration
	fundamentals time.Duration
	history      time.Duration
}

type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("rdp api: %d", e.Status)
}

type circuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openedAt  time.Time
	cooldown  time.Duration
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

func (c *circuitBreaker) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures < c.threshold {
		return true
	}
	if time.Since(c.openedAt) > c.cooldown {
		c.failures = 0
		c.openedAt = time.Time{}
		return true
	}
	return false
}

func (c *circuitBreaker) success() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.openedAt = time.Time{}
}

func (c *circuitBreaker) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		c.openedAt = time.Now()
	}
}

func NewRDPClient(cfg config.Config, cache Cache, log *slog.Logger) *RDPClient {
	hc := &http.Client{Timeout: cfg.RequestTimeout}
	base := strings.TrimRight(cfg.RDPBaseURL, "/")
	return &RDPClient{
		baseURL: base,
		hc:      hc,
		cb:      newCircuitBreaker(cfg.CircuitFailLimit, cfg.CircuitCooldown),
		tokens:  newTokenSource(base, hc, cfg.Session),
		cache:   cache,
		ttl: cacheTTLs{
			news:         cfg.CacheTTLNews,
			story:        cfg.CacheTTLStory,
			fundamentals: cfg.CacheTTLFundamentals,
			history:      cfg.CacheTTLHistory,
		},
		backoff: 300 * time.Millisecond,
		log:     log,
	}
}

// Token returns a valid access token, logging in or refreshing as needed.
func (c *RDPClient) Token(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// Health verifies that the session can obtain a token.
func (c *RDPClient) Health(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

func (c *RDPClient) Headlines(ctx context.Context, query string, limit int) (models.VendorResponse, error) {
	q := url.Values{}
	q.Set("query", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/data/news/v1/headlines?"+q.Encode(), c.ttl.news)
}

func (c *RDPClient) Story(ctx context.Context, storyID string) (models.VendorResponse, error) {
	return c.get(ctx, "/data/news/v1/stories/"+url.PathEscape(storyID), c.ttl.story)
}

func (c *RDPClient) Fundamentals(ctx context.Context, symbol string) (models.VendorResponse, error) {
	q := url.Values{}
	q.Set("universe", symbol)
	return c.get(ctx, "/data/company-fundamentals/beta1/views/financial-summary-brief?"+q.Encode(), c.ttl.fundamentals)
}

func (c *RDPClient) ESG(ctx context.Context, symbol string) (models.VendorResponse, error) {
	q := url.Values{}
	q.Set("universe", symbol)
	return c.get(ctx, "/data/environmental-social-governance/v1/views/scores-standard?"+q.Encode(), c.ttl.fundamentals)
}

func (c *RDPClient) History(ctx context.Context, symbol string, hq models.HistoryQuery) (models.VendorResponse, error) {
	q := url.Values{}
	interval := hq.Interval
	if interval == "" {
		interval = "P1D"
	}
	q.Set("interval", interval)
	if len(hq.Fields) > 0 {
		q.Set("fields", strings.Join(hq.Fields, ","))
	}
	if hq.Start != "" {
		q.Set("start", hq.Start)
	}
	if hq.End != "" {
		q.Set("end", hq.End)
	}
	if hq.Count > 0 {
		q.Set("count", strconv.Itoa(hq.Count))
	}
	path := "/data/historical-pricing/v1/views/interday-summaries/" + url.PathEscape(symbol) + "?" + q.Encode()
	return c.get(ctx, path, c.ttl.history)
}

type streamServices struct {
	Services []struct {
		Endpoint   string   `json:"endpoint"`
		Port       int      `json:"port"`
		Transport  string   `json:"transport"`
		DataFormat []string `json:"dataFormat"`
	} `json:"services"`
}

// StreamEndpoint asks service discovery for a WebSocket pricing endpoint that
// speaks tr_json2.
func (c *RDPClient) StreamEndpoint(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, "/streaming/pricing/v1/", 0)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &UpstreamError{Status: resp.Status, Body: truncate(resp.Body, 4096)}
	}
	var sv streamServices
	if err := resp.Decode(&sv); err != nil {
		return "", fmt.Errorf("decode stream discovery: %w", err)
	}
	for _, s := range sv.Services {
		if s.Transport != "websocket" || !containsFold(s.DataFormat, "tr_json2") {
			continue
		}
		port := s.Port
		if port == 0 {
			port = 443
		}
		return fmt.Sprintf("wss://%s:%d/WebSocket", s.Endpoint, port), nil
	}
	return "", errors.New("rdp stream discovery: no websocket endpoint")
}

// get performs an authorised GET. Non-2xx answers are returned as unsuccessful
// responses; only transport failures and an open breaker are errors.
func (c *RDPClient) get(ctx context.Context, path string, ttl time.Duration) (models.VendorResponse, error) {
	key := cacheKey(path)
	if ttl > 0 && c.cache != nil {
		if b, ok := c.cache.Get(ctx, key); ok {
			return models.VendorResponse{Success: true, Status: http.StatusOK, Body: b}, nil
		}
	}
	if !c.cb.allow() {
		return models.VendorResponse{}, ErrCircuitOpen
	}

	var (
		lastErr    error
		lastResp   models.VendorResponse
		haveResp   bool
		reauthDone bool
	)
	for attempt := 0; attempt < 3; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.cb.fail()
			return models.VendorResponse{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return models.VendorResponse{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		res, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			c.log.Debug("rdp request failed", "path", path, "attempt", attempt+1, "error", err)
			if werr := c.wait(ctx, attempt); werr != nil {
				c.cb.fail()
				return models.VendorResponse{}, werr
			}
			continue
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		res.Body.Close()
		if err != nil {
			lastErr = err
			if werr := c.wait(ctx, attempt); werr != nil {
				c.cb.fail()
				return models.VendorResponse{}, werr
			}
			continue
		}
		resp := models.VendorResponse{
			Success: res.StatusCode >= 200 && res.StatusCode < 300,
			Status:  res.StatusCode,
			Body:    body,
		}

		if res.StatusCode == http.StatusUnauthorized && !reauthDone {
			reauthDone = true
			c.tokens.Invalidate()
			attempt--
			continue
		}
		if res.StatusCode >= 500 {
			lastResp, haveResp = resp, true
			c.log.Debug("rdp upstream error", "path", path, "attempt", attempt+1, "status", res.StatusCode)
			if werr := c.wait(ctx, attempt); werr != nil {
				c.cb.fail()
				return models.VendorResponse{}, werr
			}
			continue
		}

		c.cb.success()
		if resp.Success && ttl > 0 && c.cache != nil {
			if err := c.cache.Set(ctx, key, body, ttl); err != nil {
				c.log.Warn("cache write failed", "cache", c.cache.Name(), "error", err)
			}
		}
		return resp, nil
	}

	c.cb.fail()
	if haveResp {
		c.log.Warn("rdp request exhausted retries", "path", path, "status", lastResp.Status)
		return lastResp, nil
	}
	c.log.Warn("rdp request exhausted retries", "path", path, "error", lastErr)
	return models.VendorResponse{}, lastErr
}

func (c *RDPClient) wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(attempt+1) * c.backoff):
		return nil
	}
}

type tokenSource struct {
	mu      sync.Mutex
	baseURL string
	hc      *http.Client
	session config.Session
	access  string
	refresh string
	expiry  time.Time
	now     func() time.Time
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
	TokenType    string      `json:"token_type"`
}

func newTokenSource(baseURL string, hc *http.Client, s config.Session) *tokenSource {
	return &tokenSource{baseURL: baseURL, hc: hc, session: s, now: time.Now}
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.access != "" && t.now().Before(t.expiry) {
		return t.access, nil
	}
	if !t.session.Complete() {
		return "", ErrNoCredentials
	}

	if t.refresh != "" {
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", t.refresh)
		form.Set("username", t.session.Username)
		form.Set("client_id", t.session.AppKey)
		if err := t.exchange(ctx, form); err == nil {
			return t.access, nil
		}
		t.refresh = ""
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", t.session.Username)
	form.Set("password", t.session.Password)
	form.Set("client_id", t.session.AppKey)
	form.Set("scope", "trapi")
	form.Set("takeExclusiveSignOnControl", "true")
	if err := t.exchange(ctx, form); err != nil {
		return "", err
	}
	return t.access, nil
}

func (t *tokenSource) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.access = ""
	t.expiry = time.Time{}
}

func (t *tokenSource) exchange(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/auth/oauth2/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	res, err := t.hc.Do(req)
	if err != nil {
		return fmt.Errorf("rdp token: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &UpstreamError{Status: res.StatusCode, Body: string(body)}
	}
	var tr tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode rdp token: %w", err)
	}
	if tr.AccessToken == "" {
		return errors.New("rdp token: empty access token")
	}
	secs, err := tr.ExpiresIn.Int64()
	if err != nil || secs <= 0 {
		secs = 300
	}
	// Renew slightly early so a token never expires in flight.
	lifetime := time.Duration(secs)*time.Second - 30*time.Second
	if lifetime < time.Second {
		lifetime = time.Duration(secs) * time.Second
	}
	t.access = tr.AccessToken
	if tr.RefreshToken != "" {
		t.refresh = tr.RefreshToken
	}
	t.expiry = t.now().Add(lifetime)
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
