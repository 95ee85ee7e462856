package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Doer is the subset of Client used by the services built on it.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
	BaseURL() string
}

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL        string
	Proxy          string
	DefaultHeaders map[string]string
	// Timeout of 0 leaves requests bounded only by their context. The
	// datafeed read relies on this: the agent holds it open for ~30s.
	Timeout       time.Duration
	RatePerSecond float64
	TLSConfig     *tls.Config
	// HTTPClient overrides the client built from the fields above.
	HTTPClient *http.Client
}

// Client speaks JSON over HTTPS to one platform service (pod, agent,
// session auth or key manager) and translates failures into *APIError.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	defaultHeaders map[string]string
	limiter        *rate.Limiter
	logger         *zap.Logger
}

// Request describes one call relative to the client's base URL. JSON is
// marshaled as the body when set; otherwise Body is sent as-is.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	JSON        any
	Body        io.Reader
	ContentType string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into dest.
func (r *Response) DecodeJSON(dest any) error {
	if err := json.Unmarshal(r.Body, dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("api: invalid base URL %q: %w", opts.BaseURL, err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     opts.TLSConfig,
		}
		if opts.Proxy != "" {
			proxyURL, err := url.Parse(opts.Proxy)
			if err != nil {
				return nil, fmt.Errorf("api: invalid proxy %q: %w", opts.Proxy, err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			transport.Proxy = http.ProxyFromEnvironment
		}
		httpClient = &http.Client{
			Transport: gzhttp.Transport(transport),
			Timeout:   opts.Timeout,
		}
	}

	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = max(1, int(opts.RatePerSecond*2))
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		defaultHeaders: opts.DefaultHeaders,
		limiter:        rate.NewLimiter(limit, burst),
		logger:         logger,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req and returns the response for any 2xx status. Other
// statuses and transport failures come back as *APIError. Cancellation of
// ctx is returned unclassified.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	fullURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	body := req.Body
	contentType := req.ContentType
	if req.JSON != nil {
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.defaultHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug("requesting", zap.String("method", req.Method), zap.String("url", fullURL))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{Kind: KindNetwork, Err: err}
	}

	// Read body before closing for error messages
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: readErr}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
	}

	return nil, newAPIError(resp.StatusCode, respBody)
}

func newAPIError(status int, body []byte) *APIError {
	bodyStr := string(body)
	if len(bodyStr) > maxErrorBody {
		bodyStr = bodyStr[:maxErrorBody]
	}

	var parsed errorBody
	message := ""
	if json.Unmarshal(body, &parsed) == nil {
		message = parsed.Message
	}

	// Some agents answer with a plain-text body; classify on that too.
	classifyOn := message
	if classifyOn == "" {
		classifyOn = bodyStr
	}

	return &APIError{
		Kind:       ClassifyStatus(status, classifyOn),
		StatusCode: status,
		Message:    message,
		Body:       bodyStr,
	}
}
