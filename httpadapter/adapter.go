package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dcshock/reqpipe/pipeline"
)

// DefaultTimeout bounds one request when neither WithClient nor WithTimeout is given.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBody caps how much of a response body is read unless WithMaxBody is given.
const DefaultMaxBody = 10 << 20

// Adapter performs HTTP calls for leaf stages.
type Adapter struct {
	client  *http.Client
	base    *url.URL
	header  http.Header
	raw     bool
	maxBody int64
	logger  *slog.Logger
}

var (
	_ pipeline.Adapter      = (*Adapter)(nil)
	_ pipeline.ResultGetter = (*Adapter)(nil)
)

type options struct {
	client  *http.Client
	base    string
	header  http.Header
	timeout time.Duration
	tracing bool
	safe    bool
	raw     bool
	maxBody int64
	logger  *slog.Logger
}

// Option configures an Adapter.
type Option func(*options)

// WithBaseURL resolves relative request URLs against base.
func WithBaseURL(base string) Option {
	return func(o *options) { o.base = base }
}

// WithClient uses c instead of a client built from the other options.
// WithTimeout, WithTracing and WithSafeTransport are ignored when it is set.
func WithClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithHeader adds a header sent with every request. Request headers override it.
func WithHeader(key, value string) Option {
	return func(o *options) { o.header.Add(key, value) }
}

// WithTimeout sets the per-request client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTracing wraps the transport with OpenTelemetry client spans.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// WithSafeTransport refuses connections to private and loopback addresses.
func WithSafeTransport() Option {
	return func(o *options) { o.safe = true }
}

// WithRawResponse makes GetResult return the *Response unchanged, including
// non-2xx responses.
func WithRawResponse() Option {
	return func(o *options) { o.raw = true }
}

// WithMaxBody sets the largest response body accepted, in bytes. Larger bodies
// fail the request with ErrBodyTooLarge.
func WithMaxBody(n int64) Option {
	return func(o *options) { o.maxBody = n }
}

// WithLogger sets the logger for request logs. Without one, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns an Adapter configured by opts.
func New(opts ...Option) (*Adapter, error) {
	o := options{header: http.Header{}, timeout: DefaultTimeout, maxBody: DefaultMaxBody}
	for _, opt := range opts {
		opt(&o)
	}
	a := &Adapter{client: o.client, header: o.header, raw: o.raw, maxBody: o.maxBody, logger: o.logger}
	if o.base != "" {
		u, err := url.Parse(o.base)
		if err != nil {
			return nil, fmt.Errorf("base url: %w: %v", ErrInvalidURL, err)
		}
		if err := validate(u); err != nil {
			return nil, fmt.Errorf("base url: %w", err)
		}
		a.base = u
	}
	if a.client == nil {
		var rt http.RoundTripper = http.DefaultTransport
		if o.safe {
			rt = NewSafeTransport()
		}
		if o.tracing {
			rt = otelhttp.NewTransport(rt)
		}
		a.client = &http.Client{Transport: rt, Timeout: o.timeout}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// CreateRequest sends the request described by config and returns a *Response.
// Transport errors fail the stage; HTTP error statuses are left to GetResult.
func (a *Adapter) CreateRequest(ctx context.Context, config interface{}) (interface{}, error) {
	req, err := AsRequest(config)
	if err != nil {
		return nil, err
	}
	target, err := resolve(a.base, req.URL, req.Query)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: encode body: %w", req.Method, target, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", req.Method, target, err)
	}
	for k, vs := range a.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", req.Method, target, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("http %s %s: read body: %w", req.Method, target, err)
	}
	if int64(len(data)) > a.maxBody {
		return nil, fmt.Errorf("http %s %s: %w (limit %d bytes)", req.Method, target, ErrBodyTooLarge, a.maxBody)
	}
	a.logger.DebugContext(ctx, "http request",
		slog.String("method", req.Method),
		slog.String("url", target.String()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return &Response{
		URL:        target.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// GetResult maps a *Response to the stage view. Other values pass through.
func (a *Adapter) GetResult(ctx context.Context, raw interface{}) (interface{}, error) {
	resp, ok := raw.(*Response)
	if !ok || a.raw {
		return raw, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: resp.URL, StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return Decode(resp)
}

// Decode returns the body of resp as a decoded JSON value when it is JSON,
// as a string otherwise, or nil when empty.
func Decode(resp *Response) (interface{}, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, nil
	}
	if isJSON(resp.Header.Get("Content-Type"), body) {
		var v interface{}
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("http %s: decode json: %w", resp.URL, err)
		}
		return v, nil
	}
	return string(resp.Body), nil
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
		return false
	}
	return (body[0] == '{' || body[0] == '[') && json.Valid(body)
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
