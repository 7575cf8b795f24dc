package httpadapter

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Request is the config of one HTTP call.
type Request struct {
	Method string            `mapstructure:"method"`
	URL    string            `mapstructure:"url"`
	Header map[string]string `mapstructure:"header"`
	Query  map[string]string `mapstructure:"query"`
	Body   interface{}       `mapstructure:"body"`
}

// Get returns a GET request for url.
func Get(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// PostJSON returns a POST request with body encoded as JSON.
func PostJSON(url string, body interface{}) Request {
	return Request{Method: http.MethodPost, URL: url, Body: body}
}

// Response is the raw result of one HTTP call.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ErrInvalidURL is wrapped by URL validation failures.
var ErrInvalidURL = errors.New("invalid url")

// AsRequest converts a stage config into a Request.
func AsRequest(config interface{}) (Request, error) {
	var req Request
	switch c := config.(type) {
	case Request:
		req = c
	case *Request:
		if c == nil {
			return Request{}, errors.New("http config: nil request")
		}
		req = *c
	case map[string]interface{}:
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &req,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return Request{}, err
		}
		if err := dec.Decode(c); err != nil {
			return Request{}, fmt.Errorf("http config: %w", err)
		}
	case string:
		req = Get(c)
	default:
		return Request{}, fmt.Errorf("http config: unsupported type %T", config)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)
	if req.URL == "" {
		return Request{}, fmt.Errorf("http config: %w: url required", ErrInvalidURL)
	}
	return req, nil
}

// ValidateURL checks that raw is an absolute http or https URL with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return validate(u)
}

func validate(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidURL, u.String())
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q: host required", ErrInvalidURL, u.String())
	}
	return nil
}

// resolve returns the absolute URL for raw, resolved against base when relative,
// with query merged in.
func resolve(base *url.URL, raw string, query map[string]string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !ref.IsAbs() && base != nil {
		ref = base.ResolveReference(ref)
	}
	if err := validate(ref); err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := ref.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		ref.RawQuery = q.Encode()
	}
	return ref, nil
}
