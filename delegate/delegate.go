// Package delegate performs outbound calls on behalf of an authenticated
// caller by forwarding the caller's bearer token to a downstream service.
//
// The token is attached verbatim to a single GET request. It is never logged,
// cached or rewritten, and failed calls are not retried.
package delegate

import (
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

	"github.com/elnormous/contenttype"
)

// DefaultTimeout bounds a delegated call when Client.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a downstream response is decoded.
const maxBody = 4 << 20

var jsonMediaType = contenttype.NewMediaType("application/json")

var (
	// ErrDownstreamUnavailable is wrapped by every error returned from a
	// delegated call: transport failures, non-2xx statuses and undecodable
	// payloads alike.
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
	// ErrNoToken is returned when a call is attempted without a token.
	ErrNoToken = errors.New("no token to delegate")
)

// StatusError reports a non-2xx downstream response.
type StatusError struct {
	StatusCode int
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned %d %s", ErrDownstreamUnavailable, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error { return ErrDownstreamUnavailable }

// Client calls a single downstream service. The zero value of every field
// except BaseURL is usable.
type Client struct {
	// BaseURL is the downstream origin, e.g. http://localhost:8082.
	BaseURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Timeout bounds each call, including reading the body.
	Timeout time.Duration
	// Logger receives call outcomes; never the token.
	Logger *slog.Logger
	// Observer, if set, is told the outcome and duration of every call.
	Observer CallObserver
}

// CallObserver receives the outcome of each delegated call.
type CallObserver interface {
	ObserveCall(path string, err error, d time.Duration)
}

// GetJSON issues GET BaseURL+path with "Authorization: Bearer <token>" and
// decodes the JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, token, path string, out any) error {
	start := time.Now()
	err := c.getJSON(ctx, token, path, out)
	if c.Observer != nil {
		c.Observer.ObserveCall(path, err, time.Since(start))
	}
	return err
}

func (c *Client) getJSON(ctx context.Context, token, path string, out any) error {
	if token == "" {
		return fmt.Errorf("%w: %w", ErrDownstreamUnavailable, ErrNoToken)
	}
	target, err := c.resolve(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownstreamUnavailable, err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrDownstreamUnavailable, err)
	}
	req.Header.Set("Accept", jsonMediaType.String())
	req.Header.Set("Authorization", "Bearer "+token)

	log := c.logger()
	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		log.WarnContext(ctx, "delegate.call.fail", slog.String("path", path), slog.Duration("elapsed", time.Since(start)), slog.String("err", err.Error()))
		return fmt.Errorf("%w: %w", ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		log.WarnContext(ctx, "delegate.call.fail", slog.String("path", path), slog.Int("status", resp.StatusCode), slog.Duration("elapsed", time.Since(start)))
		return &StatusError{StatusCode: resp.StatusCode, Path: path}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt := contenttype.NewMediaType(ct); !mt.Matches(jsonMediaType) {
			log.WarnContext(ctx, "delegate.call.fail", slog.String("path", path), slog.String("content_type", ct))
			return fmt.Errorf("%w: unexpected content type %q", ErrDownstreamUnavailable, ct)
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		log.WarnContext(ctx, "delegate.call.fail", slog.String("path", path), slog.String("err", err.Error()))
		return fmt.Errorf("%w: decode response: %w", ErrDownstreamUnavailable, err)
	}

	log.DebugContext(ctx, "delegate.call.ok", slog.String("path", path), slog.Int("status", resp.StatusCode), slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Client) resolve(p string) (string, error) {
	if c.BaseURL == "" {
		return "", errors.New("no base url configured")
	}
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base url %q", c.BaseURL)
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	ref, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	u := *base
	u.Path = base.Path + ref.Path
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}
