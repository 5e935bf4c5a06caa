// Package client implements the resilient request pipeline: credential
// attachment, transient-failure retry with exponential backoff, transparent
// credential refresh on authorization expiry, and structured error
// classification. Callers observe only the final success envelope or the
// final terminal error; recovery paths are invisible.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nghyane/restbridge/internal/auth"
	"github.com/nghyane/restbridge/internal/config"
	"github.com/nghyane/restbridge/internal/json"
	"github.com/nghyane/restbridge/internal/metrics"
	"github.com/nghyane/restbridge/internal/reqlog"
	"golang.org/x/sync/singleflight"

	log "github.com/nghyane/restbridge/internal/logging"
)

// settings is the immutable per-dispatch view of the configuration; hot
// reloads swap it atomically under the client mutex.
type settings struct {
	baseURL     string
	headers     map[string]string
	loginPath   string
	refreshPath string
	retry       RetryConfig
}

// Client is the shared network-access layer. All outbound calls funnel
// through Do (or its wrappers) so every caller gets the same retry, refresh,
// and classification behavior.
type Client struct {
	mu         sync.RWMutex
	settings   settings
	httpClient *http.Client
	recorder   *reqlog.Recorder
	notifier   Notifier

	store        *auth.Store
	refreshGroup singleflight.Group
}

// New builds a client from cfg with credentials read from store.
// A nil store yields an in-memory store with no credentials.
func New(cfg *config.Config, store *auth.Store) *Client {
	if store == nil {
		store = auth.NewStore("")
	}
	c := &Client{
		store:    store,
		notifier: logNotifier{},
	}
	c.ApplyConfig(cfg)
	return c
}

// ApplyConfig installs cfg, rebuilding the underlying HTTP client. Safe to
// call concurrently with in-flight requests; they finish on the old
// transport.
func (c *Client) ApplyConfig(cfg *config.Config) {
	var proxyURL *url.URL
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Warnf("client: ignoring invalid proxy url %q: %v", cfg.ProxyURL, err)
		} else {
			proxyURL = u
		}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout(),
		Transport: newTransport(proxyURL),
	}

	c.mu.Lock()
	c.settings = settings{
		baseURL:     cfg.BaseURL,
		headers:     headers,
		loginPath:   cfg.LoginPath,
		refreshPath: cfg.RefreshPath,
		retry: RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay(),
		},
	}
	c.httpClient = httpClient
	c.mu.Unlock()
}

// SetNotifier replaces the user-facing failure notifier.
func (c *Client) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == nil {
		n = logNotifier{}
	}
	c.notifier = n
}

// SetRecorder attaches the request diagnostics recorder.
func (c *Client) SetRecorder(r *reqlog.Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// Store returns the credential store the client reads from.
func (c *Client) Store() *auth.Store {
	return c.store
}

func (c *Client) snapshot() settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

func (c *Client) client() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}

// attemptState is the mutable bookkeeping that travels alongside a Request.
// The caller's Request itself is never mutated.
type attemptState struct {
	id       string
	start    time.Time
	attempts int
	retries  int
	replayed bool
	token    string
	status   int
}

// Do runs req through the pipeline and returns the response envelope
// unchanged, regardless of its success flag, or the terminal structured
// error. Cancellation of ctx aborts the in-flight call without retry,
// refresh, or notification.
func (c *Client) Do(ctx context.Context, req *Request) (*Envelope, error) {
	if req == nil || req.Method == "" || req.Path == "" {
		return nil, NewError(CodeTransport, "request method and path are required")
	}

	st := &attemptState{id: uuid.NewString(), start: time.Now()}
	env, runErr := c.run(ctx, req, st)
	elapsed := time.Since(st.start)
	metrics.RequestDuration.Observe(elapsed.Seconds())
	c.record(req, st, runErr, elapsed)

	if runErr != nil {
		apiErr := AsError(runErr)
		if apiErr.Canceled() {
			metrics.RequestsTotal.WithLabelValues("canceled").Inc()
			log.Debugf("%s %s canceled after %v", req.Method, req.Path, elapsed)
			return nil, apiErr
		}
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		log.WithFields(log.Fields{
			"method":  req.Method,
			"path":    req.Path,
			"code":    apiErr.Code,
			"elapsed": elapsed,
		}).Warn("request failed")
		if !req.Silent {
			c.notify(apiErr)
		}
		return nil, apiErr
	}

	metrics.RequestsTotal.WithLabelValues("success").Inc()
	log.Debugf("%s %s completed in %v", req.Method, req.Path, elapsed)
	return env, nil
}

// run drives the attempt loop. Outcome routing order is fixed: classify,
// then the authorization-recovery check, then the generic retry engine.
func (c *Client) run(ctx context.Context, req *Request, st *attemptState) (*Envelope, error) {
	retry := c.snapshot().retry
	for {
		env, failure := c.dispatch(ctx, req, st)
		if failure == nil {
			return env, nil
		}
		if failure.Canceled() {
			return nil, failure
		}

		if failure.Code == http.StatusUnauthorized {
			if st.replayed {
				// A second 401 after the replay is terminal.
				c.store.Logout()
				return nil, failure
			}
			st.replayed = true
			if err := c.recoverCredentials(ctx, st.token); err != nil {
				return nil, err
			}
			log.Debugf("replaying %s %s with refreshed credentials", req.Method, req.Path)
			continue
		}

		if !retryable(failure.Code) || st.retries >= retry.MaxRetries {
			return nil, failure
		}
		st.retries++
		metrics.RetriesTotal.Inc()
		delay := backoffDelay(retry.BaseDelay, st.retries)
		log.Debugf("retrying %s %s in %v after code %d (retry %d/%d)",
			req.Method, req.Path, delay, failure.Code, st.retries, retry.MaxRetries)
		if err := waitBackoff(ctx, delay); err != nil {
			return nil, ClassifyTransport(err)
		}
	}
}

// dispatch performs one attempt: attach credential, send, classify.
func (c *Client) dispatch(ctx context.Context, req *Request, st *attemptState) (*Envelope, *Error) {
	st.attempts++

	httpReq, err := c.buildRequest(ctx, req, st)
	if err != nil {
		return nil, &Error{Code: CodeTransport, Message: err.Error()}
	}

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, ClassifyTransport(err)
	}
	st.status = resp.StatusCode

	body, err := readBody(resp)
	if err != nil {
		return nil, ClassifyTransport(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(bytes.TrimSpace(body)) == 0 {
			return &Envelope{Code: resp.StatusCode, Success: true}, nil
		}
		var env Envelope
		if err = json.Unmarshal(body, &env); err != nil {
			return nil, &Error{Code: resp.StatusCode, Message: "malformed response envelope"}
		}
		return &env, nil
	}

	return nil, ClassifyStatus(resp.StatusCode, body)
}

func (c *Client) buildRequest(ctx context.Context, req *Request, st *attemptState) (*http.Request, error) {
	s := c.snapshot()

	u := joinURL(s.baseURL, req.Path)
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var payload []byte
	var bodyReader io.Reader
	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			payload = b
		case json.RawMessage:
			payload = b
		default:
			var err error
			if payload, err = json.Marshal(req.Body); err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, err
	}

	for k, v := range s.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	httpReq.Header.Set("X-Request-ID", st.id)

	if token := c.store.AccessToken(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
		st.token = token
	}

	if payload != nil && log.GetLevel() <= log.DebugLevel {
		log.Debugf("%s %s payload: %s", req.Method, req.Path, redactSecrets(payload))
	}
	return httpReq, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	reader, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()
	return io.ReadAll(reader)
}

func (c *Client) notify(err *Error) {
	c.mu.RLock()
	n := c.notifier
	c.mu.RUnlock()
	n.Notify(err)
}

func (c *Client) record(req *Request, st *attemptState, runErr error, elapsed time.Duration) {
	c.mu.RLock()
	rec := c.recorder
	c.mu.RUnlock()
	if rec == nil {
		return
	}
	r := reqlog.Record{
		RequestID:   st.id,
		Method:      req.Method,
		Path:        req.Path,
		StatusCode:  st.status,
		Attempts:    st.attempts,
		Replayed:    st.replayed,
		Silent:      req.Silent,
		ElapsedMs:   elapsed.Milliseconds(),
		RequestedAt: st.start,
	}
	if runErr != nil {
		r.ErrorCode = AsError(runErr).Code
	}
	rec.Enqueue(r)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// Get issues a GET through the pipeline.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Envelope, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a POST with a JSON body through the pipeline.
func (c *Client) Post(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT with a JSON body through the pipeline.
func (c *Client) Put(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete issues a DELETE through the pipeline.
func (c *Client) Delete(ctx context.Context, path string) (*Envelope, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// DoSilent runs req with terminal-failure notification suppressed. The
// caller's Request is copied, not mutated.
func (c *Client) DoSilent(ctx context.Context, req *Request) (*Envelope, error) {
	silent := *req
	silent.Silent = true
	return c.Do(ctx, &silent)
}
