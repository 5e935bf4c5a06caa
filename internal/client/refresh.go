package client

import (
	"bytes"
	"context"
	"net/http"

	"github.com/nghyane/restbridge/internal/auth"
	"github.com/nghyane/restbridge/internal/json"
	"github.com/nghyane/restbridge/internal/metrics"

	log "github.com/nghyane/restbridge/internal/logging"
)

// recoverCredentials exchanges the refresh credential for a new pair and
// persists it. Concurrent 401 failures share a single in-flight exchange:
// late arrivals wait on the flight and reuse its result instead of starting
// their own. staleToken is the access token the failing request carried, so
// a flight that finds a newer token in the store can return immediately.
//
// A failed or impossible exchange clears the stored credentials and fires
// the logout signal; the returned error is the terminal authorization error.
func (c *Client) recoverCredentials(ctx context.Context, staleToken string) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		// Another flight may have already rotated the pair.
		if current := c.store.AccessToken(); current != "" && current != staleToken {
			return current, nil
		}

		refreshToken := c.store.RefreshToken()
		if refreshToken == "" {
			return nil, NewError(http.StatusUnauthorized, "expired session")
		}

		creds, errExchange := c.exchangeRefreshToken(ctx, refreshToken)
		if errExchange != nil {
			if !AsError(errExchange).Canceled() {
				metrics.RefreshesTotal.WithLabelValues("failure").Inc()
			}
			return nil, errExchange
		}
		metrics.RefreshesTotal.WithLabelValues("success").Inc()

		if errSet := c.store.Set(creds); errSet != nil {
			log.Warnf("client: failed to persist refreshed credentials: %v", errSet)
		}
		return creds.AccessToken, nil
	})
	if err != nil {
		apiErr := AsError(err)
		if apiErr.Canceled() {
			return apiErr
		}
		c.store.Logout()
		return NewError(http.StatusUnauthorized, "expired session")
	}
	return nil
}

// exchangeRefreshToken posts the refresh credential to the configured
// refresh endpoint. The call goes straight over the transport: it must never
// re-enter the pipeline, or a failing refresh would recurse into another
// refresh.
func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (auth.Credentials, error) {
	s := c.snapshot()

	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return auth.Credentials{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(s.baseURL, s.refreshPath), bytes.NewReader(payload))
	if err != nil {
		return auth.Credentials{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return auth.Credentials{}, ClassifyTransport(err)
	}
	body, err := readBody(resp)
	if err != nil {
		return auth.Credentials{}, ClassifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return auth.Credentials{}, ClassifyStatus(resp.StatusCode, body)
	}

	var creds auth.Credentials
	if err = json.Unmarshal(body, &creds); err != nil || creds.AccessToken == "" {
		return auth.Credentials{}, NewError(http.StatusUnauthorized, "malformed refresh response")
	}
	return creds, nil
}

// Login exchanges payload at the configured login endpoint for an initial
// credential pair and stores it. Like the refresh exchange, login bypasses
// the retry and refresh machinery: there is no credential to recover yet.
func (c *Client) Login(ctx context.Context, payload any) error {
	s := c.snapshot()

	body, err := json.Marshal(payload)
	if err != nil {
		return NewError(CodeTransport, "encode login payload: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(s.baseURL, s.loginPath), bytes.NewReader(body))
	if err != nil {
		return NewError(CodeTransport, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return ClassifyTransport(err)
	}
	respBody, err := readBody(resp)
	if err != nil {
		return ClassifyTransport(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyStatus(resp.StatusCode, respBody)
	}

	var creds auth.Credentials
	if err = json.Unmarshal(respBody, &creds); err != nil || creds.AccessToken == "" {
		return NewError(http.StatusUnauthorized, "malformed login response")
	}
	return c.store.Set(creds)
}
