package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nghyane/restbridge/internal/auth"
	"github.com/nghyane/restbridge/internal/config"
	"github.com/nghyane/restbridge/internal/json"
)

type recordingNotifier struct {
	mu   sync.Mutex
	errs []*Error
}

func (n *recordingNotifier) Notify(err *Error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

func newTestClient(baseURL string, store *auth.Store) *Client {
	cfg := config.NewDefaultConfig()
	cfg.BaseURL = baseURL
	cfg.BaseDelayMs = 1
	return New(cfg, store)
}

func TestTransientFailureRetriedUntilExhaustion(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	notifier := &recordingNotifier{}
	c := newTestClient(server.URL, nil)
	c.SetNotifier(notifier)

	_, err := c.Get(context.Background(), "/orders", nil)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	apiErr := AsError(err)
	if apiErr.Code != 503 {
		t.Errorf("expected code 503, got %d", apiErr.Code)
	}
	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Errorf("expected 1+maxRetries=4 attempts, got %d", got)
	}
	if notifier.count() != 1 {
		t.Errorf("expected exactly one notification, got %d", notifier.count())
	}
}

func TestTerminalStatusNotRetried(t *testing.T) {
	for _, status := range []int{404, 429} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(status)
			}))
			defer server.Close()

			c := newTestClient(server.URL, nil)
			_, err := c.Get(context.Background(), "/markets", nil)
			if err == nil {
				t.Fatal("expected terminal error")
			}
			if apiErr := AsError(err); apiErr.Code != status {
				t.Errorf("expected code %d, got %d", status, apiErr.Code)
			}
			if got := atomic.LoadInt32(&attempts); got != 1 {
				t.Errorf("expected exactly one attempt, got %d", got)
			}
		})
	}
}

func TestSuccessEnvelopeReturnedUnchanged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 with success=false must still reach the caller untouched.
		fmt.Fprint(w, `{"code":2001,"message":"order rejected","success":false,"data":{"id":7}}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL, nil)
	env, err := c.Get(context.Background(), "/orders/7", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Success {
		t.Error("expected success=false to pass through")
	}
	if env.Code != 2001 || env.Message != "order rejected" {
		t.Errorf("envelope mangled: %+v", env)
	}
	var data struct {
		ID int `json:"id"`
	}
	if err = env.DecodeData(&data); err != nil || data.ID != 7 {
		t.Errorf("expected data.id=7, got %+v err=%v", data, err)
	}
}

func TestRefreshAndReplayOnce(t *testing.T) {
	var refreshCalls, apiCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		var payload struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.RefreshToken != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"access_token":"token-2","refresh_token":"refresh-2"}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"code":0,"message":"ok","success":true}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := auth.NewStore("")
	_ = store.Set(auth.Credentials{AccessToken: "token-1", RefreshToken: "refresh-1"})
	c := newTestClient(server.URL, store)

	env, err := c.Get(context.Background(), "/orders", nil)
	if err != nil {
		t.Fatalf("expected replay to succeed, got %v", err)
	}
	if !env.Success {
		t.Error("expected successful envelope after replay")
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Errorf("expected exactly one refresh call, got %d", got)
	}
	if got := atomic.LoadInt32(&apiCalls); got != 2 {
		t.Errorf("expected original+replay = 2 api calls, got %d", got)
	}
	if store.AccessToken() != "token-2" || store.RefreshToken() != "refresh-2" {
		t.Error("expected refreshed pair to be stored")
	}
}

func TestConcurrentRefreshIsDeduplicated(t *testing.T) {
	var refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"access_token":"token-2","refresh_token":"refresh-2"}`)
	})
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"code":0,"message":"ok","success":true}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := auth.NewStore("")
	_ = store.Set(auth.Credentials{AccessToken: "token-1", RefreshToken: "refresh-1"})
	c := newTestClient(server.URL, store)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Get(context.Background(), "/positions", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: unexpected error: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Errorf("expected a single shared refresh exchange, got %d", got)
	}
}

func TestSecondAuthFailureLogsOut(t *testing.T) {
	var refreshCalls, apiCalls, logoutCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		fmt.Fprint(w, `{"access_token":"token-2","refresh_token":"refresh-2"}`)
	})
	mux.HandleFunc("/contracts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := auth.NewStore("")
	_ = store.Set(auth.Credentials{AccessToken: "token-1", RefreshToken: "refresh-1"})
	store.SetOnLogout(func() {
		atomic.AddInt32(&logoutCalls, 1)
	})
	c := newTestClient(server.URL, store)

	_, err := c.Get(context.Background(), "/contracts", nil)
	if err == nil {
		t.Fatal("expected terminal authorization error")
	}
	if apiErr := AsError(err); apiErr.Code != 401 {
		t.Errorf("expected code 401, got %d", apiErr.Code)
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 1 {
		t.Errorf("expected exactly one refresh call, got %d", got)
	}
	if got := atomic.LoadInt32(&apiCalls); got != 2 {
		t.Errorf("expected original+replay = 2 api calls, got %d", got)
	}
	if got := atomic.LoadInt32(&logoutCalls); got != 1 {
		t.Errorf("expected exactly one logout signal, got %d", got)
	}
	if store.AccessToken() != "" || store.RefreshToken() != "" {
		t.Error("expected stored credentials to be cleared")
	}
}

func TestMissingRefreshTokenLogsOut(t *testing.T) {
	var refreshCalls, logoutCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
	})
	mux.HandleFunc("/reports", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := auth.NewStore("")
	store.SetOnLogout(func() {
		atomic.AddInt32(&logoutCalls, 1)
	})
	c := newTestClient(server.URL, store)

	_, err := c.Get(context.Background(), "/reports", nil)
	if err == nil {
		t.Fatal("expected terminal authorization error")
	}
	if apiErr := AsError(err); apiErr.Code != 401 {
		t.Errorf("expected code 401, got %d", apiErr.Code)
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 0 {
		t.Errorf("expected no refresh exchange without a refresh token, got %d", got)
	}
	if got := atomic.LoadInt32(&logoutCalls); got != 1 {
		t.Errorf("expected exactly one logout signal, got %d", got)
	}
}

func TestFailedRefreshLogsOut(t *testing.T) {
	var logoutCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/settlements", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := auth.NewStore("")
	_ = store.Set(auth.Credentials{AccessToken: "token-1", RefreshToken: "refresh-1"})
	store.SetOnLogout(func() {
		atomic.AddInt32(&logoutCalls, 1)
	})
	c := newTestClient(server.URL, store)

	_, err := c.Get(context.Background(), "/settlements", nil)
	if err == nil {
		t.Fatal("expected terminal authorization error")
	}
	if got := atomic.LoadInt32(&logoutCalls); got != 1 {
		t.Errorf("expected exactly one logout signal, got %d", got)
	}
}

func TestSilentFailureSkipsNotification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	notifier := &recordingNotifier{}
	c := newTestClient(server.URL, nil)
	c.SetNotifier(notifier)

	_, err := c.DoSilent(context.Background(), &Request{Method: http.MethodGet, Path: "/missing"})
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if apiErr := AsError(err); apiErr.Code != 404 {
		t.Errorf("expected code 404, got %d", apiErr.Code)
	}
	if notifier.count() != 0 {
		t.Errorf("silent request must not notify, got %d notifications", notifier.count())
	}
}

func TestCancelInFlightSkipsRetryAndRefresh(t *testing.T) {
	var attempts, refreshCalls int32
	started := make(chan struct{}, 8)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		started <- struct{}{}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	notifier := &recordingNotifier{}
	c := newTestClient(server.URL, nil)
	c.SetNotifier(notifier)

	f := c.Go(context.Background(), &Request{Method: http.MethodGet, Path: "/slow"})
	<-started
	f.Cancel()

	env, err := f.Wait()
	if env != nil {
		t.Error("expected no envelope from canceled request")
	}
	apiErr := AsError(err)
	if apiErr == nil || !apiErr.Canceled() {
		t.Fatalf("expected cancellation outcome, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("canceled request must not retry, got %d attempts", got)
	}
	if got := atomic.LoadInt32(&refreshCalls); got != 0 {
		t.Errorf("canceled request must not refresh, got %d refresh calls", got)
	}
	if notifier.count() != 0 {
		t.Errorf("cancellation must not notify, got %d notifications", notifier.count())
	}
}

func TestCancelDuringBackoffStopsRetrying(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.NewDefaultConfig()
	cfg.BaseURL = server.URL
	cfg.BaseDelayMs = 500
	c := New(cfg, nil)

	f := c.Go(context.Background(), &Request{Method: http.MethodGet, Path: "/quotes"})
	time.Sleep(100 * time.Millisecond) // first attempt fails, backoff in progress
	f.Cancel()

	_, err := f.Wait()
	apiErr := AsError(err)
	if apiErr == nil || !apiErr.Canceled() {
		t.Fatalf("expected cancellation outcome, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected a single attempt before cancellation, got %d", got)
	}
}

func TestTransportTimeoutClassifiedAndRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	cfg := config.NewDefaultConfig()
	cfg.BaseURL = server.URL
	cfg.TimeoutMs = 30
	cfg.BaseDelayMs = 1
	c := New(cfg, nil)

	_, err := c.Get(context.Background(), "/marketdata", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	apiErr := AsError(err)
	if apiErr.Code != CodeTransport {
		t.Errorf("expected transport code 0, got %d", apiErr.Code)
	}
	if apiErr.Message != "request timed out" {
		t.Errorf("expected timeout message, got %q", apiErr.Message)
	}
	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Errorf("expected 1+maxRetries=4 attempts, got %d", got)
	}
}

func TestReplayAttachesFreshCredential(t *testing.T) {
	var sawTokens []string
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"token-2","refresh_token":"refresh-2"}`)
	})
	mux.HandleFunc("/ai/summary", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		sawTokens = append(sawTokens, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer token-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"code":0,"message":"ok","success":true}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := auth.NewStore("")
	_ = store.Set(auth.Credentials{AccessToken: "token-1", RefreshToken: "refresh-1"})
	c := newTestClient(server.URL, store)

	if _, err := c.Post(context.Background(), "/ai/summary", map[string]string{"contract": "C-102"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sawTokens) != 2 || sawTokens[0] != "Bearer token-1" || sawTokens[1] != "Bearer token-2" {
		t.Errorf("expected replay with rotated bearer token, saw %v", sawTokens)
	}
}
