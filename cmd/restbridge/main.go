// Package main provides the restbridge probe CLI. It issues one or more
// requests through the resilient pipeline against a configured backend and
// prints the response envelope or the structured error, which makes it a
// convenient smoke test for retry, refresh, and cancellation behavior.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nghyane/restbridge/internal/json"
	"github.com/nghyane/restbridge/internal/logging"
	"github.com/nghyane/restbridge/pkg/restbridge"
	flag "github.com/spf13/pflag"

	log "github.com/nghyane/restbridge/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath string
		method     string
		path       string
		data       string
		query      []string
		loginData  string
		silent     bool
		repeat     int
		intervalMs int
		debug      bool
	)

	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.StringVar(&method, "method", "GET", "HTTP method")
	flag.StringVar(&path, "path", "/", "Request path, resolved against base-url")
	flag.StringVar(&data, "data", "", "JSON request body")
	flag.StringSliceVar(&query, "query", nil, "Query parameters as key=value")
	flag.StringVar(&loginData, "login", "", "JSON login payload; performs login before the request")
	flag.BoolVar(&silent, "silent", false, "Suppress user-facing error notification")
	flag.IntVar(&repeat, "repeat", 1, "Number of times to issue the request")
	flag.IntVar(&intervalMs, "interval-ms", 1000, "Delay between repeated requests")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment from .env")
	}

	fmt.Printf("restbridge Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	cfg, err := restbridge.LoadConfig(configPath)
	if err != nil {
		log.Warnf("falling back to default config: %v", err)
		cfg = restbridge.NewConfig()
	}
	if debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		logging.SetLevel(logging.DebugLevel)
	}
	if err = logging.ConfigureOutput(cfg.LoggingToFile, ""); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	if cfg.BaseURL == "" {
		log.Fatalf("base-url is required (set it in %s)", configPath)
	}

	store := restbridge.NewStore(cfg.CredentialsFile)
	store.SetOnLogout(func() {
		log.Warn("session ended: credentials cleared, login required")
	})

	bridge := restbridge.New(cfg, store)

	if cfg.RequestLog != "" {
		recorder, errRec := restbridge.NewRecorder(cfg.RequestLog)
		if errRec != nil {
			log.Warnf("request log disabled: %v", errRec)
		} else {
			bridge.SetRecorder(recorder)
			defer func() {
				_ = recorder.Close()
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Long probing runs pick up config edits without a restart.
	if repeat > 1 {
		watcher, errWatch := restbridge.NewConfigWatcher(configPath, bridge.ApplyConfig)
		if errWatch != nil {
			log.Warnf("config hot reload disabled: %v", errWatch)
		} else if errStart := watcher.Start(ctx); errStart == nil {
			defer func() {
				_ = watcher.Stop()
			}()
		}
	}

	if loginData != "" {
		var payload any
		if err = json.Unmarshal([]byte(loginData), &payload); err != nil {
			log.Fatalf("invalid login payload: %v", err)
		}
		if err = bridge.Login(ctx, payload); err != nil {
			log.Fatalf("login failed: %v", err)
		}
		log.Info("login succeeded, credentials stored")
	}

	req := &restbridge.Request{
		Method: strings.ToUpper(method),
		Path:   path,
		Silent: silent,
		Query:  parseQuery(query),
	}
	if data != "" {
		req.Body = json.RawMessage(data)
	}

	exitCode := 0
	for i := 0; i < repeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				log.Info("interrupted")
				os.Exit(exitCode)
			case <-time.After(time.Duration(intervalMs) * time.Millisecond):
			}
		}
		if !probe(ctx, bridge, req) {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func probe(ctx context.Context, bridge *restbridge.Client, req *restbridge.Request) bool {
	env, err := bridge.Do(ctx, req)
	if err != nil {
		out, _ := json.MarshalIndent(err, "", "  ")
		fmt.Println(string(out))
		return false
	}
	out, _ := json.MarshalIndent(env, "", "  ")
	fmt.Println(string(out))
	return env.Success
}

func parseQuery(pairs []string) url.Values {
	if len(pairs) == 0 {
		return nil
	}
	values := url.Values{}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			log.Warnf("ignoring malformed query parameter %q", pair)
			continue
		}
		values.Add(key, value)
	}
	return values
}
