package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	resilientfetch "github.com/opengovern/resilient-fetch"
	"github.com/opengovern/resilient-fetch/adapters"
	"github.com/opengovern/resilient-fetch/config"
	"github.com/opengovern/resilient-fetch/server"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "fetchctl",
	Short:         "Authenticated fetch client and auth gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg = config.Default()
		}
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
			cfg.Logging.Development = true
		}
		logger, err = cfg.Logging.Logger()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auth gateway",
	Long: `Run the auth gateway.

Routes:
  POST /api/auth/token/refresh - exchange the refresh_token cookie for a new access token
  POST /api/auth/set-cookie    - turn relayed cookies into Set-Cookie headers
  POST /api/logout             - clear the session cookies
  GET  /health                 - liveness probe`,
	RunE: runServe,
}

var (
	getCookies []string
	getTimeout time.Duration
	getRelay   bool
)

var getCmd = &cobra.Command{
	Use:   "get URL...",
	Short: "Fetch one or more endpoints as a single authenticated batch",
	Long: `Fetch every endpoint concurrently. When the origin reports a missing access
token the batch refreshes the token once and replays every request.

Session cookies are passed with --cookie name=value and are sent to the fetch base
URL and the refresh endpoint.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	getCmd.Flags().StringArrayVar(&getCookies, "cookie", nil, "session cookie as name=value (repeatable)")
	getCmd.Flags().DurationVar(&getTimeout, "timeout", 0, "bound the whole batch, refresh included")
	getCmd.Flags().BoolVar(&getRelay, "relay", false, "relay cookies issued by a refresh to the set-cookie route")

	rootCmd.AddCommand(serveCmd, getCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.New(cfg, logger).Start(ctx)
}

func runGet(cmd *cobra.Command, args []string) error {
	creds := adapters.DefaultClientCredentials()
	if err := seedCookies(creds, cfg.Fetch.BaseURL, getCookies); err != nil {
		return err
	}

	fc := cfg.FetcherConfig(logger)
	fc.Credentials = creds
	fetcher, err := resilientfetch.NewFetcher(fc)
	if err != nil {
		return err
	}

	reqs := make([]*resilientfetch.NormalizedRequest, 0, len(args))
	for _, endpoint := range args {
		reqs = append(reqs, resilientfetch.NewGetRequest(endpoint))
	}

	var opts []resilientfetch.BatchOption
	if getTimeout > 0 {
		opts = append(opts, resilientfetch.WithTimeout(getTimeout))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := fetcher.RunBatch(ctx, reqs, opts...)
	if err != nil {
		if resilientfetch.NeedsReauth(err) {
			return fmt.Errorf("session expired, log in again: %w", err)
		}
		return err
	}

	if getRelay && len(result.SetCookies) > 0 {
		relay := adapters.NewSetCookieRelay(fetcher, cfg.Fetch.SetCookiePath, logger)
		if err := relay.Relay(ctx, result.SetCookies); err != nil {
			return err
		}
	}
	return printResult(cmd, args, result)
}

// seedCookies stores name=value pairs in creds for baseURL.
func seedCookies(creds *adapters.ClientCredentials, baseURL string, pairs []string) error {
	if len(pairs) == 0 {
		return nil
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("--cookie needs an absolute fetch.base_url, got %q", baseURL)
	}
	cs := make([]*http.Cookie, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid cookie %q, want name=value", pair)
		}
		cs = append(cs, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	creds.SetCookies(u, cs)
	return nil
}

type printedResponse struct {
	Endpoint string          `json:"endpoint"`
	Status   int             `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func printResult(cmd *cobra.Command, endpoints []string, result *resilientfetch.BatchResult) error {
	out := make([]printedResponse, 0, len(result.Responses))
	for i, resp := range result.Responses {
		p := printedResponse{Endpoint: endpoints[i], Status: resp.StatusCode}
		if json.Valid(resp.Data) {
			p.Data = resp.Data
		} else if len(resp.Data) > 0 {
			quoted, _ := json.Marshal(string(resp.Data))
			p.Data = quoted
		}
		out = append(out, p)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
