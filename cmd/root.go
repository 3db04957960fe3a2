package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/chatphantom/phantomchat/internal/config"
	"github.com/chatphantom/phantomchat/internal/infrastructure/backend"
	"github.com/chatphantom/phantomchat/internal/infrastructure/redis"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/services/phantom"
	"github.com/chatphantom/phantomchat/internal/services/status"
	"github.com/chatphantom/phantomchat/pkg/retry"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath  string
	apiURL      string
	logLevel    string
	metricsAddr string
}

// app holds everything a subcommand needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	client   *backend.Client
	tracker  *status.Tracker
	phantoms *phantom.Service

	closers []io.Closer
}

// newRootCmd builds the command tree. The caller closes the returned app once
// Execute returns, whatever the outcome.
func newRootCmd() (*cobra.Command, *app) {
	flags := &rootFlags{}
	a := &app{}

	root := &cobra.Command{
		Use:           "phantomchat [command] [flags]",
		Short:         "Chat with website-backed phantoms from the terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context(), flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a TOML config file (default $PHANTOM_CONFIG)")
	root.PersistentFlags().StringVar(&flags.apiURL, "api-url", "", "backend API URL (overrides config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "trace|debug|info|warn|error")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")

	root.AddCommand(newPhantomsCmd(a), newStatusCmd(a), newChatCmd(a))
	return root, a
}

// execute runs root and tears the app down afterwards. Cobra skips post-run
// hooks when a command fails, so closing happens here.
func execute(root *cobra.Command, a *app) error {
	defer a.close()
	return root.Execute()
}

func (a *app) init(ctx context.Context, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.apiURL != "" {
		cfg.APIURL = flags.apiURL
		cfg.WSURL = ""
		if err := cfg.Finalize(); err != nil {
			return err
		}
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	a.cfg = cfg

	if closer := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}); closer != nil {
		a.closers = append(a.closers, closer)
	}
	if cfg.AccessToken != "" {
		config.SetAccessToken(cfg.AccessToken)
	}

	a.client, err = backend.NewClient(cfg.APIURL, backend.WithRequestTimeout(cfg.RequestTimeout))
	if err != nil {
		return err
	}

	redisService := redis.NewService(cfg.RedisURL, cfg.RedisPassword)
	if redisService != nil {
		a.closers = append(a.closers, redisService)
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.StatusRetry.MaxAttempts
	policy.InitialInterval = cfg.StatusRetry.InitialInterval
	policy.MaxInterval = cfg.StatusRetry.MaxInterval

	a.tracker = status.NewTracker(status.Options{
		WSURL: cfg.WSURL,
		Store: status.NewStore(redisService),
		Retry: policy,
	})
	a.phantoms = phantom.NewService(a.client, a.tracker)

	if flags.metricsAddr != "" {
		a.serveMetrics(flags.metricsAddr)
	}

	l := logger.With(logger.APP)
	l.Debug().Str("api_url", cfg.APIURL).Str("ws_url", cfg.WSURL).Msg("Client configured")
	return nil
}

func (a *app) serveMetrics(addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           setupRouter(a.tracker),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		l := logger.With(logger.APP)
		l.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	a.closers = append(a.closers, closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}))
}

func (a *app) close() {
	if a.tracker != nil {
		a.tracker.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func printError(err error) {
	fmt.Fprintln(os.Stderr, color.New(color.Bold, color.FgHiRed).Sprint("Error: ")+err.Error())
}
