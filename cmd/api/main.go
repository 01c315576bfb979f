package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"marketdash/backend-go/internal/config"
	internalhttp "marketdash/backend-go/internal/http"
	"marketdash/backend-go/internal/logging"
	"marketdash/backend-go/internal/models"
	"marketdash/backend-go/internal/render"
	"marketdash/backend-go/internal/services"
)

type rootFlags struct {
	profile  string
	session  string
	logLevel string
}

type app struct {
	cfg        config.Config
	profile    config.Profile
	log        *slog.Logger
	cache      services.Cache
	rdp        *services.RDPClient
	dispatcher *services.Dispatcher
}

func main() {
	var flags rootFlags
	rootCmd := &cobra.Command{
		Use:           "marketdash",
		Short:         "Financial dashboard backend for the Refinitiv Data Platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.profile, "profile", "", "dashboard profile: summary, content or a YAML file (overrides DASHBOARD_PROFILE)")
	rootCmd.PersistentFlags().StringVar(&flags.session, "session", "", "INI credentials file (overrides SESSION_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	})
	rootCmd.AddCommand(newSnapshotCmd(&flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func bootstrap(flags rootFlags, quiet bool) (*app, error) {
	_ = godotenv.Load(
		".env",
		".env.local",
		"../.env",
		"../.env.local",
		"backend-go/.env",
		"backend-go/.env.local",
	)
	cfg := config.Load()
	if flags.profile != "" {
		cfg.Profile = flags.profile
	}
	if flags.session != "" {
		cfg.SessionFile = flags.session
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if quiet && flags.logLevel == "" {
		log = logging.NewWithWriter(os.Stderr, "warn", "text")
	}

	session, err := config.LoadSession(cfg.SessionFile)
	if err != nil {
		return nil, err
	}
	cfg.Session = session
	if !session.Complete() {
		log.Warn("rdp credentials incomplete; vendor reads will fail", "session_file", cfg.SessionFile)
	}
	profile, err := config.LoadProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}

	cache := services.NewCache(cfg, log)
	rdp := services.NewRDPClient(cfg, cache, log)
	streamer := services.NewPricingStreamer(cfg, rdp, rdp, log)
	return &app{
		cfg:        cfg,
		profile:    profile,
		log:        log,
		cache:      cache,
		rdp:        rdp,
		dispatcher: services.NewDispatcher(profile, rdp, streamer, log),
	}, nil
}

func runServe(ctx context.Context, flags rootFlags) error {
	a, err := bootstrap(flags, false)
	if err != nil {
		return err
	}
	defer a.dispatcher.Close()

	h := internalhttp.NewRouter(a.cfg, a.dispatcher, a.rdp, a.cache, a.log)
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("marketdash listening", "addr", srv.Addr, "profile", a.profile.Name, "cache", a.cache.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newSnapshotCmd(flags *rootFlags) *cobra.Command {
	var (
		start, end int
		output     string
		chartPath  string
		wait       time.Duration
		color      bool
	)
	cmd := &cobra.Command{
		Use:   "snapshot SYMBOL",
		Short: "Load one instrument and print the dashboard sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			renderer, err := render.ForFormat(output)
			if err != nil {
				return err
			}
			a, err := bootstrap(*flags, true)
			if err != nil {
				return err
			}
			defer a.dispatcher.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout+wait)
			defer cancel()
			view, err := a.dispatcher.Select(ctx, models.Selection{Symbol: args[0], StartYear: start, EndYear: end})
			if err != nil {
				return err
			}
			quotes := waitForQuote(ctx, a.dispatcher, wait)

			snap := render.Snapshot{Title: a.profile.Title, View: view, Quotes: quotes}
			if err := renderer.Render(cmd.OutOrStdout(), snap, render.RenderOptions{Color: color, PrettyJSON: true}); err != nil {
				return err
			}
			if chartPath == "" {
				return nil
			}
			f, err := os.Create(chartPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", chartPath, err)
			}
			defer f.Close()
			if err := render.ChartPNG(f, view.Chart, render.ChartOptions{Title: view.Symbol}); err != nil {
				return fmt.Errorf("render chart: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "first year (profiles with a year range)")
	cmd.Flags().IntVar(&end, "end", 0, "last year (profiles with a year range)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "table, json or yaml")
	cmd.Flags().StringVar(&chartPath, "chart", "", "also write the chart as PNG to this file")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to wait for the first streaming quote")
	cmd.Flags().BoolVar(&color, "color", false, "colored table output")
	return cmd
}

// waitForQuote polls the quote panel until the subscription opens or wait
// elapses.
func waitForQuote(ctx context.Context, d *services.Dispatcher, wait time.Duration) models.QuoteTable {
	deadline := time.Now().Add(wait)
	for {
		q := d.Quotes()
		if q.State != services.StatePending.String() || time.Now().After(deadline) {
			return q
		}
		select {
		case <-ctx.Done():
			return d.Quotes()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
