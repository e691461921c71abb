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

	"github.com/pliu/cipherchat/internal/auth"
	"github.com/pliu/cipherchat/internal/config"
	"github.com/pliu/cipherchat/internal/conversation"
	"github.com/pliu/cipherchat/internal/crypto"
	"github.com/pliu/cipherchat/internal/directory"
	"github.com/pliu/cipherchat/internal/fingerprint"
	"github.com/pliu/cipherchat/internal/handlers"
	"github.com/pliu/cipherchat/internal/logging"
	"github.com/pliu/cipherchat/internal/metrics"
	"github.com/pliu/cipherchat/internal/store"
	"github.com/pliu/cipherchat/internal/store/backend"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "chatty",
		Short:         "End-to-end encrypted messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	root.AddCommand(serveCmd(), seedCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	metrics *metrics.Metrics
	dir     *directory.Directory
	conv    *conversation.Service
}

func setup() (*app, error) {
	v, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	s, err := backend.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	logger.Info("store opened", "driver", cfg.Store.Driver, "schema_version", store.SchemaVersion)

	m := metrics.New()
	hasher := crypto.NewHasher(cfg.Crypto.PBKDF2Iterations)
	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   s,
		metrics: m,
		dir:     directory.New(s, hasher, directory.WithLogger(logger), directory.WithMetrics(m)),
		conv:    conversation.New(s, s, conversation.WithLogger(logger), conversation.WithMetrics(m)),
	}, nil
}

func serveCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if seed {
				if err := a.seed(ctx); err != nil {
					return err
				}
			}
			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "create the demo identities before serving")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	var fp string
	if a.cfg.Server.CertFile != "" {
		var err error
		if fp, err = fingerprint.FromFile(a.cfg.Server.CertFile); err != nil {
			return err
		}
		a.logger.Info("server certificate loaded", "fingerprint", fp)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Directory:     a.dir,
		Conversations: a.conv,
		Signer:        auth.NewSigner(a.cfg.Auth.CookieSecret),
		Metrics:       a.metrics,
		Fingerprint:   fp,
		Logger:        a.logger,
	})
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "addr", srv.Addr, "tls", a.cfg.Server.KeyFile != "")
		if a.cfg.Server.KeyFile != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.CertFile, a.cfg.Server.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *app) seed(ctx context.Context) error {
	created, err := a.dir.Seed(ctx, a.cfg.Seed.Password)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	for _, u := range created {
		a.logger.Info("seeded identity", "external_id", u.ExternalID, "email", u.Email)
	}
	a.logger.Info("seed complete", "created", len(created), "total", len(directory.DemoIdentities))
	return nil
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.store.Close()
			return a.seed(cmd.Context())
		},
	}
}

// migrateCmd opens the store, which creates or upgrades its schema, and
// exits.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			return a.store.Close()
		},
	}
}
