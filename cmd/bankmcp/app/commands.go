// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package app defines the bankmcp CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/adhdbudget/banking-mcp/pkg/authserver"
	"github.com/adhdbudget/banking-mcp/pkg/authserver/statemap"
	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/config"
	"github.com/adhdbudget/banking-mcp/pkg/enablebanking"
	"github.com/adhdbudget/banking-mcp/pkg/httpfront"
	"github.com/adhdbudget/banking-mcp/pkg/logger"
	"github.com/adhdbudget/banking-mcp/pkg/mcpserver"
	"github.com/adhdbudget/banking-mcp/pkg/session"
	"github.com/adhdbudget/banking-mcp/pkg/tools"
)

// Version is stamped at build time via ldflags.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// NewRootCmd builds the bankmcp command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bankmcp",
		Short: "Banking MCP gateway with an embedded OAuth authorization server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bankmcp version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bank, err := buildBankClient(cfg)
	if err != nil {
		return err
	}

	store := storage.NewMemoryStore()
	defer store.Close()

	pending, err := buildStateMapper(ctx, cfg)
	if err != nil {
		return err
	}
	defer pending.Close()

	sessions := session.NewManager()
	defer sessions.Stop()

	var upstream authserver.UpstreamConsent
	var bankReader tools.BankReader
	if bank != nil {
		upstream = bank
		bankReader = bank
	}

	auth := authserver.NewServer(authserver.Config{
		Production:         cfg.Production(),
		IssuerOverride:     cfg.OAuthIssuer,
		ASPSPName:          cfg.ASPSPName,
		ASPSPCountry:       cfg.ASPSPCountry,
		ConsentCallbackURL: cfg.OAuthRedirectURL,
	}, store, pending, upstream)

	runtime := tools.NewRuntime(store, bankReader, !cfg.Production())
	mcp := mcpserver.NewHandler(sessions, runtime, auth.Issuer)

	r := chi.NewRouter()
	r.Use(httpfront.OriginMiddleware)
	r.Get("/health", httpfront.HealthHandler)
	auth.RegisterRoutes(r)
	mcp.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infow("starting MCP gateway",
			"addr", cfg.Addr(),
			"environment", cfg.EnableEnv,
			"upstream_configured", bank != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down MCP gateway")
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// buildBankClient constructs the upstream client. Missing signing material
// is fatal in production and a logged degradation otherwise.
func buildBankClient(cfg *config.Config) (*enablebanking.Client, error) {
	var opts []enablebanking.Option
	if !cfg.Production() {
		opts = append(opts, enablebanking.WithBaseURL(enablebanking.SandboxBaseURL))
	}

	bank, err := enablebanking.New(cfg.EnableAppID, cfg.EnablePrivateKeyPath, opts...)
	if err != nil {
		if enablebanking.IsConfigError(err) && !cfg.Production() {
			logger.Warnw("Enable Banking credentials not configured, running without upstream", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to build Enable Banking client: %w", err)
	}
	return bank, nil
}

func buildStateMapper(ctx context.Context, cfg *config.Config) (statemap.Mapper, error) {
	if cfg.StateRedisURL == "" {
		return statemap.NewMemoryMapper(), nil
	}
	mapper, err := statemap.NewRedisMapper(ctx, cfg.StateRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect pending-state Redis: %w", err)
	}
	logger.Info("using Redis for pending consent state")
	return mapper, nil
}
