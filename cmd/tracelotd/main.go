// Command tracelotd runs the lot coordinator as a service: an HTTP API over
// the aggregate snapshot and the workflow/escrow intents, or an MCP stdio
// server exposing the same operations as tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	tracelot "github.com/tracelot/tracelot"
	tracelothttp "github.com/tracelot/tracelot/http"
	"github.com/tracelot/tracelot/ledger/evm"
	tracelotmcp "github.com/tracelot/tracelot/mcp"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tracelotd",
		Short:         "Supply-chain lot and escrow coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMCPCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the coordinator as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, opts.verbose)

	coordinator, err := buildCoordinator(ctx, cfg, log)
	if err != nil {
		return err
	}

	snap := coordinator.RefreshAll(ctx)
	log.Info("initial snapshot built", "lots", len(snap.Lots), "payments", len(snap.Payments), "failures", len(snap.Failures))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	tracelothttp.RegisterGin(router, tracelothttp.NewService(coordinator, tracelothttp.WithLogger(log)))

	srv := &http.Server{Addr: cfg.Listen, Handler: router}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runMCP(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg, opts.verbose)

	coordinator, err := buildCoordinator(ctx, cfg, log)
	if err != nil {
		return err
	}

	snap := coordinator.RefreshAll(ctx)
	log.Info("initial snapshot built", "lots", len(snap.Lots), "payments", len(snap.Payments))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return tracelotmcp.Run(ctx, coordinator)
}

// buildCoordinator dials the node, registers both contract ABIs and wires
// the clients, guard and coordinator. The registry binding is verified up
// front so a misconfigured pair fails fast instead of at the first deposit.
func buildCoordinator(ctx context.Context, cfg Config, log *slog.Logger) (*tracelot.Coordinator, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	signer, err := evm.NewPrivateKeySigner(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	log.Info("signing account loaded", "address", signer.Address())

	ledger := evm.NewLedger(client, signer, big.NewInt(cfg.ChainID), evm.WithLogger(log))
	if err := ledger.RegisterContract(cfg.RegistryAddress, evm.RegistryABI); err != nil {
		return nil, err
	}
	if err := ledger.RegisterContract(cfg.EscrowAddress, evm.EscrowABI); err != nil {
		return nil, err
	}

	registry := tracelot.NewRegistryClient(ledger, signer, cfg.RegistryAddress, cfg.ConfirmWait, log)
	escrow := tracelot.NewEscrowClient(ledger, signer, cfg.EscrowAddress, cfg.ConfirmWait, log)
	guard := tracelot.NewBindingGuard(escrow, cfg.RegistryAddress, tracelot.DefaultBindingTTL)

	if err := guard.Verify(ctx); err != nil {
		return nil, fmt.Errorf("registry binding check: %w", err)
	}

	coordinator := tracelot.NewCoordinator(registry, escrow, guard, signer, tracelot.Options{
		LotWindow:     cfg.LotWindow,
		PaymentWindow: cfg.PaymentWindow,
	}, log)
	return coordinator, nil
}

func newLogger(cfg Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}
	log := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}
