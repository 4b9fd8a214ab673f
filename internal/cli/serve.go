package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdm-project/pdm/internal/repo"
	"github.com/pdm-project/pdm/internal/server"
	"github.com/pdm-project/pdm/internal/vault"
	"github.com/pdm-project/pdm/pkg/config"
	"github.com/pdm-project/pdm/pkg/logging"
	"github.com/pdm-project/pdm/pkg/metrics"
	"github.com/pdm-project/pdm/pkg/webhook"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the vault over HTTP for collaborating users",
	Long: `Serve the vault over HTTP. The server issues JWTs to users configured
in .pdm/config.yaml, broadcasts every vault event on /ws, and exposes
Prometheus metrics on /metrics. It shuts down gracefully on SIGINT or
SIGTERM.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmtErr("cannot get current directory: %v", err)
			os.Exit(1)
		}
		info, err := repo.Discover(cwd)
		if err != nil {
			fmtErr("not a PDM vault: %v", err)
			os.Exit(1)
		}
		cfg, err := config.Load(info.Root)
		if err != nil {
			fmtErr("load config: %v", err)
			os.Exit(1)
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		if cfg.Server.JWTSecret == "" {
			fmtErr("server.jwt_secret must be set in .pdm/config.yaml")
			os.Exit(1)
		}
		logging.SetLevelFromString(cfg.Logging.Level)

		hub := server.NewHub()
		hooks := webhook.NewClient(&cfg.Webhooks)
		defer hooks.Close()
		reg := metrics.NewRegistry()
		v, err := vault.Open(info.Root, vault.Options{
			Notifier:       vault.MultiNotifier(hub, hooks),
			Metrics:        reg,
			MaxUploadBytes: cfg.Limits.MaxUploadBytes,
		})
		if err != nil {
			fmtErr("open vault: %v", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.New(cfg, v, hub, reg).Run(ctx); err != nil {
			fmtErr("server: %v", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
