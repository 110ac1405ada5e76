package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCommand はorganizerのルートコマンドを返す。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newServeCommand(w)

	cmd := &cobra.Command{
		Use:           "organizer",
		Short:         "Event organizer dashboard server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	cmd.SetOut(w)
	cmd.SetErr(w)

	cmd.AddCommand(serve)
	cmd.AddCommand(newWorkerCommand(w))
	cmd.AddCommand(newMigrateCommand(w))
	cmd.AddCommand(newHealthcheckCommand())

	return cmd
}

// signalContext はSIGINT/SIGTERMでキャンセルされるコンテキストを返す。
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background cleanup jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return runWorker(ctx, cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to expose worker metrics on (disabled when empty)")
	return cmd
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	for _, sub := range []struct {
		direction string
		short     string
	}{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"version", "Print the current migration version"},
	} {
		direction := sub.direction
		cmd.AddCommand(&cobra.Command{
			Use:   direction,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := Init(w)
				if err != nil {
					return err
				}
				return runMigrate(cfg, direction)
			},
		})
	}

	// 引数なしのmigrateはupとして扱う
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := Init(w)
		if err != nil {
			return err
		}
		return runMigrate(cfg, "up")
	}
	cmd.Args = cobra.NoArgs
	return cmd
}

// newHealthcheckCommand は設定を読み込まずに/healthを叩くコマンドを返す。
// distroless環境でのDockerヘルスチェック用。
func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that the local API server is healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}
	cmd.Flags().StringVar(&port, "port", defaultPort(), "port of the local API server")
	return cmd
}

func defaultPort() string {
	if p := os.Getenv("SERVER_PORT"); p != "" {
		return p
	}
	return "8080"
}
