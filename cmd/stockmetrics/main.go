package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stockmetrics/config"
	"stockmetrics/internal/app"
	"stockmetrics/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "stockmetrics",
	Short: "Resumable batch job computing SMA/RSI indicators into a sheet",
	Long: `stockmetrics reads a symbol list, fetches daily closes, computes the
20/50/200-day SMA and 14-day RSI with buy/sell signals, and writes one row
per symbol into the sink sheet. Long lists are processed over several
time-boxed invocations that resume where the last one stopped.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd, serveCmd, analyzeCmd, symbolsCmd, statusCmd, recalcWorkerCmd)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newService loads configuration and builds the service for one command.
func newService(ctx context.Context) (*app.Service, error) {
	cfg := config.Load()
	lg := logger.Init("stockmetrics", logger.ParseLevel(cfg.LogLevel))
	lg.Info("config loaded",
		slog.String("source", cfg.SymbolSource),
		slog.String("sink", cfg.SinkSheet),
		slog.String("provider", cfg.Provider),
		slog.Int("max_per_run", cfg.MaxSymbolsPerRun),
		slog.Bool("refresh", cfg.RefreshMode),
		slog.Bool("auto_continue", cfg.AutoContinue),
	)
	return app.New(ctx, cfg, lg)
}
