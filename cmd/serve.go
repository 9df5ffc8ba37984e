package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rehaani/mediconnect/internal/config"
	"github.com/rehaani/mediconnect/internal/rtdb"
	"github.com/rehaani/mediconnect/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling store",
	Long: `Run the realtime document store that consultation clients use to exchange
offers, answers and ICE candidates. Clients connect to /ws; /health reports
liveness.

Examples:
  mediconnect serve
  mediconnect serve --listen :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := configOptions()
		opts.Listen = flagListen
		cfg, err := LoadConfig(opts)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	hub := rtdb.NewHub(nil)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           rtdb.NewServeMux(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		ui.PrintSuccessf("Signaling store listening on %s", cfg.Listen)
		slog.Info("signaling store starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("signaling store shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
}
