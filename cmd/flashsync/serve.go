package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/flashsync/internal/importer"
	"github.com/conorfennell/flashsync/internal/storage"
	"github.com/conorfennell/flashsync/internal/study"
	"github.com/conorfennell/flashsync/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the study API and accept phone pairings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backend, h, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		deps := web.Deps{
			Handle:         h,
			Study:          study.NewSession(h, logger),
			Sink:           backend,
			BaseURL:        cfg.BaseURL(),
			Signal:         cfg.SignalOptions(logger),
			QRSize:         cfg.QR.Size,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			Logger:         logger,
		}
		if db, ok := backend.(*storage.DB); ok {
			deps.Registry = db
			deps.Importer = importer.New(h, db, cfg.ReposDir, logger)
		}
		srv := web.NewServer(deps)
		defer srv.Close()

		httpServer := &http.Server{
			Addr:              cfg.Listen,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("listening", "addr", cfg.Listen, "url", cfg.BaseURL())
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("shutting down")
			return httpServer.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on")
	serveCmd.Flags().String("public-url", "", "URL peers use to reach this server")
}
