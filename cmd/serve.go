package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kanveo/kanveo-cli/internal/api"
	"github.com/kanveo/kanveo-cli/internal/fetcher"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 15 * time.Second
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the import API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := initRegistry()
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		handler := api.NewServer(api.Options{
			Store:    st,
			Registry: reg,
			Parser:   fetcher.SheetParser{MaxBytes: cfg.Import.MaxFileBytes()},
			Sessions: api.NewSessionManager(time.Duration(cfg.Server.SessionTTLMinutes) * time.Minute),
			Import:   cfg.Import,
			Server:   cfg.Server,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv, handler.Sessions())
	},
}

// runServer serves until ctx is cancelled, sweeping idle import sessions
// alongside, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, sessions *api.SessionManager) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessions.Run(gctx, sweepInterval)
	})

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
