package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/desertthunder/likesync/internal/server"
	"github.com/desertthunder/likesync/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP triggering API and, unless disabled, the periodic scheduler until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.openEngine(); err != nil {
		return err
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := server.NewBasicRouter()
	router.Use(server.Recoverer(r.logger), server.RequestLogger(r.logger))
	server.NewAPI(r.engine, r.updates, r.migrator, r.tokens, r.meta, r.logger).Register(router)
	httpServer := r.newAPIServer(addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.logger.Info("serving API", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if !cmd.Bool("no-scheduler") {
		scheduler := tasks.NewScheduler(r.engine, r.tokenDB, r.config.Sync.Interval(), r.config.Sync.Workers, r.logger)
		g.Go(func() error {
			return scheduler.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.Info("server stopped")
	return nil
}

func (r *Runner) newAPIServer(addr string, handler http.Handler) *http.Server {
	srv := server.NewHTTPServer(addr, handler)
	srv.ErrorLog = r.logger.StandardLog()
	return srv
}
