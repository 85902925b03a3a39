package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UniQw/rqmon/internal/api"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Serve the JSON API (default)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if a.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	h := api.New(a.client, a.ctl, a.instances,
		api.WithLogger(a.log),
		api.WithMutationLimit(a.cfg.MutationRate, a.cfg.MutationBurst),
		api.WithDebug(a.cfg.Debug),
		api.WithRefreshInterval(a.cfg.RefreshInterval()),
	)
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           h.Handler(a.cfg.URLPrefix),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Infof("serve: listening addr=%s prefix=%q instances=%d", srv.Addr, a.cfg.URLPrefix, a.instances.Len())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Infof("serve: shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	return srv.Shutdown(sctx)
}
