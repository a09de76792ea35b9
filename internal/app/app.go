// Package app wires the configuration, the request engine, the core
// listener and the admin HTTP server into one lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/NiceMatters/lwan/internal/retention"
	"github.com/NiceMatters/lwan/pkg/accesslog"
	"github.com/NiceMatters/lwan/pkg/auth"
	"github.com/NiceMatters/lwan/pkg/banner"
	"github.com/NiceMatters/lwan/pkg/config"
	"github.com/NiceMatters/lwan/pkg/logger"
	"github.com/NiceMatters/lwan/pkg/request"
	"github.com/NiceMatters/lwan/pkg/response"
	"github.com/NiceMatters/lwan/pkg/router"
	"github.com/NiceMatters/lwan/pkg/server"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg    *config.Config
	source string

	version   string
	commit    string
	buildDate string

	core  *server.Server
	admin *http.Server
}

// New initializes resources that do not require a running context (the
// route table, the access log store). It does not start the listeners;
// call Run to start those and block until shutdown.
func New(cfg *config.Config, routes []*request.Route, source, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	rt := router.New()
	for _, r := range routes {
		if err := rt.Add(r); err != nil {
			return nil, err
		}
	}
	engine := &request.Engine{
		Routes: rt,
		Resp:   response.New(),
		Auth:   auth.NewBasic(),
	}

	if cfg.AccessLog.Enabled {
		path := cfg.AccessLog.DBPath
		if path == "" {
			path = "./lwan-accesslog"
		}
		if err := accesslog.Open(path); err != nil {
			return nil, fmt.Errorf("failed to open access log at %s: %w", path, err)
		}
	}

	var limiter *auth.LimiterPool
	if cfg.Security.RateLimit.RPS > 0 {
		limiter = auth.NewLimiterPool(auth.RateConfig{
			RPS:   cfg.Security.RateLimit.RPS,
			Burst: cfg.Security.RateLimit.Burst,
		})
	}

	core := server.New(server.Config{
		Addr:             cfg.Addr(),
		BufferSize:       cfg.ReadBufferSize(),
		KeepAliveTimeout: cfg.KeepAlive(),
		ProxyProtocol:    cfg.Server.ProxyProtocol,
	}, engine, limiter)

	return &App{
		cfg:       cfg,
		source:    source,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		core:      core,
	}, nil
}

// Run starts the retention scheduler, the admin HTTP server and the core
// listener, and blocks until ctx is canceled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	stopRetention, err := retention.Start(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer stopRetention()

	a.printBanner()

	adminErr := a.startAdmin(ctx)

	coreErr := make(chan error, 1)
	go func() {
		coreErr <- a.core.ListenAndServe(ctx)
	}()

	defer func() {
		if err := accesslog.Close(); err != nil {
			logger.Warn("access log close failed", "err", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.shutdownAdmin()
		return nil
	case err := <-coreErr:
		a.shutdownAdmin()
		return err
	case err := <-adminErr:
		return err
	}
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.cfg, a.source, verStr)
}
