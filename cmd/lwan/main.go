package main

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/NiceMatters/lwan/internal/app"
	"github.com/NiceMatters/lwan/pkg/config"
	"github.com/NiceMatters/lwan/pkg/logger"
	"github.com/NiceMatters/lwan/pkg/request"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)

	_ = godotenv.Load(".env")
	addrVal, adminVal, cfgVal, setFlags := config.ParseCommandFlags()

	// Resolve config path (file flag wins over env)
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Flags win over config/env when provided by the user.
	if setFlags["addr"] {
		applyAddr(&cfg.Server.Address, &cfg.Server.Port, addrVal)
	}
	if setFlags["admin-addr"] {
		applyAddr(&cfg.Admin.Address, &cfg.Admin.Port, adminVal)
	}

	source := "config"
	switch {
	case setFlags["addr"] || setFlags["admin-addr"]:
		source = "flags"
	case envUsed:
		source = "env"
	}

	logger.InitWithLevel(cfg.Logging.Level)

	a, err := app.New(cfg, defaultRoutes(), source, version, commit, buildDate)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("shutdown complete")
}

// applyAddr splits a host:port flag value into the config fields. A bare
// host keeps the configured port.
func applyAddr(host *string, port *int, v string) {
	i := strings.LastIndexByte(v, ':')
	if i < 0 {
		*host = v
		return
	}
	p := 0
	for _, c := range v[i+1:] {
		if c < '0' || c > '9' {
			*host = v
			return
		}
		p = p*10 + int(c-'0')
	}
	*host = strings.Trim(v[:i], "[]")
	*port = p
}

// defaultRoutes is the stock route table.
func defaultRoutes() []*request.Route {
	return []*request.Route{
		{
			Prefix: "/",
			Flags:  request.ParseQueryString | request.ParseAcceptEncoding | request.ParseCookies,
			Handler: func(req *request.Request) request.Status {
				req.Response.MimeType = "text/plain"
				req.Response.Buffer.WriteString("Hello, world!\n")
				if name, ok := req.QueryParam("name"); ok {
					req.Response.Buffer.WriteString("Hello, " + string(name) + "!\n")
				}
				return request.StatusOK
			},
		},
	}
}
