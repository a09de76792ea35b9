// Package banner prints the startup banner and effective settings.
package banner

import (
	"fmt"

	"github.com/NiceMatters/lwan/pkg/config"
)

const banner = `
██╗     ██╗    ██╗ █████╗ ███╗   ██╗
██║     ██║    ██║██╔══██╗████╗  ██║
██║     ██║ █╗ ██║███████║██╔██╗ ██║
██║     ██║███╗██║██╔══██║██║╚██╗██║
███████╗╚███╔███╔╝██║  ██║██║ ╚████║
╚══════╝ ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═══╝
`

// Print shows the effective configuration at startup. source names where
// the configuration came from (flags, env or config file).
func Print(cfg *config.Config, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:     %s\n", cfg.Addr())
	fmt.Printf("Admin:      %s\n", cfg.AdminAddr())
	fmt.Printf("Buffer:     %d bytes per connection\n", cfg.ReadBufferSize())
	fmt.Printf("Keep-alive: %s\n", cfg.KeepAlive())
	if cfg.Server.ProxyProtocol {
		fmt.Println("PROXY protocol: enabled")
	}
	if cfg.AccessLog.Enabled {
		fmt.Printf("Access log: %s\n", cfg.AccessLog.DBPath)
		if cfg.Retention.Enabled {
			fmt.Printf("Retention:  %s (keep %s)\n", cfg.Retention.Cron, cfg.RetentionPeriod())
		}
	}
	if version != "" {
		fmt.Printf("Version:    %s\n", version)
	}
	fmt.Printf("Config:     %s\n", source)

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl 'http://%s/'\n", cfg.Addr())
	fmt.Printf("curl 'http://%s/metrics'\n", cfg.AdminAddr())
	fmt.Println("\n== Production? =================================================")
	if cfg.Security.RateLimit.RPS <= 0 {
		fmt.Println("Set security.rate_limit to bound per-client accept rates")
	}
	if !cfg.AccessLog.Enabled {
		fmt.Println("Enable access_log to keep per-request records")
	}
}
