// Command rulerd runs a programmable authoritative DNS name server built
// from a registered rulerd.NameServer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydraforge/rulerd/internal/config"
	"github.com/hydraforge/rulerd/internal/logging"
	"github.com/hydraforge/rulerd/internal/rulerd"
	"github.com/hydraforge/rulerd/internal/transport"
	"github.com/hydraforge/rulerd/internal/transport/tcp"
	"github.com/hydraforge/rulerd/internal/transport/udp"

	_ "github.com/hydraforge/rulerd/internal/rulerd/examples"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	server     string
	host       string
	port       int
	udp        bool
	udp6       bool
	tcp        bool
}

// parseFlags parses command-line flags and returns the values. Per
// config.go's documented priority order, command-line flags always win
// over a config file's server.address/server.port.
func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.server, "server", "", "Registered server name to run (see rulerd.Register)")
	flag.StringVar(&f.host, "host", "localhost", "Bind host")
	flag.IntVar(&f.port, "port", 5300, "Bind port")
	flag.BoolVar(&f.udp, "udp", false, "Use UDPv4 transport (default)")
	flag.BoolVar(&f.udp6, "udp6", false, "Use UDPv6 transport")
	flag.BoolVar(&f.tcp, "tcp", false, "Use TCPv4 transport")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the loaded config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) error {
	cfg.Server.Address = f.host
	cfg.Server.Port = f.port

	selected := 0
	if f.udp {
		selected++
	}
	if f.udp6 {
		selected++
	}
	if f.tcp {
		selected++
	}
	if selected > 1 {
		return fmt.Errorf("--udp, --udp6, and --tcp are mutually exclusive")
	}
	switch {
	case f.udp6:
		cfg.Server.Transport = config.TransportUDPv6
	case f.tcp:
		cfg.Server.Transport = config.TransportTCPv4
	case f.udp:
		cfg.Server.Transport = config.TransportUDPv4
	}
	return nil
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := applyCLIOverrides(cfg, flags); err != nil {
		return err
	}

	logger := logging.Configure(logging.Config{
		LoggerName: "rulerd",
		Console:    logging.OutputConfig{Level: cfg.Logging.ConsoleLevel},
		File: logging.FileOutputConfig{
			Enabled: cfg.Logging.FileEnabled,
			Path:    cfg.Logging.FilePath,
			Level:   cfg.Logging.FileLevel,
		},
	})

	if flags.server == "" {
		return fmt.Errorf("--server is required (no MODULE:ATTR import path in Go; pass a name registered with rulerd.Register)")
	}
	build, err := rulerd.Lookup(flags.server)
	if err != nil {
		return err
	}
	srv, err := build()
	if err != nil {
		return fmt.Errorf("building server %q: %w", flags.server, err)
	}

	tr, err := newTransport(cfg)
	if err != nil {
		return err
	}

	logger.Info("rulerd starting",
		"server", flags.server,
		"transport", cfg.Server.Transport,
		"address", cfg.Server.Address,
		"port", cfg.Server.Port,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = rulerd.Serve(ctx, tr, srv, rulerd.ServeOptions{
		MaxErrors: cfg.Server.MaxErrors,
		Logger:    logger,
	})
	closeErr := tr.Close()
	if err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	if closeErr != nil {
		logger.Warn("error closing transport", "err", closeErr)
	}
	logger.Info("rulerd stopped")
	return nil
}

// newTransport builds the transport selected by cfg.Server.Transport.
func newTransport(cfg *config.Config) (transport.Transport, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)

	switch cfg.Server.Transport {
	case config.TransportUDPv4:
		return udp.New(udp.NetworkV4, addr), nil
	case config.TransportUDPv6:
		return udp.New(udp.NetworkV6, addr), nil
	case config.TransportTCPv4:
		return tcp.New(tcp.Config{
			Address:         addr,
			Keepalive:       secondsToDuration(cfg.TCP.IdleTimeoutSecs),
			CacheCap:        cfg.TCP.MaxConnections,
			VacuumTarget:    cfg.TCP.VacuumTarget,
			ReadTimeout:     secondsToDuration(cfg.TCP.ReadTimeoutSecs),
			SelectTimeout:   secondsToDuration(cfg.TCP.SelectTimeoutSecs),
			CleanupInterval: secondsToDuration(cfg.TCP.CleanupSecs),
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Server.Transport)
	}
}

// secondsToDuration converts the config surface's float-seconds knobs into
// a time.Duration for the TCP transport; zero falls back to the TCP
// transport's own default via tcp.Config.withDefaults.
func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
