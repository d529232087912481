// Command holotrack accepts a headset peer, tracks the configured objects
// in its camera frames and streams delta poses back every cycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/holotrack/internal/config"
	"github.com/banshee-data/holotrack/internal/input"
	"github.com/banshee-data/holotrack/internal/monitor"
	"github.com/banshee-data/holotrack/internal/posedb"
	"github.com/banshee-data/holotrack/internal/render"
	"github.com/banshee-data/holotrack/internal/transport"
	"github.com/banshee-data/holotrack/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON or YAML session config (defaults apply when empty)")
	envFile     = flag.String("env", ".env", "Optional .env file with HOLOTRACK_* overrides")
	listen      = flag.String("listen", "", "Peer listen address (overrides listen_addr)")
	debugListen = flag.String("debug-listen", "", "Debug HTTP listen address (overrides debug_listen)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides grpc_listen)")
	dbPath      = flag.String("db", "", "SQLite pose log path (overrides db_path)")
	redisAddr   = flag.String("redis", "", "Redis address for the pose feed (overrides redis_addr)")
	keysMode    = flag.String("keys", "terminal", "Operator key source: terminal, serial or none")
	sessions    = flag.Int("sessions", 1, "Number of peer sessions to serve before exiting (0 = forever)")
	keepGoing   = flag.Bool("keep-going", false, "Keep accepting peers after a session fails")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() (*config.SessionConfig, error) {
	cfg := config.DefaultSessionConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadSessionConfig(*configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyDotEnv(*envFile); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)

	override := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	override(&cfg.ListenAddr, *listen)
	override(&cfg.DebugListen, *debugListen)
	override(&cfg.GRPCListen, *grpcListen)
	override(&cfg.DBPath, *dbPath)
	override(&cfg.RedisAddr, *redisAddr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openKeys(mode string, cfg *config.SessionConfig) (input.KeySource, error) {
	switch mode {
	case "none", "":
		return input.NoKeys{}, nil
	case "terminal":
		return input.OpenTerminalKeys(os.Stdin)
	case "serial":
		if cfg.GetKeyDevice() == "" {
			return nil, fmt.Errorf("serial keys need key_device in the config")
		}
		return input.OpenSerialKeys(cfg.GetKeyDevice(), input.PortOptions{BaudRate: cfg.GetKeyBaud()})
	default:
		return nil, fmt.Errorf("unknown key source %q", mode)
	}
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	keys, err := openKeys(*keysMode, cfg)
	if err != nil {
		log.Fatalf("failed to open key source: %v", err)
	}
	defer keys.Close()

	var display render.Display = &render.NullDisplay{}
	if dir := cfg.GetSnapshotDir(); dir != "" {
		snap, err := render.NewSnapshotDisplay(dir, cfg.GetSnapshotEvery())
		if err != nil {
			log.Fatalf("failed to create snapshot display: %v", err)
		}
		display = snap
	}

	d := &daemon{
		cfg:       cfg,
		keys:      keys,
		display:   display,
		history:   monitor.NewHistory(2048),
		hub:       monitor.NewHub(),
		redisAddr: cfg.GetRedisAddr(),
	}

	if path := cfg.GetDBPath(); path != "" {
		db, err := posedb.Open(path)
		if err != nil {
			log.Fatalf("failed to open pose log: %v", err)
		}
		defer db.Close()
		d.db = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := cfg.GetDebugListen(); addr != "" {
		reg := prometheus.NewRegistry()
		d.metrics = monitor.NewMetrics(reg)
		srv := monitor.NewServer(monitor.Options{
			Gatherer: reg,
			Hub:      d.hub,
			History:  d.history,
			Status:   d.Status,
		})
		if d.db != nil {
			if err := d.db.AttachAdminRoutes(srv.DebugMux()); err != nil {
				log.Printf("failed to attach pose log admin routes: %v", err)
			}
		}
		if err := srv.Start(addr); err != nil {
			log.Fatalf("failed to start debug server: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown error: %v", err)
			}
		}()
	}

	if addr := cfg.GetGRPCListen(); addr != "" {
		d.health = monitor.NewHealthService()
		if err := d.health.Start(addr); err != nil {
			log.Fatalf("failed to start gRPC health: %v", err)
		}
		defer d.health.Stop()
	}

	lis, err := transport.Listen(cfg.GetListenAddr(), d.transportOptions())
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer lis.Close()
	log.Printf("holotrack %s listening for peers on %s (%dx%d, read every %d cycles)",
		version.Version, lis.Addr(), cfg.GetFrameWidth(), cfg.GetFrameHeight(), cfg.GetReadEvery())

	if err := d.serve(ctx, lis, *sessions, *keepGoing); err != nil {
		// deferred cleanup does not run after log.Fatalf
		keys.Close()
		log.Fatalf("tracking failed: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
