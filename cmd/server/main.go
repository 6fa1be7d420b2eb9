package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gaia-mud/gaia/pkg/boltstore"
	"github.com/gaia-mud/gaia/pkg/server"
)

// Exit codes: 0 clean shutdown, 1 fatal startup error, 2 store error,
// 3 listener bind failure.
const (
	exitOK    = 0
	exitFatal = 1
	exitStore = 2
	exitBind  = 3
)

// envDefault returns the environment variable value if set, otherwise
// the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("GAIA_CONF", ""), "Path to YAML config file (env: GAIA_CONF)")
	port := flag.Int("port", 0, "Telnet port, overrides config (env: GAIA_PORT)")
	webPort := flag.Int("webport", 0, "Web/WebSocket port, overrides config (env: GAIA_WEBPORT)")
	worldPath := flag.String("world", envDefault("GAIA_WORLD", ""), "Path to world database (env: GAIA_WORLD)")
	accountsPath := flag.String("accounts", envDefault("GAIA_ACCOUNTS", ""), "Path to accounts database (env: GAIA_ACCOUNTS)")
	worldDir := flag.String("worlddir", envDefault("GAIA_WORLDDIR", ""), "World definition file tree loaded at startup (env: GAIA_WORLDDIR)")
	textDir := flag.String("textdir", envDefault("GAIA_TEXTDIR", ""), "Text files directory (env: GAIA_TEXTDIR)")
	flag.Parse()

	os.Exit(run(*confFile, *port, *webPort, *worldPath, *accountsPath, *worldDir, *textDir))
}

// run is main minus os.Exit so deferred cleanup actually runs.
func run(confFile string, port, webPort int, worldPath, accountsPath, worldDir, textDir string) int {
	cfg := server.DefaultConfig()
	if confFile != "" {
		var err error
		if cfg, err = server.LoadConfig(confFile); err != nil {
			log.Printf("FATAL: %v", err)
			return exitFatal
		}
	}
	if port == 0 {
		if p, err := strconv.Atoi(os.Getenv("GAIA_PORT")); err == nil {
			port = p
		}
	}
	if webPort == 0 {
		if p, err := strconv.Atoi(os.Getenv("GAIA_WEBPORT")); err == nil {
			webPort = p
		}
	}
	if port != 0 {
		cfg.TelnetPort = port
	}
	if webPort != 0 {
		cfg.WebPort = webPort
	}
	if worldPath != "" {
		cfg.WorldPath = worldPath
	}
	if accountsPath != "" {
		cfg.AccountsPath = accountsPath
	}
	if worldDir != "" {
		cfg.WorldDir = worldDir
	}
	if textDir != "" {
		cfg.TextDir = textDir
	}
	if v := os.Getenv("GAIA_ADMIN_LOGIN"); v != "" {
		cfg.AdminLogin = v
	}
	if v := os.Getenv("GAIA_ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}

	log.Printf("Starting %s (telnet :%d, web :%d)", cfg.WorldName, cfg.TelnetPort, cfg.WebPort)

	worldStore, err := boltstore.Open(cfg.WorldPath)
	if err != nil {
		log.Printf("FATAL: world store: %v", err)
		return exitStore
	}
	defer worldStore.Close()

	acctStore := worldStore
	if cfg.AccountsPath != "" && cfg.AccountsPath != cfg.WorldPath {
		if acctStore, err = boltstore.Open(cfg.AccountsPath); err != nil {
			log.Printf("FATAL: accounts store: %v", err)
			return exitStore
		}
		defer acctStore.Close()
	}

	g := server.NewGame(cfg, worldStore, acctStore)
	g.Texts = server.LoadTextFiles(cfg.TextDir)
	if cfg.Metrics {
		g.Metrics = server.NewMetrics(g)
	}
	if cfg.AuditPath != "" {
		audit, err := server.OpenAuditLog(cfg.AuditPath)
		if err != nil {
			log.Printf("FATAL: audit log: %v", err)
			return exitStore
		}
		defer audit.Close()
		g.Audit = audit
	}

	if err := g.Bootstrap(); err != nil {
		log.Printf("FATAL: %v", err)
		return exitStore
	}
	if _, err := g.WarmCache(); err != nil {
		log.Printf("FATAL: %v", err)
		return exitStore
	}
	if cfg.WorldDir != "" {
		if _, err := g.LoadWorldDir(cfg.WorldDir); err != nil {
			log.Printf("FATAL: %v", err)
			return exitFatal
		}
		g.ApplyConfigObject()
	}

	go g.Cache.Run()
	defer func() {
		g.Cache.Stop()
		if err := g.Cache.Flush(); err != nil {
			log.Printf("final flush: %v", err)
		}
	}()

	ticker := server.NewTicker(g, cfg.TickInterval)
	go ticker.Start()
	defer ticker.Stop()

	g.WatchTextFiles()

	srv := server.NewServer(g)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err == nil {
			return exitOK
		}
		log.Printf("FATAL: %v", err)
		if errors.Is(err, server.ErrBind) {
			return exitBind
		}
		return exitFatal
	case s := <-sig:
		log.Printf("Received %v, shutting down", s)
	case reason := <-g.ShutdownRequested():
		log.Printf("Shutdown requested: %s", reason)
	}

	srv.Stop()
	return exitOK
}
