package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"github.com/sqlwarden/sqlwarden/internal/api"
	"github.com/sqlwarden/sqlwarden/internal/bayes"
	"github.com/sqlwarden/sqlwarden/internal/classify"
	"github.com/sqlwarden/sqlwarden/internal/config"
	"github.com/sqlwarden/sqlwarden/internal/health"
	"github.com/sqlwarden/sqlwarden/internal/login"
	"github.com/sqlwarden/sqlwarden/internal/metrics"
	"github.com/sqlwarden/sqlwarden/internal/proxy"
	"github.com/sqlwarden/sqlwarden/internal/sensitive"
	"github.com/sqlwarden/sqlwarden/internal/whitelist"
)

const version = "1.0.0"

func main() {
	opts, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if opts.Version {
		fmt.Printf("sqlwarden %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Resolve(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	setupLogging(cfg.Verbosity)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("SQLWarden %s starting...", version)

	// Sensitive-name policy: fall back to the stock rules when neither a
	// regex nor a substring was configured.
	sensCfg := sensitive.Config{
		PasswordRegex:     cfg.PasswordRegex,
		PasswordSubstring: cfg.PasswordSubstring,
		UserRegex:         cfg.UserRegex,
		UserSubstring:     cfg.UserSubstring,
	}
	if sensCfg.PasswordRegex == "" && sensCfg.PasswordSubstring == "" {
		sensCfg.PasswordRegex = sensitive.Defaults().PasswordRegex
	}
	if sensCfg.UserRegex == "" && sensCfg.UserSubstring == "" {
		sensCfg.UserSubstring = sensitive.Defaults().UserSubstring
	}
	checker, err := sensitive.New(sensCfg)
	if err != nil {
		log.Fatalf("Invalid sensitive-name policy: %v", err)
	}

	evaluator, err := bayes.Load(cfg.NetworkDir)
	if err != nil {
		log.Fatalf("Failed to load Bayesian networks: %v", err)
	}

	m := metrics.New()
	evaluator.SetCacheHook(func(attack bayes.AttackType, hit bool) {
		m.CacheLookup(attack.String(), hit)
	})

	classifier := classify.New(evaluator, cfg.BlockThreshold, cfg.LogThreshold)

	whitelists, err := whitelist.New(cfg.ParseWhitelistFile, cfg.BlockWhitelistFile, checker)
	if err != nil {
		log.Fatalf("Failed to load whitelists: %v", err)
	}

	loginFilter := login.Load(login.Config{
		Host:     cfg.ConnectHost,
		Port:     cfg.ConnectPort,
		Socket:   cfg.ConnectSocket,
		Username: cfg.AdminUser,
		Password: cfg.AdminPassword,
	})

	listen := proxy.Endpoint{Port: cfg.ListenPort, Socket: cfg.ListenSocket}
	connect := proxy.Endpoint{Host: cfg.ConnectHost, Port: cfg.ConnectPort, Socket: cfg.ConnectSocket}

	hc := health.NewChecker(connect.Network(), connect.Addr(), m)
	hc.Start()

	analyzer := proxy.NewAnalyzer(classifier, whitelists, checker, m)
	proxyServer := proxy.NewServer(listen, connect, analyzer, loginFilter, hc, m)
	if err := proxyServer.Start(); err != nil {
		log.Fatalf("Failed to start proxy: %v", err)
	}

	var apiServer *api.Server
	if cfg.APIPort != 0 {
		apiServer = api.NewServer(m, hc, whitelists, evaluator, analyzer)
		if err := apiServer.Start(cfg.APIPort); err != nil {
			log.Fatalf("Failed to start admin API: %v", err)
		}
	}

	// Hot-reload the whitelists when their files change on disk.
	watcher, err := config.NewWatcher(func() {
		if err := whitelists.Reload(); err != nil {
			log.Printf("[whitelist] hot-reload failed: %v", err)
			return
		}
		log.Printf("[whitelist] whitelists reloaded")
	}, cfg.ParseWhitelistFile, cfg.BlockWhitelistFile)
	if err != nil {
		log.Printf("Warning: whitelist hot-reload not available: %v", err)
	}

	log.Printf("SQLWarden ready - listening on %s, protecting %s", listen.Addr(), connect.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	watcher.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}
	hc.Stop()
	proxyServer.Stop()

	log.Printf("SQLWarden stopped")
}

// setupLogging maps the CLI verbosity onto slog levels: quiet shows errors
// only, the default shows warnings, each -v adds a level.
func setupLogging(verbosity int) {
	var level slog.Level
	switch {
	case verbosity < 0:
		level = slog.LevelError
	case verbosity == 0:
		level = slog.LevelWarn
	case verbosity == 1:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
