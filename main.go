package main

import (
	"net/url"
	"os"

	"github.com/charmbracelet/log"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "queueup",
	})

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("bad configuration", "err", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	var repo Repository
	u, err := url.Parse(cfg.DBURL)
	if err != nil {
		logger.Fatal("bad DB_URL", "err", err)
	}
	switch u.Scheme {
	case "sqlite":
		repo, err = NewSQLiteRepository(u.Hostname() + u.Path)
	case "postgres":
		repo, err = NewPostgresRepository(cfg.DBURL)
	case "memory", "":
		repo = NewMemoryRepository()
	default:
		logger.Fatal("unsupported DB_URL scheme", "scheme", u.Scheme)
	}
	if err != nil {
		logger.Fatal("storage init failed", "err", err)
	}
	defer repo.Close()
	logger.Info("storage ready", "engine", u.Scheme)

	hub := NewHub(logger)
	if cfg.RedisURL != "" {
		bridge, err := NewRedisBridge(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("redis bridge init failed", "err", err)
		}
		hub.SetBridge(bridge)
		bridge.Run(hub)
		logger.Info("redis bridge ready")
	}
	defer hub.Close()

	ledger := NewVoteLedger(repo, hub)
	resolver := NewYoutubeResolver(cfg.YoutubeAPIKey)
	store := NewQueueStore(repo, ledger, resolver, hub)

	radio := NewRadio(store, repo, hub, logger)
	radio.Start()
	defer radio.Shutdown()

	e := NewHTTPRouter(repo, store, ledger, hub, []byte(cfg.JWTSecret), logger)
	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := e.Start(cfg.ListenAddr); err != nil {
		logger.Fatal("server stopped", "err", err)
	}
}
