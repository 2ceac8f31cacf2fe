package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tunepipe/internal/cache"
	"tunepipe/internal/config"
	"tunepipe/internal/extract"
	"tunepipe/internal/fastpath"
	"tunepipe/internal/logger"
	"tunepipe/internal/metadata"
	"tunepipe/internal/pipeline"
	"tunepipe/internal/provider/deezer"
	"tunepipe/internal/provider/itunes"
	"tunepipe/internal/provider/spotify"
	"tunepipe/internal/rank"
	"tunepipe/internal/search"
	"tunepipe/internal/web"
	"tunepipe/pkg/utils"
)

func main() {
	var (
		configPath string
		verbose    bool
	)

	flag.StringVar(&configPath, "config", "", "Config file path")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Setup logger with file logging
	l := logger.New(cfg.Verbose)
	logDir := config.GetDefaultLogPath()
	if err := os.MkdirAll(logDir, 0755); err == nil {
		logPath := filepath.Join(logDir, fmt.Sprintf("tunepipe-%d.log", time.Now().Unix()))
		if err := l.SetFileLog(logPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to setup file logging: %v\n", err)
		}
	}
	defer l.Close()

	if err := utils.CheckDependencies(); err != nil {
		l.Error("%v", err)
		os.Exit(1)
	}

	if !cfg.HasSpotifyCredentials() {
		l.Warn("Spotify credentials missing; link resolution disabled, search uses fallback providers only")
	}
	if cfg.FastPathURL == "" {
		l.Debug("No fast path endpoint configured; fast path disabled")
	}

	store := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, l)
	defer store.Close()

	var primary metadata.Lookup
	if cfg.HasSpotifyCredentials() {
		primary = spotify.New(cfg.SpotifyClientID, cfg.SpotifyClientSecret, store)
	}
	itunesClient := itunes.New()
	fallback := metadata.NewChainProvider([]metadata.Provider{itunesClient, deezer.New()}, l)
	resolver := metadata.NewResolver(primary, fallback, l)

	executor, err := extract.New("yt-dlp", cfg.ScratchDir, cfg.DownloadDeadline(), l)
	if err != nil {
		l.Error("Failed to set up scratch directory: %v", err)
		os.Exit(1)
	}

	p := pipeline.New(
		resolver,
		fastpath.New(cfg.FastPathURL, l),
		search.New("yt-dlp", l),
		rank.New(cfg.RankThreshold),
		executor,
		cfg.SearchLimit,
		l,
	)

	jobMgr := web.NewJobManager()
	server := web.NewServer(p, resolver, itunesClient, jobMgr, cfg, l)

	// No WriteTimeout: /download streams bodies that outlive any fixed cap.
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	go func() {
		l.Info("Starting server on port %d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Server error: %v", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	l.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		l.Error("Server shutdown error: %v", err)
	}

	l.Info("Server stopped")
}
