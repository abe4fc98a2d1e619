// Command ethindex runs the block-ingestion daemon: it loads the
// configured watchlist, opens the state store, and drives the pipeline's
// poll loop until terminated.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethindex/ethindex/internal/config"
	"github.com/ethindex/ethindex/internal/pipeline"
	"github.com/ethindex/ethindex/internal/rpcclient"
	"github.com/ethindex/ethindex/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	rpcURL := flag.String("rpc", "", "RPC endpoint (overrides config)")
	dbPath := flag.String("db", "", "state store directory (overrides config)")
	watchlistPath := flag.String("watchlist", "", "watchlist file path (overrides config)")
	tokensPath := flag.String("tokens", "", "token watchlist file path (overrides config)")
	pollInterval := flag.Duration("poll", 0, "poll interval (overrides config)")
	useFinalized := flag.Bool("finalized", false, "use the finalized block tag instead of latest")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("ethindex: load config", "err", err)
		os.Exit(1)
	}
	if *rpcURL != "" {
		cfg.RPCURL = *rpcURL
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *watchlistPath != "" {
		cfg.WatchlistPath = *watchlistPath
	}
	if *tokensPath != "" {
		cfg.TokenListPath = *tokensPath
	}
	if *useFinalized {
		cfg.UseFinalized = true
	}
	poll := cfg.PollInterval()
	if *pollInterval != 0 {
		poll = *pollInterval
	}

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		log.Error("ethindex: load watchlist", "err", err)
		os.Exit(1)
	}
	tokens, err := config.LoadTokenList(cfg.TokenListPath)
	if err != nil {
		log.Error("ethindex: load token list", "err", err)
		os.Exit(1)
	}
	log.Info("ethindex: starting", "rpc", cfg.RPCURL, "db", cfg.DBPath, "watched", len(watchlist), "tokens", len(tokens))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := rpcclient.Dial(ctx, cfg.RPCURL)
	if err != nil {
		log.Error("ethindex: dial rpc", "err", err)
		os.Exit(1)
	}
	defer chain.Close()

	s, err := store.OpenBoltStore(cfg.DBPath)
	if err != nil {
		log.Error("ethindex: open store", "err", err)
		os.Exit(1)
	}
	defer s.Close()

	w := pipeline.New(s, chain, watchlist, tokens, pipeline.Config{
		PollInterval: poll,
		UseFinalized: cfg.UseFinalized,
	})

	if err := w.Initialize(ctx); err != nil {
		log.Error("ethindex: initialize", "err", err)
		os.Exit(1)
	}

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("ethindex: watcher stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("ethindex: shut down", "at", time.Now().UTC().Format(time.RFC3339))
}
