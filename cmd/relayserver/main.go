package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/collabcode/relay/internal/api"
	"github.com/collabcode/relay/internal/config"
	"github.com/collabcode/relay/internal/relay"
	"github.com/collabcode/relay/internal/stats"
	"github.com/collabcode/relay/internal/store"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:4001", "server address")
	flag.StringVar(&dsn, "dsn", "", "database connection string (empty disables persistence)")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key for handshake tokens")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[relay] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var st store.Store = store.NoopStore{}
	if cfg.DatabaseDSN != "" {
		pgStore, err := store.NewPostgresStore(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("store open:", err)
		}
		defer func() {
			if err := pgStore.Close(); err != nil {
				logger.Println("store close:", err)
			}
		}()
		st = pgStore
	} else {
		logger.Println("no DSN configured, persistence disabled")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	relayServer, err := relay.NewRelayServer(logger, st, statsUpdater, cfg)
	if err != nil {
		logger.Fatal("new relay server:", err)
	}

	app := api.NewRelayApp(mux, logger, relayServer, st, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go relayServer.Run()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Start()
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			logger.Println("HTTP server shutdown:", err)
		}

		logger.Println("shutting down relay server...")
		return relayServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalln("server:", err)
	}

	logger.Println("shutdown complete")
}
