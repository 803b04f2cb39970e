package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-chatroom-client/internal/api"
	"github.com/npezzotti/go-chatroom-client/internal/config"
	"github.com/npezzotti/go-chatroom-client/internal/database"
	"github.com/npezzotti/go-chatroom-client/internal/server"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

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
	natsURL        string
	allowedOrigins stringSliceFlag
)

func openRepository(cfg *config.ServerConfig, logger *log.Logger) (database.ChatRepository, error) {
	if cfg.DatabaseDSN == "" {
		logger.Println("no -dsn given, using in-memory storage")
		return database.NewMemoryRepository(), nil
	}

	repo, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := database.Migrate(repo.DB()); err != nil {
		repo.Close()
		return nil, err
	}

	return repo, nil
}

func openRelay(cfg *config.ServerConfig, logger *log.Logger) (server.Relay, error) {
	if cfg.NatsURL == "" {
		return &server.LocalRelay{}, nil
	}

	logger.Printf("relaying messages through NATS at %s\n", cfg.NatsURL)
	return server.NewNatsRelay(cfg.NatsURL, logger)
}

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string, in-memory storage when empty")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&natsURL, "nats-url", "", "NATS server URL for sharing rooms between instances")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chat] ", log.LstdFlags)

	cfg, err := config.NewServerConfig(addr, dsn, signingKey, natsURL, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	repo, err := openRepository(cfg, logger)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	relay, err := openRelay(cfg, logger)
	if err != nil {
		logger.Fatal("relay:", err)
	}
	defer relay.Close()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux, "gochat-server")

	chatServer, err := server.NewChatServer(logger, repo, statsUpdater, relay)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, repo, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
