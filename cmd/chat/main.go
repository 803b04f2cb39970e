package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/npezzotti/go-chatroom-client/internal/chat"
	"github.com/npezzotti/go-chatroom-client/internal/config"
	"github.com/npezzotti/go-chatroom-client/internal/rest"
	"github.com/npezzotti/go-chatroom-client/internal/session"
	"github.com/npezzotti/go-chatroom-client/internal/stats"
	"github.com/peterh/liner"
)

var (
	serverURL   string
	wsURL       string
	sessionFile string
	configFile  string
	debugAddr   string
	noPersist   bool
	verbose     bool
)

var clientMetrics = []string{
	stats.MessagesReceived,
	stats.DuplicateMessages,
	stats.DroppedPublishes,
	stats.StaleHistoryDiscarded,
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "go-chat", "session")
}

func loadConfig() (*config.ClientConfig, error) {
	if configFile != "" {
		return config.LoadClientFile(configFile, config.ClientConfig{
			ServerURL:    serverURL,
			WebSocketURL: wsURL,
			SessionFile:  sessionFile,
			DebugAddr:    debugAddr,
		})
	}

	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
	cfg, err := config.NewClientConfig(serverURL, wsURL, sessionFile)
	if err != nil {
		return nil, err
	}
	cfg.DebugAddr = debugAddr
	return cfg, nil
}

// startStats serves the client counters on addr when it is set.
func startStats(addr string, logger *log.Logger) stats.StatsProvider {
	if addr == "" {
		return stats.Nop{}
	}

	mux := http.NewServeMux()
	su := stats.NewStatsUpdater(mux, "gochat-client")
	for _, name := range clientMetrics {
		su.RegisterMetric(name)
	}
	su.Run()

	go func() {
		logger.Printf("serving metrics on %s/debug/vars\n", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Println("metrics server:", err)
		}
	}()

	return su
}

func main() {
	flag.StringVar(&serverURL, "server", "", "chat backend base URL (default http://localhost:8000)")
	flag.StringVar(&wsURL, "ws-url", "", "STOMP WebSocket URL, derived from -server when empty")
	flag.StringVar(&sessionFile, "session-file", "", "file holding the session cookie")
	flag.StringVar(&configFile, "config", "", "TOML config file")
	flag.StringVar(&debugAddr, "debug-addr", "", "address to serve /debug/vars on")
	flag.BoolVar(&noPersist, "no-persist", false, "keep the session in memory only")
	flag.BoolVar(&verbose, "v", false, "log to stderr")
	flag.Parse()

	var logOut io.Writer = io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "[go-chat] ", log.LstdFlags)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var persister session.Persister = &session.MemoryPersister{}
	if !noPersist {
		path := cfg.SessionFile
		if path == "" {
			path = defaultSessionFile()
		}
		persister = session.NewCookieFile(path)
	}

	st := startStats(cfg.DebugAddr, logger)

	store := session.NewStore(logger, persister)
	client := rest.NewClient(cfg.ServerURL, &http.Client{Timeout: cfg.HTTPTimeout}, store, logger)
	coord := chat.NewCoordinator(store, client, chat.RealtimeDialer(cfg.WebSocketURL, logger, st), st, logger)
	defer coord.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	r := &repl{
		coord:    coord,
		store:    store,
		backend:  client,
		password: line.PasswordPrompt,
		timeout:  cfg.HTTPTimeout,
		out:      os.Stdout,
	}
	coord.OnEvent(r.onEvent)

	r.printf("connected to %s, /help for commands\n", cfg.ServerURL)
	if err := r.start(); err != nil {
		r.printf("! %v\n", err)
	}

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				logger.Println("prompt:", err)
			}
			fmt.Println()
			return
		}

		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		more, err := r.handle(input)
		if err != nil {
			r.printf("! %v\n", err)
		}
		if !more {
			return
		}
	}
}
