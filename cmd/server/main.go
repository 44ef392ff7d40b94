package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/logging"
	"chat-relay/internal/redis"
	"chat-relay/internal/store"
	"chat-relay/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	mintToken := flag.Int64("mint-token", 0, "print a token for the given user id and exit (HMAC algorithms only)")
	mintTTL := flag.Duration("mint-ttl", time.Hour, "lifetime of a minted token")
	var addUsers, addConversations listFlag
	flag.Var(&addUsers, "add-user", "create a user with this username and exit (repeatable)")
	flag.Var(&addConversations, "add-conversation", "create a conversation with this name and exit (repeatable)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if *mintToken != 0 {
		issuer, err := auth.NewIssuer(keyConfig(cfg))
		if err != nil {
			logger.Error("Failed to create token issuer", "error", err)
			os.Exit(1)
		}
		token, err := issuer.Sign(*mintToken, *mintTTL)
		if err != nil {
			logger.Error("Failed to sign token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if len(addUsers) > 0 || len(addConversations) > 0 {
		ctx := context.Background()
		db, err := store.Open(ctx, cfg.DatabasePath)
		if err != nil {
			logger.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		err = seed(ctx, store.NewSQLiteStore(db), os.Stdout, addUsers, addConversations)
		db.Close()
		if err != nil {
			logger.Error("Failed to seed database", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.NewSQLiteStore(db)

	authenticator, err := auth.NewAuthenticator(keyConfig(cfg), st)
	if err != nil {
		return fmt.Errorf("init authenticator: %w", err)
	}

	// Create hub
	hub := ws.NewHub(logger)

	var registry ws.Registry = hub
	subscribeErr := make(chan error, 1)
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		bus := redis.NewBus(rdb, hub, logger)
		defer bus.Close()
		registry = bus

		// Subscribe to Redis
		go func() {
			subscribeErr <- bus.Subscribe(ctx)
		}()
		logger.Info("Connected to Redis, relaying across processes")
	}

	router := ws.NewRouter(st, st, registry, logger, ws.WithStrictPersistence(cfg.StrictPersistence))
	presence := ws.NewPresence(registry, logger)
	opts := ws.Options{
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod(),
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	}
	handler := ws.NewHandler(authenticator, registry, router, presence, opts, cfg.AllowedOrigins, logger)

	// Routes
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws/chat/{"+ws.RoomParam+"}", handler.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("WebSocket server starting", "addr", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case err := <-subscribeErr:
		if err != nil {
			return fmt.Errorf("redis subscription: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}
	return nil
}

func keyConfig(cfg *config.Config) auth.KeyConfig {
	return auth.KeyConfig{
		Algorithm: cfg.JWTAlgorithm,
		Secret:    []byte(cfg.JWTSecret),
		PublicKey: []byte(cfg.JWTPublicKey),
		Issuer:    cfg.JWTIssuer,
	}
}
