package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"league-chat/internal/chat"
	"league-chat/internal/config"
	"league-chat/internal/db"
	myMiddleware "league-chat/internal/middleware"
	"league-chat/internal/user"
)

func main() {
	// 1. Config & Flags
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("❌ Failed to load config", "error", err)
		os.Exit(1)
	}
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()

	if err := cfg.ValidateServer(); err != nil {
		slog.Error("❌ Invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		slog.Error("❌ Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		slog.Error("❌ Migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Database Schema Initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		slog.Error("❌ Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Redis")

	// 4. User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Chat Feature: Postgres for history, Redis for cross-instance fan-out
	hub := chat.NewHub(redisClient)
	go hub.Run(ctx)
	go hub.SubscribeToRedis(ctx)

	chatRepo := chat.NewRepository(database.Conn)
	chatService := chat.NewService(chatRepo, hub, cfg.HistoryLimit)
	chatHandler := chat.NewHandler(hub, chatService)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		// WebSocket (Real-time feed per league)
		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/leagues/{leagueID}/messages", chatHandler.GetChatHistory)
		r.Post("/api/leagues/{leagueID}/messages", chatHandler.SendMessage)
	})

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("🚀 Server starting", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("❌ Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
