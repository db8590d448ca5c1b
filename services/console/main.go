package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/interflow/internal/actions"
	"github.com/interflow/internal/config"
	"github.com/interflow/internal/handler"
	"github.com/interflow/internal/logger"
	"github.com/interflow/internal/middleware"
	"github.com/interflow/internal/mirror"
	memorymirror "github.com/interflow/internal/mirror/memory"
	"github.com/interflow/internal/push"
	"github.com/interflow/internal/realtime"
	"github.com/interflow/internal/repository"
	"github.com/interflow/internal/startup"
	"github.com/interflow/internal/thread"
	"github.com/interflow/internal/ws"
	"github.com/interflow/migrations"
)

func main() {
	logger.SetPrefix("console")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting console gateway")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "console: ")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	// Redis-зеркало failed-сообщений. Без Redis консоль работает,
	// но черновики ошибок не переживают рестарт шлюза.
	var failedStore mirror.FailedStore
	if cfg.Redis.URL != "" {
		rc := startup.ConnectMirrorWithRetry(cfg.Redis.URL, 30*time.Second, "console: ")
		defer rc.Close()
		failedStore = rc
	} else {
		logger.Info("redis url not set, failed-message mirror is in-memory")
		failedStore = memorymirror.New()
	}

	msgRepo := repository.NewMessageRepository(pool)
	chatRepo := repository.NewChatRepository(pool)
	collabRepo := repository.NewCollaboratorRepository(pool)
	agentRepo := repository.NewAgentRepository(pool)

	feed := realtime.New(cfg.RealtimeURL)
	feedCtx, feedCancel := context.WithCancel(context.Background())
	var feedWg sync.WaitGroup
	feedWg.Add(1)
	go func() {
		defer feedWg.Done()
		feed.Run(feedCtx)
	}()

	actionsClient := actions.NewClient(cfg.ActionsURL, middleware.GetToken)
	pushClient := push.NewClient(cfg.NotifyServiceURL)

	threadCfg := thread.Config{
		PageSize:             cfg.Thread.PageSize,
		ResyncGap:            cfg.Thread.ResyncGap,
		NearBottomPx:         cfg.Thread.NearBottomPx,
		PendingDedupWindow:   cfg.Thread.PendingDedupWindow,
		FailedDedupWindow:    cfg.Thread.FailedDedupWindow,
		WebViewScrollRetries: cfg.Thread.WebViewScrollRetries,
		HighlightDuration:    cfg.Thread.HighlightDuration,
	}
	factory := func(chatID string, vp thread.Viewport, n thread.Notifier, sink thread.UpdateSink) *thread.Session {
		return thread.NewSession(chatID, thread.Deps{
			Store:    msgRepo,
			Chats:    chatRepo,
			Agents:   agentRepo,
			Action:   actionsClient,
			Feed:     feedAdapter{feed},
			Viewport: vp,
			Notifier: n,
			Sink:     sink,
			Mirror:   failedStore,
			Clock:    thread.SystemClock(),
			Config:   threadCfg,
		})
	}

	hub := ws.NewHub(factory, cfg.MaxWSConnections)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	// Офлайн-пуши: входящие клиента в чат агента без живой консоли.
	dispatcher := push.NewDispatcher(pushClient, chatRepo, hub)
	dispatchSub := dispatcher.Attach(feed)
	defer dispatchSub.Close()

	chatH := handler.NewChatHandler(chatRepo, collabRepo)
	msgH := handler.NewMessageHandler(msgRepo, actionsClient, cfg.Thread.PageSize)
	actionsH := handler.NewActionsHandler(actionsClient)
	configH := handler.NewConfigHandler(cfg)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/config/thread", configH.GetThreadConfig)
	r.Get("/api/config/notify", configH.GetNotifyConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT([]byte(cfg.AuthJWTSecret)))
		handler.Routes(r, chatH, msgH, actionsH, wsH)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	feedCancel()
	feedWg.Wait()
	logger.Info("feed stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// feedAdapter сводит *realtime.Subscription к thread.Canceler.
type feedAdapter struct {
	*realtime.Client
}

func (f feedAdapter) Subscribe(table string, events []realtime.EventType, filter *realtime.Filter, h realtime.Handler) thread.Canceler {
	return f.Client.Subscribe(table, events, filter, h)
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	sort.Strings(entries)
	for _, name := range entries {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "interflow"
		password = "interflow_secret"
		database = "interflow"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
